package repl

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/fcinq/genchat/internal/config"
	"github.com/fcinq/genchat/internal/cost"
	"github.com/fcinq/genchat/internal/display"
	"github.com/fcinq/genchat/internal/image"
	"github.com/fcinq/genchat/internal/orchestrator"
	"github.com/fcinq/genchat/internal/session"
)

const commandPrefix = "/"

type REPL struct {
	in          io.Reader
	out         io.Writer
	err         io.Writer
	orch        *orchestrator.Orchestrator
	composer    *orchestrator.Composer
	renderer    *display.Renderer
	sessionMgr  *session.Manager
	saver       *image.Saver
	calc        *cost.Calculator
	endpoint    string
	downloadDir string
	log         logrus.FieldLogger
	commands    map[string]Command
	running     bool
}

type Config struct {
	In           io.Reader
	Out          io.Writer
	Err          io.Writer
	Orchestrator *orchestrator.Orchestrator
	Composer     *orchestrator.Composer
	Renderer     *display.Renderer
	SessionMgr   *session.Manager
	Saver        *image.Saver
	Endpoint     string
	DownloadDir  string
	Log          logrus.FieldLogger
}

func New(cfg *Config) *REPL {
	r := &REPL{
		in:          cfg.In,
		out:         cfg.Out,
		err:         cfg.Err,
		orch:        cfg.Orchestrator,
		composer:    cfg.Composer,
		renderer:    cfg.Renderer,
		sessionMgr:  cfg.SessionMgr,
		saver:       cfg.Saver,
		calc:        cost.NewCalculator(),
		endpoint:    cfg.Endpoint,
		downloadDir: cfg.DownloadDir,
		log:         cfg.Log,
		commands:    make(map[string]Command),
	}
	if r.err == nil {
		r.err = r.out
	}
	if r.downloadDir == "" {
		r.downloadDir = "."
	}
	if r.log == nil {
		r.log = logrus.StandardLogger()
	}
	r.registerCommands()
	return r
}

func (r *REPL) Run(ctx context.Context) error {
	r.running = true
	r.printWelcome()

	scanner := bufio.NewScanner(r.in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for r.running {
		r.printPrompt()
		if !scanner.Scan() {
			break
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		if err := r.execute(ctx, line); err != nil {
			fmt.Fprintf(r.err, "Error: %v\n", err)
		}
		if ctx.Err() != nil {
			break
		}
	}

	return scanner.Err()
}

func (r *REPL) execute(ctx context.Context, line string) error {
	if !strings.HasPrefix(line, commandPrefix) {
		r.submit(ctx, line)
		return nil
	}

	parts := parseCommand(strings.TrimPrefix(line, commandPrefix))
	if len(parts) == 0 {
		return nil
	}

	cmdName := strings.ToLower(parts[0])
	args := parts[1:]

	cmd, ok := r.commands[cmdName]
	if !ok {
		return fmt.Errorf("unknown command: /%s (type /help for available commands)", cmdName)
	}

	return cmd.Execute(ctx, r, args)
}

// submit sends a prompt. Results and failures are both reported through the
// renderer, so nothing is returned.
func (r *REPL) submit(ctx context.Context, prompt string) {
	in := r.composer.Input(prompt)
	path := r.composer.Path()
	if d, ok := r.orch.Resolver().Describe(path, in.RequestedModelID); ok {
		est := r.calc.EstimateFor(path, d)
		fmt.Fprintf(r.out, "Submitting to %s (%s), estimated %s\n", d.Label, path.Label(), cost.Format(est.Total))
	}

	if _, err := r.orch.Submit(ctx, in); err != nil {
		if errors.Is(err, orchestrator.ErrInFlight) {
			fmt.Fprintln(r.err, "A generation is already running, wait for it to finish.")
			return
		}
		r.renderer.Error(err)
	}
}

func (r *REPL) Stop() {
	r.running = false
}

func (r *REPL) printWelcome() {
	fmt.Fprintln(r.out, "genchat: FCINQ product display generator")
	if r.orch.Configured() {
		fmt.Fprintf(r.out, "Workflow: %s\n", config.MaskURL(r.endpoint))
	} else {
		fmt.Fprintln(r.out, "Warning: the workflow webhook URL is not configured.")
		fmt.Fprintln(r.out, "Set GENCHAT_WEBHOOK_URL or run 'genchat config set webhook_url <url>'.")
	}
	fmt.Fprintln(r.out, "Type a prompt to generate, /help for commands, /quit to exit.")
	fmt.Fprintln(r.out)
}

func (r *REPL) printPrompt() {
	path := r.composer.Path()
	model := r.composer.Model()
	if n := r.orch.Context().Len(); n > 0 {
		fmt.Fprintf(r.out, "genchat [%s %s] (%d ctx)> ", path, model, n)
		return
	}
	fmt.Fprintf(r.out, "genchat [%s %s]> ", path, model)
}

func parseCommand(line string) []string {
	var parts []string
	var current strings.Builder
	inQuotes := false
	quoteChar := rune(0)

	for _, ch := range line {
		switch {
		case ch == '"' || ch == '\'':
			if inQuotes && ch == quoteChar {
				inQuotes = false
				quoteChar = 0
			} else if !inQuotes {
				inQuotes = true
				quoteChar = ch
			} else {
				current.WriteRune(ch)
			}
		case ch == ' ' && !inQuotes:
			if current.Len() > 0 {
				parts = append(parts, current.String())
				current.Reset()
			}
		default:
			current.WriteRune(ch)
		}
	}

	if current.Len() > 0 {
		parts = append(parts, current.String())
	}

	return parts
}
