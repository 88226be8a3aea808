package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/fcinq/genchat/internal/batch"
	"github.com/fcinq/genchat/internal/config"
	"github.com/fcinq/genchat/internal/cost"
	"github.com/fcinq/genchat/internal/image"
	"github.com/fcinq/genchat/internal/logger"
	"github.com/fcinq/genchat/internal/repl"
	"github.com/fcinq/genchat/internal/resolver"
	"github.com/fcinq/genchat/internal/server"
)

func newChatCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Start the interactive chat (default command)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runChat(cmd.Context(), app)
		},
	}
}

func runChat(ctx context.Context, app *App) error {
	e, err := app.setup(ctx, setupOptions{render: true, progress: true})
	if err != nil {
		return err
	}
	defer e.Close()

	r := repl.New(&repl.Config{
		In:           app.In,
		Out:          app.Out,
		Err:          app.Err,
		Orchestrator: e.orch,
		Composer:     e.composer,
		Renderer:     e.renderer,
		SessionMgr:   e.session,
		Saver:        e.saver,
		Endpoint:     e.endpoint,
		DownloadDir:  app.cfg.Download.Dir,
		Log:          e.log,
	})
	return r.Run(ctx)
}

type generateOptions struct {
	video  bool
	model  string
	images []string
	output string
}

func newGenerateCmd(app *App) *cobra.Command {
	opts := &generateOptions{}
	cmd := &cobra.Command{
		Use:     "generate <prompt>",
		Aliases: []string{"gen", "g"},
		Short:   "Run a single generation and print the result",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGenerate(cmd.Context(), app, strings.Join(args, " "), opts)
		},
	}

	cmd.Flags().BoolVarP(&opts.video, "video", "v", false, "generate a video instead of images")
	cmd.Flags().StringVarP(&opts.model, "model", "m", "", "model id (default is the path default, see 'genchat models')")
	cmd.Flags().StringSliceVarP(&opts.images, "image", "i", nil, "context image to edit or animate (repeatable)")
	cmd.Flags().StringVarP(&opts.output, "output", "o", "", "directory to download results into")

	return cmd
}

func runGenerate(ctx context.Context, app *App, prompt string, opts *generateOptions) error {
	e, err := app.setup(ctx, setupOptions{render: true, progress: true})
	if err != nil {
		return err
	}
	defer e.Close()

	for _, path := range opts.images {
		img, err := image.LoadUpload(path)
		if err != nil {
			return err
		}
		e.orch.Context().Add(img)
	}

	e.composer.SetVideoMode(opts.video)
	if opts.model != "" {
		path := e.composer.Path()
		if _, ok := e.orch.Resolver().Describe(path, opts.model); !ok {
			return fmt.Errorf("model %s is not available for %s: available models: %s",
				opts.model, path.Label(), strings.Join(e.orch.Resolver().Catalog().IDs(path), ", "))
		}
		e.composer.SetModel(opts.model)
	}

	if _, err := e.orch.Submit(ctx, e.composer.Input(prompt)); err != nil {
		e.renderer.Error(err)
		return err
	}

	if opts.output == "" {
		return nil
	}
	paths, err := e.saver.SaveAll(ctx, e.renderer.LastURLs(), opts.output)
	for _, p := range paths {
		fmt.Fprintf(app.Out, "Saved: %s\n", p)
	}
	return err
}

type batchOptions struct {
	output      string
	stopOnError bool
	delay       time.Duration
}

func newBatchCmd(app *App) *cobra.Command {
	opts := &batchOptions{}
	cmd := &cobra.Command{
		Use:   "batch <file>",
		Short: "Run prompts from a .txt or .json file one after another",
		Long: `Run prompts from a file. A .txt file holds one prompt per line, lines
starting with # are skipped. A line may start with "video:" and a
"[model-id]", e.g. "video: [veo3] slow orbit around the watch".
A .json file holds an array of {"prompt": "...", "model": "...", "video": true}
objects.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBatch(cmd.Context(), app, args[0], opts)
		},
	}

	cmd.Flags().StringVarP(&opts.output, "output", "o", "", "directory to download results into")
	cmd.Flags().BoolVar(&opts.stopOnError, "stop-on-error", false, "stop at the first failed prompt")
	cmd.Flags().DurationVar(&opts.delay, "delay", 0, "pause between prompts")

	return cmd
}

func runBatch(ctx context.Context, app *App, file string, opts *batchOptions) error {
	items, err := batch.ParseFile(file)
	if err != nil {
		return err
	}

	e, err := app.setup(ctx, setupOptions{})
	if err != nil {
		return err
	}
	defer e.Close()

	if !e.orch.Configured() {
		return errors.New("webhook URL is not configured: set GENCHAT_WEBHOOK_URL or use --webhook-url")
	}

	fmt.Fprintf(app.Out, "Running %d prompt(s)...\n", len(items))
	proc := batch.NewProcessor(e.orch, e.saver, app.Out, app.Err)
	results, err := proc.Process(ctx, items, &batch.Options{
		OutputDir:   opts.output,
		StopOnError: opts.stopOnError,
		Delay:       opts.delay,
	})
	proc.PrintSummary(results)
	if err != nil {
		return err
	}
	if batch.Failed(results) {
		return errors.New("some prompts failed")
	}
	return nil
}

func newServeCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the generation flow as a local HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), app)
		},
	}

	cmd.Flags().String("addr", "", "listen address (default 127.0.0.1:8080)")
	mustBind(app.viper, "server.addr", cmd.Flags().Lookup("addr"))

	return cmd
}

func runServe(ctx context.Context, app *App) error {
	e, err := app.setup(ctx, setupOptions{})
	if err != nil {
		return err
	}
	defer e.Close()

	if !e.orch.Configured() {
		e.log.Warn("webhook URL is not configured, /api/generate will answer 503")
	}

	srv := server.New(server.Options{
		Orchestrator: e.orch,
		Session:      e.session,
		Log:          logger.Component(e.log, "server"),
	})
	fmt.Fprintf(app.Out, "Listening on http://%s\n", app.cfg.Server.Addr)
	return srv.ListenAndServe(ctx, app.cfg.Server.Addr)
}

func newModelsCmd(app *App) *cobra.Command {
	var video, withContext bool
	cmd := &cobra.Command{
		Use:   "models",
		Short: "List the models for a generation path",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runModels(app, video, withContext)
		},
	}

	cmd.Flags().BoolVarP(&video, "video", "v", false, "list video models")
	cmd.Flags().BoolVarP(&withContext, "context", "c", false, "list models that take context images")

	return cmd
}

func runModels(app *App, video, withContext bool) error {
	r := resolver.New(nil)
	calc := cost.NewCalculator()
	path := resolver.ResolvePath(video, withContext)
	def := r.DefaultModelFor(path)

	fmt.Fprintf(app.Out, "%s (%s):\n", path.Label(), path)
	for _, d := range r.ModelsFor(path) {
		marker := " "
		if d.ID == def {
			marker = "*"
		}
		line := fmt.Sprintf(" %s %-22s %-22s %s  ~%ds", marker, d.ID, d.Label,
			cost.Format(calc.EstimateFor(path, d).Total), int(r.ProgressDurationFor(path, d.ID)/time.Second))
		if d.Premium {
			line += "  premium"
		}
		fmt.Fprintln(app.Out, line)
	}
	return nil
}

func newSessionCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Show the persisted session id and recorded costs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSession(cmd.Context(), app)
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "new",
		Short: "Start a new session id",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := app.setup(cmd.Context(), setupOptions{})
			if err != nil {
				return err
			}
			defer e.Close()
			fmt.Fprintf(app.Out, "Started session %s\n", e.session.Reset(cmd.Context()))
			return nil
		},
	})

	return cmd
}

func runSession(ctx context.Context, app *App) error {
	e, err := app.setup(ctx, setupOptions{})
	if err != nil {
		return err
	}
	defer e.Close()

	fmt.Fprintf(app.Out, "Session: %s\n", e.session.GetOrCreateSessionID(ctx))

	sess, err := e.session.SessionCost(ctx)
	if err != nil {
		return fmt.Errorf("failed to read session cost: %w", err)
	}
	all, err := e.session.TotalCost(ctx)
	if err != nil {
		return fmt.Errorf("failed to read cost ledger: %w", err)
	}

	fmt.Fprintf(app.Out, "Session cost: %s (%s generations, %s images)\n",
		cost.Format(sess.TotalCost), humanize.Comma(int64(sess.EntryCount)), humanize.Comma(int64(sess.ImageCount)))
	fmt.Fprintf(app.Out, "All sessions: %s (%s generations, %s images)\n",
		cost.Format(all.TotalCost), humanize.Comma(int64(all.EntryCount)), humanize.Comma(int64(all.ImageCount)))
	return nil
}

func newConfigCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show or change the persisted configuration",
		// set and path must work while the current file is invalid.
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "show",
			Short: "Print the effective configuration",
			Args:  cobra.NoArgs,
			RunE: func(_ *cobra.Command, _ []string) error {
				if err := app.loadConfig(); err != nil {
					return err
				}
				return runConfigShow(app)
			},
		},
		&cobra.Command{
			Use:   "set <key> <value>",
			Short: "Persist a configuration value (e.g. webhook_url)",
			Args:  cobra.ExactArgs(2),
			RunE: func(_ *cobra.Command, args []string) error {
				if err := config.Set(app.configPath, args[0], args[1]); err != nil {
					return err
				}
				fmt.Fprintf(app.Out, "Set %s\n", args[0])
				return nil
			},
		},
		&cobra.Command{
			Use:   "path",
			Short: "Print the config file location",
			Args:  cobra.NoArgs,
			RunE: func(_ *cobra.Command, _ []string) error {
				path := app.configPath
				if path == "" {
					p, err := config.DefaultPath()
					if err != nil {
						return err
					}
					path = p
				}
				fmt.Fprintln(app.Out, path)
				return nil
			},
		},
	)

	return cmd
}

func runConfigShow(app *App) error {
	cfg := app.cfg
	webhook := "(not set)"
	if cfg.WebhookConfigured() {
		webhook = config.MaskURL(cfg.WebhookURL)
	}

	fmt.Fprintf(app.Out, "webhook_url:      %s\n", webhook)
	fmt.Fprintf(app.Out, "log.level:        %s\n", cfg.Log.Level)
	fmt.Fprintf(app.Out, "log.format:       %s\n", cfg.Log.Format)
	fmt.Fprintf(app.Out, "store.driver:     %s\n", cfg.Store.Driver)
	if cfg.Store.Path != "" {
		fmt.Fprintf(app.Out, "store.path:       %s\n", cfg.Store.Path)
	}
	fmt.Fprintf(app.Out, "store.redis_addr: %s\n", cfg.Store.RedisAddr)
	fmt.Fprintf(app.Out, "server.addr:      %s\n", cfg.Server.Addr)
	fmt.Fprintf(app.Out, "progress.enabled: %t\n", cfg.Progress.Enabled)
	fmt.Fprintf(app.Out, "display.inline:   %t\n", cfg.Display.Inline)
	fmt.Fprintf(app.Out, "download.dir:     %s\n", cfg.Download.Dir)
	return nil
}
