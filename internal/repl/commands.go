package repl

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/fcinq/genchat/internal/cost"
	"github.com/fcinq/genchat/internal/image"
)

type Command interface {
	Name() string
	Aliases() []string
	Description() string
	Usage() string
	Execute(ctx context.Context, r *REPL, args []string) error
}

func allCommands() []Command {
	return []Command{
		&VideoCommand{},
		&ModelCommand{},
		&ModelsCommand{},
		&UploadCommand{},
		&ContextCommand{},
		&RemoveCommand{},
		&ClearCommand{},
		&SelectCommand{},
		&DownloadCommand{},
		&CostCommand{},
		&SessionCommand{},
		&HelpCommand{},
		&QuitCommand{},
	}
}

func (r *REPL) registerCommands() {
	for _, cmd := range allCommands() {
		r.commands[cmd.Name()] = cmd
		for _, alias := range cmd.Aliases() {
			r.commands[alias] = cmd
		}
	}
}

// VideoCommand toggles video mode
type VideoCommand struct{}

func (c *VideoCommand) Name() string        { return "video" }
func (c *VideoCommand) Aliases() []string   { return []string{"v"} }
func (c *VideoCommand) Description() string { return "Switch between image and video generation" }
func (c *VideoCommand) Usage() string       { return "/video [on|off]" }

func (c *VideoCommand) Execute(_ context.Context, r *REPL, args []string) error {
	on := !r.composer.VideoMode()
	if len(args) > 0 {
		switch strings.ToLower(args[0]) {
		case "on", "true", "1":
			on = true
		case "off", "false", "0":
			on = false
		default:
			return fmt.Errorf("usage: %s", c.Usage())
		}
	}

	r.composer.SetVideoMode(on)
	mode := "off"
	if on {
		mode = "on"
	}
	fmt.Fprintf(r.out, "Video mode %s. Path: %s, model: %s\n", mode, r.composer.Path().Label(), r.composer.Model())
	return nil
}

// ModelCommand shows or changes the selected model
type ModelCommand struct{}

func (c *ModelCommand) Name() string        { return "model" }
func (c *ModelCommand) Aliases() []string   { return []string{"m"} }
func (c *ModelCommand) Description() string { return "Show or set the model for the active path" }
func (c *ModelCommand) Usage() string       { return "/model [id]" }

func (c *ModelCommand) Execute(_ context.Context, r *REPL, args []string) error {
	if len(args) == 0 {
		fmt.Fprintf(r.out, "Current model: %s (%s)\n", r.composer.Model(), r.composer.Path().Label())
		return nil
	}

	requested := args[0]
	path := r.composer.Path()
	if _, ok := r.orch.Resolver().Describe(path, requested); !ok {
		return fmt.Errorf("model %s is not available for %s (see /models), keeping %s",
			requested, path.Label(), r.composer.Model())
	}
	fmt.Fprintf(r.out, "Model set to: %s\n", r.composer.SetModel(requested))
	return nil
}

// ModelsCommand lists models for the active path
type ModelsCommand struct{}

func (c *ModelsCommand) Name() string        { return "models" }
func (c *ModelsCommand) Aliases() []string   { return []string{"ls"} }
func (c *ModelsCommand) Description() string { return "List the models available for the active path" }
func (c *ModelsCommand) Usage() string       { return "/models" }

func (c *ModelsCommand) Execute(_ context.Context, r *REPL, _ []string) error {
	path := r.composer.Path()
	selected := r.composer.Model()

	fmt.Fprintf(r.out, "Models for %s (%s):\n", path.Label(), path)
	for _, d := range r.composer.Models() {
		marker := " "
		if d.ID == selected {
			marker = "*"
		}
		est := r.calc.EstimateFor(path, d)
		line := fmt.Sprintf(" %s %-22s %-22s %s", marker, d.ID, d.Label, cost.Format(est.Total))
		if d.Premium {
			line += "  premium"
		}
		fmt.Fprintln(r.out, line)
	}
	return nil
}

// UploadCommand adds local images to the context
type UploadCommand struct{}

func (c *UploadCommand) Name() string        { return "upload" }
func (c *UploadCommand) Aliases() []string   { return []string{"u", "add"} }
func (c *UploadCommand) Description() string { return "Add local images as context for the next generation" }
func (c *UploadCommand) Usage() string       { return "/upload <file> [file...]" }

func (c *UploadCommand) Execute(_ context.Context, r *REPL, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: %s", c.Usage())
	}

	for _, path := range args {
		img, err := image.LoadUpload(path)
		if err != nil {
			return fmt.Errorf("failed to upload %s: %w", path, err)
		}
		if !r.orch.Context().Add(img) {
			fmt.Fprintf(r.out, "Already in context: %s\n", img.Filename)
			continue
		}
		fmt.Fprintf(r.out, "Added %s (%s) as %s\n", img.Filename, humanize.Bytes(uint64(img.Size)), img.ID)
	}
	fmt.Fprintf(r.out, "Path: %s, model: %s\n", r.composer.Path().Label(), r.composer.Model())
	return nil
}

// ContextCommand lists the image context
type ContextCommand struct{}

func (c *ContextCommand) Name() string        { return "context" }
func (c *ContextCommand) Aliases() []string   { return []string{"ctx"} }
func (c *ContextCommand) Description() string { return "List the images used as context" }
func (c *ContextCommand) Usage() string       { return "/context" }

func (c *ContextCommand) Execute(_ context.Context, r *REPL, _ []string) error {
	images := r.orch.Context().List()
	if len(images) == 0 {
		fmt.Fprintln(r.out, "No context images. Use /upload or /select to add some.")
		return nil
	}

	fmt.Fprintf(r.out, "%d context image(s):\n", len(images))
	for i, img := range images {
		name := img.Filename
		if name == "" {
			name = truncate(img.URL, 60)
		}
		size := ""
		if img.Size > 0 {
			size = " " + humanize.Bytes(uint64(img.Size))
		}
		fmt.Fprintf(r.out, "  [%d] %-9s %s%s\n", i+1, img.Source, name, size)
		fmt.Fprintf(r.out, "      id: %s\n", img.ID)
	}
	return nil
}

// RemoveCommand drops one context image
type RemoveCommand struct{}

func (c *RemoveCommand) Name() string        { return "remove" }
func (c *RemoveCommand) Aliases() []string   { return []string{"rm"} }
func (c *RemoveCommand) Description() string { return "Remove a context image by id or list position" }
func (c *RemoveCommand) Usage() string       { return "/remove <id|n>" }

func (c *RemoveCommand) Execute(_ context.Context, r *REPL, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: %s", c.Usage())
	}

	id := args[0]
	if n, err := strconv.Atoi(id); err == nil {
		images := r.orch.Context().List()
		if n < 1 || n > len(images) {
			return fmt.Errorf("no context image at position %d", n)
		}
		id = images[n-1].ID
	}

	if !r.orch.Context().Remove(id) {
		return fmt.Errorf("no context image with id %s", id)
	}
	fmt.Fprintf(r.out, "Removed %s. %d context image(s) left.\n", id, r.orch.Context().Len())
	return nil
}

// ClearCommand empties the context
type ClearCommand struct{}

func (c *ClearCommand) Name() string        { return "clear" }
func (c *ClearCommand) Aliases() []string   { return nil }
func (c *ClearCommand) Description() string { return "Remove every context image" }
func (c *ClearCommand) Usage() string       { return "/clear" }

func (c *ClearCommand) Execute(_ context.Context, r *REPL, _ []string) error {
	r.orch.Context().Clear()
	fmt.Fprintf(r.out, "Context cleared. Path: %s, model: %s\n", r.composer.Path().Label(), r.composer.Model())
	return nil
}

// SelectCommand adds a result image to the context
type SelectCommand struct{}

func (c *SelectCommand) Name() string        { return "select" }
func (c *SelectCommand) Aliases() []string   { return []string{"sel"} }
func (c *SelectCommand) Description() string { return "Use a result image as context for the next generation" }
func (c *SelectCommand) Usage() string       { return "/select <n> [n...]" }

func (c *SelectCommand) Execute(_ context.Context, r *REPL, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: %s", c.Usage())
	}

	results := r.renderer.LastImages()
	if len(results) == 0 {
		return fmt.Errorf("no image results to select from")
	}

	for _, arg := range args {
		n, err := strconv.Atoi(arg)
		if err != nil || n < 1 || n > len(results) {
			return fmt.Errorf("invalid result number %q (1-%d)", arg, len(results))
		}
		if r.orch.SelectResult(results[n-1]) {
			fmt.Fprintf(r.out, "Selected result %d.\n", n)
		} else {
			fmt.Fprintf(r.out, "Result %d is already in context.\n", n)
		}
	}
	fmt.Fprintf(r.out, "Path: %s, model: %s\n", r.composer.Path().Label(), r.composer.Model())
	return nil
}

// DownloadCommand saves results to disk
type DownloadCommand struct{}

func (c *DownloadCommand) Name() string        { return "download" }
func (c *DownloadCommand) Aliases() []string   { return []string{"dl", "save"} }
func (c *DownloadCommand) Description() string { return "Download the last results (all, or one by number)" }
func (c *DownloadCommand) Usage() string       { return "/download [n|all] [dir]" }

func (c *DownloadCommand) Execute(ctx context.Context, r *REPL, args []string) error {
	urls := r.renderer.LastURLs()
	if len(urls) == 0 {
		return fmt.Errorf("nothing to download yet")
	}

	which := "all"
	dir := r.downloadDir
	if len(args) > 0 {
		which = strings.ToLower(args[0])
	}
	if len(args) > 1 {
		dir = args[1]
	}

	if which == "all" {
		paths, err := r.saver.SaveAll(ctx, urls, dir)
		for _, p := range paths {
			fmt.Fprintf(r.out, "Saved: %s\n", p)
		}
		return err
	}

	n, err := strconv.Atoi(which)
	if err != nil || n < 1 || n > len(urls) {
		return fmt.Errorf("invalid result number %q (1-%d)", which, len(urls))
	}
	path, err := r.saver.Download(ctx, urls[n-1], dir, n)
	if err != nil {
		return err
	}
	fmt.Fprintf(r.out, "Saved: %s\n", path)
	return nil
}

// CostCommand displays cost information
type CostCommand struct{}

func (c *CostCommand) Name() string        { return "cost" }
func (c *CostCommand) Aliases() []string   { return []string{"$"} }
func (c *CostCommand) Description() string { return "Show the session total and the all-time ledger" }
func (c *CostCommand) Usage() string       { return "/cost" }

func (c *CostCommand) Execute(ctx context.Context, r *REPL, _ []string) error {
	tracker := r.orch.Costs()
	fmt.Fprintf(r.out, "Session total: %s (%s)\n", cost.Format(tracker.Total()), plural(tracker.Count(), "generation"))

	if r.sessionMgr == nil {
		return nil
	}
	total, err := r.sessionMgr.TotalCost(ctx)
	if err != nil {
		return fmt.Errorf("failed to read cost ledger: %w", err)
	}
	if total.EntryCount == 0 {
		fmt.Fprintln(r.out, "No costs recorded yet.")
		return nil
	}
	fmt.Fprintf(r.out, "All sessions:  %s (%s, %s)\n", cost.Format(total.TotalCost),
		plural(total.EntryCount, "generation"), plural(total.ImageCount, "image"))
	return nil
}

// SessionCommand shows or resets the session
type SessionCommand struct{}

func (c *SessionCommand) Name() string        { return "session" }
func (c *SessionCommand) Aliases() []string   { return []string{"sess"} }
func (c *SessionCommand) Description() string { return "Show the session id, or start a new session" }
func (c *SessionCommand) Usage() string       { return "/session [new]" }

func (c *SessionCommand) Execute(ctx context.Context, r *REPL, args []string) error {
	if r.sessionMgr == nil {
		return fmt.Errorf("no session store")
	}

	if len(args) > 0 {
		if strings.ToLower(args[0]) != "new" {
			return fmt.Errorf("usage: %s", c.Usage())
		}
		id := r.sessionMgr.Reset(ctx)
		r.orch.Costs().Reset()
		fmt.Fprintf(r.out, "Started session %s\n", id)
		return nil
	}

	id := r.sessionMgr.GetOrCreateSessionID(ctx)
	fmt.Fprintf(r.out, "Session: %s\n", id)
	if summary, err := r.sessionMgr.SessionCost(ctx); err == nil && summary.EntryCount > 0 {
		fmt.Fprintf(r.out, "Recorded: %s over %s\n", cost.Format(summary.TotalCost), plural(summary.EntryCount, "generation"))
	}
	return nil
}

// HelpCommand shows available commands
type HelpCommand struct{}

func (c *HelpCommand) Name() string        { return "help" }
func (c *HelpCommand) Aliases() []string   { return []string{"?"} }
func (c *HelpCommand) Description() string { return "Show available commands" }
func (c *HelpCommand) Usage() string       { return "/help" }

func (c *HelpCommand) Execute(_ context.Context, r *REPL, _ []string) error {
	fmt.Fprintln(r.out, "Type a prompt to generate. Commands:")
	fmt.Fprintln(r.out)

	for _, cmd := range allCommands() {
		aliases := ""
		if len(cmd.Aliases()) > 0 {
			aliases = fmt.Sprintf(" (%s)", strings.Join(cmd.Aliases(), ", "))
		}
		fmt.Fprintf(r.out, "  %-18s%s\n", cmd.Name()+aliases, cmd.Description())
		fmt.Fprintf(r.out, "                    Usage: %s\n", cmd.Usage())
	}

	return nil
}

// QuitCommand exits the REPL
type QuitCommand struct{}

func (c *QuitCommand) Name() string        { return "quit" }
func (c *QuitCommand) Aliases() []string   { return []string{"exit", "q"} }
func (c *QuitCommand) Description() string { return "Exit interactive mode" }
func (c *QuitCommand) Usage() string       { return "/quit" }

func (c *QuitCommand) Execute(_ context.Context, r *REPL, _ []string) error {
	fmt.Fprintln(r.out, "Goodbye!")
	r.Stop()
	return nil
}

func plural(n int, word string) string {
	if n == 1 {
		return "1 " + word
	}
	return humanize.Comma(int64(n)) + " " + word + "s"
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
