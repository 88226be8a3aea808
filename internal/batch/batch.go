package batch

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/fcinq/genchat/internal/cost"
	"github.com/fcinq/genchat/internal/image"
	"github.com/fcinq/genchat/internal/orchestrator"
	"github.com/fcinq/genchat/internal/security"
	"github.com/fcinq/genchat/pkg/models"
)

type Result struct {
	Index    int
	Prompt   string
	Path     models.GenerationPath
	Model    string
	URLs     []string
	Files    []string
	Cost     float64
	Error    error
	Duration time.Duration
}

type Options struct {
	// OutputDir receives downloaded results. Empty skips downloading.
	OutputDir   string
	StopOnError bool
	Delay       time.Duration
}

// Submitter runs one generation. *orchestrator.Orchestrator satisfies it.
type Submitter interface {
	Submit(ctx context.Context, in orchestrator.Input) (*orchestrator.Outcome, error)
}

// Fetcher downloads a result. *image.Saver satisfies it.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, string, error)
}

// Processor submits items one after another; the orchestrator accepts a
// single generation at a time.
type Processor struct {
	submitter Submitter
	fetcher   Fetcher
	out       io.Writer
	err       io.Writer
}

func NewProcessor(submitter Submitter, fetcher Fetcher, out, errOut io.Writer) *Processor {
	return &Processor{
		submitter: submitter,
		fetcher:   fetcher,
		out:       out,
		err:       errOut,
	}
}

func (p *Processor) Process(ctx context.Context, items []Item, opts *Options) ([]Result, error) {
	results := make([]Result, 0, len(items))
	total := len(items)

	for i, item := range items {
		select {
		case <-ctx.Done():
			return results, ctx.Err()
		default:
		}

		result := p.processItem(ctx, item, opts, i+1, total)
		results = append(results, result)

		if result.Error != nil && opts.StopOnError {
			return results, fmt.Errorf("stopped at item %d: %w", item.Index, result.Error)
		}

		if opts.Delay > 0 && i < len(items)-1 {
			select {
			case <-ctx.Done():
				return results, ctx.Err()
			case <-time.After(opts.Delay):
			}
		}
	}

	return results, nil
}

func (p *Processor) processItem(ctx context.Context, item Item, opts *Options, current, total int) Result {
	start := time.Now()
	result := Result{
		Index:  item.Index,
		Prompt: item.Prompt,
	}

	fmt.Fprintf(p.out, "[%d/%d] Generating: %q...\n", current, total, truncate(item.Prompt, 50))

	out, err := p.submitter.Submit(ctx, orchestrator.Input{
		Prompt:           item.Prompt,
		IsVideoMode:      item.Video,
		RequestedModelID: item.Model,
	})
	if out != nil {
		result.Path = out.Plan.Path
		result.Model = out.Plan.Model
	}
	if err != nil {
		result.Error = err
		result.Duration = time.Since(start)
		fmt.Fprintf(p.err, "       Error: %v\n", err)
		return result
	}

	result.Cost = out.Response.CurrentCost()
	if url := out.Response.VideoURL(); url != "" {
		result.URLs = []string{url}
	}
	for _, img := range out.Response.Images() {
		result.URLs = append(result.URLs, img.URL)
	}

	if opts.OutputDir != "" && p.fetcher != nil {
		files, err := p.download(ctx, item, result.URLs, opts.OutputDir)
		result.Files = files
		if err != nil {
			result.Error = fmt.Errorf("save failed: %w", err)
			result.Duration = time.Since(start)
			fmt.Fprintf(p.err, "       Error: %v\n", result.Error)
			return result
		}
	}

	result.Duration = time.Since(start)
	fmt.Fprintf(p.out, "       %s with %s, %d result(s), %s\n", result.Path, result.Model, len(result.URLs), cost.Format(result.Cost))
	for _, f := range result.Files {
		fmt.Fprintf(p.out, "       Saved: %s\n", f)
	}

	return result
}

func (p *Processor) download(ctx context.Context, item Item, urls []string, dir string) ([]string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	files := make([]string, 0, len(urls))
	for i, url := range urls {
		data, mime, err := p.fetcher.Fetch(ctx, url)
		if err != nil {
			return files, err
		}
		path := filepath.Join(dir, generateFilename(item.Index, item.Prompt, i+1, image.ExtensionFor(mime, url)))
		if err := os.WriteFile(path, data, 0644); err != nil {
			return files, fmt.Errorf("failed to write file: %w", err)
		}
		files = append(files, path)
	}
	return files, nil
}

func generateFilename(index int, prompt string, n int, ext string) string {
	return fmt.Sprintf("%03d-%s-%d.%s", index, sanitizePrompt(prompt), n, ext)
}

var nonSlug = regexp.MustCompile(`[^a-zA-Z0-9\s-]`)

func sanitizePrompt(prompt string) string {
	sanitized := nonSlug.ReplaceAllString(prompt, "")
	sanitized = strings.ToLower(sanitized)
	sanitized = strings.Join(strings.Fields(sanitized), "-")
	sanitized = strings.TrimLeft(sanitized, "-")

	if len(sanitized) > 50 {
		sanitized = sanitized[:50]
	}
	sanitized = strings.TrimSuffix(sanitized, "-")

	if sanitized == "" {
		return "display"
	}
	return security.SanitizeFilename(sanitized)
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}

func (p *Processor) PrintSummary(results []Result) {
	var successful, failed int
	var totalCost float64
	var failures []Result

	for _, r := range results {
		if r.Error != nil {
			failed++
			failures = append(failures, r)
		} else {
			successful++
			totalCost += r.Cost
		}
	}

	fmt.Fprintln(p.out)
	fmt.Fprintln(p.out, "Summary:")
	fmt.Fprintf(p.out, "  Successful: %d/%d prompts\n", successful, len(results))
	if failed > 0 {
		fmt.Fprintf(p.out, "  Failed: %d (see errors below)\n", failed)
	}
	fmt.Fprintf(p.out, "  Total cost: %s\n", cost.Format(totalCost))

	if len(failures) > 0 {
		fmt.Fprintln(p.out)
		fmt.Fprintln(p.out, "Errors:")
		for _, e := range failures {
			kind := ""
			if k, ok := orchestrator.KindOf(e.Error); ok {
				kind = k.String() + ": "
			}
			fmt.Fprintf(p.out, "  [%d] %q: %s%v\n", e.Index, truncate(e.Prompt, 40), kind, e.Error)
		}
	}
}

// Failed reports whether any result carries an error.
func Failed(results []Result) bool {
	for _, r := range results {
		if r.Error != nil {
			return true
		}
	}
	return false
}
