package display

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/fcinq/genchat/internal/cost"
	"github.com/fcinq/genchat/internal/image"
	"github.com/fcinq/genchat/internal/orchestrator"
	"github.com/fcinq/genchat/pkg/models"
)

const inlineColumns = 40

// Fetcher resolves a result URL to bytes. *image.Saver satisfies it.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, string, error)
}

// Renderer prints generation results to a terminal and remembers the last
// set so they can be selected or downloaded.
type Renderer struct {
	out     io.Writer
	fetcher Fetcher
	inline  bool
	log     logrus.FieldLogger

	mu         sync.Mutex
	lastImages []models.ResultImage
	lastVideo  string
}

func New(out io.Writer, fetcher Fetcher, inline bool, log logrus.FieldLogger) *Renderer {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Renderer{
		out:     out,
		fetcher: fetcher,
		inline:  inline && fetcher != nil,
		log:     log,
	}
}

func (r *Renderer) Render(ctx context.Context, out *orchestrator.Outcome) {
	resp := out.Response
	if resp == nil {
		return
	}

	r.mu.Lock()
	r.lastImages = append([]models.ResultImage(nil), resp.Images()...)
	r.lastVideo = resp.VideoURL()
	r.mu.Unlock()

	label := resp.ModelName()
	if label == "" {
		label = out.Plan.Model
	}
	took := out.Duration.Round(100 * time.Millisecond)

	if resp.Type == models.TypeVideo {
		fmt.Fprintf(r.out, "✓ Generated video with %s (%s, %s)\n", label, out.Plan.Path, took)
	} else {
		fmt.Fprintf(r.out, "✓ Generated %d images with %s (%s, %s)\n", len(resp.Images()), label, out.Plan.Path, took)
	}

	if p := resp.EnhancedPrompt(); p != "" {
		fmt.Fprintf(r.out, "  Enhanced prompt: %s\n", p)
	}
	fmt.Fprintf(r.out, "  Cost: %s · Session total: %s\n", cost.Format(resp.CurrentCost()), cost.Format(out.SessionTotal))

	if url := resp.VideoURL(); url != "" {
		fmt.Fprintf(r.out, "  Video: %s\n", url)
		fmt.Fprintln(r.out, "  Use /download to save it.")
		return
	}

	for i, img := range resp.Images() {
		fmt.Fprintf(r.out, "  [%d] %s\n", i+1, truncateURL(img.URL))
		if r.inline {
			r.showInline(ctx, img.URL)
		}
	}
	fmt.Fprintln(r.out, "  Use /select <n> to edit or animate a result, /download to save them.")
}

// Error prints a failed outcome with its remediation hint.
func (r *Renderer) Error(err error) {
	var gerr *orchestrator.GenerationError
	if errors.As(err, &gerr) {
		fmt.Fprintf(r.out, "✗ %s\n", describeKind(gerr.Kind))
		if gerr.Err != nil {
			fmt.Fprintf(r.out, "  %v\n", gerr.Err)
		}
		if hint := gerr.Hint(); hint != "" {
			fmt.Fprintf(r.out, "  %s\n", hint)
		}
		return
	}
	fmt.Fprintf(r.out, "✗ Error: %v\n", err)
}

// LastImages returns the images of the most recent successful result.
func (r *Renderer) LastImages() []models.ResultImage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.ResultImage(nil), r.lastImages...)
}

func (r *Renderer) LastVideo() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastVideo
}

// LastURLs lists every downloadable URL of the most recent result.
func (r *Renderer) LastURLs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.lastVideo != "" {
		return []string{r.lastVideo}
	}
	urls := make([]string, 0, len(r.lastImages))
	for _, img := range r.lastImages {
		urls = append(urls, img.URL)
	}
	return urls
}

func (r *Renderer) showInline(ctx context.Context, url string) {
	data, _, err := r.fetcher.Fetch(ctx, url)
	if err != nil {
		r.log.WithError(err).Debug("inline preview unavailable")
		return
	}
	if err := NewKittyEncoder(r.out).WithColumns(inlineColumns).Encode(data); err != nil {
		r.log.WithError(err).Debug("inline preview unavailable")
		return
	}
	fmt.Fprintln(r.out)
}

func describeKind(k orchestrator.Kind) string {
	switch k {
	case orchestrator.KindProtocol:
		return "Unexpected response from the workflow"
	case orchestrator.KindNetwork:
		return "Could not reach the workflow"
	case orchestrator.KindTimeout:
		return "Request timed out"
	case orchestrator.KindConfiguration:
		return "Webhook URL is not configured"
	case orchestrator.KindAborted:
		return "Cancelled"
	default:
		return "Error"
	}
}

func truncateURL(url string) string {
	if image.IsDataURI(url) && len(url) > 64 {
		return url[:48] + "..."
	}
	return url
}

var _ orchestrator.Renderer = (*Renderer)(nil)
var _ Fetcher = (*image.Saver)(nil)
