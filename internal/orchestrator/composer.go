package orchestrator

import (
	"sync"

	"github.com/fcinq/genchat/internal/imagectx"
	"github.com/fcinq/genchat/internal/resolver"
	"github.com/fcinq/genchat/pkg/models"
)

// Composer holds the input controls: the video toggle and the selected
// model. The selection is reconciled against the active path whenever the
// toggle flips or the image context becomes empty or non-empty.
type Composer struct {
	resolver *resolver.Resolver
	imgctx   *imagectx.Manager

	mu        sync.Mutex
	videoMode bool
	selected  string
	path      models.GenerationPath
	listeners []func(path models.GenerationPath, selected string)
}

func NewComposer(r *resolver.Resolver, imgctx *imagectx.Manager) *Composer {
	c := &Composer{
		resolver: r,
		imgctx:   imgctx,
	}
	c.reconcile()
	imgctx.OnChange(func(int) {
		c.reconcile()
	})
	return c
}

// OnModelsChange registers fn to run after the active path or selection changes.
func (c *Composer) OnModelsChange(fn func(path models.GenerationPath, selected string)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, fn)
}

func (c *Composer) SetVideoMode(on bool) {
	c.mu.Lock()
	c.videoMode = on
	c.mu.Unlock()
	c.reconcile()
}

func (c *Composer) VideoMode() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.videoMode
}

// SetModel selects id and returns the model actually in effect, which is the
// path default when id does not belong to the active path.
func (c *Composer) SetModel(id string) string {
	c.mu.Lock()
	c.selected = id
	c.mu.Unlock()
	c.reconcile()
	return c.Model()
}

func (c *Composer) Model() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.selected
}

func (c *Composer) Path() models.GenerationPath {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.path
}

// Models lists the models of the active path.
func (c *Composer) Models() []models.ModelDescriptor {
	return c.resolver.ModelsFor(c.Path())
}

func (c *Composer) Input(prompt string) Input {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Input{
		Prompt:           prompt,
		IsVideoMode:      c.videoMode,
		RequestedModelID: c.selected,
	}
}

func (c *Composer) reconcile() {
	hasContext := !c.imgctx.IsEmpty()

	c.mu.Lock()
	path := resolver.ResolvePath(c.videoMode, hasContext)
	selected := c.resolver.SelectModel(path, c.selected)
	changed := path != c.path || selected != c.selected
	c.path = path
	c.selected = selected
	listeners := append([]func(models.GenerationPath, string){}, c.listeners...)
	c.mu.Unlock()

	if !changed {
		return
	}
	for _, fn := range listeners {
		fn(path, selected)
	}
}
