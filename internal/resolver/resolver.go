// Package resolver derives the generation path from the user's inputs and
// selects the model, deadline and progress pacing for that path.
package resolver

import (
	"time"

	"github.com/fcinq/genchat/pkg/models"
)

const (
	BaselineTimeout     = 120 * time.Second
	VideoTimeout        = 180 * time.Second
	PremiumVideoTimeout = 300 * time.Second
)

// ResolvePath maps the video toggle and context presence onto one of the
// four generation paths.
func ResolvePath(isVideoMode, hasContext bool) models.GenerationPath {
	switch {
	case isVideoMode && hasContext:
		return models.PathI2V
	case isVideoMode:
		return models.PathT2V
	case hasContext:
		return models.PathI2I
	default:
		return models.PathT2I
	}
}

type Resolver struct {
	catalog *models.Catalog
}

func New(catalog *models.Catalog) *Resolver {
	if catalog == nil {
		catalog = models.DefaultCatalog()
	}
	return &Resolver{catalog: catalog}
}

func (r *Resolver) Catalog() *models.Catalog {
	return r.catalog
}

func (r *Resolver) ModelsFor(path models.GenerationPath) []models.ModelDescriptor {
	return r.catalog.Models(path)
}

func (r *Resolver) DefaultModelFor(path models.GenerationPath) string {
	return r.catalog.Default(path)
}

// SelectModel keeps requested when the path offers it and otherwise falls
// back to the path default.
func (r *Resolver) SelectModel(path models.GenerationPath, requested string) string {
	if requested != "" && r.catalog.Contains(path, requested) {
		return requested
	}
	return r.catalog.Default(path)
}

func (r *Resolver) Describe(path models.GenerationPath, modelID string) (models.ModelDescriptor, bool) {
	return r.catalog.Get(path, modelID)
}

// TimeoutFor is the client-side deadline for a request. Video paths wait
// longer, and premium video models longest.
func (r *Resolver) TimeoutFor(path models.GenerationPath, modelID string) time.Duration {
	if !path.IsVideo() {
		return BaselineTimeout
	}
	if d, ok := r.catalog.Get(path, modelID); ok && d.Premium {
		return PremiumVideoTimeout
	}
	return VideoTimeout
}

// ProgressDurationFor only paces the cosmetic countdown; it never cancels anything.
func (r *Resolver) ProgressDurationFor(path models.GenerationPath, modelID string) time.Duration {
	seconds := r.catalog.BaseProgress(path)
	if path.IsVideo() {
		d, ok := r.catalog.Get(path, modelID)
		if !ok {
			d, ok = r.catalog.Get(path, r.catalog.Default(path))
		}
		if ok && d.ProgressSeconds > 0 {
			seconds = d.ProgressSeconds
		}
	}
	return time.Duration(seconds) * time.Second
}

// Plan is everything derived from a single submission's inputs.
type Plan struct {
	Path     models.GenerationPath
	Model    string
	Timeout  time.Duration
	Progress time.Duration
}

func (r *Resolver) Plan(isVideoMode, hasContext bool, requestedModel string) Plan {
	path := ResolvePath(isVideoMode, hasContext)
	model := r.SelectModel(path, requestedModel)
	return Plan{
		Path:     path,
		Model:    model,
		Timeout:  r.TimeoutFor(path, model),
		Progress: r.ProgressDurationFor(path, model),
	}
}
