package models

import "slices"

// Catalog holds the static per-path model tables.
type Catalog struct {
	models   map[GenerationPath][]ModelDescriptor
	defaults map[GenerationPath]string
	progress map[GenerationPath]int
}

func NewCatalog() *Catalog {
	return &Catalog{
		models:   make(map[GenerationPath][]ModelDescriptor),
		defaults: make(map[GenerationPath]string),
		progress: make(map[GenerationPath]int),
	}
}

// Register sets the ordered model list, default id and base progress
// seconds for a path. The default must be one of the listed models.
func (c *Catalog) Register(path GenerationPath, defaultID string, baseProgressSeconds int, descriptors ...ModelDescriptor) {
	c.models[path] = slices.Clone(descriptors)
	c.defaults[path] = defaultID
	c.progress[path] = baseProgressSeconds
}

// Models returns a copy of the ordered list for path.
func (c *Catalog) Models(path GenerationPath) []ModelDescriptor {
	return slices.Clone(c.models[path])
}

func (c *Catalog) Default(path GenerationPath) string {
	return c.defaults[path]
}

func (c *Catalog) BaseProgress(path GenerationPath) int {
	return c.progress[path]
}

func (c *Catalog) Get(path GenerationPath, id string) (ModelDescriptor, bool) {
	for _, d := range c.models[path] {
		if d.ID == id {
			return d, true
		}
	}
	return ModelDescriptor{}, false
}

func (c *Catalog) Contains(path GenerationPath, id string) bool {
	_, ok := c.Get(path, id)
	return ok
}

func (c *Catalog) IDs(path GenerationPath) []string {
	ids := make([]string, 0, len(c.models[path]))
	for _, d := range c.models[path] {
		ids = append(ids, d.ID)
	}
	return ids
}

func DefaultCatalog() *Catalog {
	c := NewCatalog()

	c.Register(PathT2I, "nano-banana", 25,
		ModelDescriptor{ID: "nano-banana", Label: "Nano Banana", Price: 0.039},
		ModelDescriptor{ID: "nano-banana-pro", Label: "Nano Banana Pro", Price: 0.134},
		ModelDescriptor{ID: "imagen4", Label: "Imagen 4", Price: 0.040},
	)

	c.Register(PathI2I, "nano-banana-edit", 30,
		ModelDescriptor{ID: "nano-banana-edit", Label: "Nano Banana Edit", Price: 0.039},
		ModelDescriptor{ID: "nano-banana-pro-edit", Label: "Nano Banana Pro Edit", Price: 0.134},
		ModelDescriptor{ID: "seedream4-edit", Label: "Seedream 4 Edit", Price: 0.030},
	)

	c.Register(PathT2V, "kling", 45,
		ModelDescriptor{ID: "kling", Label: "Kling 2.5 Turbo", Price: 0.35, ProgressSeconds: 45},
		ModelDescriptor{ID: "sora2-t2v", Label: "Sora 2", Price: 0.40, ProgressSeconds: 60},
		ModelDescriptor{ID: "sora2-t2v-pro", Label: "Sora 2 Pro", Price: 1.20, Premium: true, ProgressSeconds: 90},
		ModelDescriptor{ID: "veo3", Label: "Veo 3", Price: 3.20, Premium: true, ProgressSeconds: 135},
	)

	c.Register(PathI2V, "kling", 45,
		ModelDescriptor{ID: "kling", Label: "Kling 2.5 Turbo", Price: 0.35, ProgressSeconds: 45},
		ModelDescriptor{ID: "sora2-i2v", Label: "Sora 2", Price: 0.40, ProgressSeconds: 60},
		ModelDescriptor{ID: "sora2-i2v-pro", Label: "Sora 2 Pro", Price: 1.20, Premium: true, ProgressSeconds: 90},
		ModelDescriptor{ID: "veo3", Label: "Veo 3", Price: 3.20, Premium: true, ProgressSeconds: 135},
	)

	return c
}
