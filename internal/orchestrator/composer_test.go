package orchestrator

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/fcinq/genchat/internal/imagectx"
	"github.com/fcinq/genchat/internal/resolver"
	"github.com/fcinq/genchat/pkg/models"
)

func TestComposer_ReconcilesOnToggle(t *testing.T) {
	imgctx := imagectx.New()
	c := NewComposer(resolver.New(nil), imgctx)

	assert.Equal(t, models.PathT2I, c.Path())
	assert.Equal(t, "nano-banana", c.Model())

	assert.Equal(t, "imagen4", c.SetModel("imagen4"))

	c.SetVideoMode(true)
	assert.Equal(t, models.PathT2V, c.Path())
	assert.Equal(t, "kling", c.Model(), "image model falls back to the video default")

	c.SetModel("veo3")
	imgctx.Add(models.ContextImage{ID: "u1", URL: "x", Source: models.SourceUpload})
	assert.Equal(t, models.PathI2V, c.Path())
	assert.Equal(t, "veo3", c.Model(), "veo3 is valid on both video paths")

	c.SetModel("sora2-i2v-pro")
	imgctx.Clear()
	assert.Equal(t, models.PathT2V, c.Path())
	assert.Equal(t, "kling", c.Model())
}

func TestComposer_UnknownModelFallsBack(t *testing.T) {
	c := NewComposer(resolver.New(nil), imagectx.New())
	assert.Equal(t, "nano-banana", c.SetModel("does-not-exist"))
}

func TestComposer_InputAndListeners(t *testing.T) {
	imgctx := imagectx.New()
	c := NewComposer(resolver.New(nil), imgctx)

	var seen []models.GenerationPath
	c.OnModelsChange(func(path models.GenerationPath, _ string) {
		seen = append(seen, path)
	})

	c.SetVideoMode(true)
	imgctx.Add(models.ContextImage{ID: "a", URL: "x", Source: models.SourceUpload})
	imgctx.Add(models.ContextImage{ID: "b", URL: "y", Source: models.SourceUpload})

	assert.Equal(t, []models.GenerationPath{models.PathT2V, models.PathI2V}, seen)

	in := c.Input("hello")
	assert.Equal(t, Input{Prompt: "hello", IsVideoMode: true, RequestedModelID: "kling"}, in)
	assert.Len(t, c.Models(), 4)
	assert.True(t, c.VideoMode())
}
