package models

import (
	"errors"
	"fmt"
	"slices"
)

var (
	ErrEmptyPrompt        = errors.New("prompt cannot be empty")
	ErrMalformedResponse  = errors.New("malformed workflow response")
	ErrDuplicateContextID = errors.New("duplicate context image id")
)

// PhaseComplete is the only phase the workflow reports for a finished generation.
const PhaseComplete = "complete"

// NumImagesImage is the fixed variation count sent with image generations.
const NumImagesImage = 4

type GenerationType string

const (
	TypeImage GenerationType = "image"
	TypeVideo GenerationType = "video"
)

func (t GenerationType) IsValid() bool {
	return t == TypeImage || t == TypeVideo
}

func (t GenerationType) String() string {
	return string(t)
}

type GenerationPath string

const (
	PathT2I GenerationPath = "t2i"
	PathI2I GenerationPath = "i2i"
	PathT2V GenerationPath = "t2v"
	PathI2V GenerationPath = "i2v"
)

func AllPaths() []GenerationPath {
	return []GenerationPath{PathT2I, PathI2I, PathT2V, PathI2V}
}

func (p GenerationPath) IsValid() bool {
	return slices.Contains(AllPaths(), p)
}

func (p GenerationPath) IsVideo() bool {
	return p == PathT2V || p == PathI2V
}

// UsesContext reports whether the path conditions on prior images.
func (p GenerationPath) UsesContext() bool {
	return p == PathI2I || p == PathI2V
}

func (p GenerationPath) GenerationType() GenerationType {
	if p.IsVideo() {
		return TypeVideo
	}
	return TypeImage
}

func (p GenerationPath) String() string {
	return string(p)
}

// Label is the human-readable name shown next to the model picker.
func (p GenerationPath) Label() string {
	switch p {
	case PathT2I:
		return "text to image"
	case PathI2I:
		return "image to image"
	case PathT2V:
		return "text to video"
	case PathI2V:
		return "image to video"
	default:
		return string(p)
	}
}

type ImageSource string

const (
	SourceUpload    ImageSource = "upload"
	SourceGenerated ImageSource = "generated"
)

func (s ImageSource) IsValid() bool {
	return s == SourceUpload || s == SourceGenerated
}

// ContextImage is an image supplied as conditioning input for the next request.
type ContextImage struct {
	ID       string      `json:"id"`
	URL      string      `json:"url"`
	Source   ImageSource `json:"source"`
	Filename string      `json:"filename,omitempty"`
	Size     int64       `json:"size,omitempty"`
}

func (c ContextImage) Ref() ContextRef {
	return ContextRef{ID: c.ID, URL: c.URL, Source: c.Source}
}

// ContextRef is the wire form of a context image inside the imageContext field.
type ContextRef struct {
	ID     string      `json:"id"`
	URL    string      `json:"url"`
	Source ImageSource `json:"source"`
}

type ModelDescriptor struct {
	ID              string
	Label           string
	Price           float64
	Premium         bool
	ProgressSeconds int
}

type GenerationRequest struct {
	Prompt         string
	SessionID      string
	GenerationType GenerationType
	SelectedModel  string
	NumImages      int
	ImageContext   []ContextRef
}

func (r *GenerationRequest) Validate() error {
	if r.Prompt == "" {
		return ErrEmptyPrompt
	}
	if !r.GenerationType.IsValid() {
		return fmt.Errorf("invalid generation type %q", r.GenerationType)
	}
	seen := make(map[string]bool, len(r.ImageContext))
	for _, ref := range r.ImageContext {
		if seen[ref.ID] {
			return fmt.Errorf("%w: %s", ErrDuplicateContextID, ref.ID)
		}
		seen[ref.ID] = true
	}
	return nil
}

type GenerationResponse struct {
	Phase    string         `json:"phase"`
	Type     GenerationType `json:"type"`
	Content  *Content       `json:"content,omitempty"`
	Cost     *Cost          `json:"cost,omitempty"`
	Metadata *Metadata      `json:"metadata,omitempty"`
}

type Content struct {
	Images []ResultImage `json:"images,omitempty"`
	Video  *ResultVideo  `json:"video,omitempty"`
}

type ResultImage struct {
	ID  string `json:"id,omitempty"`
	URL string `json:"url"`
}

type ResultVideo struct {
	URL string `json:"url"`
}

type Cost struct {
	Current float64  `json:"current"`
	Session *float64 `json:"session,omitempty"`
}

type Metadata struct {
	EnhancedPrompt string `json:"enhancedPrompt,omitempty"`
	ModelName      string `json:"modelName,omitempty"`
}

// Validate checks the fields the client consumes. Any other shape is malformed.
func (r *GenerationResponse) Validate() error {
	if r.Phase != PhaseComplete {
		return fmt.Errorf("%w: phase %q", ErrMalformedResponse, r.Phase)
	}
	if r.Content == nil {
		return fmt.Errorf("%w: missing content", ErrMalformedResponse)
	}

	switch r.Type {
	case TypeImage:
		if len(r.Content.Images) == 0 {
			return fmt.Errorf("%w: no images returned", ErrMalformedResponse)
		}
		for i, img := range r.Content.Images {
			if img.URL == "" {
				return fmt.Errorf("%w: image %d has no url", ErrMalformedResponse, i)
			}
		}
	case TypeVideo:
		if r.Content.Video == nil || r.Content.Video.URL == "" {
			return fmt.Errorf("%w: missing video url", ErrMalformedResponse)
		}
	default:
		return fmt.Errorf("%w: type %q", ErrMalformedResponse, r.Type)
	}

	return nil
}

// CurrentCost returns cost.current or zero when the workflow omitted it.
func (r *GenerationResponse) CurrentCost() float64 {
	if r.Cost == nil {
		return 0
	}
	return r.Cost.Current
}

func (r *GenerationResponse) EnhancedPrompt() string {
	if r.Metadata == nil {
		return ""
	}
	return r.Metadata.EnhancedPrompt
}

func (r *GenerationResponse) ModelName() string {
	if r.Metadata == nil {
		return ""
	}
	return r.Metadata.ModelName
}

// Images returns the result images, nil for video results.
func (r *GenerationResponse) Images() []ResultImage {
	if r.Content == nil {
		return nil
	}
	return r.Content.Images
}

func (r *GenerationResponse) VideoURL() string {
	if r.Content == nil || r.Content.Video == nil {
		return ""
	}
	return r.Content.Video.URL
}
