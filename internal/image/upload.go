package image

import (
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/fcinq/genchat/internal/security"
	"github.com/fcinq/genchat/pkg/models"
)

// MaxUploadSize bounds a single uploaded context image.
const MaxUploadSize = 20 << 20

var (
	ErrNotImage       = errors.New("file is not an image")
	ErrTooLarge       = errors.New("image exceeds upload size limit")
	ErrInvalidDataURI = errors.New("invalid data URI")
)

// LoadUpload reads a local image and turns it into a context entry carrying
// the bytes inline as a data URI.
func LoadUpload(path string) (models.ContextImage, error) {
	info, err := os.Stat(path)
	if err != nil {
		return models.ContextImage{}, fmt.Errorf("failed to read image: %w", err)
	}
	if info.IsDir() {
		return models.ContextImage{}, fmt.Errorf("%w: %s is a directory", ErrNotImage, path)
	}
	if info.Size() > MaxUploadSize {
		return models.ContextImage{}, fmt.Errorf("%w: %s", ErrTooLarge, path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return models.ContextImage{}, fmt.Errorf("failed to read image: %w", err)
	}
	return FromBytes(filepath.Base(path), data)
}

// FromBytes builds an upload context entry from raw file contents.
func FromBytes(filename string, data []byte) (models.ContextImage, error) {
	if len(data) > MaxUploadSize {
		return models.ContextImage{}, ErrTooLarge
	}

	mime := http.DetectContentType(data)
	if !strings.HasPrefix(mime, "image/") {
		return models.ContextImage{}, fmt.Errorf("%w: detected %s", ErrNotImage, mime)
	}

	return models.ContextImage{
		ID:       "upload-" + uuid.New().String(),
		URL:      EncodeDataURI(mime, data),
		Source:   models.SourceUpload,
		Filename: security.SanitizeFilename(filename),
		Size:     int64(len(data)),
	}, nil
}

func EncodeDataURI(mime string, data []byte) string {
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data)
}

// DecodeDataURI returns the media type and payload of a base64 data URI.
func DecodeDataURI(uri string) (string, []byte, error) {
	rest, ok := strings.CutPrefix(uri, "data:")
	if !ok {
		return "", nil, ErrInvalidDataURI
	}

	meta, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return "", nil, ErrInvalidDataURI
	}

	mime, isBase64 := strings.CutSuffix(meta, ";base64")
	if !isBase64 {
		return "", nil, fmt.Errorf("%w: only base64 payloads are supported", ErrInvalidDataURI)
	}
	if mime == "" {
		mime = "text/plain"
	}

	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrInvalidDataURI, err)
	}
	return mime, data, nil
}

func IsDataURI(s string) bool {
	return strings.HasPrefix(s, "data:")
}
