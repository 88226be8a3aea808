package image

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fcinq/genchat/internal/security"
)

const (
	downloadTimeout = 60 * time.Second
	maxDownloadSize = 512 << 20
	// DownloadStagger spaces out consecutive downloads in SaveAll.
	DownloadStagger = 500 * time.Millisecond
	filenamePrefix  = "fcinq-product-display"
)

var ErrNoURL = errors.New("result has no url")

type Saver struct {
	httpClient *http.Client
	policy     security.URLPolicy
	stagger    time.Duration
	now        func() time.Time
}

func NewSaver() *Saver {
	return &Saver{
		httpClient: &http.Client{
			Timeout: downloadTimeout,
		},
		stagger: DownloadStagger,
		now:     time.Now,
	}
}

// WithPolicy replaces the URL policy used to vet remote results.
func (s *Saver) WithPolicy(p security.URLPolicy) *Saver {
	s.policy = p
	return s
}

// WithStagger sets the pause between downloads in SaveAll.
func (s *Saver) WithStagger(d time.Duration) *Saver {
	s.stagger = d
	return s
}

// Fetch returns the bytes and media type behind a result URL. Data URIs are
// decoded in place.
func (s *Saver) Fetch(ctx context.Context, url string) ([]byte, string, error) {
	if url == "" {
		return nil, "", ErrNoURL
	}
	if IsDataURI(url) {
		mime, data, err := DecodeDataURI(url)
		return data, mime, err
	}

	if err := s.policy.ValidateResultURL(url); err != nil {
		return nil, "", fmt.Errorf("refusing to download %s: %w", url, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("failed to download: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("download failed with status: %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxDownloadSize))
	if err != nil {
		return nil, "", fmt.Errorf("failed to read download: %w", err)
	}

	mime := resp.Header.Get("Content-Type")
	if mime == "" || mime == "application/octet-stream" {
		mime = http.DetectContentType(data)
	}
	return data, mime, nil
}

// Save writes the result at url to path.
func (s *Saver) Save(ctx context.Context, url, path string) error {
	data, _, err := s.Fetch(ctx, url)
	if err != nil {
		return err
	}
	return writeFile(path, data)
}

// Download saves the result into dir under the default name for index
// (1-based) and returns the written path.
func (s *Saver) Download(ctx context.Context, url, dir string, index int) (string, error) {
	data, mime, err := s.Fetch(ctx, url)
	if err != nil {
		return "", err
	}

	path := filepath.Join(dir, GenerateFilename(index, ExtensionFor(mime, url), s.now()))
	if err := writeFile(path, data); err != nil {
		return "", err
	}
	return path, nil
}

// SaveAll downloads every url in order, pausing between downloads. It stops
// at the first failure and returns the paths written so far.
func (s *Saver) SaveAll(ctx context.Context, urls []string, dir string) ([]string, error) {
	paths := make([]string, 0, len(urls))

	for i, url := range urls {
		if i > 0 && s.stagger > 0 {
			select {
			case <-ctx.Done():
				return paths, ctx.Err()
			case <-time.After(s.stagger):
			}
		}

		path, err := s.Download(ctx, url, dir, i+1)
		if err != nil {
			return paths, fmt.Errorf("failed to save result %d: %w", i+1, err)
		}
		paths = append(paths, path)
	}

	return paths, nil
}

func writeFile(path string, data []byte) error {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}
	return nil
}

// GenerateFilename builds fcinq-product-display-<n>-<unix millis>.<ext>.
func GenerateFilename(index int, ext string, t time.Time) string {
	return fmt.Sprintf("%s-%d-%d.%s", filenamePrefix, index, t.UnixMilli(), ext)
}

// ExtensionFor picks a file extension from the media type, then the URL,
// and falls back to jpg.
func ExtensionFor(mime, url string) string {
	mime, _, _ = strings.Cut(mime, ";")
	switch strings.TrimSpace(strings.ToLower(mime)) {
	case "image/png":
		return "png"
	case "image/jpeg":
		return "jpg"
	case "image/webp":
		return "webp"
	case "image/gif":
		return "gif"
	case "video/mp4":
		return "mp4"
	case "video/webm":
		return "webm"
	}

	if !IsDataURI(url) {
		path, _, _ := strings.Cut(url, "?")
		switch ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(path), ".")); ext {
		case "png", "jpg", "jpeg", "webp", "gif", "mp4", "webm", "mov":
			if ext == "jpeg" {
				return "jpg"
			}
			return ext
		}
	}
	return "jpg"
}
