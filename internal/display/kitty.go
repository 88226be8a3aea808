package display

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	stdimage "image"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"io"
	"strings"
)

const (
	escapeStart = "\x1b_G"
	escapeEnd   = "\x1b\\"
	chunkSize   = 4096
)

var (
	ErrEmptyImage        = errors.New("image has no data")
	ErrUnsupportedFormat = errors.New("image format cannot be shown inline")
)

var pngSignature = []byte("\x89PNG\r\n\x1a\n")

// KittyEncoder writes images using the kitty graphics protocol. The protocol
// only takes PNG directly, so other formats are re-encoded first.
type KittyEncoder struct {
	out     io.Writer
	columns int
}

func NewKittyEncoder(out io.Writer) *KittyEncoder {
	return &KittyEncoder{out: out}
}

// WithColumns scales the image to the given number of terminal cells.
func (e *KittyEncoder) WithColumns(n int) *KittyEncoder {
	e.columns = n
	return e
}

func (e *KittyEncoder) Encode(data []byte) error {
	if len(data) == 0 {
		return ErrEmptyImage
	}

	pngData, err := toPNG(data)
	if err != nil {
		return err
	}

	encoded := base64.StdEncoding.EncodeToString(pngData)
	header := "a=T,f=100,q=2"
	if e.columns > 0 {
		header += fmt.Sprintf(",c=%d", e.columns)
	}

	for offset := 0; offset < len(encoded); offset += chunkSize {
		end := min(offset+chunkSize, len(encoded))
		more := 0
		if end < len(encoded) {
			more = 1
		}

		var params string
		switch {
		case offset == 0 && more == 0:
			params = header
		case offset == 0:
			params = header + ",m=1"
		default:
			params = fmt.Sprintf("m=%d", more)
		}

		if _, err := fmt.Fprintf(e.out, "%s%s;%s%s", escapeStart, params, encoded[offset:end], escapeEnd); err != nil {
			return err
		}
	}
	return nil
}

func toPNG(data []byte) ([]byte, error) {
	if bytes.HasPrefix(data, pngSignature) {
		return data, nil
	}

	img, format, err := stdimage.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedFormat, err)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("failed to re-encode %s as png: %w", format, err)
	}
	return buf.Bytes(), nil
}

// SupportsInline reports whether the terminal described by getenv speaks
// the kitty graphics protocol.
func SupportsInline(getenv func(string) string) bool {
	switch strings.ToLower(getenv("TERM_PROGRAM")) {
	case "kitty", "ghostty", "wezterm":
		return true
	}
	if getenv("KITTY_WINDOW_ID") != "" {
		return true
	}
	t := strings.ToLower(getenv("TERM"))
	return strings.Contains(t, "kitty") || strings.Contains(t, "ghostty")
}
