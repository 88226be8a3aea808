package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/fcinq/genchat/internal/provider"
	"github.com/fcinq/genchat/pkg/models"
)

const (
	defaultUserAgent = "genchat/1.0"
	maxErrorBody     = 512
	dataURIPreview   = 48
)

// Client posts generation requests to an n8n-style webhook as multipart forms.
type Client struct {
	endpoint   string
	userAgent  string
	httpClient *http.Client
	log        logrus.FieldLogger
}

func New(cfg *provider.Config, log logrus.FieldLogger) (*Client, error) {
	if !provider.IsConfigured(cfg.Endpoint) {
		return nil, provider.ErrEndpointRequired
	}
	if log == nil {
		log = logrus.StandardLogger()
	}

	userAgent := cfg.UserAgent
	if userAgent == "" {
		userAgent = defaultUserAgent
	}

	return &Client{
		endpoint:  strings.TrimSpace(cfg.Endpoint),
		userAgent: userAgent,
		httpClient: &http.Client{},
		log: log,
	}, nil
}

func (c *Client) Endpoint() string {
	return c.endpoint
}

func (c *Client) Dispatch(ctx context.Context, req *models.GenerationRequest) (*models.GenerationResponse, error) {
	body, contentType, err := encodeForm(req)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", contentType)
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("User-Agent", c.userAgent)

	c.logRequest(req)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", provider.ErrTransport, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: reading body: %w", provider.ErrTransport, err)
	}

	c.log.WithFields(logrus.Fields{
		"status": resp.StatusCode,
		"bytes":  len(data),
	}).Debug("workflow responded")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &provider.HTTPStatusError{
			StatusCode: resp.StatusCode,
			Body:       excerpt(data),
		}
	}

	var out models.GenerationResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("%w: %w", provider.ErrDecode, err)
	}
	return &out, nil
}

// encodeForm builds the multipart body. numImages and imageContext are only
// written when present.
func encodeForm(req *models.GenerationRequest) (*bytes.Buffer, string, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	fields := []struct {
		name, value string
	}{
		{"prompt", req.Prompt},
		{"sessionId", req.SessionID},
		{"generationType", req.GenerationType.String()},
		{"selectedModel", req.SelectedModel},
	}
	for _, f := range fields {
		if err := writer.WriteField(f.name, f.value); err != nil {
			return nil, "", fmt.Errorf("failed to write %s: %w", f.name, err)
		}
	}

	if req.NumImages > 0 {
		if err := writer.WriteField("numImages", strconv.Itoa(req.NumImages)); err != nil {
			return nil, "", fmt.Errorf("failed to write numImages: %w", err)
		}
	}

	if len(req.ImageContext) > 0 {
		encoded, err := json.Marshal(req.ImageContext)
		if err != nil {
			return nil, "", fmt.Errorf("failed to encode imageContext: %w", err)
		}
		if err := writer.WriteField("imageContext", string(encoded)); err != nil {
			return nil, "", fmt.Errorf("failed to write imageContext: %w", err)
		}
	}

	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("failed to close multipart writer: %w", err)
	}
	return body, writer.FormDataContentType(), nil
}

func (c *Client) logRequest(req *models.GenerationRequest) {
	entry := c.log.WithFields(logrus.Fields{
		"endpoint":        c.endpoint,
		"session_id":      req.SessionID,
		"generation_type": req.GenerationType,
		"model":           req.SelectedModel,
		"num_images":      req.NumImages,
		"context_images":  len(req.ImageContext),
	})
	for i, ref := range req.ImageContext {
		entry = entry.WithField(fmt.Sprintf("context_%d", i), ref.ID+" "+TruncateDataURI(ref.URL))
	}
	entry.Debug("dispatching generation request")
}

// TruncateDataURI shortens inline base64 payloads for log output.
func TruncateDataURI(s string) string {
	if !strings.HasPrefix(s, "data:") || len(s) <= dataURIPreview {
		return s
	}
	return fmt.Sprintf("%s...[%d bytes]", s[:dataURIPreview], len(s))
}

func excerpt(data []byte) string {
	s := strings.TrimSpace(string(data))
	if len(s) > maxErrorBody {
		return s[:maxErrorBody] + "..."
	}
	return s
}
