package provider

import (
	"context"
	"errors"
	"strings"

	"github.com/fcinq/genchat/pkg/models"
)

var (
	ErrEndpointRequired = errors.New("webhook endpoint is not configured")
	ErrTransport        = errors.New("failed to reach workflow endpoint")
	ErrHTTPStatus       = errors.New("workflow endpoint returned an error status")
	ErrDecode           = errors.New("failed to decode workflow response")
)

// PlaceholderEndpoint is the value shipped in sample configs. It counts as unset.
const PlaceholderEndpoint = "YOUR_N8N_WEBHOOK_URL_HERE"

// Dispatcher sends one generation request to the remote workflow and returns
// its decoded answer. The deadline is carried by ctx.
type Dispatcher interface {
	Dispatch(ctx context.Context, req *models.GenerationRequest) (*models.GenerationResponse, error)
	Endpoint() string
}

// DispatcherFunc adapts a function to the Dispatcher interface.
type DispatcherFunc func(ctx context.Context, req *models.GenerationRequest) (*models.GenerationResponse, error)

func (f DispatcherFunc) Dispatch(ctx context.Context, req *models.GenerationRequest) (*models.GenerationResponse, error) {
	return f(ctx, req)
}

func (f DispatcherFunc) Endpoint() string {
	return "func"
}

// Config configures a Dispatcher. There is no client-level timeout: each
// request's deadline comes from its context.
type Config struct {
	Endpoint  string
	UserAgent string
}

// IsConfigured reports whether endpoint names a usable webhook.
func IsConfigured(endpoint string) bool {
	endpoint = strings.TrimSpace(endpoint)
	return endpoint != "" && endpoint != PlaceholderEndpoint
}

// HTTPStatusError carries the status of a non-2xx answer.
type HTTPStatusError struct {
	StatusCode int
	Body       string
}

func (e *HTTPStatusError) Error() string {
	if e.Body == "" {
		return ErrHTTPStatus.Error() + ": " + statusText(e.StatusCode)
	}
	return ErrHTTPStatus.Error() + ": " + statusText(e.StatusCode) + ": " + e.Body
}

func (e *HTTPStatusError) Unwrap() error {
	return ErrHTTPStatus
}
