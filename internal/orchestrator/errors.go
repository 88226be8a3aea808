package orchestrator

import (
	"context"
	"errors"

	"github.com/fcinq/genchat/internal/provider"
	"github.com/fcinq/genchat/pkg/models"
)

var ErrInFlight = errors.New("a generation is already in progress")

type Kind int

const (
	KindValidation Kind = iota + 1
	KindProtocol
	KindNetwork
	KindTimeout
	KindConfiguration
	KindAborted
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation_error"
	case KindProtocol:
		return "protocol_error"
	case KindNetwork:
		return "network_error"
	case KindTimeout:
		return "timeout"
	case KindConfiguration:
		return "configuration_error"
	case KindAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// GenerationError classifies a failed submission for the user.
type GenerationError struct {
	Kind Kind
	Err  error
}

func (e *GenerationError) Error() string {
	if e.Err == nil {
		return e.Kind.String()
	}
	return e.Kind.String() + ": " + e.Err.Error()
}

func (e *GenerationError) Unwrap() error {
	return e.Err
}

// Hint is the remediation text shown next to the error.
func (e *GenerationError) Hint() string {
	switch e.Kind {
	case KindValidation:
		return "Type a prompt before sending."
	case KindProtocol:
		return "The workflow answered with an unexpected payload. Check the n8n workflow output and try again."
	case KindNetwork:
		return "Please check your webhook URL and n8n workflow, then resubmit."
	case KindTimeout:
		return "The workflow took too long. It may still finish remotely; try again or pick a faster model."
	case KindConfiguration:
		return "Set webhook_url in the config file or GENCHAT_WEBHOOK_URL."
	case KindAborted:
		return "Generation was cancelled before the workflow answered."
	default:
		return ""
	}
}

// KindOf extracts the classification from err, if any.
func KindOf(err error) (Kind, bool) {
	var gerr *GenerationError
	if errors.As(err, &gerr) {
		return gerr.Kind, true
	}
	return 0, false
}

// classify maps a dispatch failure to a kind. parent is the caller's
// context and reqCtx the deadline-bound child used for the call.
func classify(parent, reqCtx context.Context, err error) *GenerationError {
	switch {
	case errors.Is(parent.Err(), context.Canceled):
		return &GenerationError{Kind: KindAborted, Err: err}
	case errors.Is(reqCtx.Err(), context.DeadlineExceeded), errors.Is(err, context.DeadlineExceeded):
		return &GenerationError{Kind: KindTimeout, Err: err}
	case errors.Is(err, provider.ErrDecode), errors.Is(err, models.ErrMalformedResponse):
		return &GenerationError{Kind: KindProtocol, Err: err}
	default:
		return &GenerationError{Kind: KindNetwork, Err: err}
	}
}

func terminalState(k Kind) State {
	switch k {
	case KindTimeout, KindAborted:
		return StateCancelled
	default:
		return StateFailed
	}
}
