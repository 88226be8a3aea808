package server

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/fcinq/genchat/internal/orchestrator"
)

// statusClientClosed is reported when the caller went away mid-generation.
const statusClientClosed = 499

// ErrorBody is the JSON shape of every API error.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Hint    string `json:"hint,omitempty"`
}

func apiError(status int, code, message, hint string) *echo.HTTPError {
	return echo.NewHTTPError(status, ErrorBody{Code: code, Message: message, Hint: hint})
}

// generationError maps a Submit failure onto a status and error body.
func generationError(err error) *echo.HTTPError {
	if errors.Is(err, orchestrator.ErrInFlight) {
		return apiError(http.StatusConflict, "in_flight", err.Error(), "Wait for the current generation to finish.")
	}

	var gerr *orchestrator.GenerationError
	if !errors.As(err, &gerr) {
		return apiError(http.StatusInternalServerError, "internal_error", err.Error(), "")
	}

	return apiError(statusFor(gerr.Kind), gerr.Kind.String(), gerr.Error(), gerr.Hint())
}

// rejectInFlight keeps the image context fixed while a generation runs.
func (s *Server) rejectInFlight(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if s.orch.Busy() {
			return apiError(http.StatusConflict, "in_flight", orchestrator.ErrInFlight.Error(),
				"Wait for the current generation to finish before changing the image context.")
		}
		return next(c)
	}
}

func statusFor(k orchestrator.Kind) int {
	switch k {
	case orchestrator.KindValidation:
		return http.StatusBadRequest
	case orchestrator.KindProtocol, orchestrator.KindNetwork:
		return http.StatusBadGateway
	case orchestrator.KindTimeout:
		return http.StatusGatewayTimeout
	case orchestrator.KindConfiguration:
		return http.StatusServiceUnavailable
	case orchestrator.KindAborted:
		return statusClientClosed
	default:
		return http.StatusInternalServerError
	}
}
