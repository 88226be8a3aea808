package server

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/fcinq/genchat/internal/cost"
	"github.com/fcinq/genchat/internal/image"
	"github.com/fcinq/genchat/internal/orchestrator"
	"github.com/fcinq/genchat/internal/resolver"
	"github.com/fcinq/genchat/internal/session"
	"github.com/fcinq/genchat/pkg/models"
)

// GenerateRequest is the body of POST /api/generate.
type GenerateRequest struct {
	Prompt      string `json:"prompt"`
	IsVideoMode bool   `json:"isVideoMode"`
	Model       string `json:"model,omitempty"`
}

type GenerateResponse struct {
	State          string               `json:"state"`
	Path           string               `json:"path"`
	Model          string               `json:"model"`
	Type           string               `json:"type"`
	Images         []models.ResultImage `json:"images,omitempty"`
	Video          string               `json:"video,omitempty"`
	EnhancedPrompt string               `json:"enhancedPrompt,omitempty"`
	ModelName      string               `json:"modelName,omitempty"`
	Cost           float64              `json:"cost"`
	SessionTotal   float64              `json:"sessionTotal"`
	DurationMs     int64                `json:"durationMs"`
}

type ModelInfo struct {
	ID       string  `json:"id"`
	Label    string  `json:"label"`
	Price    float64 `json:"price"`
	Estimate float64 `json:"estimate"`
	Premium  bool    `json:"premium,omitempty"`
}

type ModelsResponse struct {
	Path    string      `json:"path"`
	Label   string      `json:"label"`
	Default string      `json:"default"`
	Models  []ModelInfo `json:"models"`
}

type SelectRequest struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

type CostResponse struct {
	SessionTotal float64              `json:"sessionTotal"`
	Generations  int                  `json:"generations"`
	Session      *session.CostSummary `json:"session,omitempty"`
	AllTime      *session.CostSummary `json:"allTime,omitempty"`
}

// GetSession returns the session id, creating it on first use.
// GET /api/session
func (s *Server) GetSession(c echo.Context) error {
	id := ""
	if s.session != nil {
		id = s.session.GetOrCreateSessionID(c.Request().Context())
	}
	return c.JSON(http.StatusOK, map[string]string{"sessionId": id})
}

// ListModels lists the models of the path implied by the video flag and the
// current image context. ?context=true|false overrides the latter.
// GET /api/models
func (s *Server) ListModels(c echo.Context) error {
	video, err := boolParam(c, "video", false)
	if err != nil {
		return err
	}
	hasContext, err := boolParam(c, "context", !s.orch.Context().IsEmpty())
	if err != nil {
		return err
	}

	r := s.orch.Resolver()
	path := resolver.ResolvePath(video, hasContext)
	calc := cost.NewCalculator()

	resp := ModelsResponse{
		Path:    path.String(),
		Label:   path.Label(),
		Default: r.DefaultModelFor(path),
	}
	for _, d := range r.ModelsFor(path) {
		resp.Models = append(resp.Models, ModelInfo{
			ID:       d.ID,
			Label:    d.Label,
			Price:    d.Price,
			Estimate: calc.EstimateFor(path, d).Total,
			Premium:  d.Premium,
		})
	}
	return c.JSON(http.StatusOK, resp)
}

// GET /api/context
func (s *Server) ListContext(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{"images": s.orch.Context().List()})
}

// UploadContext adds the multipart "file" field to the image context.
// POST /api/context
func (s *Server) UploadContext(c echo.Context) error {
	fh, err := c.FormFile("file")
	if err != nil {
		return apiError(http.StatusBadRequest, "validation_error", "multipart field \"file\" is required", "")
	}
	if fh.Size > image.MaxUploadSize {
		return apiError(http.StatusRequestEntityTooLarge, "validation_error", image.ErrTooLarge.Error(), "")
	}

	f, err := fh.Open()
	if err != nil {
		return fmt.Errorf("failed to open upload: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, image.MaxUploadSize+1))
	if err != nil {
		return fmt.Errorf("failed to read upload: %w", err)
	}

	img, err := image.FromBytes(fh.Filename, data)
	switch {
	case errors.Is(err, image.ErrTooLarge):
		return apiError(http.StatusRequestEntityTooLarge, "validation_error", err.Error(), "")
	case err != nil:
		return apiError(http.StatusBadRequest, "validation_error", err.Error(), "Upload a PNG, JPEG, WebP or GIF image.")
	}

	s.orch.Context().Add(img)
	return c.JSON(http.StatusCreated, img)
}

// SelectContext adds a generated result to the image context.
// POST /api/context/select
func (s *Server) SelectContext(c echo.Context) error {
	var req SelectRequest
	if err := c.Bind(&req); err != nil {
		return apiError(http.StatusBadRequest, "validation_error", "invalid request body", "")
	}
	if req.URL == "" {
		return apiError(http.StatusBadRequest, "validation_error", "url is required", "")
	}

	added := s.orch.SelectResult(models.ResultImage{ID: req.ID, URL: req.URL})
	return c.JSON(http.StatusOK, map[string]any{
		"added": added,
		"count": s.orch.Context().Len(),
	})
}

// DELETE /api/context/:id
func (s *Server) RemoveContext(c echo.Context) error {
	id := c.Param("id")
	if !s.orch.Context().Remove(id) {
		return apiError(http.StatusNotFound, "not_found", fmt.Sprintf("no context image with id %s", id), "")
	}
	return c.NoContent(http.StatusNoContent)
}

// DELETE /api/context
func (s *Server) ClearContext(c echo.Context) error {
	s.orch.Context().Clear()
	return c.NoContent(http.StatusNoContent)
}

// Generate runs one submission and waits for its outcome.
// POST /api/generate
func (s *Server) Generate(c echo.Context) error {
	var req GenerateRequest
	if err := c.Bind(&req); err != nil {
		return apiError(http.StatusBadRequest, "validation_error", "invalid request body", "")
	}

	out, err := s.orch.Submit(c.Request().Context(), orchestrator.Input{
		Prompt:           req.Prompt,
		IsVideoMode:      req.IsVideoMode,
		RequestedModelID: req.Model,
	})
	if err != nil {
		return generationError(err)
	}

	resp := out.Response
	return c.JSON(http.StatusOK, GenerateResponse{
		State:          out.State.String(),
		Path:           out.Plan.Path.String(),
		Model:          out.Plan.Model,
		Type:           resp.Type.String(),
		Images:         resp.Images(),
		Video:          resp.VideoURL(),
		EnhancedPrompt: resp.EnhancedPrompt(),
		ModelName:      resp.ModelName(),
		Cost:           resp.CurrentCost(),
		SessionTotal:   out.SessionTotal,
		DurationMs:     out.Duration.Milliseconds(),
	})
}

// GET /api/cost
func (s *Server) GetCost(c echo.Context) error {
	ctx := c.Request().Context()
	resp := CostResponse{
		SessionTotal: s.orch.Costs().Total(),
		Generations:  s.orch.Costs().Count(),
	}

	if s.session != nil {
		sess, err := s.session.SessionCost(ctx)
		if err != nil {
			return fmt.Errorf("failed to read session cost: %w", err)
		}
		all, err := s.session.TotalCost(ctx)
		if err != nil {
			return fmt.Errorf("failed to read cost ledger: %w", err)
		}
		resp.Session = sess
		resp.AllTime = all
	}
	return c.JSON(http.StatusOK, resp)
}

// GET /healthz
func (s *Server) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"status":     "ok",
		"configured": s.orch.Configured(),
		"busy":       s.orch.Busy(),
	})
}

func boolParam(c echo.Context, name string, def bool) (bool, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, apiError(http.StatusBadRequest, "validation_error", fmt.Sprintf("%s must be true or false", name), "")
	}
	return v, nil
}
