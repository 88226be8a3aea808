package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fcinq/genchat/internal/logger"
	"github.com/fcinq/genchat/internal/orchestrator"
	"github.com/fcinq/genchat/internal/provider"
	"github.com/fcinq/genchat/internal/session"
	"github.com/fcinq/genchat/pkg/models"
)

var pngBytes = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x02")

type testServer struct {
	srv      *Server
	orch     *orchestrator.Orchestrator
	requests chan *models.GenerationRequest
}

func newTestServer(t *testing.T, dispatch provider.DispatcherFunc) *testServer {
	t.Helper()
	log := logger.Discard()
	sess := session.NewManager(session.NewMemoryStore(), log)
	requests := make(chan *models.GenerationRequest, 8)

	var dispatcher provider.Dispatcher
	if dispatch != nil {
		dispatcher = provider.DispatcherFunc(func(ctx context.Context, req *models.GenerationRequest) (*models.GenerationResponse, error) {
			requests <- req
			return dispatch(ctx, req)
		})
	}

	orch := orchestrator.New(orchestrator.Options{
		Session:    sess,
		Dispatcher: dispatcher,
		Ledger:     sess,
		Log:        log,
	})
	return &testServer{
		srv:      New(Options{Orchestrator: orch, Session: sess, Log: log}),
		orch:     orch,
		requests: requests,
	}
}

func (ts *testServer) do(t *testing.T, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		req = httptest.NewRequest(method, target, bytes.NewReader(data))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	ts.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func imageResult(_ context.Context, req *models.GenerationRequest) (*models.GenerationResponse, error) {
	return &models.GenerationResponse{
		Phase: models.PhaseComplete,
		Type:  req.GenerationType,
		Content: &models.Content{Images: []models.ResultImage{
			{ID: "g1", URL: "https://cdn.example/1.png"},
			{ID: "g2", URL: "https://cdn.example/2.png"},
		}},
		Cost:     &models.Cost{Current: 0.156},
		Metadata: &models.Metadata{EnhancedPrompt: "studio shot", ModelName: "Nano Banana"},
	}, nil
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, imageResult)
	rec := ts.do(t, http.MethodGet, "/healthz", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[map[string]any](t, rec)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, true, body["configured"])
	assert.Equal(t, false, body["busy"])
}

func TestGetSession(t *testing.T) {
	ts := newTestServer(t, imageResult)

	first := decode[map[string]string](t, ts.do(t, http.MethodGet, "/api/session", nil))
	second := decode[map[string]string](t, ts.do(t, http.MethodGet, "/api/session", nil))

	assert.Regexp(t, `^session-\d+-[0-9a-f]{8}$`, first["sessionId"])
	assert.Equal(t, first["sessionId"], second["sessionId"])
}

func TestListModels(t *testing.T) {
	ts := newTestServer(t, imageResult)

	tests := []struct {
		query       string
		wantPath    string
		wantDefault string
	}{
		{"", "t2i", "nano-banana"},
		{"?context=true", "i2i", "nano-banana-edit"},
		{"?video=true", "t2v", "kling"},
		{"?video=true&context=true", "i2v", "kling"},
	}
	for _, tt := range tests {
		t.Run(tt.wantPath, func(t *testing.T) {
			rec := ts.do(t, http.MethodGet, "/api/models"+tt.query, nil)
			require.Equal(t, http.StatusOK, rec.Code)

			body := decode[ModelsResponse](t, rec)
			assert.Equal(t, tt.wantPath, body.Path)
			assert.Equal(t, tt.wantDefault, body.Default)
			assert.NotEmpty(t, body.Models)
		})
	}

	body := decode[ModelsResponse](t, ts.do(t, http.MethodGet, "/api/models", nil))
	assert.InDelta(t, 0.156, body.Models[0].Estimate, 1e-9)

	rec := ts.do(t, http.MethodGet, "/api/models?video=maybe", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListModels_FollowsContext(t *testing.T) {
	ts := newTestServer(t, imageResult)
	ts.orch.SelectResult(models.ResultImage{ID: "x", URL: "https://cdn.example/x.png"})

	body := decode[ModelsResponse](t, ts.do(t, http.MethodGet, "/api/models", nil))
	assert.Equal(t, "i2i", body.Path)
}

func TestGenerate_Success(t *testing.T) {
	ts := newTestServer(t, imageResult)

	rec := ts.do(t, http.MethodPost, "/api/generate", GenerateRequest{Prompt: "red handbag"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	body := decode[GenerateResponse](t, rec)
	assert.Equal(t, "succeeded", body.State)
	assert.Equal(t, "t2i", body.Path)
	assert.Equal(t, "nano-banana", body.Model)
	assert.Equal(t, "image", body.Type)
	assert.Len(t, body.Images, 2)
	assert.Equal(t, "studio shot", body.EnhancedPrompt)
	assert.InDelta(t, 0.156, body.Cost, 1e-9)
	assert.InDelta(t, 0.156, body.SessionTotal, 1e-9)

	req := <-ts.requests
	assert.Equal(t, models.NumImagesImage, req.NumImages)
	assert.Equal(t, models.TypeImage, req.GenerationType)
}

func TestGenerate_WithSelectedContext(t *testing.T) {
	ts := newTestServer(t, imageResult)

	rec := ts.do(t, http.MethodPost, "/api/context/select", SelectRequest{ID: "g1", URL: "https://cdn.example/1.png"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decode[map[string]any](t, rec)["added"])

	rec = ts.do(t, http.MethodPost, "/api/generate", GenerateRequest{Prompt: "make it blue", Model: "seedream4-edit"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decode[GenerateResponse](t, rec)
	assert.Equal(t, "i2i", body.Path)
	assert.Equal(t, "seedream4-edit", body.Model)

	req := <-ts.requests
	assert.Zero(t, req.NumImages)
	require.Len(t, req.ImageContext, 1)
	assert.Equal(t, models.SourceGenerated, req.ImageContext[0].Source)

	assert.True(t, ts.orch.Context().IsEmpty(), "context should clear after success")
}

func TestGenerate_Errors(t *testing.T) {
	tests := []struct {
		name     string
		dispatch provider.DispatcherFunc
		body     GenerateRequest
		wantCode int
		wantKind string
	}{
		{
			name:     "empty prompt",
			dispatch: imageResult,
			body:     GenerateRequest{Prompt: "   "},
			wantCode: http.StatusBadRequest,
			wantKind: "validation_error",
		},
		{
			name:     "unconfigured",
			dispatch: nil,
			body:     GenerateRequest{Prompt: "x"},
			wantCode: http.StatusServiceUnavailable,
			wantKind: "configuration_error",
		},
		{
			name: "upstream 500",
			dispatch: func(context.Context, *models.GenerationRequest) (*models.GenerationResponse, error) {
				return nil, &provider.HTTPStatusError{StatusCode: 500, Body: "boom"}
			},
			body:     GenerateRequest{Prompt: "x"},
			wantCode: http.StatusBadGateway,
			wantKind: "network_error",
		},
		{
			name: "no images returned",
			dispatch: func(_ context.Context, req *models.GenerationRequest) (*models.GenerationResponse, error) {
				return &models.GenerationResponse{Phase: models.PhaseComplete, Type: req.GenerationType, Content: &models.Content{}}, nil
			},
			body:     GenerateRequest{Prompt: "x"},
			wantCode: http.StatusBadGateway,
			wantKind: "protocol_error",
		},
		{
			name: "deadline",
			dispatch: func(context.Context, *models.GenerationRequest) (*models.GenerationResponse, error) {
				return nil, fmt.Errorf("%w: %w", provider.ErrTransport, context.DeadlineExceeded)
			},
			body:     GenerateRequest{Prompt: "x", IsVideoMode: true, Model: "veo3"},
			wantCode: http.StatusGatewayTimeout,
			wantKind: "timeout",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t, tt.dispatch)
			rec := ts.do(t, http.MethodPost, "/api/generate", tt.body)

			require.Equal(t, tt.wantCode, rec.Code, rec.Body.String())
			body := decode[ErrorBody](t, rec)
			assert.Equal(t, tt.wantKind, body.Code)
			assert.NotEmpty(t, body.Message)
			assert.NotEmpty(t, body.Hint)
			assert.Equal(t, orchestrator.StateIdle, ts.orch.State())
		})
	}
}

func TestGenerate_InFlight(t *testing.T) {
	release := make(chan struct{})
	ts := newTestServer(t, func(ctx context.Context, req *models.GenerationRequest) (*models.GenerationResponse, error) {
		<-release
		return imageResult(ctx, req)
	})

	done := make(chan int, 1)
	go func() {
		done <- ts.do(t, http.MethodPost, "/api/generate", GenerateRequest{Prompt: "first"}).Code
	}()
	<-ts.requests

	rec := ts.do(t, http.MethodPost, "/api/generate", GenerateRequest{Prompt: "second"})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "in_flight", decode[ErrorBody](t, rec).Code)

	close(release)
	assert.Equal(t, http.StatusOK, <-done)
}

func TestContext_RejectedWhileInFlight(t *testing.T) {
	release := make(chan struct{})
	ts := newTestServer(t, func(ctx context.Context, req *models.GenerationRequest) (*models.GenerationResponse, error) {
		<-release
		return imageResult(ctx, req)
	})
	h := ts.srv.Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, uploadRequest(t, "bottle.png", pngBytes))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	uploaded := decode[models.ContextImage](t, rec)

	done := make(chan int, 1)
	go func() {
		done <- ts.do(t, http.MethodPost, "/api/generate", GenerateRequest{Prompt: "on a beach"}).Code
	}()
	sent := <-ts.requests
	require.Len(t, sent.ImageContext, 1)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, uploadRequest(t, "late.png", pngBytes))
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "in_flight", decode[ErrorBody](t, rec).Code)

	for _, call := range []struct {
		method, target string
		body           any
	}{
		{http.MethodPost, "/api/context/select", SelectRequest{URL: "https://cdn.example/late.png"}},
		{http.MethodDelete, "/api/context/" + uploaded.ID, nil},
		{http.MethodDelete, "/api/context", nil},
	} {
		rec := ts.do(t, call.method, call.target, call.body)
		assert.Equal(t, http.StatusConflict, rec.Code, "%s %s", call.method, call.target)
	}

	list := decode[map[string][]models.ContextImage](t, ts.do(t, http.MethodGet, "/api/context", nil))
	assert.Len(t, list["images"], 1, "reads stay available during a generation")

	close(release)
	require.Equal(t, http.StatusOK, <-done)
	assert.True(t, ts.orch.Context().IsEmpty())

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, uploadRequest(t, "next.png", pngBytes))
	assert.Equal(t, http.StatusCreated, rec.Code)
}

func TestGenerate_BadBody(t *testing.T) {
	ts := newTestServer(t, imageResult)
	req := httptest.NewRequest(http.MethodPost, "/api/generate", strings.NewReader("{"))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	ts.srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func uploadRequest(t *testing.T, filename string, data []byte) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/context", &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

func TestContextLifecycle(t *testing.T) {
	ts := newTestServer(t, imageResult)
	h := ts.srv.Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, uploadRequest(t, "bottle.png", pngBytes))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	uploaded := decode[models.ContextImage](t, rec)
	assert.Equal(t, "bottle.png", uploaded.Filename)
	assert.Equal(t, models.SourceUpload, uploaded.Source)
	assert.True(t, strings.HasPrefix(uploaded.URL, "data:image/png;base64,"))

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, uploadRequest(t, "notes.txt", []byte("plain text")))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	ts.do(t, http.MethodPost, "/api/context/select", SelectRequest{URL: "https://cdn.example/2.png"})

	list := decode[map[string][]models.ContextImage](t, ts.do(t, http.MethodGet, "/api/context", nil))
	require.Len(t, list["images"], 2)
	assert.Equal(t, "https://cdn.example/2.png", list["images"][1].ID)

	rec = ts.do(t, http.MethodDelete, "/api/context/"+uploaded.ID, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = ts.do(t, http.MethodDelete, "/api/context/"+uploaded.ID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, 1, ts.orch.Context().Len())

	rec = ts.do(t, http.MethodDelete, "/api/context", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.True(t, ts.orch.Context().IsEmpty())
}

func TestSelectContext_RequiresURL(t *testing.T) {
	ts := newTestServer(t, imageResult)
	rec := ts.do(t, http.MethodPost, "/api/context/select", SelectRequest{ID: "only-id"})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.True(t, ts.orch.Context().IsEmpty())
}

func TestUploadContext_MissingFile(t *testing.T) {
	ts := newTestServer(t, imageResult)
	rec := ts.do(t, http.MethodPost, "/api/context", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetCost(t *testing.T) {
	ts := newTestServer(t, imageResult)

	before := decode[CostResponse](t, ts.do(t, http.MethodGet, "/api/cost", nil))
	assert.Zero(t, before.SessionTotal)
	assert.Zero(t, before.Generations)

	for i := 0; i < 2; i++ {
		rec := ts.do(t, http.MethodPost, "/api/generate", GenerateRequest{Prompt: "shoes"})
		require.Equal(t, http.StatusOK, rec.Code)
	}

	after := decode[CostResponse](t, ts.do(t, http.MethodGet, "/api/cost", nil))
	assert.InDelta(t, 0.312, after.SessionTotal, 1e-9)
	assert.Equal(t, 2, after.Generations)
	require.NotNil(t, after.Session)
	assert.Equal(t, 2, after.Session.EntryCount)
	assert.Equal(t, 4, after.Session.ImageCount)
	require.NotNil(t, after.AllTime)
	assert.InDelta(t, 0.312, after.AllTime.TotalCost, 1e-9)
}

func TestStatusFor(t *testing.T) {
	tests := map[orchestrator.Kind]int{
		orchestrator.KindValidation:    http.StatusBadRequest,
		orchestrator.KindProtocol:      http.StatusBadGateway,
		orchestrator.KindNetwork:       http.StatusBadGateway,
		orchestrator.KindTimeout:       http.StatusGatewayTimeout,
		orchestrator.KindConfiguration: http.StatusServiceUnavailable,
		orchestrator.KindAborted:       statusClientClosed,
	}
	for kind, want := range tests {
		assert.Equal(t, want, statusFor(kind), kind.String())
	}
}

func TestListenAndServe_StopsOnCancel(t *testing.T) {
	ts := newTestServer(t, imageResult)
	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)
	go func() {
		errCh <- ts.srv.ListenAndServe(ctx, "127.0.0.1:0")
	}()
	cancel()

	assert.NoError(t, <-errCh)
}
