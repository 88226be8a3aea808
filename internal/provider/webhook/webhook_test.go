package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/fcinq/genchat/internal/provider"
	"github.com/fcinq/genchat/pkg/models"
)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func newTestClient(t *testing.T, url string) *Client {
	t.Helper()
	c, err := New(&provider.Config{Endpoint: url}, quietLogger())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return c
}

func TestNew(t *testing.T) {
	tests := []struct {
		name     string
		endpoint string
		wantErr  error
	}{
		{"valid", "https://example.com/webhook/x", nil},
		{"empty", "", provider.ErrEndpointRequired},
		{"placeholder", provider.PlaceholderEndpoint, provider.ErrEndpointRequired},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := New(&provider.Config{Endpoint: tt.endpoint}, nil)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("New() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("New() error = %v", err)
			}
			if c.Endpoint() != tt.endpoint {
				t.Errorf("Endpoint() = %q, want %q", c.Endpoint(), tt.endpoint)
			}
			if c.httpClient.Timeout != 0 {
				t.Errorf("http client timeout = %v, the request context must own the deadline", c.httpClient.Timeout)
			}
		})
	}
}

func TestClient_Dispatch_ImageFields(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("Method = %s, want POST", r.Method)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("ParseMultipartForm() error = %v", err)
		}

		want := map[string]string{
			"prompt":         "red sneakers on marble",
			"sessionId":      "session-1-abcdef01",
			"generationType": "image",
			"selectedModel":  "nano-banana",
			"numImages":      "4",
		}
		for k, v := range want {
			if got := r.FormValue(k); got != v {
				t.Errorf("field %s = %q, want %q", k, got, v)
			}
		}
		if _, ok := r.MultipartForm.Value["imageContext"]; ok {
			t.Error("imageContext sent with an empty context")
		}

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"phase": "complete",
			"type": "image",
			"content": {"images": [{"id": "g1", "url": "https://cdn/1.jpg"}, {"url": "https://cdn/2.jpg"}]},
			"cost": {"current": 0.156, "session": 1.2},
			"metadata": {"enhancedPrompt": "studio shot", "modelName": "Nano Banana"}
		}`))
	}))
	defer server.Close()

	c := newTestClient(t, server.URL)
	resp, err := c.Dispatch(context.Background(), &models.GenerationRequest{
		Prompt:         "red sneakers on marble",
		SessionID:      "session-1-abcdef01",
		GenerationType: models.TypeImage,
		SelectedModel:  "nano-banana",
		NumImages:      models.NumImagesImage,
	})
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}

	if err := resp.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
	if len(resp.Images()) != 2 || resp.Images()[0].ID != "g1" {
		t.Errorf("Images() = %+v", resp.Images())
	}
	if resp.CurrentCost() != 0.156 {
		t.Errorf("CurrentCost() = %v", resp.CurrentCost())
	}
	if resp.Cost.Session == nil || *resp.Cost.Session != 1.2 {
		t.Errorf("Cost.Session = %v", resp.Cost.Session)
	}
	if resp.EnhancedPrompt() != "studio shot" || resp.ModelName() != "Nano Banana" {
		t.Errorf("metadata = %+v", resp.Metadata)
	}
}

func TestClient_Dispatch_VideoWithContext(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("ParseMultipartForm() error = %v", err)
		}
		if _, ok := r.MultipartForm.Value["numImages"]; ok {
			t.Error("numImages sent for a video request")
		}
		if got := r.FormValue("generationType"); got != "video" {
			t.Errorf("generationType = %q, want video", got)
		}

		var refs []models.ContextRef
		if err := json.Unmarshal([]byte(r.FormValue("imageContext")), &refs); err != nil {
			t.Fatalf("imageContext is not JSON: %v", err)
		}
		if len(refs) != 2 || refs[0].ID != "u1" || refs[1].Source != models.SourceGenerated {
			t.Errorf("imageContext = %+v", refs)
		}

		w.Write([]byte(`{"phase":"complete","type":"video","content":{"video":{"url":"https://cdn/v.mp4"}},"cost":{"current":3.2}}`))
	}))
	defer server.Close()

	c := newTestClient(t, server.URL)
	resp, err := c.Dispatch(context.Background(), &models.GenerationRequest{
		Prompt:         "slow pan",
		SessionID:      "s",
		GenerationType: models.TypeVideo,
		SelectedModel:  "veo3",
		ImageContext: []models.ContextRef{
			{ID: "u1", URL: "data:image/png;base64,AAAA", Source: models.SourceUpload},
			{ID: "g2", URL: "https://cdn/2.jpg", Source: models.SourceGenerated},
		},
	})
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if resp.VideoURL() != "https://cdn/v.mp4" {
		t.Errorf("VideoURL() = %q", resp.VideoURL())
	}
}

func TestClient_Dispatch_Errors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr error
	}{
		{"server error", http.StatusInternalServerError, "workflow crashed", provider.ErrHTTPStatus},
		{"not found", http.StatusNotFound, "", provider.ErrHTTPStatus},
		{"not json", http.StatusOK, "<html>ok</html>", provider.ErrDecode},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer server.Close()

			c := newTestClient(t, server.URL)
			_, err := c.Dispatch(context.Background(), &models.GenerationRequest{Prompt: "x", GenerationType: models.TypeImage})
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Dispatch() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestClient_Dispatch_StatusCarriesCode(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "busy", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	c := newTestClient(t, server.URL)
	_, err := c.Dispatch(context.Background(), &models.GenerationRequest{Prompt: "x", GenerationType: models.TypeImage})

	var statusErr *provider.HTTPStatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("Dispatch() error = %v, want *HTTPStatusError", err)
	}
	if statusErr.StatusCode != http.StatusServiceUnavailable || statusErr.Body != "busy" {
		t.Errorf("HTTPStatusError = %+v", statusErr)
	}
}

func TestClient_Dispatch_DeadlineExceeded(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	c := newTestClient(t, server.URL)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := c.Dispatch(ctx, &models.GenerationRequest{Prompt: "x", GenerationType: models.TypeImage})
	if !errors.Is(err, provider.ErrTransport) {
		t.Errorf("Dispatch() error = %v, want ErrTransport", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Dispatch() error = %v, want context.DeadlineExceeded in chain", err)
	}
}

func TestClient_Dispatch_Unreachable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := server.URL
	server.Close()

	c := newTestClient(t, url)
	_, err := c.Dispatch(context.Background(), &models.GenerationRequest{Prompt: "x", GenerationType: models.TypeImage})
	if !errors.Is(err, provider.ErrTransport) {
		t.Errorf("Dispatch() error = %v, want ErrTransport", err)
	}
}

func TestTruncateDataURI(t *testing.T) {
	long := "data:image/png;base64," + strings.Repeat("A", 500)
	got := TruncateDataURI(long)
	if len(got) >= len(long) || !strings.HasSuffix(got, "[522 bytes]") {
		t.Errorf("TruncateDataURI() = %q", got)
	}

	short := "https://cdn/a.jpg"
	if TruncateDataURI(short) != short {
		t.Error("TruncateDataURI() changed a plain url")
	}
}
