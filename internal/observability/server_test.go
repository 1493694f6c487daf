package observability

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"voice-companion-client/internal/observability/metrics"
)

func TestServer_Health(t *testing.T) {
	ready := false
	s := NewServer(":0", func() bool { return ready })

	tests := []struct {
		path   string
		ready  bool
		status int
	}{
		{"/healthz", false, http.StatusOK},
		{"/readyz", false, http.StatusServiceUnavailable},
		{"/readyz", true, http.StatusOK},
		{"/metrics", true, http.StatusOK},
	}
	for _, tt := range tests {
		ready = tt.ready
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))
		if rec.Code != tt.status {
			t.Errorf("GET %s (ready=%v): expected %d, got %d", tt.path, tt.ready, tt.status, rec.Code)
		}
	}
}

func TestServer_MetricsExposeClientNamespace(t *testing.T) {
	metrics.DefaultMetrics.RecordSessionFailed("permission")

	rec := httptest.NewRecorder()
	NewServer(":0", nil).Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if !strings.Contains(rec.Body.String(), "voice_client_sessions_failed_total") {
		t.Error("expected voice_client metrics in /metrics output")
	}
}

func TestRequestLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf).Level(zerolog.DebugLevel)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(RequestLogger(logger, metrics.DefaultMetrics))
	r.Get("/v1/items/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/items/42", nil))

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("expected one JSON log line, got %q: %v", buf.String(), err)
	}
	if entry["route"] != "/v1/items/{id}" {
		t.Errorf("expected route pattern, got %v", entry["route"])
	}
	if entry["status"] != float64(http.StatusTeapot) {
		t.Errorf("expected status 418, got %v", entry["status"])
	}
	if entry["requestId"] == "" {
		t.Error("expected request ID")
	}
}
