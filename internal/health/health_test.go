package health

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dskow/inference-gateway/internal/circuitbreaker"
)

func newTestHandler() (*Handler, *circuitbreaker.Breaker) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	b := circuitbreaker.New(circuitbreaker.Config{
		Window:           30 * time.Second,
		FailureThreshold: 0.5,
		MinCalls:         2,
		HalfOpenAfter:    15 * time.Second,
	}, logger)
	return New(b), b
}

func get(h *Handler, path string) *httptest.ResponseRecorder {
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestLiveness_AlwaysReturns200(t *testing.T) {
	h, _ := newTestHandler()

	rec := get(h, "/health")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("expected application/json, got %q", ct)
	}
}

func TestReadiness_NotReadyBeforeStartup(t *testing.T) {
	h, _ := newTestHandler()

	rec := get(h, "/ready")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 before SetReady, got %d", rec.Code)
	}
}

func TestReadiness_ReadyAfterStartup(t *testing.T) {
	h, _ := newTestHandler()
	h.SetReady(true)

	rec := get(h, "/ready")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if body["status"] != "ready" {
		t.Errorf("expected ready, got %q", body["status"])
	}
	if body["upstream_breaker"] != "closed" {
		t.Errorf("expected closed breaker, got %q", body["upstream_breaker"])
	}
}

func TestReadiness_StaysReadyWithOpenBreaker(t *testing.T) {
	h, b := newTestHandler()
	h.SetReady(true)

	b.RecordFailure()
	b.RecordFailure()
	if b.State() != circuitbreaker.StateOpen {
		t.Fatalf("expected open breaker, got %v", b.State())
	}

	rec := get(h, "/ready")
	if rec.Code != http.StatusOK {
		t.Fatalf("open breaker must not fail readiness (fallback still serves), got %d", rec.Code)
	}

	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if body["upstream_breaker"] != "open" {
		t.Errorf("expected breaker state reported as open, got %q", body["upstream_breaker"])
	}
}

func TestReadiness_NotReadyDuringShutdown(t *testing.T) {
	h, _ := newTestHandler()
	h.SetReady(true)
	h.SetReady(false)

	rec := get(h, "/ready")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 after drain, got %d", rec.Code)
	}
}
