// Package health provides health check and readiness probe HTTP handlers.
package health

import (
	"encoding/json"
	"net/http"
	"sync/atomic"

	"github.com/dskow/inference-gateway/internal/circuitbreaker"
)

// Pre-serialized liveness response avoids json.Encoder allocation.
var livenessBody = []byte(`{"status":"ok"}` + "\n")

// Handler provides /health and /ready endpoints. Liveness is unconditional.
// Readiness reflects the serving state only: an open circuit breaker does
// not fail the probe because the gateway still answers every request with
// the fallback responder. The breaker state is reported for operators.
type Handler struct {
	breaker *circuitbreaker.Breaker
	ready   atomic.Bool
}

// New creates a new health check Handler. The handler starts not-ready;
// call SetReady(true) once the server is listening.
func New(breaker *circuitbreaker.Breaker) *Handler {
	return &Handler{breaker: breaker}
}

// SetReady flips the readiness state. Used during startup and again during
// graceful shutdown so load balancers drain the instance.
func (h *Handler) SetReady(ready bool) {
	h.ready.Store(ready)
}

// RegisterRoutes adds health check routes to the given mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", h.liveness)
	mux.HandleFunc("/ready", h.readiness)
}

func (h *Handler) liveness(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(livenessBody)
}

func (h *Handler) readiness(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	statusStr := "ready"
	if !h.ready.Load() {
		status = http.StatusServiceUnavailable
		statusStr = "not ready"
	}

	body, _ := json.Marshal(map[string]interface{}{
		"status":           statusStr,
		"upstream_breaker": h.breaker.State().String(),
	})
	body = append(body, '\n')

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(body)
}
