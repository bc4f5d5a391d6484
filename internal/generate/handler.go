package generate

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"
	"unicode/utf8"

	"github.com/dskow/inference-gateway/internal/apierror"
	"github.com/dskow/inference-gateway/internal/metrics"
)

// generateRequest is the JSON body of POST /v1/generate.
type generateRequest struct {
	Prompt string `json:"prompt"`
	// LatencyBudgetMS optionally overrides the configured latency budget.
	LatencyBudgetMS int64 `json:"latency_budget_ms,omitempty"`
}

// Handler serves the generation and inference-metrics endpoints.
type Handler struct {
	orch           *Orchestrator
	recorder       *metrics.Recorder
	maxPromptChars int
	logger         *slog.Logger
}

// NewHandler creates a Handler. maxPromptChars caps accepted prompt length
// in runes; zero disables the cap.
func NewHandler(orch *Orchestrator, recorder *metrics.Recorder, maxPromptChars int, logger *slog.Logger) *Handler {
	return &Handler{
		orch:           orch,
		recorder:       recorder,
		maxPromptChars: maxPromptChars,
		logger:         logger,
	}
}

// RegisterRoutes adds the API routes to the given mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/v1/generate", h.generate)
	mux.HandleFunc("/v1/inference-metrics", h.inferenceMetrics)
}

func (h *Handler) generate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		apierror.WriteJSON(w, r, http.StatusMethodNotAllowed, apierror.MethodNotAllowed, "use POST")
		return
	}

	var req generateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierror.WriteJSON(w, r, http.StatusBadRequest, apierror.InvalidRequest, "malformed JSON body")
		return
	}
	if req.Prompt == "" {
		apierror.WriteJSON(w, r, http.StatusBadRequest, apierror.InvalidRequest, "prompt is required")
		return
	}
	if h.maxPromptChars > 0 && utf8.RuneCountInString(req.Prompt) > h.maxPromptChars {
		apierror.WriteJSON(w, r, http.StatusBadRequest, apierror.PromptTooLong, "prompt exceeds maximum length")
		return
	}
	if req.LatencyBudgetMS < 0 {
		apierror.WriteJSON(w, r, http.StatusBadRequest, apierror.InvalidRequest, "latency_budget_ms must be non-negative")
		return
	}

	resp := h.orch.Generate(r.Context(), Request{
		Prompt:         req.Prompt,
		IdempotencyKey: r.Header.Get("Idempotency-Key"),
		LatencyBudget:  time.Duration(req.LatencyBudgetMS) * time.Millisecond,
	})

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		h.logger.Error("encoding generate response", "error", err)
	}
}

func (h *Handler) inferenceMetrics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		apierror.WriteJSON(w, r, http.StatusMethodNotAllowed, apierror.MethodNotAllowed, "use GET")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(h.recorder.Snapshot()); err != nil {
		h.logger.Error("encoding metrics snapshot", "error", err)
	}
}
