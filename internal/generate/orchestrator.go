// Package generate contains the request-level orchestrator that ties the
// cache, retrying caller, fallback responder, and metrics recorder together,
// plus the HTTP handlers for the generation and metrics endpoints.
package generate

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"time"

	"github.com/dskow/inference-gateway/internal/cache"
	"github.com/dskow/inference-gateway/internal/metrics"
	"github.com/dskow/inference-gateway/internal/provider"
	"github.com/dskow/inference-gateway/internal/upstream"
)

// Meta describes how a response was produced. Source is always set; the
// remaining fields are populated per outcome. Cached carries the original
// decision's metadata on cache hits.
type Meta struct {
	Source       string `json:"source"`
	Attempts     int    `json:"attempts,omitempty"`
	ElapsedMS    *int64 `json:"elapsed_ms,omitempty"`
	BreakerState string `json:"breaker_state,omitempty"`
	PrimaryError string `json:"primary_error,omitempty"`
	Cached       *Meta  `json:"cached,omitempty"`
}

// Response is the caller-facing generation result. A response is always
// produced: upstream trouble degrades the text, never the availability.
type Response struct {
	Text string `json:"text"`
	Meta Meta   `json:"meta"`
}

// Request is the orchestrator input.
type Request struct {
	Prompt         string
	IdempotencyKey string
	// LatencyBudget overrides the configured budget when positive.
	LatencyBudget time.Duration
}

// Orchestrator runs the per-request state machine: derive cache key, check
// cache, call upstream, enforce the latency budget, fall back when needed,
// cache the result, record metrics. Every terminal branch writes exactly one
// cache entry and one metric sample; cache hits skip the cache write.
type Orchestrator struct {
	caller        *upstream.Caller
	cache         *cache.Cache
	recorder      *metrics.Recorder
	logger        *slog.Logger
	latencyBudget time.Duration
}

// New creates an Orchestrator. latencyBudget is the default budget used when
// a request does not carry its own.
func New(caller *upstream.Caller, c *cache.Cache, recorder *metrics.Recorder, latencyBudget time.Duration, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		caller:        caller,
		cache:         c,
		recorder:      recorder,
		logger:        logger,
		latencyBudget: latencyBudget,
	}
}

// CacheKey derives the dedup key: an explicit idempotency key wins over the
// prompt hash, so retried client submissions hit the same entry regardless
// of prompt content.
func CacheKey(prompt, idempotencyKey string) string {
	if idempotencyKey != "" {
		return "idemp:" + idempotencyKey
	}
	sum := sha256.Sum256([]byte(prompt))
	return "prompt:" + hex.EncodeToString(sum[:])
}

// Generate produces a response for one request. It never returns an error:
// upstream failures and budget violations are absorbed into fallback
// responses with explanatory metadata.
func (o *Orchestrator) Generate(ctx context.Context, req Request) Response {
	key := CacheKey(req.Prompt, req.IdempotencyKey)

	if v, ok := o.cache.Get(key); ok {
		cached := v.(Response)
		// Propagate the original call's latency and breaker state into the
		// metric sample when available, for observability of replayed work.
		sample := metrics.Sample{Outcome: metrics.OutcomeCacheHit}
		if orig := originalMeta(cached.Meta); orig != nil {
			if orig.ElapsedMS != nil {
				sample.ElapsedMS = *orig.ElapsedMS
				sample.HasElapsed = true
			}
			sample.BreakerState = orig.BreakerState
		}
		o.recorder.Record(sample)
		return Response{
			Text: cached.Text,
			Meta: Meta{Source: string(metrics.OutcomeCacheHit), Cached: &cached.Meta},
		}
	}

	payload := provider.Payload{Prompt: req.Prompt}
	res := o.caller.Call(ctx, payload)
	elapsed := res.ElapsedMS

	if !res.OK {
		fb := provider.Fallback(payload)
		resp := Response{
			Text: fb.Text,
			Meta: Meta{
				Source:       string(metrics.OutcomeFallbackError),
				Attempts:     res.Attempts,
				ElapsedMS:    &elapsed,
				BreakerState: res.BreakerState.String(),
				PrimaryError: res.Err.Error(),
			},
		}
		o.finish(key, resp, metrics.OutcomeFallbackError, res)
		return resp
	}

	budget := req.LatencyBudget
	if budget <= 0 {
		budget = o.latencyBudget
	}
	if res.ElapsedMS > budget.Milliseconds() {
		// The slow-but-correct answer is deliberately discarded: latency
		// predictability over completeness.
		o.logger.Info("latency budget exceeded, using fallback",
			"elapsed_ms", res.ElapsedMS,
			"budget_ms", budget.Milliseconds(),
		)
		fb := provider.Fallback(payload)
		resp := Response{
			Text: fb.Text,
			Meta: Meta{
				Source:       string(metrics.OutcomeFallbackLatencyBudget),
				Attempts:     res.Attempts,
				ElapsedMS:    &elapsed,
				BreakerState: res.BreakerState.String(),
			},
		}
		o.finish(key, resp, metrics.OutcomeFallbackLatencyBudget, res)
		return resp
	}

	resp := Response{
		Text: res.Result.Text,
		Meta: Meta{
			Source:       string(metrics.OutcomePrimary),
			Attempts:     res.Attempts,
			ElapsedMS:    &elapsed,
			BreakerState: res.BreakerState.String(),
		},
	}
	o.finish(key, resp, metrics.OutcomePrimary, res)
	return resp
}

// finish performs the shared terminal work: one cache write, one metric.
func (o *Orchestrator) finish(key string, resp Response, outcome metrics.Outcome, res upstream.AttemptResult) {
	o.cache.Set(key, resp)
	o.recorder.Record(metrics.Sample{
		Outcome:      outcome,
		ElapsedMS:    res.ElapsedMS,
		HasElapsed:   true,
		BreakerState: res.BreakerState.String(),
		Attempts:     res.Attempts,
	})
}

// originalMeta digs the meta of the call that actually hit upstream out of a
// cached response, unwrapping nested cache-hit metadata.
func originalMeta(m Meta) *Meta {
	cur := &m
	for cur.Cached != nil {
		cur = cur.Cached
	}
	if cur.ElapsedMS == nil && cur.BreakerState == "" {
		return nil
	}
	return cur
}
