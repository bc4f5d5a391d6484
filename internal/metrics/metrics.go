// Package metrics provides observability for the inference gateway. It has
// two halves: Prometheus collectors registered via Init and scraped through
// Handler, and an in-memory Recorder that maintains the JSON snapshot served
// on the inference-metrics endpoint.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// RequestsTotal counts orchestrated generation requests by terminal outcome
	// (primary, fallback_error, fallback_latency_budget, cache_hit).
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inference_requests_total",
			Help: "Total generation requests by outcome",
		},
		[]string{"outcome"},
	)

	// RequestDuration observes upstream call latency in seconds by outcome.
	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "inference_request_duration_seconds",
			Help:    "Upstream call latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"outcome"},
	)

	// UpstreamRetriesTotal counts retry attempts against the upstream provider
	// (attempts beyond the first).
	UpstreamRetriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "inference_upstream_retries_total",
			Help: "Total upstream retry attempts",
		},
	)

	// CircuitBreakerState reports the current breaker state as a numeric gauge
	// (0=closed, 1=open, 2=half_open).
	CircuitBreakerState = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "inference_circuit_breaker_state",
			Help: "Current circuit breaker state (0=closed, 1=open, 2=half_open)",
		},
	)

	// CircuitBreakerTransitions counts breaker state changes by from/to state.
	CircuitBreakerTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inference_circuit_breaker_transitions_total",
			Help: "Total circuit breaker state transitions",
		},
		[]string{"from", "to"},
	)

	// RateLimitHits counts requests rejected by the per-client rate limiter.
	RateLimitHits = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "inference_rate_limit_hits_total",
			Help: "Total rate limit rejections",
		},
	)

	// AuthFailures counts authentication failures by reason.
	AuthFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inference_auth_failures_total",
			Help: "Total authentication failures",
		},
		[]string{"reason"},
	)
)

// Init registers all metric collectors with the default Prometheus registry.
// Must be called once at startup before handling requests.
func Init() {
	prometheus.MustRegister(
		RequestsTotal,
		RequestDuration,
		UpstreamRetriesTotal,
		CircuitBreakerState,
		CircuitBreakerTransitions,
		RateLimitHits,
		AuthFailures,
	)
}

// Handler returns an http.Handler that serves the Prometheus metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
