package metrics

import (
	"math"
	"sort"
	"sync"
	"time"
)

// Outcome classifies how a generation request terminated.
type Outcome string

const (
	OutcomePrimary               Outcome = "primary"
	OutcomeFallbackError         Outcome = "fallback_error"
	OutcomeFallbackLatencyBudget Outcome = "fallback_latency_budget"
	OutcomeCacheHit              Outcome = "cache_hit"
)

// knownOutcomes are the outcomes that get a dedicated latency reservoir.
var knownOutcomes = []Outcome{
	OutcomePrimary,
	OutcomeFallbackError,
	OutcomeFallbackLatencyBudget,
	OutcomeCacheHit,
}

// DefaultMaxSamples bounds each latency reservoir; the oldest sample is
// dropped once the bound is reached.
const DefaultMaxSamples = 1000

// Sample is one completed request observation. ElapsedMS is only recorded
// when HasElapsed is set (cache hits may not carry a latency). A zero
// Attempts or empty BreakerState is simply not tallied.
type Sample struct {
	Outcome      Outcome
	ElapsedMS    int64
	HasElapsed   bool
	BreakerState string
	Attempts     int
}

// reservoir is a fixed-capacity ring buffer of latency samples.
// Oldest samples are overwritten once full.
type reservoir struct {
	buf   []int64
	head  int
	count int
}

func newReservoir(capacity int) *reservoir {
	return &reservoir{buf: make([]int64, capacity)}
}

func (r *reservoir) add(v int64) {
	r.buf[r.head] = v
	r.head = (r.head + 1) % len(r.buf)
	if r.count < len(r.buf) {
		r.count++
	}
}

// values returns the current samples in arbitrary order (ordering is
// irrelevant for percentile computation, which sorts a copy).
func (r *reservoir) values() []int64 {
	out := make([]int64, r.count)
	copy(out, r.buf[:r.count])
	return out
}

// Recorder accumulates per-outcome counters, breaker-state tallies, attempt
// histograms, and bounded latency reservoirs. All methods are safe for
// concurrent use.
type Recorder struct {
	mu sync.Mutex

	counters      map[string]int64
	breakerStates map[string]int64
	attempts      map[int]int64
	overall       *reservoir
	byOutcome     map[Outcome]*reservoir

	startedAt time.Time
	now       func() time.Time
}

// NewRecorder creates a Recorder with reservoirs bounded at maxSamples
// (DefaultMaxSamples if maxSamples <= 0).
func NewRecorder(maxSamples int) *Recorder {
	if maxSamples <= 0 {
		maxSamples = DefaultMaxSamples
	}
	byOutcome := make(map[Outcome]*reservoir, len(knownOutcomes))
	for _, o := range knownOutcomes {
		byOutcome[o] = newReservoir(maxSamples)
	}
	r := &Recorder{
		counters:      make(map[string]int64),
		breakerStates: make(map[string]int64),
		attempts:      make(map[int]int64),
		overall:       newReservoir(maxSamples),
		byOutcome:     byOutcome,
		now:           time.Now,
	}
	r.startedAt = r.now()
	return r
}

// Record tallies one completed request and mirrors it to the Prometheus
// collectors. Exactly one Record call happens per orchestrated request.
func (r *Recorder) Record(s Sample) {
	r.mu.Lock()
	r.counters[string(s.Outcome)]++
	if s.BreakerState != "" {
		r.breakerStates[s.BreakerState]++
	}
	if s.Attempts > 0 {
		r.attempts[s.Attempts]++
	}
	if s.HasElapsed {
		r.overall.add(s.ElapsedMS)
		if res, ok := r.byOutcome[s.Outcome]; ok {
			res.add(s.ElapsedMS)
		}
	}
	r.mu.Unlock()

	RequestsTotal.WithLabelValues(string(s.Outcome)).Inc()
	if s.HasElapsed {
		RequestDuration.WithLabelValues(string(s.Outcome)).Observe(float64(s.ElapsedMS) / 1000.0)
	}
}

// LatencySummary reports sample count and percentile latencies in
// milliseconds. Percentiles are nil when no samples exist.
type LatencySummary struct {
	Count int    `json:"count"`
	P50   *int64 `json:"p50"`
	P95   *int64 `json:"p95"`
	Max   *int64 `json:"max"`
}

// LatencyReport groups the overall summary with per-outcome summaries.
type LatencyReport struct {
	Overall   LatencySummary            `json:"overall"`
	ByOutcome map[string]LatencySummary `json:"by_outcome"`
}

// Snapshot is a point-in-time, deep copy of all recorded metrics.
type Snapshot struct {
	AsOf          int64            `json:"as_of"`
	UptimeSeconds int64            `json:"uptime_seconds"`
	Counters      map[string]int64 `json:"counters"`
	BreakerStates map[string]int64 `json:"breaker_states"`
	AttemptsHist  map[int]int64    `json:"attempts_hist"`
	Latency       LatencyReport    `json:"latency"`
}

// Snapshot returns a consistent view of the recorder. The returned value is
// independent of subsequent mutation.
func (r *Recorder) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	byOutcome := make(map[string]LatencySummary, len(r.byOutcome))
	for o, res := range r.byOutcome {
		byOutcome[string(o)] = summarize(res.values())
	}

	now := r.now()
	return Snapshot{
		AsOf:          now.Unix(),
		UptimeSeconds: int64(now.Sub(r.startedAt).Seconds()),
		Counters:      copyCounters(r.counters),
		BreakerStates: copyCounters(r.breakerStates),
		AttemptsHist:  copyHist(r.attempts),
		Latency: LatencyReport{
			Overall:   summarize(r.overall.values()),
			ByOutcome: byOutcome,
		},
	}
}

func copyCounters(m map[string]int64) map[string]int64 {
	out := make(map[string]int64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func copyHist(m map[int]int64) map[int]int64 {
	out := make(map[int]int64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// summarize computes count/p50/p95/max for the given samples.
func summarize(samples []int64) LatencySummary {
	if len(samples) == 0 {
		return LatencySummary{Count: 0}
	}
	sorted := make([]int64, len(samples))
	copy(sorted, samples)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	p50 := percentile(sorted, 50)
	p95 := percentile(sorted, 95)
	max := sorted[len(sorted)-1]
	return LatencySummary{Count: len(sorted), P50: &p50, P95: &p95, Max: &max}
}

// percentile indexes into sorted samples at round(p/100 * (N-1)), clamped to
// the valid range. sorted must be non-empty and ascending.
func percentile(sorted []int64, p float64) int64 {
	idx := int(math.Round(p / 100.0 * float64(len(sorted)-1)))
	if idx < 0 {
		idx = 0
	}
	if idx > len(sorted)-1 {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
