// Package circuitbreaker provides an in-process circuit breaker that gates
// upstream model calls based on the failure ratio over a rolling time window.
package circuitbreaker

import (
	"log/slog"
	"sync"
	"time"

	"github.com/dskow/inference-gateway/internal/metrics"
)

// State represents the circuit breaker state.
type State int

const (
	StateClosed   State = iota // Normal operation; requests pass through.
	StateOpen                  // Failing; requests are rejected immediately.
	StateHalfOpen              // Probing; a trial request is allowed to test recovery.
)

// String returns the wire name of the state as it appears in response
// metadata and metrics snapshots.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// Config holds the breaker tuning parameters.
type Config struct {
	// Window is the trailing interval over which the failure ratio is computed.
	Window time.Duration
	// FailureThreshold is the failures/total ratio at or above which the
	// breaker opens.
	FailureThreshold float64
	// MinCalls is the minimum number of calls in the window before the
	// threshold is evaluated. A breaker with fewer calls never opens.
	MinCalls int
	// HalfOpenAfter is the cooldown after opening before a probe is allowed.
	HalfOpenAfter time.Duration
}

// DefaultConfig returns the standard breaker tuning.
func DefaultConfig() Config {
	return Config{
		Window:           30 * time.Second,
		FailureThreshold: 0.5,
		MinCalls:         6,
		HalfOpenAfter:    15 * time.Second,
	}
}

// callOutcome records one completed upstream attempt in the rolling window.
type callOutcome struct {
	at      time.Time
	success bool
}

// Breaker is a mutex-guarded three-state circuit breaker. Outcomes are kept
// in time order and pruned lazily once older than the window. Safe for
// concurrent use.
type Breaker struct {
	mu sync.Mutex

	cfg    Config
	logger *slog.Logger

	state    State
	events   []callOutcome
	openedAt time.Time

	now func() time.Time
}

// New creates a closed Breaker with the given configuration.
func New(cfg Config, logger *slog.Logger) *Breaker {
	return &Breaker{
		cfg:    cfg,
		logger: logger,
		state:  StateClosed,
		now:    time.Now,
	}
}

// SetClock overrides the breaker's time source. Intended for tests that need
// deterministic window math.
func (b *Breaker) SetClock(now func() time.Time) {
	b.mu.Lock()
	b.now = now
	b.mu.Unlock()
}

// AllowRequest reports whether a call may be attempted right now. While open,
// it returns false until the half-open cooldown elapses; the call that
// observes the elapsed cooldown becomes the probe and must report its outcome
// via RecordSuccess or RecordFailure. Half-open allows requests through
// without gating to a single in-flight probe; concurrent callers may each be
// treated as probes.
func (b *Breaker) AllowRequest() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return true
	case StateOpen:
		if b.now().Sub(b.openedAt) >= b.cfg.HalfOpenAfter {
			b.transitionTo(StateHalfOpen)
			return true
		}
		return false
	case StateHalfOpen:
		return true
	default:
		return true
	}
}

// RecordSuccess appends a success to the window. Any success while open or
// half-open immediately closes the breaker.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.events = append(b.events, callOutcome{at: b.now(), success: true})
	if b.state == StateOpen || b.state == StateHalfOpen {
		b.transitionTo(StateClosed)
	}
}

// RecordFailure appends a failure to the window, prunes expired outcomes, and
// opens the breaker when at least MinCalls outcomes remain and the failure
// ratio reaches FailureThreshold. A failure during half-open is evaluated by
// the same rule and may re-open the breaker with a fresh cooldown.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	b.events = append(b.events, callOutcome{at: now, success: false})

	total, failures := b.stats(now)
	if total >= b.cfg.MinCalls && float64(failures)/float64(total) >= b.cfg.FailureThreshold {
		b.openedAt = now
		b.transitionTo(StateOpen)
	}
}

// State returns the current breaker state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Stats returns the number of calls and failures currently in the window.
func (b *Breaker) Stats() (total, failures int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stats(b.now())
}

// Reset forces the breaker back to closed and clears the window. Used by the
// admin API.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = b.events[:0]
	b.transitionTo(StateClosed)
}

// stats prunes the window and counts remaining outcomes.
// Must be called with b.mu held.
func (b *Breaker) stats(now time.Time) (total, failures int) {
	b.prune(now)
	for _, ev := range b.events {
		if !ev.success {
			failures++
		}
	}
	return len(b.events), failures
}

// prune drops outcomes older than the window. Events are inserted in time
// order, so pruning only inspects the head. Must be called with b.mu held.
func (b *Breaker) prune(now time.Time) {
	cutoff := now.Add(-b.cfg.Window)
	i := 0
	for i < len(b.events) && b.events[i].at.Before(cutoff) {
		i++
	}
	if i > 0 {
		b.events = append(b.events[:0], b.events[i:]...)
	}
}

// transitionTo changes state, emitting metrics and logging.
// Must be called with b.mu held.
func (b *Breaker) transitionTo(newState State) {
	if b.state == newState {
		return
	}

	from := b.state
	b.state = newState

	metrics.CircuitBreakerTransitions.WithLabelValues(from.String(), newState.String()).Inc()
	metrics.CircuitBreakerState.Set(float64(newState))

	b.logger.Info("circuit breaker state change",
		"from", from.String(),
		"to", newState.String(),
	)
}
