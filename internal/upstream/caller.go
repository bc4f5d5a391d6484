// Package upstream wraps the provider call with breaker gating, bounded
// retries with exponential backoff, and per-attempt timeout accounting.
package upstream

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/dskow/inference-gateway/internal/circuitbreaker"
	"github.com/dskow/inference-gateway/internal/metrics"
	"github.com/dskow/inference-gateway/internal/provider"
)

// ErrCircuitOpen is returned when the breaker denies the call outright.
// No upstream attempt is made in that case.
var ErrCircuitOpen = errors.New("circuit_open")

// Config holds the retry policy.
type Config struct {
	// CallTimeout is handed to the provider on every attempt.
	CallTimeout time.Duration
	// MaxRetryAttempts is the number of additional attempts beyond the first,
	// taken only for transient errors.
	MaxRetryAttempts int
	// BackoffBase is the first inter-attempt sleep; it doubles after each retry.
	BackoffBase time.Duration
}

// DefaultConfig returns the standard retry policy.
func DefaultConfig() Config {
	return Config{
		CallTimeout:      8 * time.Second,
		MaxRetryAttempts: 2,
		BackoffBase:      200 * time.Millisecond,
	}
}

// AttemptResult is the outcome of one orchestrated upstream call: either a
// result or the final error, plus the attempt count, wall-clock elapsed time
// (inclusive of backoff sleeps), and the breaker state observed at the end of
// the call.
type AttemptResult struct {
	OK           bool
	Result       *provider.Result
	Err          error
	Attempts     int
	ElapsedMS    int64
	BreakerState circuitbreaker.State
}

// Caller invokes the upstream provider through the circuit breaker with
// bounded retries.
type Caller struct {
	provider provider.Provider
	breaker  *circuitbreaker.Breaker
	cfg      Config
	logger   *slog.Logger

	now   func() time.Time
	sleep func(time.Duration)
}

// New creates a Caller.
func New(p provider.Provider, b *circuitbreaker.Breaker, cfg Config, logger *slog.Logger) *Caller {
	return &Caller{
		provider: p,
		breaker:  b,
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
		sleep:    time.Sleep,
	}
}

// Call runs the retry loop for one request. Transient errors are retried up
// to MaxRetryAttempts extra times with doubling backoff; non-transient errors
// stop immediately. Every completed attempt is reported to the breaker.
// When the breaker denies the request no attempt is made and Err is
// ErrCircuitOpen.
func (c *Caller) Call(ctx context.Context, payload provider.Payload) AttemptResult {
	start := c.now()

	if !c.breaker.AllowRequest() {
		return AttemptResult{
			OK:           false,
			Err:          ErrCircuitOpen,
			Attempts:     0,
			ElapsedMS:    c.now().Sub(start).Milliseconds(),
			BreakerState: c.breaker.State(),
		}
	}

	attempts := 0
	backoff := c.cfg.BackoffBase
	var lastErr error

	for {
		attempts++
		result, err := c.provider.Call(ctx, payload, c.cfg.CallTimeout)
		if err == nil {
			c.breaker.RecordSuccess()
			return AttemptResult{
				OK:           true,
				Result:       result,
				Attempts:     attempts,
				ElapsedMS:    c.now().Sub(start).Milliseconds(),
				BreakerState: c.breaker.State(),
			}
		}

		lastErr = err
		c.breaker.RecordFailure()

		if !provider.IsTransient(err) {
			break
		}
		if attempts >= 1+c.cfg.MaxRetryAttempts {
			break
		}

		metrics.UpstreamRetriesTotal.Inc()
		c.logger.Warn("retrying upstream call",
			"attempt", attempts,
			"backoff", backoff,
			"error", err,
		)
		c.sleep(backoff)
		backoff *= 2
	}

	return AttemptResult{
		OK:           false,
		Err:          lastErr,
		Attempts:     attempts,
		ElapsedMS:    c.now().Sub(start).Milliseconds(),
		BreakerState: c.breaker.State(),
	}
}
