package provider

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"
)

// MockConfig tunes the simulated provider's latency and failure behavior.
type MockConfig struct {
	MinLatency      time.Duration
	MaxLatency      time.Duration
	TimeoutRate     float64 // probability of a transient timeout
	HardFailureRate float64 // probability of a non-transient failure
	Seed            uint64  // 0 = non-deterministic
}

// DefaultMockConfig matches the flakiness profile the gateway is tuned
// against: 50ms-1.2s latency, 10% transient timeouts, 5% hard failures.
func DefaultMockConfig() MockConfig {
	return MockConfig{
		MinLatency:      50 * time.Millisecond,
		MaxLatency:      1200 * time.Millisecond,
		TimeoutRate:     0.10,
		HardFailureRate: 0.05,
	}
}

// Mock simulates a flaky upstream model in-process. Safe for concurrent use.
type Mock struct {
	cfg MockConfig

	mu  sync.Mutex
	rng *rand.Rand

	sleep func(time.Duration)
}

// NewMock creates a simulated provider.
func NewMock(cfg MockConfig) *Mock {
	seed := cfg.Seed
	if seed == 0 {
		seed = rand.Uint64()
	}
	return &Mock{
		cfg:   cfg,
		rng:   rand.New(rand.NewPCG(seed, seed)),
		sleep: time.Sleep,
	}
}

// Call simulates one model invocation: a random latency in the configured
// range, a transient timeout with probability TimeoutRate, a non-transient
// failure with probability HardFailureRate, and a timeout whenever the drawn
// latency exceeds the budget. The timeout is honored by sleeping at most the
// budget before failing.
func (m *Mock) Call(_ context.Context, payload Payload, timeout time.Duration) (*Result, error) {
	m.mu.Lock()
	simulated := m.cfg.MinLatency + time.Duration(m.rng.Float64()*float64(m.cfg.MaxLatency-m.cfg.MinLatency))
	timeoutDraw := m.rng.Float64()
	hardDraw := m.rng.Float64()
	m.mu.Unlock()

	if timeoutDraw < m.cfg.TimeoutRate {
		m.sleep(min(simulated, timeout))
		return nil, fmt.Errorf("simulated flake: %w", ErrTimeout)
	}
	if hardDraw < m.cfg.HardFailureRate {
		return nil, fmt.Errorf("non-transient parse error")
	}
	if simulated > timeout {
		m.sleep(timeout)
		return nil, fmt.Errorf("latency %v over budget: %w", simulated, ErrTimeout)
	}

	m.sleep(simulated)
	return &Result{Text: "[MOCK COMPLETION] " + truncate(payload.Prompt, 60)}, nil
}

// truncate returns at most n runes of s.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
