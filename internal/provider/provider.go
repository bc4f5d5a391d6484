// Package provider defines the upstream model contract, the error taxonomy
// used for retry classification, and the bundled provider implementations
// (simulated, HTTP-backed, and the deterministic fallback).
package provider

import (
	"context"
	"errors"
	"time"
)

// Payload is the request handed to an upstream provider.
type Payload struct {
	Prompt string `json:"prompt"`
}

// Result is a successful upstream completion.
type Result struct {
	Text string `json:"text"`
}

// Provider is the upstream model contract. Implementations must honor the
// timeout themselves (returning ErrTimeout rather than blocking indefinitely);
// callers do not forcibly cancel a blocked call mid-flight.
type Provider interface {
	Call(ctx context.Context, payload Payload, timeout time.Duration) (*Result, error)
}

// Sentinel errors for the transient failure classes. Any other upstream error
// is non-transient and is never retried.
var (
	// ErrTimeout marks an upstream call that exceeded its timeout.
	ErrTimeout = errors.New("upstream timeout")
	// ErrConnection marks a failure to reach the upstream at all.
	ErrConnection = errors.New("upstream connection failure")
)

// IsTransient reports whether err belongs to a retry-safe failure class.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrConnection) ||
		errors.Is(err, context.DeadlineExceeded)
}
