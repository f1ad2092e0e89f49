package retry

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"
)

// Kinder is implemented by errors that carry a failure kind. The kind is
// matched against a policy's RetryableKinds allow-list.
type Kinder interface {
	RetryKind() string
}

// Policy controls backoff behaviour for one named dependency.
type Policy struct {
	Name           string
	MaxAttempts    int
	InitialDelay   time.Duration
	MaxDelay       time.Duration
	Multiplier     float64
	Jitter         bool
	RetryableKinds []string // Empty means retry everything
}

// DefaultPolicy returns a policy with conservative defaults.
func DefaultPolicy(name string) Policy {
	return Policy{
		Name:         name,
		MaxAttempts:  3,
		InitialDelay: 1 * time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
	}
}

// ExhaustedError is returned once every attempt of a policy has failed.
// It wraps the last underlying failure so callers can distinguish
// exhaustion from a first-attempt error.
type ExhaustedError struct {
	Dependency string
	Attempts   int
	LastErr    error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("%s: retries exhausted after %d attempts: %v", e.Dependency, e.Attempts, e.LastErr)
}

func (e *ExhaustedError) Unwrap() error {
	return e.LastErr
}

// Delay computes the backoff before the given zero-based attempt:
// min(initial * multiplier^attempt, max), optionally jittered by up to
// 10% upward to avoid synchronized retry storms.
func (p Policy) Delay(attempt int) time.Duration {
	multiplier := p.Multiplier
	if multiplier <= 0 {
		multiplier = 1
	}
	d := float64(p.InitialDelay) * math.Pow(multiplier, float64(attempt))
	if max := float64(p.MaxDelay); p.MaxDelay > 0 && d > max {
		d = max
	}
	if p.Jitter {
		d += d * 0.1 * rand.Float64()
	}
	return time.Duration(d)
}

// Retryable reports whether err is retryable under the policy's
// allow-list. An empty list retries everything.
func (p Policy) Retryable(err error) bool {
	if len(p.RetryableKinds) == 0 {
		return true
	}
	k, ok := err.(Kinder)
	if !ok {
		return false
	}
	for _, kind := range p.RetryableKinds {
		if kind == k.RetryKind() {
			return true
		}
	}
	return false
}

// Do runs fn up to MaxAttempts times, sleeping the computed delay between
// attempts. Non-retryable errors are returned immediately; exhaustion is
// surfaced as an *ExhaustedError wrapping the last failure.
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(p.Delay(attempt - 1)):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if !p.Retryable(lastErr) {
			return lastErr
		}
	}

	return &ExhaustedError{Dependency: p.Name, Attempts: attempts, LastErr: lastErr}
}
