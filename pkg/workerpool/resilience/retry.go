// Package resilience provides retry policies and a circuit breaker used by
// the worker pool to keep transient downstream failures from wasting
// workers.
package resilience

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"
)

// Policy defines retry behavior: exponential backoff with an optional
// +-25% jitter.
type Policy struct {
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	Jitter       bool
}

// DefaultPolicy returns three retries starting at 100ms, doubling, capped
// at 30s, with jitter.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:   3,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
	}
}

// Retry runs fn until it succeeds, the retry budget is spent, or ctx is
// cancelled. Returns the last error on exhaustion.
func Retry(ctx context.Context, policy Policy, fn func() error) error {
	return retry(ctx, policy, nil, fn)
}

// RetryIf is Retry restricted to errors matching shouldRetry; other errors
// are returned immediately.
func RetryIf(ctx context.Context, policy Policy, shouldRetry func(error) bool, fn func() error) error {
	return retry(ctx, policy, shouldRetry, fn)
}

func retry(ctx context.Context, policy Policy, shouldRetry func(error) bool, fn func() error) error {
	var lastErr error

	for attempt := 0; attempt <= policy.MaxRetries; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if shouldRetry != nil && !shouldRetry(err) {
			return err
		}
		if attempt >= policy.MaxRetries {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff(policy, attempt)):
		}
	}

	return lastErr
}

// backoff computes the delay before the next attempt.
func backoff(policy Policy, attempt int) time.Duration {
	delay := float64(policy.InitialDelay) * math.Pow(policy.Multiplier, float64(attempt))
	if delay > float64(policy.MaxDelay) {
		delay = float64(policy.MaxDelay)
	}
	if policy.Jitter {
		delay += delay * 0.25 * (rand.Float64()*2 - 1)
	}
	return time.Duration(delay)
}

// TransientError marks an error as worth retrying.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

// IsTransient reports whether err is (or wraps) a TransientError. Suitable
// as the shouldRetry argument to RetryIf.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}
