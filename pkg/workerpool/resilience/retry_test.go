package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

func fastPolicy(maxRetries int) Policy {
	return Policy{
		MaxRetries:   maxRetries,
		InitialDelay: time.Millisecond,
		MaxDelay:     10 * time.Millisecond,
		Multiplier:   2.0,
	}
}

func TestRetry_SucceedsAfterFailures(t *testing.T) {
	t.Parallel()

	attempts := 0
	err := Retry(context.Background(), fastPolicy(3), func() error {
		attempts++
		if attempts < 3 {
			return errors.New("transient")
		}
		return nil
	})

	if err != nil {
		t.Errorf("Expected success, got %v", err)
	}
	if attempts != 3 {
		t.Errorf("Expected 3 attempts, got %d", attempts)
	}
}

func TestRetry_ExhaustsBudget(t *testing.T) {
	t.Parallel()

	wantErr := errors.New("persistent")
	attempts := 0
	err := Retry(context.Background(), fastPolicy(2), func() error {
		attempts++
		return wantErr
	})

	if !errors.Is(err, wantErr) {
		t.Errorf("Expected last error %v, got %v", wantErr, err)
	}
	if attempts != 3 { // initial try + 2 retries
		t.Errorf("Expected 3 attempts, got %d", attempts)
	}
}

func TestRetry_NoRetryOnSuccess(t *testing.T) {
	t.Parallel()

	attempts := 0
	if err := Retry(context.Background(), fastPolicy(5), func() error {
		attempts++
		return nil
	}); err != nil {
		t.Errorf("Expected success, got %v", err)
	}
	if attempts != 1 {
		t.Errorf("Expected 1 attempt, got %d", attempts)
	}
}

func TestRetry_ContextCancellation(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())

	attempts := 0
	err := Retry(ctx, Policy{MaxRetries: 10, InitialDelay: time.Hour, Multiplier: 2.0}, func() error {
		attempts++
		cancel()
		return errors.New("fail")
	})

	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
	if attempts != 1 {
		t.Errorf("Expected 1 attempt before cancellation, got %d", attempts)
	}
}

func TestRetryIf_StopsOnPermanentError(t *testing.T) {
	t.Parallel()

	permanent := errors.New("permanent")
	attempts := 0
	err := RetryIf(context.Background(), fastPolicy(5), IsTransient, func() error {
		attempts++
		if attempts == 2 {
			return permanent
		}
		return &TransientError{Err: errors.New("flaky")}
	})

	if !errors.Is(err, permanent) {
		t.Errorf("Expected permanent error, got %v", err)
	}
	if attempts != 2 {
		t.Errorf("Expected 2 attempts, got %d", attempts)
	}
}

func TestIsTransient(t *testing.T) {
	t.Parallel()

	base := errors.New("boom")
	if IsTransient(base) {
		t.Error("Plain error reported transient")
	}
	if !IsTransient(&TransientError{Err: base}) {
		t.Error("TransientError not reported transient")
	}

	wrapped := &TransientError{Err: base}
	if !errors.Is(wrapped, base) {
		t.Error("TransientError does not unwrap to its cause")
	}
}

func TestBackoff_CapsAtMaxDelay(t *testing.T) {
	t.Parallel()

	policy := Policy{
		InitialDelay: time.Second,
		MaxDelay:     5 * time.Second,
		Multiplier:   10.0,
	}

	if d := backoff(policy, 0); d != time.Second {
		t.Errorf("attempt 0: got %v, want 1s", d)
	}
	if d := backoff(policy, 3); d != 5*time.Second {
		t.Errorf("attempt 3: got %v, want cap of 5s", d)
	}
}
