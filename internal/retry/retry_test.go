package retry

import (
	"errors"
	"testing"
	"time"
)

func TestDoSucceedsOnSecondAttempt(t *testing.T) {
	calls := 0
	policy := Policy{MaxAttempts: 2, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, BackoffMul: 2, JitterFraction: 0}

	result := Do(policy, func(attempt int) error {
		calls++
		if attempt == 1 {
			return errors.New("transient")
		}
		return nil
	})

	if result.Err != nil {
		t.Fatalf("expected success, got %v", result.Err)
	}
	if calls != 2 {
		t.Fatalf("expected 2 calls, got %d", calls)
	}
	if result.Attempts != 2 {
		t.Fatalf("expected Attempts=2, got %d", result.Attempts)
	}
}

func TestDoStopsOnPermanentError(t *testing.T) {
	calls := 0
	policy := Policy{MaxAttempts: 5, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond, BackoffMul: 1, JitterFraction: 0}

	result := Do(policy, func(attempt int) error {
		calls++
		return Permanent(errors.New("fatal"))
	})

	if calls != 1 {
		t.Fatalf("expected 1 call before giving up, got %d", calls)
	}
	if !IsPermanent(result.Err) {
		t.Fatalf("expected permanent error, got %v", result.Err)
	}
}

func TestDoExhaustsAttempts(t *testing.T) {
	calls := 0
	policy := Policy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond, BackoffMul: 1, JitterFraction: 0}

	result := Do(policy, func(attempt int) error {
		calls++
		return errors.New("still failing")
	})

	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
	if result.Attempts != 3 {
		t.Fatalf("expected Attempts=3, got %d", result.Attempts)
	}
}

func TestSleepBoundedByMaxDelay(t *testing.T) {
	policy := Policy{MaxAttempts: 10, BaseDelay: time.Second, MaxDelay: 2 * time.Second, BackoffMul: 3, JitterFraction: 0.5}

	for attempt := 1; attempt <= 10; attempt++ {
		d := policy.Sleep(attempt)
		max := time.Duration(float64(policy.MaxDelay) * (1 + policy.JitterFraction))
		if d > max {
			t.Fatalf("attempt %d: sleep %v exceeds bound %v", attempt, d, max)
		}
	}
}

func TestDoWithValueReturnsValue(t *testing.T) {
	policy := Policy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond, BackoffMul: 1, JitterFraction: 0}

	v, result := DoWithValue(policy, func(attempt int) (string, error) {
		if attempt < 2 {
			return "", errors.New("not yet")
		}
		return "connected", nil
	})

	if result.Err != nil {
		t.Fatalf("unexpected error: %v", result.Err)
	}
	if v != "connected" {
		t.Fatalf("expected value %q, got %q", "connected", v)
	}
}
