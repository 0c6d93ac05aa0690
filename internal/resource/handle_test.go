package resource

import (
	"errors"
	"testing"
	"time"

	"github.com/loomkernel/loom/internal/retry"
)

func fastPolicy(maxAttempts int) retry.Policy {
	return retry.Policy{
		MaxAttempts:    maxAttempts,
		BaseDelay:      time.Millisecond,
		MaxDelay:       2 * time.Millisecond,
		BackoffMul:     2,
		JitterFraction: 0,
	}
}

func TestAcquireReconnectsAfterFactoryFailure(t *testing.T) {
	calls := 0
	h := NewHandle(func() (any, error) {
		calls++
		if calls == 1 {
			return nil, errors.New("first attempt fails")
		}
		return "conn-2", nil
	}).WithRetry(fastPolicy(2))

	start := time.Now()
	conn, err := h.Acquire()
	elapsed := time.Since(start)

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if conn != "conn-2" {
		t.Fatalf("expected conn-2, got %v", conn)
	}
	if calls != 2 {
		t.Fatalf("expected factory called twice, got %d", calls)
	}
	if elapsed < time.Millisecond {
		t.Fatalf("expected at least one retry sleep, elapsed %v", elapsed)
	}
}

func TestAcquireReturnsCachedHealthyConnection(t *testing.T) {
	calls := 0
	h := NewHandle(func() (any, error) {
		calls++
		return calls, nil
	}).WithValidate(func(conn any) bool { return true })

	first, err := h.Acquire()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := h.Acquire()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first != second {
		t.Fatalf("expected cached connection, got %v then %v", first, second)
	}
	if calls != 1 {
		t.Fatalf("expected factory called once, got %d", calls)
	}
}

func TestInvalidateForcesReconnect(t *testing.T) {
	calls := 0
	torn := false
	h := NewHandle(func() (any, error) {
		calls++
		return calls, nil
	}).WithTeardown(func(conn any) { torn = true })

	if _, err := h.Acquire(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	h.Invalidate()
	if !torn {
		t.Fatalf("expected teardown to run on invalidate")
	}
	if _, err := h.Acquire(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected factory called again after invalidate, got %d calls", calls)
	}
}

func TestRestoredSkipsTeardownButForcesReconnect(t *testing.T) {
	calls := 0
	torn := false
	h := NewHandle(func() (any, error) {
		calls++
		return calls, nil
	}).WithTeardown(func(conn any) { torn = true })

	if _, err := h.Acquire(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	h.Restored()
	if torn {
		t.Fatalf("restored must not run teardown")
	}
	if _, err := h.Acquire(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected factory called again after restored, got %d calls", calls)
	}
}

func TestAcquireFailsAfterAllAttemptsExhausted(t *testing.T) {
	h := NewHandle(func() (any, error) {
		return nil, errors.New("always fails")
	}).WithRetry(fastPolicy(3))

	_, err := h.Acquire()
	if err == nil {
		t.Fatalf("expected error after exhausting attempts")
	}
}

func TestRegistryMarkAllStaleForcesReconnectOnEveryHandle(t *testing.T) {
	reg := NewRegistry()
	calls1, calls2 := 0, 0
	h1 := reg.Register(NewHandle(func() (any, error) { calls1++; return calls1, nil }))
	h2 := reg.Register(NewHandle(func() (any, error) { calls2++; return calls2, nil }))

	if _, err := h1.Acquire(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := h2.Acquire(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	reg.MarkAllStale()

	if _, err := h1.Acquire(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := h2.Acquire(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if calls1 != 2 || calls2 != 2 {
		t.Fatalf("expected both handles to reconnect once, got %d and %d", calls1, calls2)
	}
	if reg.Count() != 2 {
		t.Fatalf("expected registry count 2, got %d", reg.Count())
	}
}
