// Package resource implements the reconnectable external-resource handle
// exposed to executed code as `runtime.resource(...)`, and the registry that
// can mark every handle stale in one shot after a checkpoint restore.
package resource

import (
	"errors"
	"sync"
	"time"

	"github.com/loomkernel/loom/internal/retry"
)

// Factory produces a live connection object. It is called under the
// handle's own mutex, never concurrently with itself.
type Factory func() (any, error)

// OnConnectFunc runs once per successful (re)connect, e.g. for auth or
// subscription handshakes. A non-nil error is treated as a connect failure.
type OnConnectFunc func(conn any) error

// ValidateFunc reports whether conn is still healthy.
type ValidateFunc func(conn any) bool

// TeardownFunc releases conn. Errors are swallowed; a handle must not get
// stuck because cleanup of a half-dead connection failed.
type TeardownFunc func(conn any)

// Handle is a reconnectable wrapper over an arbitrary external resource
// (socket, HTTP session, SDK client). The zero value is not usable; build
// one with NewHandle.
type Handle struct {
	mu sync.Mutex

	factory   Factory
	onConnect OnConnectFunc
	validate  ValidateFunc
	teardown  TeardownFunc
	policy    retry.Policy

	conn  any
	stale bool
}

// NewHandle creates a handle around factory. The handle starts stale, so the
// first Acquire always connects.
func NewHandle(factory Factory) *Handle {
	return &Handle{
		factory: factory,
		policy:  retry.DefaultPolicy(),
		stale:   true,
	}
}

// OnConnect registers the post-connect hook and returns the handle for chaining.
func (h *Handle) OnConnect(fn OnConnectFunc) *Handle {
	h.mu.Lock()
	h.onConnect = fn
	h.mu.Unlock()
	return h
}

// WithValidate registers the liveness predicate and returns the handle for chaining.
func (h *Handle) WithValidate(fn ValidateFunc) *Handle {
	h.mu.Lock()
	h.validate = fn
	h.mu.Unlock()
	return h
}

// WithTeardown registers the cleanup hook and returns the handle for chaining.
func (h *Handle) WithTeardown(fn TeardownFunc) *Handle {
	h.mu.Lock()
	h.teardown = fn
	h.mu.Unlock()
	return h
}

// WithRetry overrides the reconnect policy and returns the handle for chaining.
func (h *Handle) WithRetry(policy retry.Policy) *Handle {
	h.mu.Lock()
	h.policy = policy
	h.mu.Unlock()
	return h
}

// Invalidate tears down the current connection (best effort) and marks the
// handle stale so the next Acquire reconnects.
func (h *Handle) Invalidate() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.teardownLocked()
	h.stale = true
}

// Restored marks the handle stale without running teardown. Use this after a
// whole-process restore, where the old file descriptor is already dead and
// attempting to close it again could block or panic.
func (h *Handle) Restored() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.stale = true
}

func (h *Handle) teardownLocked() {
	if h.conn != nil && h.teardown != nil {
		safeTeardown(h.teardown, h.conn)
	}
	h.conn = nil
}

func safeTeardown(fn TeardownFunc, conn any) {
	defer func() { _ = recover() }()
	fn(conn)
}

func (h *Handle) healthyLocked(conn any) bool {
	if h.validate == nil {
		return true
	}
	return h.validate(conn)
}

// Acquire returns a live, validated connection, reconnecting if the current
// one is stale, unhealthy, or absent. It holds the handle's mutex for the
// entire call, including across retry sleeps, so concurrent callers queue
// behind one reconnect attempt rather than stampeding the factory.
func (h *Handle) Acquire() (any, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.conn != nil && !h.stale && h.healthyLocked(h.conn) {
		return h.conn, nil
	}
	h.teardownLocked()

	maxAttempts := h.policy.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		conn, err := h.connectAttempt()
		if err == nil {
			h.conn = conn
			h.stale = false
			return conn, nil
		}
		lastErr = err
		if attempt < maxAttempts {
			time.Sleep(h.policy.Sleep(attempt))
		}
	}
	if lastErr == nil {
		lastErr = errors.New("resource connection failed")
	}
	return nil, lastErr
}

func (h *Handle) connectAttempt() (any, error) {
	conn, err := h.factory()
	if err != nil {
		return nil, err
	}
	if h.onConnect != nil {
		if err := h.onConnect(conn); err != nil {
			return nil, err
		}
	}
	if !h.healthyLocked(conn) {
		return nil, errors.New("resource validation failed")
	}
	return conn, nil
}
