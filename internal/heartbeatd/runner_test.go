package heartbeatd

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestWaitForKernelReturnsOncePingSucceeds(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		if n < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := WaitForKernel(ctx, srv.Client(), srv.URL, 10*time.Millisecond); err != nil {
		t.Fatalf("WaitForKernel: %v", err)
	}
	if atomic.LoadInt32(&calls) < 3 {
		t.Fatalf("expected at least 3 poll attempts before success, got %d", calls)
	}
}

func TestWaitForKernelRespectsContextCancellation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()

	err := WaitForKernel(ctx, srv.Client(), srv.URL, 10*time.Millisecond)
	if err == nil {
		t.Fatal("expected WaitForKernel to return an error once ctx is cancelled")
	}
}

func TestRollUniformWithinUnitInterval(t *testing.T) {
	for i := 0; i < 200; i++ {
		v := rollUniform()
		if v < 0 || v >= 1 {
			t.Fatalf("rollUniform() = %v out of [0,1)", v)
		}
	}
}
