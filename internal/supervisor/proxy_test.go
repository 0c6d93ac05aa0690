package supervisor

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
)

// metrics.New() registers against the default prometheus registry and
// panics on duplicate registration, so every supervisor test that needs a
// *Server shares this single instance for the whole test binary process.
var (
	testServerOnce sync.Once
	testServerInst *Server
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	testServerOnce.Do(func() {
		testServerInst = NewServer(Config{
			InternalAddr:  "127.0.0.1:0",
			CheckpointDir: t.TempDir(),
			RunsDir:       t.TempDir(),
			EvolveScript:  "/bin/true",
		}, nil)
	})
	return testServerInst
}

// pointAt repoints the shared test server's reverse proxy at addr, for
// tests that need to assert against a specific fake backend. Supervisor
// tests run sequentially, so mutating the shared instance between tests is
// safe.
func pointAt(s *Server, addr string) {
	s.internalAddr = addr
	s.proxy = s.newProxy()
}

func TestProxyHandlerReturns503WhileCheckpointed(t *testing.T) {
	srv := newTestServer(t)
	pointAt(srv, "127.0.0.1:0")
	srv.checkpointed.Store(true)
	defer srv.checkpointed.Store(false)

	r := httptest.NewRequest(http.MethodGet, "/anything", nil)
	w := httptest.NewRecorder()
	srv.proxyHandler(w, r)

	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 while checkpointed, got %d", w.Code)
	}
	if !bodyContains(w.Body.String(), `"is_checkpointed":true`) {
		t.Fatalf("expected is_checkpointed:true in body, got %s", w.Body.String())
	}
}

func TestProxyHandlerForwardsToKernel(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("pong"))
	}))
	defer backend.Close()

	srv := newTestServer(t)
	pointAt(srv, backend.Listener.Addr().String())

	r := httptest.NewRequest(http.MethodGet, "/ping", nil)
	w := httptest.NewRecorder()
	srv.proxyHandler(w, r)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 from forwarded request, got %d", w.Code)
	}
	if w.Body.String() != "pong" {
		t.Fatalf("expected forwarded body 'pong', got %q", w.Body.String())
	}
}

func TestProxyHandlerReturns503WhenKernelUnreachable(t *testing.T) {
	srv := newTestServer(t)
	pointAt(srv, "127.0.0.1:1")

	r := httptest.NewRequest(http.MethodGet, "/ping", nil)
	w := httptest.NewRecorder()
	srv.proxyHandler(w, r)

	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 for unreachable kernel, got %d", w.Code)
	}
}

func TestCORSPreflightOnHandler(t *testing.T) {
	srv := newTestServer(t)
	r := httptest.NewRequest(http.MethodOptions, "/chat", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, r)
	if w.Code != http.StatusNoContent {
		t.Fatalf("expected 204 for CORS preflight, got %d", w.Code)
	}
}

func bodyContains(body, substr string) bool {
	return len(body) >= len(substr) && (func() bool {
		for i := 0; i+len(substr) <= len(body); i++ {
			if body[i:i+len(substr)] == substr {
				return true
			}
		}
		return false
	})()
}
