package kernelrt

import (
	"strings"
	"testing"

	"github.com/loomkernel/loom/internal/resource"
)

func newTestNamespace() *Namespace {
	return NewNamespace(resource.NewRegistry(), NewShellContext())
}

func TestExecCapturesStdout(t *testing.T) {
	ns := newTestNamespace()
	result := ns.Exec(`print("hello")`)
	if result.Status != "completed" {
		t.Fatalf("expected completed, got %+v", result)
	}
	if !strings.Contains(result.Stdout, "hello") {
		t.Fatalf("expected stdout to contain 'hello', got %q", result.Stdout)
	}
}

func TestExecPersistsGlobalsAcrossCalls(t *testing.T) {
	ns := newTestNamespace()
	if r := ns.Exec(`x = 41`); r.Status != "completed" {
		t.Fatalf("first exec failed: %+v", r)
	}
	r := ns.Exec(`print(x + 1)`)
	if r.Status != "completed" {
		t.Fatalf("second exec failed: %+v", r)
	}
	if !strings.Contains(r.Stdout, "42") {
		t.Fatalf("expected persisted global x to yield 42, got %q", r.Stdout)
	}
}

func TestExecSyntaxErrorClassification(t *testing.T) {
	ns := newTestNamespace()
	r := ns.Exec(`this is not lua (`)
	if r.Status != "failed" {
		t.Fatalf("expected failed status, got %+v", r)
	}
	if r.Error == nil || r.Error.Type != "SyntaxError" {
		t.Fatalf("expected SyntaxError classification, got %+v", r.Error)
	}
}

func TestExecRuntimeErrorClassification(t *testing.T) {
	ns := newTestNamespace()
	r := ns.Exec(`error("boom")`)
	if r.Status != "failed" {
		t.Fatalf("expected failed status, got %+v", r)
	}
	if r.Error == nil || r.Error.Type != "RuntimeError" {
		t.Fatalf("expected RuntimeError classification, got %+v", r.Error)
	}
	if !strings.Contains(r.Error.Message, "boom") {
		t.Fatalf("expected error message to contain 'boom', got %q", r.Error.Message)
	}
}

func TestExecCountIncrementsOnFailureToo(t *testing.T) {
	ns := newTestNamespace()
	ns.Exec(`x = 1`)
	ns.Exec(`error("nope")`)
	if got := ns.ExecCount(); got != 2 {
		t.Fatalf("expected ExecCount 2, got %d", got)
	}
}

func TestResetClearsGlobalsAndExecCount(t *testing.T) {
	ns := newTestNamespace()
	ns.Exec(`x = 99`)
	ns.Reset()

	if got := ns.ExecCount(); got != 0 {
		t.Fatalf("expected ExecCount reset to 0, got %d", got)
	}

	r := ns.Exec(`print(x)`)
	if r.Status != "completed" {
		t.Fatalf("expected completed (nil print is fine), got %+v", r)
	}
	if !strings.Contains(r.Stdout, "nil") {
		t.Fatalf("expected x to be gone after reset, got stdout %q", r.Stdout)
	}
}

func TestResetMarksResourcesStale(t *testing.T) {
	reg := resource.NewRegistry()
	ns := NewNamespace(reg, NewShellContext())

	calls := 0
	h := resource.NewHandle(func() (any, error) {
		calls++
		return calls, nil
	})
	reg.Register(h)

	if _, err := h.Acquire(); err != nil {
		t.Fatalf("first acquire: %v", err)
	}
	ns.Reset()
	if _, err := h.Acquire(); err != nil {
		t.Fatalf("second acquire: %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected factory to be invoked again after reset marked the handle stale, got %d calls", calls)
	}
}
