package supervisor

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestExecPythonSurfacesKernelError(t *testing.T) {
	s := newTestServer(t)
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status": "failed",
			"stdout": "",
			"stderr": "",
			"error":  map[string]string{"type": "NameError", "message": "a is not defined"},
		})
	}))
	defer backend.Close()
	pointAt(s, backend.Listener.Addr().String())

	_, _, errKind, errMessage, failed, err := s.ExecPython(context.Background(), "print(a)")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !failed {
		t.Fatalf("expected failed=true for status=failed")
	}
	if errKind != "NameError" || errMessage != "a is not defined" {
		t.Fatalf("expected kernel error kind/message decoded, got kind=%q message=%q", errKind, errMessage)
	}
}

func TestExecPythonNoErrorOnSuccess(t *testing.T) {
	s := newTestServer(t)
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"status": "completed", "stdout": "ok\n", "stderr": ""})
	}))
	defer backend.Close()
	pointAt(s, backend.Listener.Addr().String())

	stdout, _, errKind, errMessage, failed, err := s.ExecPython(context.Background(), "print('ok')")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if failed || errKind != "" || errMessage != "" {
		t.Fatalf("expected no error fields on success, got failed=%v kind=%q message=%q", failed, errKind, errMessage)
	}
	if stdout != "ok\n" {
		t.Fatalf("expected stdout passed through, got %q", stdout)
	}
}
