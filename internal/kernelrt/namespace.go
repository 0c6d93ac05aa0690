// Package kernelrt implements the execution kernel: a persistent code
// namespace with notebook semantics, a shell context that survives resets
// and checkpoints, and the HTTP surface that fronts both.
package kernelrt

import (
	"bytes"
	"fmt"
	"strings"
	"sync"
	"time"

	lua "github.com/yuin/gopher-lua"

	"github.com/loomkernel/loom/internal/resource"
)

// ExecError is the structured failure returned by a failed exec.
type ExecError struct {
	Type      string `json:"type"`
	Message   string `json:"message"`
	Traceback string `json:"traceback"`
}

// ExecResult is the response shape for both exec and reset.
type ExecResult struct {
	ID       string     `json:"id,omitempty"`
	Status   string     `json:"status"`
	Stdout   string     `json:"stdout"`
	Stderr   string     `json:"stderr"`
	Error    *ExecError `json:"error,omitempty"`
	TimingMs int64      `json:"timing_ms"`
}

// Namespace is the single shared execution environment code fragments run
// against. Its Lua global table plays the role the spec calls "a single
// mapping from identifier to value": assignment and lookup are native Lua
// operations, and persistence across exec calls falls out of reusing one
// *lua.LState. See SPEC_FULL.md's execution-namespace design note.
type Namespace struct {
	mu        sync.Mutex
	L         *lua.LState
	registry  *resource.Registry
	shellCtx  *ShellContext
	execCount int
}

// NewNamespace builds a namespace bound to registry, seeding it with the
// runtime API and the shell context. It does not mark resources stale; the
// caller does that once at process boot (see DESIGN.md's stale-on-boot
// resolution).
func NewNamespace(registry *resource.Registry, shellCtx *ShellContext) *Namespace {
	ns := &Namespace{
		registry: registry,
		shellCtx: shellCtx,
	}
	ns.L = ns.newState()
	return ns
}

func (ns *Namespace) newState() *lua.LState {
	L := lua.NewState()
	registerResourceHandleType(L)
	bindRuntime(L, ns.registry, ns.shellCtx)
	return L
}

// Reset wipes the namespace's user-bound globals but preserves the runtime
// handle and shell context, then marks every resource handle stale (mirrors
// core kernel reset semantics exactly).
func (ns *Namespace) Reset() {
	ns.mu.Lock()
	defer ns.mu.Unlock()

	ns.L.Close()
	ns.L = ns.newState()
	ns.execCount = 0
	ns.registry.MarkAllStale()
}

// ExecCount returns the number of exec calls attempted since the namespace
// was created or last Reset, successful or not.
func (ns *Namespace) ExecCount() int {
	ns.mu.Lock()
	defer ns.mu.Unlock()
	return ns.execCount
}

// Exec runs code in the shared namespace, capturing output into per-call
// buffers. The caller is responsible for serializing concurrent execs (the
// kernel Server's exec lock); Exec itself also takes the namespace's own mutex
// so Reset cannot race a live exec.
func (ns *Namespace) Exec(code string) ExecResult {
	ns.mu.Lock()
	defer ns.mu.Unlock()

	var stdout, stderr bytes.Buffer
	bindOutput(ns.L, &stdout, &stderr)

	start := time.Now()
	err := ns.L.DoString(code)
	ns.execCount++
	timing := time.Since(start).Milliseconds()

	if err != nil {
		kind, msg, trace := classifyError(err)
		return ExecResult{
			Status:   "failed",
			Stdout:   stdout.String(),
			Stderr:   stderr.String(),
			Error:    &ExecError{Type: kind, Message: msg, Traceback: trace},
			TimingMs: timing,
		}
	}

	return ExecResult{
		Status:   "completed",
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		TimingMs: timing,
	}
}

// ResourceCount reports the number of handles registered against this namespace.
func (ns *Namespace) ResourceCount() int {
	return ns.registry.Count()
}

func bindOutput(L *lua.LState, stdout, stderr *bytes.Buffer) {
	L.SetGlobal("print", L.NewFunction(func(L *lua.LState) int {
		writeArgs(L, stdout)
		return 0
	}))
	L.SetGlobal("eprint", L.NewFunction(func(L *lua.LState) int {
		writeArgs(L, stderr)
		return 0
	}))
}

func writeArgs(L *lua.LState, buf *bytes.Buffer) {
	n := L.GetTop()
	parts := make([]string, n)
	for i := 1; i <= n; i++ {
		parts[i-1] = L.Get(i).String()
	}
	buf.WriteString(strings.Join(parts, "\t"))
	buf.WriteString("\n")
}

func classifyError(err error) (kind, message, traceback string) {
	apiErr, ok := err.(*lua.ApiError)
	if !ok {
		return "RuntimeError", err.Error(), ""
	}

	traceback = apiErr.StackTrace
	switch apiErr.Type {
	case lua.ApiErrorSyntax:
		kind = "SyntaxError"
	default:
		kind = "RuntimeError"
	}

	if lv := apiErr.Object; lv != nil {
		message = lv.String()
	} else {
		message = apiErr.Error()
	}
	if traceback == "" {
		traceback = fmt.Sprintf("%s: %s", kind, message)
	}
	return kind, message, traceback
}
