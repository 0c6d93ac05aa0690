package agentloop

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/loomkernel/loom/internal/mcp"
	"github.com/loomkernel/loom/internal/metrics"
	"github.com/loomkernel/loom/internal/providers"
)

// KernelClient is the subset of the supervisor's kernel-proxy surface the
// agent loop needs to dispatch its three builtin tools (spec.md §4.4).
// Implemented by the supervisor package; kept as an interface here so
// agentloop never imports supervisor (it would be a cycle).
type KernelClient interface {
	ExecPython(ctx context.Context, code string) (stdout, stderr, errKind, errMessage string, failed bool, err error)
	RunShell(ctx context.Context, command string) (stdout, stderr string, returncode int, err error)
	Evolve(ctx context.Context) (status string, err error)
}

// ToolCallDeadline bounds a single remote tool invocation (spec.md §5).
const ToolCallDeadline = 90 * time.Second

// Runner drives the conversation loop and the digest pass. It is the single
// entry point the supervisor's /chat and /digest handlers call into.
type Runner struct {
	store           *Store
	kernel          KernelClient
	mcp             *mcp.Manager
	kernelToolsPath string
	logger          *slog.Logger
	metrics         *metrics.Metrics
}

// NewRunner builds a Runner. mgr may be nil if no remote tool servers are
// configured. m may be nil, in which case metrics.New() registers a fresh
// bundle against the default prometheus registry, which panics if that
// process has already registered one; pass the hosting supervisor.Server's
// own Metrics() to share one process-wide registration instead.
func NewRunner(store *Store, kernel KernelClient, mgr *mcp.Manager, kernelToolsPath string, logger *slog.Logger, m *metrics.Metrics) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	if m == nil {
		m = metrics.New()
	}
	return &Runner{
		store:           store,
		kernel:          kernel,
		mcp:             mgr,
		kernelToolsPath: kernelToolsPath,
		logger:          logger.With("component", "agentloop"),
		metrics:         m,
	}
}

// Store exposes the Runner's persistence layer for read-only endpoints
// (chat/history, chat/log, digest/learnings) that don't need the full
// conversation pipeline.
func (r *Runner) Store() *Store { return r.store }

// ChatResult is the response shape for POST /chat (spec.md §6).
type ChatResult struct {
	Response  string
	Provider  string
	ToolCount int
}

// Chat runs one full conversation turn: load history, append the user
// message, loop the model against the tool catalog until it stops
// requesting tools, persist, and return the final assistant text.
func (r *Runner) Chat(ctx context.Context, message, providerOverride string, reset bool) (ChatResult, error) {
	if reset {
		if err := r.store.ResetHistory(); err != nil {
			return ChatResult{}, fmt.Errorf("reset history: %w", err)
		}
	}

	persisted, err := r.store.LoadHistory()
	if err != nil {
		return ChatResult{}, fmt.Errorf("load history: %w", err)
	}
	persisted = append(persisted, HistoryMessage{Role: string(providers.RoleUser), Content: message})

	provider, err := providers.Resolve(providerOverride)
	if err != nil {
		return ChatResult{}, err
	}

	catalog := BuildCatalog(r.kernelToolsPath, r.mcp, r.logger)
	toolDefs := asToolDefs(catalog)
	byName := make(map[string]ToolEntry, len(catalog))
	for _, e := range catalog {
		byName[e.QualifiedName] = e
	}

	history := toProviderMessages(persisted)
	toolCount := 0
	var finalText string

	for {
		reply, err := provider.Converse(ctx, history, toolDefs)
		if err != nil {
			return ChatResult{}, fmt.Errorf("%s: %w", provider.Name(), err)
		}
		if reply.Text != "" {
			_ = r.store.AppendLog(LogEntry{Type: "thinking", Data: map[string]any{"text": reply.Text}})
		}

		if len(reply.ToolCalls) == 0 {
			finalText = reply.Text
			break
		}

		assistantMsg := providers.Message{Role: providers.RoleAssistant, Text: reply.Text, ToolCalls: reply.ToolCalls}
		history = append(history, assistantMsg)

		var results []providers.ToolResult
		for _, call := range reply.ToolCalls {
			toolCount++
			result := r.dispatchTool(ctx, byName, call)
			results = append(results, result)
			_ = r.store.AppendLog(LogEntry{Type: "tool", Data: map[string]any{
				"name":   call.Name,
				"args":   string(call.Input),
				"result": truncate(result.Content, 2000),
			}})
		}
		history = append(history, providers.Message{Role: providers.RoleUser, ToolResults: results})
	}

	persisted = append(persisted, HistoryMessage{Role: string(providers.RoleAssistant), Content: finalText})
	if err := r.store.SaveHistory(persisted); err != nil {
		return ChatResult{}, fmt.Errorf("save history: %w", err)
	}

	return ChatResult{Response: finalText, Provider: provider.Name(), ToolCount: toolCount}, nil
}

// dispatchTool resolves one tool call to a kernel tool or a remote MCP tool,
// catching every failure into a textual tool-result (spec.md §4.4: "any
// exception is caught and turned into the literal string result
// 'Tool error: <kind>: <msg>'").
func (r *Runner) dispatchTool(ctx context.Context, byName map[string]ToolEntry, call providers.ToolCall) providers.ToolResult {
	entry, known := byName[call.Name]
	if !known {
		return providers.ToolResult{ToolCallID: call.ID, Content: fmt.Sprintf("Unknown tool: %s", call.Name), IsError: true}
	}
	if err := validateToolArgs(entry, call.Input); err != nil {
		return providers.ToolResult{ToolCallID: call.ID, Content: fmt.Sprintf("Tool error: ValidationError: %s", err), IsError: true}
	}

	start := time.Now()
	var result providers.ToolResult
	if isKernelTool(entry.LocalName) && entry.ServerID == "" {
		// Kernel tools run to completion: an exec has no cooperative
		// cancellation and shell enforces its own 300s stop, so only remote
		// tool servers get the 90s deadline.
		result = r.dispatchKernelTool(ctx, call)
	} else {
		cctx, cancel := context.WithTimeout(ctx, ToolCallDeadline)
		defer cancel()
		result = r.dispatchRemoteTool(cctx, entry, call)
	}

	r.metrics.ToolCallDuration.WithLabelValues(call.Name).Observe(time.Since(start).Seconds())
	outcome := "success"
	if result.IsError {
		outcome = "error"
	}
	r.metrics.ToolCallCounter.WithLabelValues(call.Name, outcome).Inc()
	return result
}

func (r *Runner) dispatchKernelTool(ctx context.Context, call providers.ToolCall) providers.ToolResult {
	if r.kernel == nil {
		return providers.ToolResult{ToolCallID: call.ID, Content: "Tool error: RuntimeError: kernel unavailable", IsError: true}
	}

	var args map[string]any
	_ = json.Unmarshal(call.Input, &args)

	switch call.Name {
	case "exec_python":
		code, _ := args["code"].(string)
		stdout, stderr, errKind, errMessage, failed, err := r.kernel.ExecPython(ctx, code)
		if err != nil {
			return providers.ToolResult{ToolCallID: call.ID, Content: fmt.Sprintf("Tool error: RuntimeError: %s", err), IsError: true}
		}
		return providers.ToolResult{ToolCallID: call.ID, Content: formatExecOutput(stdout, stderr, errKind, errMessage), IsError: failed}

	case "run_shell":
		cmd, _ := args["command"].(string)
		stdout, stderr, rc, err := r.kernel.RunShell(ctx, cmd)
		if err != nil {
			return providers.ToolResult{ToolCallID: call.ID, Content: fmt.Sprintf("Tool error: RuntimeError: %s", err), IsError: true}
		}
		return providers.ToolResult{ToolCallID: call.ID, Content: formatExecOutput(stdout, stderr, "", ""), IsError: rc != 0}

	case "self_evolve":
		status, err := r.kernel.Evolve(ctx)
		if err != nil {
			return providers.ToolResult{ToolCallID: call.ID, Content: fmt.Sprintf("Tool error: RuntimeError: %s", err), IsError: true}
		}
		return providers.ToolResult{ToolCallID: call.ID, Content: status}

	default:
		return providers.ToolResult{ToolCallID: call.ID, Content: fmt.Sprintf("Unknown tool: %s", call.Name), IsError: true}
	}
}

func (r *Runner) dispatchRemoteTool(ctx context.Context, entry ToolEntry, call providers.ToolCall) providers.ToolResult {
	if r.mcp == nil {
		return providers.ToolResult{ToolCallID: call.ID, Content: fmt.Sprintf("Unknown tool: %s", call.Name), IsError: true}
	}
	var args map[string]any
	_ = json.Unmarshal(call.Input, &args)

	result, err := r.mcp.CallTool(ctx, entry.ServerID, entry.LocalName, args)
	if err != nil {
		return providers.ToolResult{ToolCallID: call.ID, Content: fmt.Sprintf("Tool error: RuntimeError: %s", err), IsError: true}
	}
	data, _ := json.Marshal(result)
	return providers.ToolResult{ToolCallID: call.ID, Content: string(data), IsError: result.IsError}
}

// formatExecOutput builds the text the LLM sees for an exec/shell tool call,
// folding in the kernel's structured error (type + message) when present so
// a failed exec is recoverable rather than silently empty (spec.md §4.4/§7,
// grounded on core/agent.py's _call_kernel_tool "ERROR (type): message" line).
func formatExecOutput(stdout, stderr, errKind, errMessage string) string {
	out := stdout + stderr
	if errKind != "" || errMessage != "" {
		if out != "" {
			out += "\n"
		}
		out += fmt.Sprintf("ERROR (%s): %s", errKind, errMessage)
	}
	return out
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "...[truncated]"
}
