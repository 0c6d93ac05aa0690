// Package agentloop implements the reasoning loop (spec.md §4.4): tool
// discovery across local "kernel tools" and remote MCP-style tool servers,
// a dialect-neutral LLM conversation loop, and the sleep-phase digest pass
// with replay sampling.
//
// Grounded on the teacher's core/agent.py turn shape and internal/mcp
// manager/client for remote tool-server discovery (internal/mcp.Manager is
// reused directly rather than re-implemented).
package agentloop

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/loomkernel/loom/internal/mcp"
	"github.com/loomkernel/loom/internal/providers"
)

// ToolEntry is one catalog entry offered to the LLM.
type ToolEntry struct {
	QualifiedName string
	Description   string
	InputSchema   json.RawMessage
	// ServerID is empty for kernel tools.
	ServerID string
	// LocalName is the tool's own name without the "<server>__" prefix.
	LocalName string
}

func (t ToolEntry) toolDef() providers.ToolDef {
	return providers.ToolDef{
		Name:        t.QualifiedName,
		Description: t.Description,
		InputSchema: t.InputSchema,
	}
}

// KernelToolsPath is the JSON file the kernel-tool catalog is reloaded from
// on every call, so the agent can rewrite its own builtin tools (spec.md
// §4.4 "appended from a JSON file reloaded on every call so the agent may
// modify them").
const KernelToolsPath = "kernel_tools.json"

type kernelToolSpec struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"input_schema"`
}

func loadKernelTools(path string) []kernelToolSpec {
	data, err := os.ReadFile(path)
	if err != nil {
		return defaultKernelTools()
	}
	var specs []kernelToolSpec
	if err := json.Unmarshal(data, &specs); err != nil || len(specs) == 0 {
		return defaultKernelTools()
	}
	return specs
}

// isKernelTool reports whether name is one of the builtin kernel tools.
func isKernelTool(name string) bool {
	switch name {
	case "exec_python", "run_shell", "self_evolve":
		return true
	}
	return false
}

// BuildCatalog discovers the full tool catalog: kernel tools (reloaded from
// disk) plus every tool exposed by connected MCP-style servers, with schemas
// sanitized for the Anthropic API's schema restrictions (spec.md §4.4).
func BuildCatalog(kernelToolsPath string, mgr *mcp.Manager, logger *slog.Logger) []ToolEntry {
	if logger == nil {
		logger = slog.Default()
	}
	if kernelToolsPath == "" {
		kernelToolsPath = KernelToolsPath
	}

	var catalog []ToolEntry
	for _, spec := range loadKernelTools(kernelToolsPath) {
		catalog = append(catalog, ToolEntry{
			QualifiedName: spec.Name,
			LocalName:     spec.Name,
			Description:   spec.Description,
			InputSchema:   sanitizeSchema(spec.InputSchema),
		})
	}

	if mgr == nil {
		return catalog
	}
	for _, schema := range mgr.ToolSchemas() {
		catalog = append(catalog, ToolEntry{
			QualifiedName: fmt.Sprintf("%s__%s", schema.ServerID, schema.Name),
			LocalName:     schema.Name,
			ServerID:      schema.ServerID,
			Description:   schema.Description,
			InputSchema:   sanitizeSchema(schema.InputSchema),
		})
	}
	return catalog
}

// ConnectServers opens a session against every configured tool server,
// tolerating individual failures (spec.md §4.4 "Failures to connect to any
// single server log a warning and continue with the rest"). Local servers
// get 15s to connect, remote ones 20s (spec.md §5).
func ConnectServers(ctx context.Context, mgr *mcp.Manager, servers []mcp.ServerConfig, logger *slog.Logger) {
	for _, cfg := range servers {
		deadline := 20 * time.Second
		if cfg.Transport == mcp.TransportStdio {
			deadline = 15 * time.Second
		}
		cctx, cancel := context.WithTimeout(ctx, deadline)
		err := mgr.Connect(cctx, cfg.ID)
		cancel()
		if err != nil {
			logger.Warn("tool server connect failed", "server", cfg.ID, "error", err)
		}
	}
}

func asToolDefs(entries []ToolEntry) []providers.ToolDef {
	defs := make([]providers.ToolDef, 0, len(entries))
	for _, e := range entries {
		defs = append(defs, e.toolDef())
	}
	return defs
}
