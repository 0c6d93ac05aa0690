package agentloop

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestIsKernelTool(t *testing.T) {
	for _, name := range []string{"exec_python", "run_shell", "self_evolve"} {
		if !isKernelTool(name) {
			t.Fatalf("expected %q to be a kernel tool", name)
		}
	}
	if isKernelTool("some_remote_tool") {
		t.Fatal("expected non-builtin name to not be classified as a kernel tool")
	}
}

func TestBuildCatalogFallsBackToDefaultKernelToolsWhenFileMissing(t *testing.T) {
	catalog := BuildCatalog(filepath.Join(t.TempDir(), "does-not-exist.json"), nil, nil)
	if len(catalog) != 3 {
		t.Fatalf("expected 3 default kernel tools, got %d", len(catalog))
	}
	names := map[string]bool{}
	for _, e := range catalog {
		names[e.QualifiedName] = true
		if e.ServerID != "" {
			t.Fatalf("expected kernel tool to have empty ServerID, got %+v", e)
		}
	}
	for _, want := range []string{"exec_python", "run_shell", "self_evolve"} {
		if !names[want] {
			t.Fatalf("expected default catalog to include %q, got %+v", want, names)
		}
	}
}

func TestBuildCatalogLoadsFromDiskWhenPresent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "kernel_tools.json")
	specs := []kernelToolSpec{
		{Name: "exec_python", Description: "custom description", InputSchema: json.RawMessage(`{"type":"object"}`)},
	}
	data, err := json.Marshal(specs)
	if err != nil {
		t.Fatalf("marshal specs: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write kernel_tools.json: %v", err)
	}

	catalog := BuildCatalog(path, nil, nil)
	if len(catalog) != 1 {
		t.Fatalf("expected 1 tool reloaded from disk, got %d", len(catalog))
	}
	if catalog[0].Description != "custom description" {
		t.Fatalf("expected reloaded description, got %q", catalog[0].Description)
	}
}

func TestBuildCatalogFallsBackOnEmptyOrInvalidFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "kernel_tools.json")
	if err := os.WriteFile(path, []byte(`not json`), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	catalog := BuildCatalog(path, nil, nil)
	if len(catalog) != 3 {
		t.Fatalf("expected fallback to 3 default tools on invalid file, got %d", len(catalog))
	}
}

func TestAsToolDefsPreservesOrderAndFields(t *testing.T) {
	entries := []ToolEntry{
		{QualifiedName: "a", Description: "desc a", InputSchema: json.RawMessage(`{}`)},
		{QualifiedName: "b", Description: "desc b", InputSchema: json.RawMessage(`{}`)},
	}
	defs := asToolDefs(entries)
	if len(defs) != 2 || defs[0].Name != "a" || defs[1].Name != "b" {
		t.Fatalf("unexpected tool defs: %+v", defs)
	}
}
