package agentloop

import (
	"encoding/json"
	"strings"

	"github.com/invopop/jsonschema"
)

// execPythonArgs, runShellArgs, and selfEvolveArgs are the Go-typed shapes of
// the three builtin kernel tools' arguments. Reflecting them into JSON Schema
// (rather than hand-writing the schema literals) keeps the catalog's
// description and the dispatch code in sync (spec.md §4.4, SPEC_FULL.md
// DOMAIN STACK: invopop/jsonschema "reflects Go structs into JSON Schema for
// the three builtin kernel tools").
type execPythonArgs struct {
	Code string `json:"code" jsonschema:"required,description=Code to evaluate in the kernel's persistent namespace"`
}

type runShellArgs struct {
	Command string `json:"command" jsonschema:"required,description=Shell command to run against the kernel's persistent shell context"`
}

type selfEvolveArgs struct{}

var kernelToolSchemaReflector = &jsonschema.Reflector{}

// reflectKernelSchema reflects v into JSON Schema and inlines it: the
// reflector's default output for a named struct type is a top-level
// "$ref" pointing into a "$defs" entry rather than the object schema
// itself, which sanitizeSchema and the Anthropic/OpenAI tool-call APIs
// don't expect. dereferenceSchema resolves that single level of
// indirection so callers always see a flat {"type":"object", ...} shape.
func reflectKernelSchema(v any) json.RawMessage {
	schema := kernelToolSchemaReflector.Reflect(v)
	out, err := json.Marshal(schema)
	if err != nil {
		return json.RawMessage(`{"type":"object","properties":{}}`)
	}
	return dereferenceSchema(out)
}

func dereferenceSchema(raw json.RawMessage) json.RawMessage {
	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err != nil {
		return json.RawMessage(`{"type":"object","properties":{}}`)
	}

	defs, _ := obj["$defs"].(map[string]any)
	ref, _ := obj["$ref"].(string)
	const prefix = "#/$defs/"
	if defs != nil && strings.HasPrefix(ref, prefix) {
		if target, ok := defs[strings.TrimPrefix(ref, prefix)].(map[string]any); ok {
			obj = target
		}
	}
	delete(obj, "$schema")
	delete(obj, "$id")
	delete(obj, "$ref")
	delete(obj, "$defs")

	out, err := json.Marshal(obj)
	if err != nil {
		return json.RawMessage(`{"type":"object","properties":{}}`)
	}
	return out
}

// defaultKernelTools is used whenever KernelToolsPath is absent; schemas are
// reflected from Go structs, then run through sanitizeSchema like every
// other catalog entry so the Anthropic-rejected union keywords invopop may
// emit are stripped the same way remote-server schemas are.
func defaultKernelTools() []kernelToolSpec {
	return []kernelToolSpec{
		{
			Name:        "exec_python",
			Description: "Execute code in the kernel's persistent namespace and return stdout/stderr.",
			InputSchema: reflectKernelSchema(&execPythonArgs{}),
		},
		{
			Name:        "run_shell",
			Description: "Run a shell command against the kernel's persistent shell context.",
			InputSchema: reflectKernelSchema(&runShellArgs{}),
		},
		{
			Name:        "self_evolve",
			Description: "Trigger the container rebuild script (evolve) and report status.",
			InputSchema: reflectKernelSchema(&selfEvolveArgs{}),
		},
	}
}
