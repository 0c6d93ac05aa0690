package agentloop

import (
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// validateToolArgs compiles entry's sanitized input schema and validates
// call.Input against it before dispatch (SPEC_FULL.md DOMAIN STACK:
// santhosh-tekuri/jsonschema/v5 "validates sanitized remote-tool input
// schemas and kernel-tool-call arguments before dispatch"). A schema that
// fails to compile is treated as permissive (the catalog entry came from a
// tool server we don't control); only a compiled schema that rejects the
// arguments blocks the call.
func validateToolArgs(entry ToolEntry, rawArgs json.RawMessage) error {
	compiled, err := jsonschema.CompileString(entry.QualifiedName, string(entry.InputSchema))
	if err != nil {
		return nil
	}

	var args any
	if len(rawArgs) == 0 {
		args = map[string]any{}
	} else if err := json.Unmarshal(rawArgs, &args); err != nil {
		return fmt.Errorf("arguments are not valid JSON: %w", err)
	}

	if err := compiled.Validate(args); err != nil {
		return fmt.Errorf("arguments do not match %s's input schema: %w", entry.QualifiedName, err)
	}
	return nil
}
