// Package checkpoint implements both checkpoint paths spec.md §3/§4.3
// describes: the state-only "cryo" fallback (a closed schema over the
// namespace's scalar globals) and whole-process image checkpoint/restore
// via an external CRIU-style tool.
//
// The kernel runs as a separate OS process from the supervisor, so cryo
// store/reload crosses that boundary over the kernel's own HTTP surface
// (/cryo/snapshot, /cryo/restore in internal/kernelrt); this package only
// owns the on-disk representation of the snapshot, never a Lua-source
// string -- resolving spec.md §9's quoting open question by construction.
package checkpoint

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/loomkernel/loom/internal/kernelrt"
)

// CryoFilename is the blob written by WriteSnapshot and read by ReadSnapshot.
const CryoFilename = "namespace.json"

// WriteSnapshot persists a kernel globals snapshot to dir/namespace.json.
func WriteSnapshot(dir string, globals map[string]kernelrt.ScalarValue) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create checkpoint dir: %w", err)
	}
	data, err := json.MarshalIndent(globals, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal namespace snapshot: %w", err)
	}
	return os.WriteFile(filepath.Join(dir, CryoFilename), data, 0o644)
}

// ReadSnapshot loads a previously-written snapshot from dir/namespace.json.
func ReadSnapshot(dir string) (map[string]kernelrt.ScalarValue, error) {
	data, err := os.ReadFile(filepath.Join(dir, CryoFilename))
	if err != nil {
		return nil, fmt.Errorf("read namespace snapshot: %w", err)
	}
	var globals map[string]kernelrt.ScalarValue
	if err := json.Unmarshal(data, &globals); err != nil {
		return nil, fmt.Errorf("parse namespace snapshot: %w", err)
	}
	return globals, nil
}
