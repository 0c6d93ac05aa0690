package checkpoint

import (
	"path/filepath"
	"testing"

	"github.com/loomkernel/loom/internal/kernelrt"
)

func TestWriteReadSnapshotRoundTrip(t *testing.T) {
	dir := t.TempDir()
	want := map[string]kernelrt.ScalarValue{
		"greeting": {Kind: "string", Value: "hola"},
		"count":    {Kind: "number", Value: "3"},
	}

	if err := WriteSnapshot(dir, want); err != nil {
		t.Fatalf("WriteSnapshot: %v", err)
	}

	got, err := ReadSnapshot(dir)
	if err != nil {
		t.Fatalf("ReadSnapshot: %v", err)
	}
	if len(got) != len(want) {
		t.Fatalf("round-trip length mismatch: got %+v, want %+v", got, want)
	}
	for k, v := range want {
		if got[k] != v {
			t.Fatalf("key %q = %+v, want %+v", k, got[k], v)
		}
	}
}

func TestWriteSnapshotCreatesMissingDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "checkpoint")
	if err := WriteSnapshot(dir, map[string]kernelrt.ScalarValue{}); err != nil {
		t.Fatalf("WriteSnapshot into missing dir: %v", err)
	}
	if _, err := ReadSnapshot(dir); err != nil {
		t.Fatalf("ReadSnapshot after create: %v", err)
	}
}

func TestReadSnapshotMissingFileErrors(t *testing.T) {
	if _, err := ReadSnapshot(t.TempDir()); err == nil {
		t.Fatal("expected an error reading a snapshot that was never written")
	}
}
