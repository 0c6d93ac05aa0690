package checkpoint

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// fakeCriu writes a shell script standing in for the real criu binary: it
// understands just enough of the dump/restore argument shape this package
// emits to exercise Checkpoint/Restore without a real CRIU installation.
func fakeCriu(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "fake-criu.sh")
	script := "#!/bin/sh\n" + body + "\n"
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatalf("write fake criu: %v", err)
	}
	return path
}

func TestCheckpointSuccessRecordsStep(t *testing.T) {
	criuBin := fakeCriu(t, `exit 0`)
	imagesDir := t.TempDir()

	step, err := Checkpoint(context.Background(), criuBin, 1234, imagesDir)
	if err != nil {
		t.Fatalf("Checkpoint: %v", err)
	}
	if step.Name != "checkpoint" {
		t.Fatalf("expected step name 'checkpoint', got %q", step.Name)
	}
	if step.ExitCode != 0 {
		t.Fatalf("expected exit code 0, got %d", step.ExitCode)
	}
	if !strings.Contains(step.Command, "dump") || !strings.Contains(step.Command, "1234") {
		t.Fatalf("expected command to record dump args with pid, got %q", step.Command)
	}
}

func TestCheckpointFailureReturnsToolError(t *testing.T) {
	criuBin := fakeCriu(t, `echo "dump failed" 1>&2; exit 1`)
	imagesDir := t.TempDir()

	_, err := Checkpoint(context.Background(), criuBin, 1, imagesDir)
	if err == nil {
		t.Fatal("expected an error from a failing checkpoint tool")
	}
	var toolErr *ToolError
	if !asToolError(err, &toolErr) {
		t.Fatalf("expected *ToolError, got %T: %v", err, err)
	}
	if toolErr.Step.ExitCode == 0 {
		t.Fatalf("expected non-zero exit code recorded, got %+v", toolErr.Step)
	}
}

func TestRestoreReadsPidFromPidfile(t *testing.T) {
	criuBin := fakeCriu(t, `
for i in "$@"; do
  if [ "$prev" = "--pidfile" ]; then pidfile="$i"; fi
  prev="$i"
done
echo 4321 > "$pidfile"
exit 0
`)
	imagesDir := t.TempDir()

	pid, step, err := Restore(context.Background(), criuBin, imagesDir)
	if err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if pid != 4321 {
		t.Fatalf("expected pid 4321 from pidfile, got %d", pid)
	}
	if step.Name != "restore" {
		t.Fatalf("expected step name 'restore', got %q", step.Name)
	}
}

func TestRestoreMissingPidfileIsToolError(t *testing.T) {
	criuBin := fakeCriu(t, `exit 0`)
	imagesDir := t.TempDir()

	_, _, err := Restore(context.Background(), criuBin, imagesDir)
	if err == nil {
		t.Fatal("expected an error when the restore tool never wrote a pidfile")
	}
}

func TestRestoreInvalidPidfileContentsIsToolError(t *testing.T) {
	criuBin := fakeCriu(t, `
for i in "$@"; do
  if [ "$prev" = "--pidfile" ]; then pidfile="$i"; fi
  prev="$i"
done
echo "not-a-pid" > "$pidfile"
exit 0
`)
	imagesDir := t.TempDir()

	_, _, err := Restore(context.Background(), criuBin, imagesDir)
	if err == nil {
		t.Fatal("expected an error for non-numeric pidfile contents")
	}
}

func TestTailTruncatesToLastNBytes(t *testing.T) {
	if got := tail("abcdef", 3); got != "def" {
		t.Fatalf("tail(abcdef, 3) = %q, want %q", got, "def")
	}
	if got := tail("ab", 3); got != "ab" {
		t.Fatalf("tail(ab, 3) = %q, want unchanged %q", got, "ab")
	}
}

func asToolError(err error, out **ToolError) bool {
	te, ok := err.(*ToolError)
	if !ok {
		return false
	}
	*out = te
	return true
}
