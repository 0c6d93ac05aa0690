package kernelrt

import (
	"strings"
	"testing"
)

func TestNewShellContextDefaultsToRoot(t *testing.T) {
	ctx := NewShellContext()
	cwd, env := ctx.Snapshot()
	if cwd != "/root" {
		t.Fatalf("expected default cwd /root, got %q", cwd)
	}
	if len(env) != 0 {
		t.Fatalf("expected empty env overlay, got %+v", env)
	}
}

func TestShellContextRunUsesCwdAndEnv(t *testing.T) {
	ctx := NewShellContext()
	ctx.SetCwd("/tmp")
	ctx.SetEnv("LOOM_TEST_VAR", "hello")

	result := ctx.Run("echo $LOOM_TEST_VAR; pwd")
	if result.ReturnCode != 0 {
		t.Fatalf("expected returncode 0, got %+v", result)
	}
	if !strings.Contains(result.Stdout, "hello") {
		t.Fatalf("expected overlay env var in output, got %q", result.Stdout)
	}
	if !strings.Contains(result.Stdout, "/tmp") {
		t.Fatalf("expected cwd /tmp in output, got %q", result.Stdout)
	}
}

func TestShellContextRunNonZeroExit(t *testing.T) {
	ctx := NewShellContext()
	result := ctx.Run("exit 3")
	if result.ReturnCode != 3 {
		t.Fatalf("expected returncode 3, got %+v", result)
	}
}

func TestShellContextSnapshotIsIndependentCopy(t *testing.T) {
	ctx := NewShellContext()
	ctx.SetEnv("A", "1")
	_, env := ctx.Snapshot()
	env["A"] = "mutated"

	_, env2 := ctx.Snapshot()
	if env2["A"] != "1" {
		t.Fatalf("expected Snapshot to return an independent copy, got %q", env2["A"])
	}
}

func TestCapBufferTruncatesPastLimit(t *testing.T) {
	var b capBuffer
	big := strings.Repeat("x", MaxCapturedOutputBytes+100)
	_, _ = b.Write([]byte(big))
	if !strings.Contains(b.String(), "truncated") {
		t.Fatalf("expected capBuffer to truncate output beyond the cap")
	}
}

func TestCapBufferKeepsSmallWritesIntact(t *testing.T) {
	var b capBuffer
	_, _ = b.Write([]byte("hello"))
	_, _ = b.Write([]byte(" world"))
	if b.String() != "hello world" {
		t.Fatalf("expected untruncated concatenation, got %q", b.String())
	}
}
