package checkpoint

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// DefaultCheckpointDir matches CRIU_CHECKPOINT_DIR's documented default
// (spec.md §6).
const DefaultCheckpointDir = "/data/criu_checkpoints/kernel_ckpt"

// logTailBytes is how much of the tool's own log is surfaced on failure
// (spec.md §7 "the last ~2 KB of the tool's log").
const logTailBytes = 2048

// Step records one checkpoint/restore invocation, mirroring the teacher's
// internal/restart sentinel step shape (name, command, duration, captured
// log tail) adapted to the criu/cryo domain.
type Step struct {
	Name       string `json:"name"`
	Command    string `json:"command"`
	DurationMs int64  `json:"duration_ms"`
	ExitCode   int    `json:"exit_code"`
	LogTail    string `json:"log_tail,omitempty"`
}

// ToolError wraps a failed checkpoint/restore invocation with the tail of
// its log, so callers can surface a detailed error (spec.md §4.3/§7).
type ToolError struct {
	Step    Step
	Message string
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("%s: %s (log tail: %s)", e.Step.Name, e.Message, e.Step.LogTail)
}

// Checkpoint invokes the CRIU-style process-image dump tool against pid,
// writing images to imagesDir (spec.md §4.3 "invoke a process-image
// checkpoint tool on the child PID with flags permitting established TCP
// and job-control").
func Checkpoint(ctx context.Context, criuBin string, pid int, imagesDir string) (Step, error) {
	if criuBin == "" {
		criuBin = "criu"
	}
	if err := os.MkdirAll(imagesDir, 0o755); err != nil {
		return Step{}, fmt.Errorf("create images dir: %w", err)
	}

	args := []string{
		"dump",
		"-t", strconv.Itoa(pid),
		"-D", imagesDir,
		"--shell-job",
		"--tcp-established",
		"-v4", "-o", "dump.log",
	}
	step, err := run(ctx, criuBin, args, imagesDir, "checkpoint", "dump.log")
	if err != nil {
		return step, err
	}
	return step, nil
}

// Restore invokes the CRIU-style restore tool, detached, against the images
// in imagesDir, and returns the PID of the restored process (spec.md §4.3
// "invoke the restore tool, detached. Then locate the restored PID").
func Restore(ctx context.Context, criuBin string, imagesDir string) (int, Step, error) {
	if criuBin == "" {
		criuBin = "criu"
	}
	pidFile := filepath.Join(imagesDir, "restored.pid")
	_ = os.Remove(pidFile)

	args := []string{
		"restore",
		"-D", imagesDir,
		"--shell-job",
		"--tcp-established",
		"-d",
		"--pidfile", pidFile,
		"-v4", "-o", "restore.log",
	}
	step, err := run(ctx, criuBin, args, imagesDir, "restore", "restore.log")
	if err != nil {
		return 0, step, err
	}

	data, err := os.ReadFile(pidFile)
	if err != nil {
		return 0, step, &ToolError{Step: step, Message: fmt.Sprintf("pidfile not written: %s", err)}
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, step, &ToolError{Step: step, Message: fmt.Sprintf("invalid pidfile contents: %s", err)}
	}
	return pid, step, nil
}

func run(ctx context.Context, bin string, args []string, dir, name, logFile string) (Step, error) {
	start := time.Now()
	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.Dir = dir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	exitCode := -1
	if cmd.ProcessState != nil {
		exitCode = cmd.ProcessState.ExitCode()
	}
	step := Step{
		Name:       name,
		Command:    bin + " " + strings.Join(args, " "),
		DurationMs: time.Since(start).Milliseconds(),
		ExitCode:   exitCode,
		LogTail:    tail(logOutput(dir, logFile, stdout.String()+stderr.String()), logTailBytes),
	}
	if err != nil {
		return step, &ToolError{Step: step, Message: err.Error()}
	}
	return step, nil
}

// logOutput prefers the tool's own on-disk log (CRIU writes one via -o) and
// falls back to captured stdout/stderr if it isn't there.
func logOutput(dir, logFile, fallback string) string {
	data, err := os.ReadFile(filepath.Join(dir, logFile))
	if err != nil {
		return fallback
	}
	return string(data)
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
