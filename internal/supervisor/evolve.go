package supervisor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// evolveState runs the external rebuild script fire-and-forget, guarded by
// a single in-progress flag, and records status under runsDir/<name>/status
// (spec.md §4.3 "evolve").
type evolveState struct {
	script string
	dir    string
	logger *slog.Logger

	inProgress   atomic.Bool
	restartFlag  atomic.Bool
	mu           sync.Mutex
	latestRun    string
	latestStatus string
}

func newEvolveState(script, dir string, logger *slog.Logger) *evolveState {
	return &evolveState{script: script, dir: dir, logger: logger.With("component", "evolve")}
}

type evolveStatus struct {
	Run       string `json:"run"`
	Status    string `json:"status"` // running | ok | error
	StartedAt string `json:"started_at"`
	EndedAt   string `json:"ended_at,omitempty"`
	ExitCode  int    `json:"exit_code,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Start launches the evolve script on its own goroutine unless one is
// already in progress, and returns immediately (spec.md §6 "{status:
// started} (async)").
func (e *evolveState) Start() (string, error) {
	if !e.inProgress.CompareAndSwap(false, true) {
		return "", fmt.Errorf("evolve already in progress")
	}

	// A uuid suffix guards against two evolve calls landing in the same
	// second from colliding on runDir (the in-progress flag already
	// prevents overlap, but a run directory name must stay unique even if
	// that guard is ever relaxed).
	name := time.Now().UTC().Format("20060102T150405Z") + "-" + uuid.NewString()[:8]
	runDir := filepath.Join(e.dir, name)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		e.inProgress.Store(false)
		return "", fmt.Errorf("create run dir: %w", err)
	}

	e.mu.Lock()
	e.latestRun = name
	e.latestStatus = "running"
	e.mu.Unlock()
	e.writeStatus(runDir, evolveStatus{Run: name, Status: "running", StartedAt: time.Now().UTC().Format(time.RFC3339)})

	go e.run(name, runDir)
	return "started", nil
}

func (e *evolveState) run(name, runDir string) {
	defer e.inProgress.Store(false)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
	defer cancel()

	started := time.Now().UTC()
	cmd := exec.CommandContext(ctx, e.script)
	logFile, err := os.Create(filepath.Join(runDir, "output.log"))
	if err == nil {
		cmd.Stdout = logFile
		cmd.Stderr = logFile
		defer logFile.Close()
	}

	runErr := cmd.Run()
	status := evolveStatus{
		Run:       name,
		StartedAt: started.Format(time.RFC3339),
		EndedAt:   time.Now().UTC().Format(time.RFC3339),
	}
	if runErr != nil {
		status.Status = "error"
		status.Error = runErr.Error()
		if cmd.ProcessState != nil {
			status.ExitCode = cmd.ProcessState.ExitCode()
		}
		e.logger.Error("evolve failed", "run", name, "error", runErr)
	} else {
		status.Status = "ok"
		e.restartFlag.Store(true)
	}

	e.mu.Lock()
	e.latestStatus = status.Status
	e.mu.Unlock()
	e.writeStatus(runDir, status)
}

func (e *evolveState) writeStatus(runDir string, status evolveStatus) {
	data, err := json.MarshalIndent(status, "", "  ")
	if err != nil {
		return
	}
	_ = os.WriteFile(filepath.Join(runDir, "status"), data, 0o644)
}

func (e *evolveState) snapshot() map[string]any {
	e.mu.Lock()
	defer e.mu.Unlock()
	return map[string]any{
		"evolve_in_progress": e.inProgress.Load(),
		"restart_pending":    e.restartFlag.Load(),
		"latest_run":         e.latestRun,
		"latest_status":      e.latestStatus,
	}
}

func (s *Server) handleEvolve(w http.ResponseWriter, r *http.Request) {
	status, err := s.evolve.Start()
	if err != nil {
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": status})
}

func (s *Server) handleEvolveStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.evolve.snapshot())
}
