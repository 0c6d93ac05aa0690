package supervisor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/loomkernel/loom/internal/checkpoint"
	"github.com/loomkernel/loom/internal/kernelrt"
)

type cryoWire struct {
	Globals map[string]kernelrt.ScalarValue `json:"globals"`
}

func (s *Server) fetchCryoSnapshot(ctx context.Context) (map[string]kernelrt.ScalarValue, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "http://"+s.internalAddr+"/cryo/snapshot", nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("kernel unreachable: %w", err)
	}
	defer resp.Body.Close()

	var payload cryoWire
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, err
	}
	return payload.Globals, nil
}

func (s *Server) pushCryoSnapshot(ctx context.Context, globals map[string]kernelrt.ScalarValue) error {
	body, err := json.Marshal(cryoWire{Globals: globals})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "http://"+s.internalAddr+"/cryo/restore", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("kernel unreachable: %w", err)
	}
	defer resp.Body.Close()
	return nil
}

// cryoStoreToDisk fetches the kernel's current globals snapshot and writes
// it to dir as the closed-schema cryo fallback (spec.md §4.3 step 1).
func (s *Server) cryoStoreToDisk(ctx context.Context, dir string) error {
	globals, err := s.fetchCryoSnapshot(ctx)
	if err != nil {
		return err
	}
	return checkpoint.WriteSnapshot(dir, globals)
}

func (s *Server) handleCryoStore(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()
	if err := s.cryoStoreToDisk(ctx, s.checkpointDir()); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "completed", "message": "namespace snapshot written"})
}

func (s *Server) handleCryoReload(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	globals, err := checkpoint.ReadSnapshot(s.checkpointDir())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if err := s.pushCryoSnapshot(ctx, globals); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "completed", "message": "namespace snapshot reloaded"})
}

// handleCriuCheckpoint performs the whole-process image checkpoint (spec.md
// §4.3 "checkpoint"): a best-effort cryo snapshot first, then the CRIU-style
// dump. While checkpointed, all proxied traffic 503s until restore.
func (s *Server) handleCriuCheckpoint(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if err := s.cryoStoreToDisk(ctx, s.checkpointDir()); err != nil {
		s.logger.Warn("cryo pre-checkpoint snapshot failed, continuing with criu only", "error", err)
	}

	pid := s.child.PID()
	if pid == 0 {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "no kernel process to checkpoint"})
		return
	}

	step, err := checkpoint.Checkpoint(ctx, s.cfg.CriuBinPath, pid, s.checkpointDir())
	if err != nil {
		s.metrics.CheckpointCounter.WithLabelValues("checkpoint", "error").Inc()
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"error": err.Error(),
			"step":  step,
		})
		return
	}

	s.checkpointed.Store(true)
	s.metrics.CheckpointCounter.WithLabelValues("checkpoint", "ok").Inc()
	writeJSON(w, http.StatusOK, map[string]any{"status": "completed", "step": step})
}

// handleCriuRestore resumes the kernel from its checkpoint, falling back to
// state-only recovery if the restored process does not come back up within
// the health window (spec.md §4.3 "restore").
func (s *Server) handleCriuRestore(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if s.child.Alive() {
		_ = s.child.Kill()
	}

	pid, step, err := checkpoint.Restore(ctx, s.cfg.CriuBinPath, s.checkpointDir())
	if err != nil {
		s.metrics.CheckpointCounter.WithLabelValues("restore", "error").Inc()
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error(), "step": step})
		return
	}
	s.child.SetPID(pid)
	_ = s.child.SendRestart()

	if s.child.WaitHealthy(ctx) {
		s.checkpointed.Store(false)
		s.metrics.CheckpointCounter.WithLabelValues("restore", "ok").Inc()
		writeJSON(w, http.StatusOK, map[string]any{"status": "completed", "pid": pid, "state_only": false})
		return
	}

	// Socket recovery failed: kill the zombie, spawn fresh, reload cryo.
	_ = s.child.Kill()
	if err := s.SpawnKernel(ctx); err != nil {
		s.metrics.CheckpointCounter.WithLabelValues("restore", "error").Inc()
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": fmt.Sprintf("fallback spawn failed: %s", err)})
		return
	}
	if globals, err := checkpoint.ReadSnapshot(s.checkpointDir()); err == nil {
		_ = s.pushCryoSnapshot(ctx, globals)
	}

	s.checkpointed.Store(false)
	s.metrics.CheckpointCounter.WithLabelValues("restore", "state_only").Inc()
	writeJSON(w, http.StatusOK, map[string]any{"status": "completed", "pid": s.child.PID(), "state_only": true})
}

func (s *Server) handleCriuStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"criu":            s.cfg.CriuBinPath != "",
		"kernel_pid":      s.child.PID(),
		"is_checkpointed": s.checkpointed.Load(),
		"checkpoint_dir":  s.checkpointDir(),
	})
}
