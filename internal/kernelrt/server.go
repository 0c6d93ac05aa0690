package kernelrt

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/loomkernel/loom/internal/metrics"
)

// Server is the kernel's HTTP surface: exec, reset, shell, and status
// endpoints, serialized by a single non-blocking exec lock (spec.md §4.1/§5).
type Server struct {
	ns       *Namespace
	shellCtx *ShellContext
	logger   *slog.Logger
	metrics  *metrics.Metrics

	execLock sync.Mutex
	busy     atomic.Bool
}

// NewServer builds a kernel HTTP server around ns and shellCtx.
func NewServer(ns *Namespace, shellCtx *ShellContext, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{ns: ns, shellCtx: shellCtx, logger: logger.With("component", "kernel"), metrics: metrics.New()}
}

// Handler returns the kernel's request multiplexer.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/exec", s.handleExec)
	mux.HandleFunc("/reset", s.handleReset)
	mux.HandleFunc("/shell", s.handleShell)
	mux.HandleFunc("/shell/cd", s.handleShellCd)
	mux.HandleFunc("/shell/env", s.handleShellEnv)
	mux.HandleFunc("/ping", s.handlePing)
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/cryo/snapshot", s.handleCryoSnapshot)
	mux.HandleFunc("/cryo/restore", s.handleCryoRestore)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/", s.handleRoot)
	return withCORS(mux)
}

// cryoPayload is the wire shape the supervisor's cryo store/reload path
// moves across the kernel's HTTP surface (spec.md §4.3 "cryo/store,
// cryo/reload -- the state-only path exposed directly").
type cryoPayload struct {
	Globals map[string]ScalarValue `json:"globals"`
}

func (s *Server) handleCryoSnapshot(w http.ResponseWriter, r *http.Request) {
	globals, err := s.ns.SnapshotScalars()
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, cryoPayload{Globals: globals})
}

func (s *Server) handleCryoRestore(w http.ResponseWriter, r *http.Request) {
	var payload cryoPayload
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&payload)
	}
	if err := s.ns.RestoreScalars(payload.Globals); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "completed"})
}

func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		if r.Method == http.MethodOptions {
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type execRequest struct {
	ID   string `json:"id"`
	Code string `json:"code"`
}

func (s *Server) handleExec(w http.ResponseWriter, r *http.Request) {
	var req execRequest
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}

	if !s.execLock.TryLock() {
		s.metrics.ExecCounter.WithLabelValues("busy").Inc()
		writeJSON(w, http.StatusTooManyRequests, ExecResult{
			Status: "busy",
			Error:  &ExecError{Type: "Busy", Message: "Another execution is in progress"},
		})
		return
	}
	s.busy.Store(true)
	defer func() {
		s.busy.Store(false)
		s.execLock.Unlock()
	}()

	start := time.Now()
	result := s.ns.Exec(req.Code)
	s.metrics.ExecDuration.Observe(time.Since(start).Seconds())
	result.ID = req.ID

	status := http.StatusOK
	if result.Status == "failed" {
		status = http.StatusInternalServerError
	}
	s.metrics.ExecCounter.WithLabelValues(result.Status).Inc()
	writeJSON(w, status, result)
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	s.ns.Reset()
	writeJSON(w, http.StatusOK, map[string]string{"status": "completed"})
}

type shellRequest struct {
	Command string `json:"command"`
}

func (s *Server) handleShell(w http.ResponseWriter, r *http.Request) {
	var req shellRequest
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}
	if req.Command == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Missing 'command'"})
		return
	}

	result := s.shellCtx.Run(req.Command)
	status := http.StatusOK
	outcome := "ok"
	if result.ReturnCode != 0 {
		outcome = "error"
	}
	if result.ReturnCode == -1 {
		// -1 only marks timeout or spawn failure (ShellContext.Run); a
		// command that merely exited non-zero still completed normally.
		status = http.StatusInternalServerError
		outcome = "timeout"
	}
	s.metrics.ShellCounter.WithLabelValues(outcome).Inc()
	writeJSON(w, status, result)
}

type shellCdRequest struct {
	Path string `json:"path"`
}

func (s *Server) handleShellCd(w http.ResponseWriter, r *http.Request) {
	var req shellCdRequest
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}
	if req.Path == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Missing 'path'"})
		return
	}
	s.shellCtx.SetCwd(req.Path)
	writeJSON(w, http.StatusOK, map[string]string{"status": "completed", "path": req.Path})
}

type shellEnvRequest struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

func (s *Server) handleShellEnv(w http.ResponseWriter, r *http.Request) {
	var req shellEnvRequest
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}
	if req.Key == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Missing 'key'"})
		return
	}
	s.shellCtx.SetEnv(req.Key, req.Value)
	writeJSON(w, http.StatusOK, map[string]string{"status": "completed", "key": req.Key, "value": req.Value})
}

func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":          "ok",
		"exec_count":      s.ns.ExecCount(),
		"resources_count": s.ns.ResourceCount(),
		"busy":            s.busy.Load(),
	})
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "Not found"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"service": "loom-kernel",
		"endpoints": map[string]string{
			"POST /exec":      "Execute code",
			"POST /shell":     "Run shell command",
			"POST /shell/cd":  "Set shell cwd",
			"POST /shell/env": "Set shell env var",
			"POST /reset":     "Clear namespace",
			"GET /ping":       "Health check",
			"GET /status":     "Kernel status",
		},
	})
}
