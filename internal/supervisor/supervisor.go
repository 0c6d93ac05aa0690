package supervisor

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/loomkernel/loom/internal/agentloop"
	"github.com/loomkernel/loom/internal/checkpoint"
	"github.com/loomkernel/loom/internal/metrics"
)

// Config carries everything the supervisor needs to own its kernel child
// and perform checkpoint/restore (spec.md §4.3, §6).
type Config struct {
	InternalAddr  string // e.g. "127.0.0.1:8081", where the kernel binds
	KernelBinPath string
	KernelArgs    []string
	CriuBinPath   string
	CheckpointDir string
	EvolveScript  string
	RunsDir       string
	MemoryDir     string
	KernelTools   string
}

// Server is the supervisor's HTTP surface: the kernel proxy plus the
// checkpoint/restore/cryo/evolve/chat/digest endpoints (spec.md §6).
type Server struct {
	cfg    Config
	logger *slog.Logger

	child *Child
	proxy *httputil.ReverseProxy

	internalAddr string
	checkpointed atomic.Bool

	evolve  *evolveState
	runner  *agentloop.Runner
	metrics *metrics.Metrics

	httpClient *http.Client
	toolClient *http.Client
}

// NewServer builds a supervisor Server. The Server itself implements
// agentloop.KernelClient, the dispatch target for the builtin
// exec_python/run_shell/self_evolve tools (see kerneltools.go).
func NewServer(cfg Config, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:          cfg,
		logger:       logger.With("component", "supervisor"),
		internalAddr: cfg.InternalAddr,
		evolve:       newEvolveState(cfg.EvolveScript, cfg.RunsDir, logger),
		metrics:      metrics.New(),
		httpClient:   &http.Client{Timeout: 30 * time.Second},
		toolClient:   &http.Client{},
	}
	s.child = NewChild(cfg.KernelBinPath, cfg.KernelArgs, cfg.InternalAddr, logger)
	s.proxy = s.newProxy()
	return s
}

// SetRunner wires the agent loop in after construction, since the runner
// itself needs a KernelClient the Server provides.
func (s *Server) SetRunner(r *agentloop.Runner) { s.runner = r }

// Metrics returns the supervisor's metrics bundle so the caller can share a
// single prometheus registration between the Server and the agentloop.Runner
// it hosts (both live in the same process).
func (s *Server) Metrics() *metrics.Metrics { return s.metrics }

// SpawnKernel starts the kernel child and waits for it to become reachable.
func (s *Server) SpawnKernel(ctx context.Context) error {
	if err := s.child.Spawn(nil); err != nil {
		return err
	}
	if !s.child.WaitHealthy(ctx) {
		s.logger.Warn("kernel did not answer /ping within startup window")
	}
	return nil
}

// Handler returns the supervisor's request multiplexer.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/chat", s.handleChat)
	mux.HandleFunc("/chat/history", s.handleChatHistory)
	mux.HandleFunc("/chat/log", s.handleChatLog)
	mux.HandleFunc("/digest", s.handleDigest)
	mux.HandleFunc("/digest/learnings", s.handleLearnings)

	mux.HandleFunc("/cryo/store", s.handleCryoStore)
	mux.HandleFunc("/cryo/reload", s.handleCryoReload)
	mux.HandleFunc("/criu/checkpoint", s.handleCriuCheckpoint)
	mux.HandleFunc("/criu/restore", s.handleCriuRestore)
	mux.HandleFunc("/criu/status", s.handleCriuStatus)

	mux.HandleFunc("/evolve", s.handleEvolve)
	mux.HandleFunc("/evolve/status", s.handleEvolveStatus)

	mux.Handle("/metrics", promhttp.Handler())

	mux.HandleFunc("/", s.proxyHandler)
	return withCORS(mux)
}

func (s *Server) checkpointDir() string {
	if s.cfg.CheckpointDir != "" {
		return s.cfg.CheckpointDir
	}
	return checkpoint.DefaultCheckpointDir
}

func decodeJSON(r *http.Request, v any) {
	if r.Body == nil {
		return
	}
	_ = json.NewDecoder(r.Body).Decode(v)
}
