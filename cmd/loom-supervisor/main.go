// Command loom-supervisor owns the kernel as a child process, proxies HTTP
// traffic to it, and hosts the agent loop, checkpoint/restore, and evolve
// endpoints (spec.md §4.3, §6).
//
// # Environment Variables
//
//   - KERNEL_PORT / KERNEL_HOST: address the kernel child binds (default 8080 / 127.0.0.1)
//   - SUPERVISOR_PORT: external listen port (default 9000)
//   - LLM_PROVIDER, ANTHROPIC_API_KEY, OPENAI_API_KEY, ANTHROPIC_MODEL, OPENAI_MODEL
//   - CRIU_CHECKPOINT_DIR: checkpoint image directory
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/loomkernel/loom/internal/agentloop"
	"github.com/loomkernel/loom/internal/checkpoint"
	"github.com/loomkernel/loom/internal/mcp"
	"github.com/loomkernel/loom/internal/supervisor"
)

var (
	flagKernelBin string
	flagPort      int
	flagMemoryDir string
	flagRunsDir   string
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	root := &cobra.Command{
		Use:   "loom-supervisor",
		Short: "Run the loom supervisor",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(logger)
		},
	}
	root.Flags().StringVar(&flagKernelBin, "kernel-bin", envOr("KERNEL_BIN", "loom-kernel"), "path to the loom-kernel binary")
	root.Flags().IntVar(&flagPort, "port", envOrInt("SUPERVISOR_PORT", 9000), "external listen port")
	root.Flags().StringVar(&flagMemoryDir, "memory-dir", envOr("MEMORY_DIR", ".memory"), "persisted chat/tool/digest state directory")
	root.Flags().StringVar(&flagRunsDir, "runs-dir", envOr("RUNS_DIR", filepath.Join(envOr("MEMORY_DIR", ".memory"), "runs")), "evolve run status directory")

	if err := root.Execute(); err != nil {
		logger.Error("supervisor exited with error", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	kernelHost := envOr("KERNEL_HOST", "127.0.0.1")
	kernelPort := envOrInt("KERNEL_PORT", 8080)
	internalAddr := net.JoinHostPort(kernelHost, strconv.Itoa(kernelPort))

	cfg := supervisor.Config{
		InternalAddr:  internalAddr,
		KernelBinPath: flagKernelBin,
		KernelArgs:    []string{"--host", kernelHost, "--port", strconv.Itoa(kernelPort)},
		CriuBinPath:   envOr("CRIU_BIN", "criu"),
		CheckpointDir: envOr("CRIU_CHECKPOINT_DIR", checkpoint.DefaultCheckpointDir),
		EvolveScript:  envOr("EVOLVE_SCRIPT", "./evolve.sh"),
		RunsDir:       flagRunsDir,
		MemoryDir:     flagMemoryDir,
		KernelTools:   envOr("KERNEL_TOOLS_PATH", agentloop.KernelToolsPath),
	}

	srv := supervisor.NewServer(cfg, logger)

	store, err := agentloop.NewStore(cfg.MemoryDir)
	if err != nil {
		return fmt.Errorf("open memory store: %w", err)
	}

	mgr := mcp.NewManager(loadMCPConfig(), logger)
	runner := agentloop.NewRunner(store, srv, mgr, cfg.KernelTools, logger, srv.Metrics())
	srv.SetRunner(runner)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := mgr.Start(ctx); err != nil {
		logger.Warn("mcp manager start reported an error", "error", err)
	}

	if err := srv.SpawnKernel(ctx); err != nil {
		return fmt.Errorf("spawn kernel: %w", err)
	}

	addr := net.JoinHostPort("0.0.0.0", strconv.Itoa(flagPort))
	httpSrv := &http.Server{
		Addr:    addr,
		Handler: srv.Handler(),
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		<-sigCh
		logger.Info("shutting down")
		if err := mgr.Stop(); err != nil {
			logger.Warn("mcp manager stop reported an error", "error", err)
		}
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		_ = httpSrv.Shutdown(shutdownCtx)
	}()

	logger.Info("supervisor listening", "addr", addr, "kernel", internalAddr)
	if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("supervisor http server: %w", err)
	}
	return nil
}

// loadMCPConfig returns an empty, disabled MCP configuration. A real
// deployment supplies its tool-server list via a config file; spec.md's
// Non-goals exclude a config-file layer, so tool servers are left for an
// operator to wire in by editing this function's result or extending the
// flag set.
func loadMCPConfig() *mcp.Config {
	return &mcp.Config{Enabled: false}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envOrInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}
