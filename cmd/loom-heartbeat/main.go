// Command loom-heartbeat drives the sleep/wake controller against a running
// supervisor: it polls the kernel for readiness, then alternates awake
// (chat) and sleep (digest) phases forever, with parameters re-sampled each
// cycle from a maturity curve (spec.md §4.5).
//
// # Environment Variables
//
//   - SUPERVISOR_ADDR: base URL of the supervisor (default http://127.0.0.1:9000)
//   - MATURITY_CYCLES, GROWTH_CURVE, MATURITY_JITTER
//   - DAEMON_STATE_DIR: where daemon_state.json is persisted (default .memory)
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/loomkernel/loom/internal/heartbeatd"
	"github.com/loomkernel/loom/internal/metrics"
)

var flagSupervisorAddr string
var flagStateDir string
var flagMetricsPort int

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	root := &cobra.Command{
		Use:   "loom-heartbeat",
		Short: "Run the loom heartbeat daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(logger)
		},
	}
	root.Flags().StringVar(&flagSupervisorAddr, "supervisor-addr", envOr("SUPERVISOR_ADDR", "http://127.0.0.1:9000"), "supervisor base URL")
	root.Flags().StringVar(&flagStateDir, "state-dir", envOr("DAEMON_STATE_DIR", ".memory"), "daemon_state.json directory")
	root.Flags().IntVar(&flagMetricsPort, "metrics-port", envOrInt("HEARTBEAT_METRICS_PORT", 0), "port to serve /metrics on (0 disables)")

	if err := root.Execute(); err != nil {
		logger.Error("heartbeat exited with error", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		<-sigCh
		logger.Info("shutting down")
		cancel()
	}()

	client := &http.Client{Timeout: 650 * time.Second}
	m := metrics.New()

	if flagMetricsPort != 0 {
		metricsSrv := &http.Server{Addr: ":" + strconv.Itoa(flagMetricsPort), Handler: promhttp.Handler()}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Warn("metrics server exited", "error", err)
			}
		}()
		go func() {
			<-ctx.Done()
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer shutdownCancel()
			_ = metricsSrv.Shutdown(shutdownCtx)
		}()
	}

	logger.Info("waiting for kernel", "supervisor", flagSupervisorAddr)
	if err := heartbeatd.WaitForKernel(ctx, client, flagSupervisorAddr, 2*time.Second); err != nil {
		return err
	}
	logger.Info("kernel ready, starting heartbeat loop")

	runner := heartbeatd.NewRunner(heartbeatd.RunnerConfig{
		SupervisorAddr: flagSupervisorAddr,
		StateDir:       flagStateDir,
		Maturity: heartbeatd.MaturityConfig{
			Cycles: envOrFloat("MATURITY_CYCLES", 500),
			Curve:  envOrFloat("GROWTH_CURVE", 0.5),
			Jitter: envOrFloat("MATURITY_JITTER", 0.05),
		},
		HTTPClient: client,
		Logger:     logger,
		Metrics:    m,
	})

	return runner.Run(ctx)
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envOrFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
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
