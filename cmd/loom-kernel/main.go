// Command loom-kernel runs the execution kernel: a persistent Lua namespace
// fronted by an HTTP surface, plus the shell context and resource registry
// the namespace's runtime.* API exposes to executed code (spec.md §4.1, §4.2).
//
// # Environment Variables
//
//   - KERNEL_PORT: listen port (default 8080)
//   - KERNEL_HOST: listen host (default 0.0.0.0)
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/loomkernel/loom/internal/kernelrt"
	"github.com/loomkernel/loom/internal/resource"
)

var (
	flagHost string
	flagPort int
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	root := &cobra.Command{
		Use:   "loom-kernel",
		Short: "Run the loom execution kernel",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), logger)
		},
	}
	root.Flags().StringVar(&flagHost, "host", envOr("KERNEL_HOST", "0.0.0.0"), "listen host")
	root.Flags().IntVar(&flagPort, "port", envOrInt("KERNEL_PORT", 8080), "listen port")

	if err := root.Execute(); err != nil {
		logger.Error("kernel exited with error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger) error {
	registry := resource.NewRegistry()
	shellCtx := kernelrt.NewShellContext()
	ns := kernelrt.NewNamespace(registry, shellCtx)

	// Every handle starts stale; a restart (plain crash or post-checkpoint
	// restore) must force reconnection rather than reuse a descriptor that
	// may point at a process that no longer exists. DESIGN.md's
	// stale-on-boot resolution: call this unconditionally, not only after a
	// detected restore, since the kernel cannot distinguish the two cases
	// from inside its own process.
	registry.MarkAllStale()

	srv := kernelrt.NewServer(ns, shellCtx, logger)
	addr := net.JoinHostPort(flagHost, strconv.Itoa(flagPort))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGUSR1, syscall.SIGTERM, syscall.SIGINT)

	for {
		httpSrv := &http.Server{
			Addr:         addr,
			Handler:      srv.Handler(),
			ReadTimeout:  kernelrt.DefaultShellTimeout + 30*time.Second,
			WriteTimeout: kernelrt.DefaultShellTimeout + 30*time.Second,
		}

		ln, err := net.Listen("tcp", addr)
		if err != nil {
			return fmt.Errorf("kernel listen: %w", err)
		}

		serveErrCh := make(chan error, 1)
		go func() { serveErrCh <- httpSrv.Serve(ln) }()
		logger.Info("kernel listening", "addr", addr)

		select {
		case sig := <-sigCh:
			switch sig {
			case syscall.SIGUSR1:
				// Restart-rebind signal (spec.md §4.1): after a whole-process
				// restore the inherited listening socket may be unusable, so
				// gracefully shut the HTTP listener down and immediately
				// rebind the same port rather than trusting the restored fd.
				logger.Info("received restart signal, rebinding", "addr", addr)
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				_ = httpSrv.Shutdown(shutdownCtx)
				cancel()
				<-serveErrCh
				continue
			case syscall.SIGTERM, syscall.SIGINT:
				logger.Info("shutting down", "signal", sig)
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				_ = httpSrv.Shutdown(shutdownCtx)
				cancel()
				<-serveErrCh
				return nil
			}
		case err := <-serveErrCh:
			if err != nil && err != http.ErrServerClosed {
				return fmt.Errorf("kernel http server: %w", err)
			}
			return nil
		}
	}
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
