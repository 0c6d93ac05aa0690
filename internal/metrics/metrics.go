// Package metrics provides the prometheus counters and histograms shared by
// the kernel, supervisor, and heartbeat binaries (SPEC_FULL.md AMBIENT STACK
// "Metrics"). Grounded directly on the teacher's
// internal/observability/metrics.go: one promauto-registered CounterVec/
// HistogramVec per concern, scaled down to what this runtime actually
// measures (exec latency, tool-call latency, checkpoint/restore outcomes,
// heartbeat cycle counts).
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics bundles every gauge/counter/histogram this runtime publishes.
type Metrics struct {
	// ExecCounter counts kernel exec calls by outcome (completed|failed|busy).
	ExecCounter *prometheus.CounterVec

	// ExecDuration measures exec wall time in seconds.
	ExecDuration prometheus.Histogram

	// ShellCounter counts shell calls by outcome (ok|timeout|error).
	ShellCounter *prometheus.CounterVec

	// ToolCallCounter counts dispatched tool calls by tool name and status.
	ToolCallCounter *prometheus.CounterVec

	// ToolCallDuration measures tool-call latency in seconds by tool name.
	ToolCallDuration *prometheus.HistogramVec

	// CheckpointCounter counts checkpoint/restore operations by op and outcome.
	CheckpointCounter *prometheus.CounterVec

	// HeartbeatCycles counts completed awake/sleep cycles.
	HeartbeatCycles prometheus.Counter

	// HeartbeatMaturity is the most recently sampled maturity value.
	HeartbeatMaturity prometheus.Gauge
}

// New registers and returns a fresh Metrics bundle against the default
// prometheus registry, as the teacher's NewMetrics does.
func New() *Metrics {
	return &Metrics{
		ExecCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "loom_kernel_exec_total",
				Help: "Total number of kernel exec calls by outcome",
			},
			[]string{"status"},
		),
		ExecDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "loom_kernel_exec_duration_seconds",
				Help:    "Duration of kernel exec calls in seconds",
				Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5, 30, 60},
			},
		),
		ShellCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "loom_kernel_shell_total",
				Help: "Total number of kernel shell calls by outcome",
			},
			[]string{"status"},
		),
		ToolCallCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "loom_agent_tool_calls_total",
				Help: "Total number of tool calls by tool name and status",
			},
			[]string{"tool_name", "status"},
		),
		ToolCallDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "loom_agent_tool_call_duration_seconds",
				Help:    "Duration of tool calls in seconds by tool name",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 90},
			},
			[]string{"tool_name"},
		),
		CheckpointCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "loom_supervisor_checkpoint_total",
				Help: "Total number of checkpoint/restore operations by op and outcome",
			},
			[]string{"op", "outcome"},
		),
		HeartbeatCycles: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "loom_heartbeat_cycles_total",
				Help: "Total number of completed awake/sleep cycles",
			},
		),
		HeartbeatMaturity: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "loom_heartbeat_maturity",
				Help: "Most recently sampled maturity value in [0, 1]",
			},
		),
	}
}
