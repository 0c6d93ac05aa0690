package heartbeatd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"time"

	"github.com/loomkernel/loom/internal/metrics"
)

// RunnerConfig configures one heartbeat daemon instance. Naming follows the
// teacher's internal/agents/heartbeat RunnerConfig convention.
type RunnerConfig struct {
	SupervisorAddr string
	StateDir       string
	Maturity       MaturityConfig
	HTTPClient     *http.Client
	Logger         *slog.Logger
	Metrics        *metrics.Metrics
}

// Runner drives the endless AWAKE/SLEEP state machine against a supervisor's
// /chat and /digest endpoints (spec.md §4.5).
type Runner struct {
	cfg     RunnerConfig
	client  *http.Client
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewRunner builds a Runner from cfg, filling in defaults.
func NewRunner(cfg RunnerConfig) *Runner {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Maturity == (MaturityConfig{}) {
		cfg.Maturity = DefaultMaturityConfig()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.New()
	}
	return &Runner{cfg: cfg, client: cfg.HTTPClient, logger: cfg.Logger.With("component", "heartbeatd"), metrics: cfg.Metrics}
}

// Run drives the endless AWAKE -> SLEEP -> AWAKE alternation until ctx is
// cancelled. Crashes restart from the persisted cycle counter on the next
// process launch, per spec.md §5's cancellation guarantee.
func (r *Runner) Run(ctx context.Context) error {
	state, err := loadState(r.cfg.StateDir)
	if err != nil {
		return fmt.Errorf("load daemon state: %w", err)
	}

	bootedThisProcess := false
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		m := Maturity(state.TotalCycles, r.cfg.Maturity)
		r.metrics.HeartbeatMaturity.Set(m)
		params := Sample(m)
		r.logger.Info("cycle start", "total_cycles", state.TotalCycles, "maturity", m,
			"min_awake", params.MinAwake, "capacity", params.Capacity,
			"cooldown_s", params.CooldownS, "replay_ratio", params.ReplayRatio)

		if err := r.awakePhase(ctx, params, &bootedThisProcess); err != nil {
			return fmt.Errorf("awake phase: %w", err)
		}

		if err := r.sleepPhase(ctx, params); err != nil {
			r.logger.Warn("digest failed, continuing", "error", err)
		}

		state.TotalCycles++
		r.metrics.HeartbeatCycles.Inc()
		if err := saveState(r.cfg.StateDir, state); err != nil {
			r.logger.Warn("persist daemon state failed", "error", err)
		}
	}
}

// awakePhase posts chats until the sampled count/capacity roll says to stop
// (spec.md §4.5 "Awake phase").
func (r *Runner) awakePhase(ctx context.Context, params Params, bootedThisProcess *bool) error {
	count := 0
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		message := "continue"
		if !*bootedThisProcess {
			message = "boot"
			*bootedThisProcess = true
		}

		resp, err := r.postChat(ctx, message)
		if err != nil {
			r.logger.Warn("chat post failed", "error", err)
		} else if text, ok := resp["response"].(string); ok {
			if ack := StripAck(text); ack.NoOp {
				r.logger.Debug("quiet heartbeat", "count", count+1)
			}
		}
		count++

		if count < params.MinAwake {
			if err := sleepCtx(ctx, time.Duration(params.CooldownS*float64(time.Second))); err != nil {
				return err
			}
			continue
		}

		p := params.SleepProbability(count)
		if rollUniform() < p {
			return nil
		}
		if err := sleepCtx(ctx, time.Duration(params.CooldownS*float64(time.Second))); err != nil {
			return err
		}
	}
}

// sleepPhase posts a digest with the sampled replay ratio and a 600s ceiling
// (spec.md §4.5 "Sleep phase", §5 "digest ... 600 s ceiling").
func (r *Runner) sleepPhase(ctx context.Context, params Params) error {
	dctx, cancel := context.WithTimeout(ctx, 600*time.Second)
	defer cancel()
	_, err := r.postDigest(dctx, params.ReplayRatio)
	return err
}

type chatPostBody struct {
	Message string `json:"message"`
}

func (r *Runner) postChat(ctx context.Context, message string) (map[string]any, error) {
	return r.postJSON(ctx, "/chat", chatPostBody{Message: message})
}

type digestPostBody struct {
	ReplayRatio float64 `json:"replay_ratio"`
}

func (r *Runner) postDigest(ctx context.Context, replayRatio float64) (map[string]any, error) {
	_, err := r.postJSON(ctx, "/digest", digestPostBody{ReplayRatio: replayRatio})
	return nil, err
}

func (r *Runner) postJSON(ctx context.Context, path string, body any) (map[string]any, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.cfg.SupervisorAddr+path, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("supervisor unreachable: %w", err)
	}
	defer resp.Body.Close()

	var out map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&out)
	if resp.StatusCode >= 400 {
		return out, fmt.Errorf("supervisor returned %d: %v", resp.StatusCode, out)
	}
	return out, nil
}

// WaitForKernel polls addr's /ping until it responds or ctx is cancelled,
// per spec.md §4.5 "Polls the kernel port until ready".
func WaitForKernel(ctx context.Context, client *http.Client, addr string, pollInterval time.Duration) error {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	for {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, addr+"/ping", nil)
		if err == nil {
			if resp, err := client.Do(req); err == nil {
				resp.Body.Close()
				if resp.StatusCode == http.StatusOK {
					return nil
				}
			}
		}
		if err := sleepCtx(ctx, pollInterval); err != nil {
			return err
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// #nosec G404 -- sampling roll, not cryptographic material
func rollUniform() float64 {
	return rand.Float64()
}
