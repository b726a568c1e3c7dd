package health

import (
	"context"
	"fmt"
	"time"

	"github.com/loykin/vigil/internal/provider"
)

// trendWindow is how many recent samples the stuck/leak heuristics look at.
// With fewer samples recorded the heuristic abstains rather than guess.
const trendWindow = 5

// Pinger is the liveness subset of the manager API the metric evaluator needs.
type Pinger interface {
	Ping(ctx context.Context, name string) error
}

// MetricConfig tunes the process-metric heuristics.
type MetricConfig struct {
	StuckAfter      time.Duration `mapstructure:"stuck_after"`       // min uptime before stuck check (default 5m)
	StuckCPUPercent float64       `mapstructure:"stuck_cpu_percent"` // mean CPU below this is stuck (default 0.1)
	LeakThresholdMB float64       `mapstructure:"leak_threshold_mb"` // leak check active above this (default 500)
	RestartBurst    int           `mapstructure:"restart_burst"`     // restart delta above this flags (default 3)
}

// DefaultMetricConfig returns the reference heuristic thresholds.
func DefaultMetricConfig() MetricConfig {
	return MetricConfig{
		StuckAfter:      5 * time.Minute,
		StuckCPUPercent: 0.1,
		LeakThresholdMB: 500,
		RestartBurst:    3,
	}
}

func (c MetricConfig) withDefaults() MetricConfig {
	d := DefaultMetricConfig()
	if c.StuckAfter <= 0 {
		c.StuckAfter = d.StuckAfter
	}
	if c.StuckCPUPercent <= 0 {
		c.StuckCPUPercent = d.StuckCPUPercent
	}
	if c.LeakThresholdMB <= 0 {
		c.LeakThresholdMB = d.LeakThresholdMB
	}
	if c.RestartBurst <= 0 {
		c.RestartBurst = d.RestartBurst
	}
	return c
}

// MetricEvaluator applies the four process-metric heuristics: stuck process,
// memory-leak trend, restart bursts, and manager-level liveness pings.
type MetricEvaluator struct {
	cfg    MetricConfig
	pinger Pinger
	now    func() time.Time
}

var _ Evaluator = (*MetricEvaluator)(nil)

// NewMetricEvaluator builds the metric-heuristic strategy. pinger may be nil
// to disable the responsiveness check (the other three still apply).
func NewMetricEvaluator(cfg MetricConfig, pinger Pinger) *MetricEvaluator {
	return &MetricEvaluator{cfg: cfg.withDefaults(), pinger: pinger, now: time.Now}
}

// Evaluate runs every heuristic and collects all flagged reasons; a single
// flag makes the verdict unhealthy.
func (e *MetricEvaluator) Evaluate(ctx context.Context, snap provider.ProcessSnapshot, rec Record) Verdict {
	var reasons []string
	if r, ok := e.checkStuck(snap, rec); ok {
		reasons = append(reasons, r)
	}
	if r, ok := e.checkLeak(snap, rec); ok {
		reasons = append(reasons, r)
	}
	if r, ok := e.checkRestartBurst(rec); ok {
		reasons = append(reasons, r)
	}
	if r, ok := e.checkResponsive(ctx, snap.Name); ok {
		reasons = append(reasons, r)
	}
	if len(reasons) > 0 {
		return Verdict{Name: snap.Name, Reasons: reasons}
	}
	return healthy(snap.Name)
}

// checkStuck flags long-running processes whose mean CPU over the last
// trendWindow samples is effectively zero. Abstains until the process has
// run long enough and enough samples exist.
func (e *MetricEvaluator) checkStuck(snap provider.ProcessSnapshot, rec Record) (string, bool) {
	up, ok := snap.Uptime(e.now())
	if !ok || up < e.cfg.StuckAfter {
		return "", false
	}
	if len(rec.CPUSamples) < trendWindow {
		return "", false
	}
	recent := rec.CPUSamples[len(rec.CPUSamples)-trendWindow:]
	var sum float64
	for _, s := range recent {
		sum += s.Value
	}
	mean := sum / trendWindow
	if mean >= e.cfg.StuckCPUPercent {
		return "", false
	}
	return fmt.Sprintf("stuck: mean CPU %.3f%% over last %d samples", mean, trendWindow), true
}

// checkLeak flags monotonically rising memory once usage is already above
// the leak threshold. At least 3 of the 4 pairwise comparisons across the
// last 5 samples must be strict increases.
func (e *MetricEvaluator) checkLeak(snap provider.ProcessSnapshot, rec Record) (string, bool) {
	if snap.MemoryMB() <= e.cfg.LeakThresholdMB {
		return "", false
	}
	if len(rec.MemorySamples) < trendWindow {
		return "", false
	}
	recent := rec.MemorySamples[len(rec.MemorySamples)-trendWindow:]
	increases := 0
	for i := 1; i < len(recent); i++ {
		if recent[i].Value > recent[i-1].Value {
			increases++
		}
	}
	if increases < trendWindow-2 {
		return "", false
	}
	return fmt.Sprintf("potential memory leak: %.0fMB and rising (%d/%d increasing)",
		snap.MemoryMB(), increases, trendWindow-1), true
}

// checkRestartBurst flags a restart-count jump larger than the burst limit
// since the previous pass. The baseline was already advanced by Observe.
func (e *MetricEvaluator) checkRestartBurst(rec Record) (string, bool) {
	if rec.RestartDelta <= e.cfg.RestartBurst {
		return "", false
	}
	return fmt.Sprintf("frequent restarts: %d since last check", rec.RestartDelta), true
}

// checkResponsive pings the process through the manager; any error counts
// as unresponsive.
func (e *MetricEvaluator) checkResponsive(ctx context.Context, name string) (string, bool) {
	if e.pinger == nil {
		return "", false
	}
	if err := e.pinger.Ping(ctx, name); err != nil {
		return fmt.Sprintf("unresponsive: %v", err), true
	}
	return "", false
}
