package monitor

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/loykin/vigil/internal/alert"
	"github.com/loykin/vigil/internal/health"
	"github.com/loykin/vigil/internal/metrics"
	"github.com/loykin/vigil/internal/provider"
	"github.com/loykin/vigil/internal/remedy"
)

// ErrPassInFlight is returned when an on-demand deep pass is requested
// while a scheduled one is still running.
var ErrPassInFlight = errors.New("monitor: deep-health pass already in flight")

// Config tunes the two monitoring loops.
type Config struct {
	// Interval drives the basic threshold loop (default 30s).
	Interval time.Duration `mapstructure:"interval"`
	// CPULimitPercent is the static CPU alert threshold (default 80).
	CPULimitPercent float64 `mapstructure:"cpu_limit_percent"`
	// MemoryLimitMB is the static memory alert threshold (default 1024).
	MemoryLimitMB float64 `mapstructure:"memory_limit_mb"`
	// HealthCheck enables the deep-health loop.
	HealthCheck bool `mapstructure:"health_check"`
	// HealthInterval drives the deep-health loop (default 60s).
	HealthInterval time.Duration `mapstructure:"health_interval"`
	// SelfName overrides the auto-detected name of the monitor's own
	// process in the managed fleet.
	SelfName string `mapstructure:"self_name"`
}

// DefaultConfig returns the reference loop settings.
func DefaultConfig() Config {
	return Config{
		Interval:        30 * time.Second,
		CPULimitPercent: 80,
		MemoryLimitMB:   1024,
		HealthCheck:     true,
		HealthInterval:  60 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Interval <= 0 {
		c.Interval = d.Interval
	}
	if c.CPULimitPercent <= 0 {
		c.CPULimitPercent = d.CPULimitPercent
	}
	if c.MemoryLimitMB <= 0 {
		c.MemoryLimitMB = d.MemoryLimitMB
	}
	if c.HealthInterval <= 0 {
		c.HealthInterval = d.HealthInterval
	}
	return c
}

// Scheduler drives the basic threshold loop and the deep-health loop.
// Deep passes hold a single in-flight flag; a tick that fires while a
// pass is still running is dropped, never queued, which keeps store
// mutations single-writer.
type Scheduler struct {
	cfg        Config
	prov       provider.Provider
	store      *health.Store
	evaluators []health.Evaluator
	ctrl       *remedy.Controller
	logger     *slog.Logger
	self       string

	inFlight atomic.Bool
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// NewScheduler wires the monitoring loops together. The self name is
// resolved once at construction and excluded from every pass.
func NewScheduler(cfg Config, prov provider.Provider, store *health.Store, evaluators []health.Evaluator, ctrl *remedy.Controller, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.withDefaults()
	self := remedy.ResolveSelf(cfg.SelfName, logger)
	if ctrl != nil {
		ctrl.SetSelf(self)
	}
	return &Scheduler{
		cfg:        cfg,
		prov:       prov,
		store:      store,
		evaluators: evaluators,
		ctrl:       ctrl,
		logger:     logger,
		self:       self,
	}
}

// Self returns the resolved own-process name, empty when unknown.
func (s *Scheduler) Self() string { return s.self }

// Start launches both loops. They stop when ctx is canceled or Stop is
// called.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)

	s.wg.Add(1)
	go s.loop(ctx, s.cfg.Interval, "basic", func(c context.Context) {
		s.BasicPass(c)
	})

	if s.cfg.HealthCheck {
		s.wg.Add(1)
		go s.loop(ctx, s.cfg.HealthInterval, "deep", func(c context.Context) {
			if err := s.DeepPass(c); err != nil && !errors.Is(err, ErrPassInFlight) {
				s.logger.Error("deep-health pass failed", "error", err)
			}
		})
	}

	s.logger.Info("monitor started",
		"basic_interval", s.cfg.Interval,
		"deep_interval", s.cfg.HealthInterval,
		"deep_enabled", s.cfg.HealthCheck,
		"self", s.self)
}

// Stop cancels the loops and waits for them to exit.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

func (s *Scheduler) loop(ctx context.Context, interval time.Duration, name string, pass func(context.Context)) {
	defer s.wg.Done()
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			s.logger.Debug("monitor loop stopped", "loop", name)
			return
		case <-t.C:
			pass(ctx)
		}
	}
}

// BasicPass fetches a fleet snapshot and alerts on static CPU/memory
// threshold violations. It never remediates.
func (s *Scheduler) BasicPass(ctx context.Context) {
	snaps, err := s.prov.List(ctx)
	if err != nil {
		s.logger.Warn("snapshot fetch failed", "error", err)
		return
	}
	snaps = remedy.ExcludeSelf(snaps, s.self)
	s.publishFleet(snaps)
	metrics.SampleSelf()

	for _, snap := range snaps {
		if snap.Status != provider.StatusOnline {
			continue
		}
		if snap.CPUPercent > s.cfg.CPULimitPercent {
			s.ctrl.AlertWithCooldown(ctx, alert.New(snap.Name, alert.SeverityWarning,
				alert.KindThreshold, "CPU usage %.1f%% exceeds limit %.1f%%",
				snap.CPUPercent, s.cfg.CPULimitPercent))
		}
		if snap.MemoryMB() > s.cfg.MemoryLimitMB {
			s.ctrl.AlertWithCooldown(ctx, alert.New(snap.Name, alert.SeverityWarning,
				alert.KindThreshold, "memory usage %.0fMB exceeds limit %.0fMB",
				snap.MemoryMB(), s.cfg.MemoryLimitMB))
		}
	}
	metrics.IncPass("basic")
}

// DeepPass runs one full evaluation pass: observe samples, run every
// evaluator, and hand the combined verdict to the remediation
// controller. Only online processes are evaluated, in snapshot order;
// a process the manager reports as stopped or errored gets no record
// and no remediation. Returns ErrPassInFlight when another pass holds
// the guard.
func (s *Scheduler) DeepPass(ctx context.Context) error {
	if !s.inFlight.CompareAndSwap(false, true) {
		metrics.IncDroppedPass()
		s.logger.Debug("deep-health tick dropped, previous pass still running")
		return ErrPassInFlight
	}
	defer s.inFlight.Store(false)

	snaps, err := s.prov.List(ctx)
	if err != nil {
		return err
	}
	snaps = remedy.ExcludeSelf(snaps, s.self)

	now := time.Now()
	for _, snap := range snaps {
		if snap.Status != provider.StatusOnline {
			continue
		}
		rec := s.store.Observe(snap.Name, snap.CPUPercent, snap.MemoryBytes, snap.RestartCount, now)
		v := s.evaluate(ctx, snap, rec)
		if v.Probe != nil {
			s.store.RecordProbe(snap.Name, v.Probe.Status, v.Probe.Latency)
			metrics.ObserveProbeLatency(snap.Name, v.Probe.Latency.Seconds())
		}
		s.ctrl.HandleVerdict(ctx, snap, v)
	}
	metrics.IncPass("deep")
	return nil
}

// evaluate combines all evaluator verdicts for one process. The process
// is healthy only when every evaluator says so; reasons accumulate.
func (s *Scheduler) evaluate(ctx context.Context, snap provider.ProcessSnapshot, rec health.Record) health.Verdict {
	out := health.Verdict{Name: snap.Name, Healthy: true}
	for _, e := range s.evaluators {
		v := e.Evaluate(ctx, snap, rec)
		if !v.Healthy {
			out.Healthy = false
		}
		out.Reasons = append(out.Reasons, v.Reasons...)
		if v.Probe != nil {
			out.Probe = v.Probe
		}
	}
	return out
}

// publishFleet refreshes fleet-level and per-process gauges.
func (s *Scheduler) publishFleet(snaps []provider.ProcessSnapshot) {
	counts := map[provider.Status]int{
		provider.StatusOnline:  0,
		provider.StatusStopped: 0,
		provider.StatusErrored: 0,
		provider.StatusUnknown: 0,
	}
	for _, snap := range snaps {
		counts[snap.Status]++
		metrics.SetProcessUsage(snap.Name, snap.CPUPercent, snap.MemoryMB())
	}
	for st, n := range counts {
		metrics.SetFleetCount(string(st), n)
	}
}
