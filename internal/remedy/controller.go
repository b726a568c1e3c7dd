package remedy

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/loykin/vigil/internal/alert"
	"github.com/loykin/vigil/internal/health"
	"github.com/loykin/vigil/internal/history"
	"github.com/loykin/vigil/internal/metrics"
	"github.com/loykin/vigil/internal/provider"
)

// Config tunes the automatic remediation policy.
type Config struct {
	// EscalateAfter is the consecutive-unhealthy count that triggers
	// remediation (default 3).
	EscalateAfter int `mapstructure:"escalate_after"`
	// RestartThreshold bounds successful auto-restarts per process before
	// the controller gives up and demands manual intervention (default 5).
	RestartThreshold int `mapstructure:"restart_threshold"`
	// AlertCooldown suppresses repeat unhealthy alerts for the same
	// process (default 5m). Restart and escalation alerts bypass it.
	AlertCooldown time.Duration `mapstructure:"alert_cooldown"`
	// AutoRestart disables remediation entirely when false; verdicts still
	// produce alerts.
	AutoRestart bool `mapstructure:"auto_restart"`
}

// DefaultConfig returns the reference remediation policy.
func DefaultConfig() Config {
	return Config{
		EscalateAfter:    3,
		RestartThreshold: 5,
		AlertCooldown:    5 * time.Minute,
		AutoRestart:      true,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.EscalateAfter <= 0 {
		c.EscalateAfter = d.EscalateAfter
	}
	if c.RestartThreshold <= 0 {
		c.RestartThreshold = d.RestartThreshold
	}
	if c.AlertCooldown <= 0 {
		c.AlertCooldown = d.AlertCooldown
	}
	return c
}

// Controller turns unhealthy verdicts into bounded restarts and alerts.
// The restart counter per process only advances on successful restarts;
// reaching the threshold resets it to zero after a critical alert, so a
// process that keeps failing is retried in cycles of RestartThreshold.
type Controller struct {
	cfg    Config
	store  *health.Store
	prov   provider.Provider
	alerts *alert.Dispatcher
	hist   history.Sink
	logger *slog.Logger
	now    func() time.Time
	self   string

	mu       sync.Mutex
	attempts map[string]int
}

// NewController builds a remediation controller over the shared health store.
func NewController(cfg Config, store *health.Store, prov provider.Provider, alerts *alert.Dispatcher, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		cfg:      cfg.withDefaults(),
		store:    store,
		prov:     prov,
		alerts:   alerts,
		logger:   logger,
		now:      time.Now,
		attempts: make(map[string]int),
	}
}

// SetSelf names the process this monitor runs as. The controller never
// restarts that name, even when asked.
func (c *Controller) SetSelf(name string) { c.self = name }

// SetHistory attaches an optional audit sink for health and remediation
// events. Delivery failures are logged, never propagated.
func (c *Controller) SetHistory(sink history.Sink) { c.hist = sink }

// Attempts returns the current restart-attempt count for a process.
func (c *Controller) Attempts(name string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempts[name]
}

// HandleVerdict applies the remediation policy to one evaluated process.
// Healthy verdicts reset the consecutive counter; unhealthy verdicts
// increment it, alert under cooldown, and once the counter reaches the
// escalation point trigger a bounded restart. It is called from the
// single in-flight deep pass.
func (c *Controller) HandleVerdict(ctx context.Context, snap provider.ProcessSnapshot, v health.Verdict) {
	now := c.now()
	if v.Healthy {
		if rec, ok := c.store.Lookup(v.Name); ok && rec.ConsecutiveUnhealthy > 0 {
			c.logger.Info("process recovered",
				"process", v.Name, "was_unhealthy", rec.ConsecutiveUnhealthy)
			c.record(ctx, history.EventRecovered, snap, "")
		}
		c.store.MarkHealthy(v.Name, now)
		// A process that came back healthy after an auto-restart earns a
		// fresh restart budget.
		c.mu.Lock()
		delete(c.attempts, v.Name)
		c.mu.Unlock()
		return
	}

	metrics.IncUnhealthy(v.Name)
	consecutive := c.store.MarkUnhealthy(v.Name)
	c.logger.Warn("process unhealthy",
		"process", v.Name, "consecutive", consecutive, "reason", v.Reason())
	c.record(ctx, history.EventUnhealthy, snap, v.Reason())

	c.alertWithCooldown(ctx, alert.New(v.Name, alert.SeverityWarning,
		alert.KindUnhealthy, "unhealthy (%d consecutive): %s", consecutive, v.Reason()), now)

	if consecutive < c.cfg.EscalateAfter || !c.cfg.AutoRestart {
		return
	}
	if c.self != "" && v.Name == c.self {
		c.logger.Warn("refusing to auto-restart own process", "process", v.Name)
		return
	}
	c.remediate(ctx, snap, v, consecutive, now)
}

// remediate performs one bounded restart attempt.
func (c *Controller) remediate(ctx context.Context, snap provider.ProcessSnapshot, v health.Verdict, consecutive int, now time.Time) {
	c.mu.Lock()
	attempts := c.attempts[v.Name]
	c.mu.Unlock()

	if attempts >= c.cfg.RestartThreshold {
		// Give up for this cycle: demand a human and reset the counter so
		// a later recurrence is retried from scratch.
		c.mu.Lock()
		c.attempts[v.Name] = 0
		c.mu.Unlock()
		c.logger.Error("restart threshold reached, manual intervention required",
			"process", v.Name, "attempts", attempts)
		c.record(ctx, history.EventEscalation, snap, v.Reason())
		c.send(ctx, alert.New(v.Name, alert.SeverityCritical, alert.KindEscalation,
			"restart threshold (%d) reached, manual intervention required; reason: %s",
			c.cfg.RestartThreshold, v.Reason()), now)
		return
	}

	c.logger.Info("auto-restarting unhealthy process",
		"process", v.Name, "consecutive", consecutive, "attempt", attempts+1)
	if err := c.prov.Restart(ctx, v.Name); err != nil {
		metrics.IncRestart(v.Name, "failure")
		c.logger.Error("auto-restart failed", "process", v.Name, "error", err)
		c.record(ctx, history.EventRestartFailed, snap, err.Error())
		c.send(ctx, alert.New(v.Name, alert.SeverityCritical, alert.KindRestartFailed,
			"auto-restart failed: %v (was unhealthy: %s)", err, v.Reason()), now)
		return
	}

	c.mu.Lock()
	c.attempts[v.Name] = attempts + 1
	c.mu.Unlock()
	metrics.IncRestart(v.Name, "success")

	// Optimistic reset: the restarted process gets a clean slate until
	// the next pass observes it again.
	c.store.MarkHealthy(v.Name, now)
	c.record(ctx, history.EventRestart, snap, v.Reason())
	c.send(ctx, alert.New(v.Name, alert.SeverityWarning, alert.KindRestart,
		"auto-restart performed (attempt %d/%d); reason: %s",
		attempts+1, c.cfg.RestartThreshold, v.Reason()), now)
}

// AlertWithCooldown sends the alert unless one fired for this process
// within the cooldown window. Used by the basic threshold loop too.
func (c *Controller) AlertWithCooldown(ctx context.Context, a alert.Alert) {
	c.alertWithCooldown(ctx, a, c.now())
}

func (c *Controller) alertWithCooldown(ctx context.Context, a alert.Alert, now time.Time) {
	rec := c.store.Get(a.Process)
	if !rec.LastAlert.IsZero() && now.Sub(rec.LastAlert) < c.cfg.AlertCooldown {
		c.logger.Debug("alert suppressed by cooldown",
			"process", a.Process, "since_last", now.Sub(rec.LastAlert))
		return
	}
	c.send(ctx, a, now)
}

func (c *Controller) send(ctx context.Context, a alert.Alert, now time.Time) {
	c.store.SetLastAlert(a.Process, now)
	metrics.IncAlert(string(a.Severity))
	c.alerts.Send(ctx, a)
}

func (c *Controller) record(ctx context.Context, t history.EventType, snap provider.ProcessSnapshot, reason string) {
	if c.hist == nil {
		return
	}
	e := history.Event{
		Type:       t,
		OccurredAt: c.now().UTC(),
		Name:       snap.Name,
		PID:        snap.PID,
		Reason:     reason,
		CPUPercent: snap.CPUPercent,
		MemoryMB:   snap.MemoryMB(),
	}
	if err := c.hist.Send(ctx, e); err != nil {
		c.logger.Warn("history sink delivery failed", "process", snap.Name, "error", err)
	}
}
