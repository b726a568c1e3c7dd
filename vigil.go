package vigil

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/loykin/vigil/internal/alert"
	cfg "github.com/loykin/vigil/internal/config"
	"github.com/loykin/vigil/internal/health"
	"github.com/loykin/vigil/internal/history/factory"
	"github.com/loykin/vigil/internal/logger"
	"github.com/loykin/vigil/internal/metrics"
	"github.com/loykin/vigil/internal/monitor"
	"github.com/loykin/vigil/internal/provider"
	"github.com/loykin/vigil/internal/remedy"
	iapi "github.com/loykin/vigil/internal/server"
)

// Re-export core types for external consumers.
// These are aliases so conversions are zero-cost.

type Config = cfg.Config

type ProcessSnapshot = provider.ProcessSnapshot

type HealthRecord = health.Record

type Verdict = health.Verdict

type Alert = alert.Alert

// LoadConfig reads a TOML config file, overlaying it on the defaults.
func LoadConfig(path string) (Config, error) { return cfg.Load(path) }

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() Config { return cfg.Default() }

// Monitor is the assembled supervisory health-monitor: provider client,
// health store, evaluators, remediation controller, alert fan-out, and
// the two scheduler loops.
type Monitor struct {
	cfg     Config
	logger  *slog.Logger
	logsink io.Closer

	prov   provider.Provider
	store  *health.Store
	disp   *alert.Dispatcher
	ctrl   *remedy.Controller
	sched  *monitor.Scheduler
	closer []io.Closer
}

// New assembles a monitor from the configuration. The returned monitor
// is idle until Start is called.
func New(c Config) (*Monitor, error) {
	log, logClose := logger.New(c.Log)

	c.Manager.Logger = log
	prov := provider.NewManagerClient(c.Manager)
	store := health.NewStore()

	sinks := []alert.Sink{&alert.LogSink{Logger: log}}
	var closers []io.Closer
	for _, u := range c.Alerts.WebhookURLs {
		sinks = append(sinks, alert.NewWebhookSink(u, c.Alerts.WebhookTimeout))
	}
	if c.Alerts.File != "" {
		fs := alert.NewFileSink(c.Alerts.File, c.Alerts.FileMaxSizeMB,
			c.Alerts.FileMaxBackups, c.Alerts.FileMaxAgeDays, c.Alerts.FileCompress)
		sinks = append(sinks, fs)
		closers = append(closers, fs)
	}
	disp := alert.NewDispatcher(log, sinks...)

	ctrl := remedy.NewController(c.Remedy, store, prov, disp, log)
	if c.History.DSN != "" {
		sink, err := factory.NewSinkFromDSN(c.History.DSN)
		if err != nil {
			if logClose != nil {
				_ = logClose.Close()
			}
			return nil, err
		}
		ctrl.SetHistory(sink)
		if cl, ok := sink.(io.Closer); ok {
			closers = append(closers, cl)
		}
	}

	var evaluators []health.Evaluator
	if c.Health.HTTPProbe {
		evaluators = append(evaluators, health.NewProbeEvaluator(c.Health.Probe))
	} else {
		evaluators = append(evaluators, health.NewMetricEvaluator(c.Health.Metric, prov))
	}

	sched := monitor.NewScheduler(c.Monitor, prov, store, evaluators, ctrl, log)

	return &Monitor{
		cfg:     c,
		logger:  log,
		logsink: logClose,
		prov:    prov,
		store:   store,
		disp:    disp,
		ctrl:    ctrl,
		sched:   sched,
		closer:  closers,
	}, nil
}

// Logger returns the monitor's structured logger.
func (m *Monitor) Logger() *slog.Logger { return m.logger }

// Start launches the monitoring loops.
func (m *Monitor) Start(ctx context.Context) { m.sched.Start(ctx) }

// Stop halts the loops and waits for any in-flight pass to finish.
func (m *Monitor) Stop() { m.sched.Stop() }

// Close releases alert, history, and log file handles. Call after Stop.
func (m *Monitor) Close() error {
	var first error
	for _, c := range m.closer {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	if m.logsink != nil {
		if err := m.logsink.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// CheckNow runs one deep-health pass immediately. Returns
// monitor.ErrPassInFlight if a scheduled pass holds the guard.
func (m *Monitor) CheckNow(ctx context.Context) error { return m.sched.DeepPass(ctx) }

// Snapshot fetches the current fleet state from the process manager.
func (m *Monitor) Snapshot(ctx context.Context) ([]ProcessSnapshot, error) {
	return m.prov.List(ctx)
}

// Record returns the rolling health record for one process.
func (m *Monitor) Record(name string) (HealthRecord, bool) { return m.store.Lookup(name) }

// RecentAlerts returns the buffered alerts, newest last.
func (m *Monitor) RecentAlerts() []Alert { return m.disp.Recent() }

// Restart asks the process manager to restart one process or, with
// provider.All, the whole fleet minus the monitor's own process.
func (m *Monitor) Restart(ctx context.Context, name string) error {
	return remedy.RestartExcludingSelf(ctx, m.prov, name, m.sched.Self())
}

// HTTPHandler returns the daemon API handler for embedding in any mux.
func (m *Monitor) HTTPHandler(basePath string) http.Handler {
	return iapi.NewRouter(m.prov, m.store, m.sched, m.disp, basePath).Handler()
}

// NewHTTPServer starts the daemon API on addr in a background goroutine.
func (m *Monitor) NewHTTPServer(addr, basePath string) *http.Server {
	return iapi.NewServer(addr, basePath, m.prov, m.store, m.sched, m.disp)
}

// Metrics helpers (public facade)

func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }
func RegisterMetricsDefault() error                 { return metrics.Register(prometheus.DefaultRegisterer) }

// MetricsHandler returns the Prometheus scrape handler.
func MetricsHandler() http.Handler { return metrics.Handler() }

// ServeMetrics starts an HTTP server on addr exposing /metrics using the
// default registry. It blocks in the caller goroutine.
func ServeMetrics(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv.ListenAndServe()
}
