package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	monitorPasses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vigil",
			Subsystem: "monitor",
			Name:      "passes_total",
			Help:      "Number of completed monitoring passes per loop.",
		}, []string{"loop"},
	)
	monitorPassesDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "vigil",
			Subsystem: "monitor",
			Name:      "passes_dropped_total",
			Help:      "Deep-health ticks dropped because a pass was still in flight.",
		},
	)
	unhealthyVerdicts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vigil",
			Subsystem: "health",
			Name:      "unhealthy_total",
			Help:      "Number of unhealthy verdicts per process.",
		}, []string{"name"},
	)
	remediationRestarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vigil",
			Subsystem: "remedy",
			Name:      "restarts_total",
			Help:      "Auto-restart attempts per process and result.",
		}, []string{"name", "result"},
	)
	alertsSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vigil",
			Subsystem: "alert",
			Name:      "sent_total",
			Help:      "Alerts dispatched per severity.",
		}, []string{"severity"},
	)
	probeLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "vigil",
			Subsystem: "health",
			Name:      "probe_latency_seconds",
			Help:      "Observed HTTP liveness probe latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"name"},
	)
	fleetProcesses = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "vigil",
			Subsystem: "fleet",
			Name:      "processes",
			Help:      "Processes in the last snapshot per status.",
		}, []string{"status"},
	)
	processCPUPercent = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "vigil",
			Subsystem: "process",
			Name:      "cpu_percent",
			Help:      "CPU usage percentage per monitored process.",
		}, []string{"name"},
	)
	processMemoryMB = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "vigil",
			Subsystem: "process",
			Name:      "memory_mb",
			Help:      "Memory usage in MB per monitored process.",
		}, []string{"name"},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{
		monitorPasses, monitorPassesDropped, unhealthyVerdicts,
		remediationRestarts, alertsSent, probeLatency,
		fleetProcesses, processCPUPercent, processMemoryMB,
		selfCPUPercent, selfMemoryMB,
	}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler returns an http.Handler that serves Prometheus metrics for the DefaultGatherer.
func Handler() http.Handler { return promhttp.Handler() }

// Below are lightweight helpers used by internal packages to record metrics.
// They no-op if Register hasn't been called.

func IncPass(loop string) {
	if regOK.Load() {
		monitorPasses.WithLabelValues(loop).Inc()
	}
}

func IncDroppedPass() {
	if regOK.Load() {
		monitorPassesDropped.Inc()
	}
}

func IncUnhealthy(name string) {
	if regOK.Load() {
		unhealthyVerdicts.WithLabelValues(name).Inc()
	}
}

func IncRestart(name, result string) {
	if regOK.Load() {
		remediationRestarts.WithLabelValues(name, result).Inc()
	}
}

func IncAlert(severity string) {
	if regOK.Load() {
		alertsSent.WithLabelValues(severity).Inc()
	}
}

func ObserveProbeLatency(name string, seconds float64) {
	if regOK.Load() {
		probeLatency.WithLabelValues(name).Observe(seconds)
	}
}

func SetFleetCount(status string, n int) {
	if regOK.Load() {
		fleetProcesses.WithLabelValues(status).Set(float64(n))
	}
}

func SetProcessUsage(name string, cpuPercent, memoryMB float64) {
	if regOK.Load() {
		processCPUPercent.WithLabelValues(name).Set(cpuPercent)
		processMemoryMB.WithLabelValues(name).Set(memoryMB)
	}
}

func DropProcess(name string) {
	if regOK.Load() {
		processCPUPercent.DeleteLabelValues(name)
		processMemoryMB.DeleteLabelValues(name)
	}
}
