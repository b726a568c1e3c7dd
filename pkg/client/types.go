package client

import "time"

// ProcessStatus is one fleet entry: the live snapshot joined with a
// health summary.
type ProcessStatus struct {
	Name                 string    `json:"name"`
	PID                  int       `json:"pid"`
	Status               string    `json:"status"`
	CPUPercent           float64   `json:"cpu_percent"`
	MemoryBytes          uint64    `json:"memory_bytes"`
	RestartCount         int       `json:"restart_count"`
	StartedAt            time.Time `json:"started_at,omitempty"`
	ConsecutiveUnhealthy int       `json:"consecutive_unhealthy"`
	ProbeStatus          string    `json:"probe_status,omitempty"`
}

// MetricSample is one observed metric value.
type MetricSample struct {
	Value float64   `json:"value"`
	At    time.Time `json:"at"`
}

// HealthRecord is the rolling health state kept per process.
type HealthRecord struct {
	Name                 string         `json:"name"`
	CPUSamples           []MetricSample `json:"cpu_samples"`
	MemorySamples        []MetricSample `json:"memory_samples"`
	LastRestartCount     int            `json:"last_restart_count"`
	LastHealthy          time.Time      `json:"last_healthy"`
	ConsecutiveUnhealthy int            `json:"consecutive_unhealthy"`
	LastAlert            time.Time      `json:"last_alert,omitempty"`
	ProbeStatus          string         `json:"probe_status,omitempty"`
	ProbeLatency         time.Duration  `json:"probe_latency,omitempty"`
}

// Alert is one notification the daemon produced.
type Alert struct {
	ID       string    `json:"id"`
	Process  string    `json:"process"`
	Severity string    `json:"severity"`
	Kind     string    `json:"kind"`
	Text     string    `json:"text"`
	At       time.Time `json:"at"`
}

// ErrorResponse represents an API error response.
type ErrorResponse struct {
	Error string `json:"error"`
}
