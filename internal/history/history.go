package history

import (
	"context"
	"time"
)

// EventType defines the kind of monitoring event.
type EventType string

const (
	EventUnhealthy     EventType = "unhealthy"
	EventRecovered     EventType = "recovered"
	EventRestart       EventType = "restart"
	EventRestartFailed EventType = "restart_failed"
	EventEscalation    EventType = "escalation"
)

// Event represents a health or remediation outcome to be exported to
// external systems for audit and analytics.
type Event struct {
	Type       EventType `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	Name       string    `json:"name"`
	PID        int       `json:"pid"`
	Reason     string    `json:"reason,omitempty"`
	CPUPercent float64   `json:"cpu_percent"`
	MemoryMB   float64   `json:"memory_mb"`
}

// Sink is a destination for monitoring events (analytics/statistics systems).
// Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
}
