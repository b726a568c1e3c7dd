package alert

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Severity classifies how urgent an alert is.
type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Alert is one human-readable notification about a process.
type Alert struct {
	ID       string    `json:"id"`
	Process  string    `json:"process"`
	Severity Severity  `json:"severity"`
	Kind     string    `json:"kind"` // unhealthy, threshold, restart, restart_failed, escalation
	Text     string    `json:"text"`
	At       time.Time `json:"at"`
}

// Alert kind values.
const (
	KindUnhealthy     = "unhealthy"
	KindThreshold     = "threshold"
	KindRestart       = "restart"
	KindRestartFailed = "restart_failed"
	KindEscalation    = "escalation"
)

// New builds an alert with a fresh ID and timestamp.
func New(process string, sev Severity, kind, format string, args ...any) Alert {
	return Alert{
		ID:       uuid.NewString(),
		Process:  process,
		Severity: sev,
		Kind:     kind,
		Text:     fmt.Sprintf(format, args...),
		At:       time.Now().UTC(),
	}
}

// Sink delivers alerts to one destination. Implementations must be safe
// for concurrent use; delivery is best-effort and errors are reported to
// the dispatcher only for logging.
type Sink interface {
	Send(ctx context.Context, a Alert) error
}
