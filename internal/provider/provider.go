package provider

import (
	"context"
	"fmt"
	"time"
)

// Status is the lifecycle state a managed process reports.
type Status string

const (
	StatusOnline  Status = "online"
	StatusStopped Status = "stopped"
	StatusErrored Status = "errored"
	StatusUnknown Status = "unknown"
)

// ParseStatus maps a raw manager status string onto the known set.
func ParseStatus(s string) Status {
	switch Status(s) {
	case StatusOnline, StatusStopped, StatusErrored:
		return Status(s)
	default:
		return StatusUnknown
	}
}

// ProcessSnapshot is a point-in-time view of one managed process.
// Snapshots are ephemeral and fully replaced on every fetch.
type ProcessSnapshot struct {
	Name         string    `json:"name"`
	PID          int       `json:"pid"`
	Status       Status    `json:"status"`
	CPUPercent   float64   `json:"cpu_percent"`
	MemoryBytes  uint64    `json:"memory_bytes"`
	RestartCount int       `json:"restart_count"`
	StartedAt    time.Time `json:"started_at,omitempty"`
}

// Uptime returns how long the process has been running at now.
// ok is false when the process has never been started.
func (s ProcessSnapshot) Uptime(now time.Time) (time.Duration, bool) {
	if s.StartedAt.IsZero() {
		return 0, false
	}
	return now.Sub(s.StartedAt), true
}

// MemoryMB returns the resident memory in megabytes.
func (s ProcessSnapshot) MemoryMB() float64 {
	return float64(s.MemoryBytes) / 1024 / 1024
}

// Provider is the boundary to the external process manager.
// All methods honor the context deadline; implementations must apply
// their own default timeouts so a stalled manager cannot hang a pass.
type Provider interface {
	// List returns a snapshot of every managed process. An empty fleet
	// yields an empty slice, not an error. Malformed entries are skipped.
	List(ctx context.Context) ([]ProcessSnapshot, error)
	// Restart restarts one process, or every process for the name "all".
	Restart(ctx context.Context, name string) error
	Stop(ctx context.Context, name string) error
	Start(ctx context.Context, name string) error
	Reload(ctx context.Context, name string) error
	// Ping checks process liveness through the manager.
	Ping(ctx context.Context, name string) error
	// Logs fetches the last lines of process output.
	Logs(ctx context.Context, name string, lines int, errorOnly bool) ([]string, error)
}

// All is the manager's wildcard target for bulk lifecycle operations.
const All = "all"

// Error wraps transport or protocol failures talking to the manager.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string { return fmt.Sprintf("provider: %s: %v", e.Op, e.Err) }
func (e *Error) Unwrap() error { return e.Err }
