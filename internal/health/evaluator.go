package health

import (
	"context"
	"strings"
	"time"

	"github.com/loykin/vigil/internal/provider"
)

// ProbeResult is the outcome of an active liveness probe.
type ProbeResult struct {
	Status  string        `json:"status"`
	Latency time.Duration `json:"latency"`
}

// Verdict is the result of evaluating one process.
type Verdict struct {
	Name    string       `json:"name"`
	Healthy bool         `json:"healthy"`
	Reasons []string     `json:"reasons,omitempty"`
	Probe   *ProbeResult `json:"probe,omitempty"`
}

// Reason joins all flagged reasons for alert text.
func (v Verdict) Reason() string { return strings.Join(v.Reasons, "; ") }

// Evaluator classifies a process's health from its snapshot and rolling
// record. Implementations must not mutate the record; the scheduler owns
// all store writes.
type Evaluator interface {
	Evaluate(ctx context.Context, snap provider.ProcessSnapshot, rec Record) Verdict
}

func healthy(name string) Verdict { return Verdict{Name: name, Healthy: true} }
