package alert

import (
	"context"
	"log/slog"
	"sync"
)

// ringSize bounds the recent-alert buffer served by the HTTP API.
const ringSize = 100

// Dispatcher fans alerts out to every configured sink. A failing sink is
// logged and skipped; it never blocks the other sinks or the caller.
type Dispatcher struct {
	sinks  []Sink
	logger *slog.Logger

	mu     sync.RWMutex
	recent []Alert
}

// NewDispatcher builds a dispatcher over the given sinks.
func NewDispatcher(logger *slog.Logger, sinks ...Sink) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{sinks: sinks, logger: logger}
}

// Send delivers the alert to all sinks sequentially, best-effort, and
// records it in the recent ring. It never returns an error.
func (d *Dispatcher) Send(ctx context.Context, a Alert) {
	d.remember(a)
	for _, s := range d.sinks {
		if err := s.Send(ctx, a); err != nil {
			d.logger.Warn("alert delivery failed",
				"sink", sinkName(s), "process", a.Process, "error", err)
		}
	}
}

// Recent returns the buffered alerts, newest last.
func (d *Dispatcher) Recent() []Alert {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]Alert(nil), d.recent...)
}

func (d *Dispatcher) remember(a Alert) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.recent = append(d.recent, a)
	if len(d.recent) > ringSize {
		d.recent = d.recent[len(d.recent)-ringSize:]
	}
}

type named interface{ Name() string }

func sinkName(s Sink) string {
	if n, ok := s.(named); ok {
		return n.Name()
	}
	return "sink"
}
