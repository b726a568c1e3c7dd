package health

import (
	"sync"
	"time"
)

// SampleCapacity bounds the rolling CPU/memory sample windows per process.
const SampleCapacity = 10

// Sample is one observed metric value.
type Sample struct {
	Value float64   `json:"value"`
	At    time.Time `json:"at"`
}

// Record is the rolling health state kept per process name. It survives
// process restarts so trend and frequency heuristics keep their windows;
// it is lost only when the monitor itself restarts.
type Record struct {
	Name                 string        `json:"name"`
	CPUSamples           []Sample      `json:"cpu_samples"`
	MemorySamples        []Sample      `json:"memory_samples"`
	LastRestartCount     int           `json:"last_restart_count"`
	LastHealthy          time.Time     `json:"last_healthy"`
	ConsecutiveUnhealthy int           `json:"consecutive_unhealthy"`
	LastAlert            time.Time     `json:"last_alert,omitempty"`
	ProbeStatus          string        `json:"probe_status,omitempty"`
	ProbeLatency         time.Duration `json:"probe_latency,omitempty"`

	// RestartDelta is the restart-count increase observed by the most
	// recent Observe call. Transient: set on returned copies only.
	RestartDelta int `json:"-"`
}

// Store keeps one Record per process name. Mutations come from the single
// in-flight deep-health pass; the RWMutex exists so the HTTP API can read
// records concurrently with that pass.
type Store struct {
	mu      sync.RWMutex
	records map[string]*Record
}

// NewStore creates an empty health history store.
func NewStore() *Store {
	return &Store{records: make(map[string]*Record)}
}

// getLocked returns the live record, creating defaults on first access.
func (s *Store) getLocked(name string, now time.Time) *Record {
	r := s.records[name]
	if r == nil {
		r = &Record{Name: name, LastHealthy: now}
		s.records[name] = r
	}
	return r
}

// Get returns a copy of the record for name, creating it if missing.
func (s *Store) Get(name string) Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getLocked(name, time.Now()).copy()
}

// Lookup returns a copy without creating a record for unknown names.
func (s *Store) Lookup(name string) (Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r := s.records[name]
	if r == nil {
		return Record{}, false
	}
	return r.copy(), true
}

// Names returns all known process names.
func (s *Store) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.records))
	for n := range s.records {
		out = append(out, n)
	}
	return out
}

// Observe appends cpu/memory samples, computes the restart delta against
// the last observed restart count and advances that baseline
// unconditionally, then returns a copy of the updated record with
// RestartDelta set. The unconditional baseline update mirrors the
// remediation policy this monitor was built against; a restart burst
// spread across several passes can be under-counted.
func (s *Store) Observe(name string, cpu float64, memBytes uint64, restartCount int, now time.Time) Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.getLocked(name, now)
	r.CPUSamples = appendBounded(r.CPUSamples, Sample{Value: cpu, At: now})
	r.MemorySamples = appendBounded(r.MemorySamples, Sample{Value: float64(memBytes), At: now})
	delta := 0
	if restartCount > r.LastRestartCount {
		delta = restartCount - r.LastRestartCount
	}
	r.LastRestartCount = restartCount
	out := r.copy()
	out.RestartDelta = delta
	return out
}

// MarkHealthy records a healthy verdict: the consecutive counter drops to
// zero regardless of its prior value.
func (s *Store) MarkHealthy(name string, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.getLocked(name, now)
	r.ConsecutiveUnhealthy = 0
	r.LastHealthy = now
}

// MarkUnhealthy increments the consecutive-unhealthy counter and returns
// the new value.
func (s *Store) MarkUnhealthy(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.getLocked(name, time.Now())
	r.ConsecutiveUnhealthy++
	return r.ConsecutiveUnhealthy
}

// RecordProbe stores the outcome of the latest liveness probe.
func (s *Store) RecordProbe(name, status string, latency time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.getLocked(name, time.Now())
	r.ProbeStatus = status
	r.ProbeLatency = latency
}

// SetLastAlert stamps the time of the most recent alert for cooldown checks.
func (s *Store) SetLastAlert(name string, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.getLocked(name, now).LastAlert = now
}

func appendBounded(in []Sample, s Sample) []Sample {
	in = append(in, s)
	if len(in) > SampleCapacity {
		in = in[len(in)-SampleCapacity:]
	}
	return in
}

func (r *Record) copy() Record {
	out := *r
	out.CPUSamples = append([]Sample(nil), r.CPUSamples...)
	out.MemorySamples = append([]Sample(nil), r.MemorySamples...)
	return out
}
