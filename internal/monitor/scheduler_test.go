package monitor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/loykin/vigil/internal/alert"
	"github.com/loykin/vigil/internal/health"
	"github.com/loykin/vigil/internal/provider"
	"github.com/loykin/vigil/internal/remedy"
)

type fakeProvider struct {
	mu       sync.Mutex
	snaps    []provider.ProcessSnapshot
	listErr  error
	restarts []string
	block    chan struct{} // when set, List blocks until closed
}

func (f *fakeProvider) List(context.Context) ([]provider.ProcessSnapshot, error) {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snaps, f.listErr
}

func (f *fakeProvider) Restart(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.restarts = append(f.restarts, name)
	return nil
}
func (f *fakeProvider) Stop(context.Context, string) error   { return nil }
func (f *fakeProvider) Start(context.Context, string) error  { return nil }
func (f *fakeProvider) Reload(context.Context, string) error { return nil }
func (f *fakeProvider) Ping(context.Context, string) error   { return nil }
func (f *fakeProvider) Logs(context.Context, string, int, bool) ([]string, error) {
	return nil, nil
}

type captureSink struct {
	mu  sync.Mutex
	got []alert.Alert
}

func (s *captureSink) Send(_ context.Context, a alert.Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.got = append(s.got, a)
	return nil
}

func (s *captureSink) alerts() []alert.Alert {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]alert.Alert(nil), s.got...)
}

// orderEvaluator records evaluation order and flags names in its bad set.
type orderEvaluator struct {
	mu    sync.Mutex
	seen  []string
	bad   map[string]bool
}

func (e *orderEvaluator) Evaluate(_ context.Context, snap provider.ProcessSnapshot, _ health.Record) health.Verdict {
	e.mu.Lock()
	e.seen = append(e.seen, snap.Name)
	e.mu.Unlock()
	if e.bad[snap.Name] {
		return health.Verdict{Name: snap.Name, Reasons: []string{"synthetic failure"}}
	}
	return health.Verdict{Name: snap.Name, Healthy: true}
}

func online(name string, cpu float64, memMB float64) provider.ProcessSnapshot {
	return provider.ProcessSnapshot{
		Name:        name,
		PID:         7,
		Status:      provider.StatusOnline,
		CPUPercent:  cpu,
		MemoryBytes: uint64(memMB * 1024 * 1024),
		StartedAt:   time.Now().Add(-time.Hour),
	}
}

func newTestScheduler(prov provider.Provider, eval health.Evaluator, sink *captureSink, cfg Config) (*Scheduler, *health.Store) {
	store := health.NewStore()
	disp := alert.NewDispatcher(nil, sink)
	ctrl := remedy.NewController(remedy.DefaultConfig(), store, prov, disp, nil)
	cfg.SelfName = "vigil-test"
	var evs []health.Evaluator
	if eval != nil {
		evs = []health.Evaluator{eval}
	}
	return NewScheduler(cfg, prov, store, evs, ctrl, nil), store
}

func TestDeepPassDropsOverlappingTick(t *testing.T) {
	prov := &fakeProvider{block: make(chan struct{})}
	sink := &captureSink{}
	s, _ := newTestScheduler(prov, &orderEvaluator{}, sink, Config{})

	done := make(chan error, 1)
	go func() { done <- s.DeepPass(context.Background()) }()

	// Wait until the first pass is inside List and holds the guard.
	deadline := time.After(2 * time.Second)
	for !s.inFlight.Load() {
		select {
		case <-deadline:
			t.Fatal("first pass never started")
		default:
			time.Sleep(time.Millisecond)
		}
	}

	if err := s.DeepPass(context.Background()); !errors.Is(err, ErrPassInFlight) {
		t.Fatalf("overlapping pass error = %v, want ErrPassInFlight", err)
	}

	close(prov.block)
	if err := <-done; err != nil {
		t.Fatalf("first pass: %v", err)
	}
	if s.inFlight.Load() {
		t.Fatal("guard not released")
	}
}

func TestDeepPassEvaluatesInSnapshotOrder(t *testing.T) {
	prov := &fakeProvider{snaps: []provider.ProcessSnapshot{
		online("c", 1, 10), online("a", 1, 10), online("b", 1, 10),
	}}
	eval := &orderEvaluator{}
	sink := &captureSink{}
	s, _ := newTestScheduler(prov, eval, sink, Config{})

	if err := s.DeepPass(context.Background()); err != nil {
		t.Fatalf("pass: %v", err)
	}
	want := []string{"c", "a", "b"}
	if len(eval.seen) != 3 {
		t.Fatalf("seen = %v", eval.seen)
	}
	for i, n := range want {
		if eval.seen[i] != n {
			t.Fatalf("order = %v, want %v", eval.seen, want)
		}
	}
}

func TestDeepPassExcludesSelf(t *testing.T) {
	prov := &fakeProvider{snaps: []provider.ProcessSnapshot{
		online("vigil-test", 1, 10), online("api", 1, 10),
	}}
	eval := &orderEvaluator{}
	s, store := newTestScheduler(prov, eval, &captureSink{}, Config{})

	if err := s.DeepPass(context.Background()); err != nil {
		t.Fatalf("pass: %v", err)
	}
	if len(eval.seen) != 1 || eval.seen[0] != "api" {
		t.Fatalf("evaluated = %v, want only api", eval.seen)
	}
	if _, ok := store.Lookup("vigil-test"); ok {
		t.Fatal("self must not get a health record")
	}
}

func TestDeepPassSkipsNonOnlineProcesses(t *testing.T) {
	prov := &fakeProvider{snaps: []provider.ProcessSnapshot{
		{Name: "stopped-job", Status: provider.StatusStopped},
		{Name: "crashed-job", Status: provider.StatusErrored},
		online("api", 1, 10),
	}}
	eval := &orderEvaluator{bad: map[string]bool{
		"stopped-job": true, "crashed-job": true, "api": true,
	}}
	s, store := newTestScheduler(prov, eval, &captureSink{}, Config{})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := s.DeepPass(ctx); err != nil {
			t.Fatalf("pass %d: %v", i, err)
		}
	}
	for _, n := range eval.seen {
		if n != "api" {
			t.Fatalf("evaluated %q, only online processes may be evaluated", n)
		}
	}
	if _, ok := store.Lookup("stopped-job"); ok {
		t.Fatal("stopped process must not get a health record")
	}
	if _, ok := store.Lookup("crashed-job"); ok {
		t.Fatal("errored process must not get a health record")
	}
	if len(prov.restarts) != 1 || prov.restarts[0] != "api" {
		t.Fatalf("restarts = %v, want only api", prov.restarts)
	}
}

func TestDeepPassDrivesRemediation(t *testing.T) {
	prov := &fakeProvider{snaps: []provider.ProcessSnapshot{online("api", 1, 10)}}
	eval := &orderEvaluator{bad: map[string]bool{"api": true}}
	sink := &captureSink{}
	s, store := newTestScheduler(prov, eval, sink, Config{})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := s.DeepPass(ctx); err != nil {
			t.Fatalf("pass %d: %v", i, err)
		}
	}
	if len(prov.restarts) != 1 || prov.restarts[0] != "api" {
		t.Fatalf("restarts = %v, want one for api", prov.restarts)
	}
	rec, _ := store.Lookup("api")
	if len(rec.CPUSamples) != 3 {
		t.Fatalf("cpu samples = %d, want 3", len(rec.CPUSamples))
	}
}

func TestBasicPassAlertsOnThresholds(t *testing.T) {
	prov := &fakeProvider{snaps: []provider.ProcessSnapshot{
		online("hot", 95, 10),
		online("fat", 5, 2048),
		online("fine", 5, 10),
		{Name: "idle", Status: provider.StatusStopped, CPUPercent: 100},
	}}
	sink := &captureSink{}
	s, _ := newTestScheduler(prov, nil, sink, Config{CPULimitPercent: 80, MemoryLimitMB: 1024})

	s.BasicPass(context.Background())

	byProcess := map[string]int{}
	for _, a := range sink.alerts() {
		if a.Kind != alert.KindThreshold {
			t.Fatalf("unexpected alert kind %q", a.Kind)
		}
		byProcess[a.Process]++
	}
	if byProcess["hot"] != 1 || byProcess["fat"] != 1 {
		t.Fatalf("alerts = %v, want one each for hot and fat", byProcess)
	}
	if byProcess["fine"] != 0 || byProcess["idle"] != 0 {
		t.Fatalf("alerts = %v, fine and idle must not alert", byProcess)
	}
	if len(prov.restarts) != 0 {
		t.Fatalf("basic loop must never remediate, got %v", prov.restarts)
	}
}

func TestBasicPassSurvivesProviderError(t *testing.T) {
	prov := &fakeProvider{listErr: errors.New("manager down")}
	sink := &captureSink{}
	s, _ := newTestScheduler(prov, nil, sink, Config{})

	s.BasicPass(context.Background())
	if len(sink.alerts()) != 0 {
		t.Fatalf("alerts = %v, want none on fetch failure", sink.alerts())
	}
}

func TestStartStopLifecycle(t *testing.T) {
	prov := &fakeProvider{}
	s, _ := newTestScheduler(prov, &orderEvaluator{}, &captureSink{}, Config{
		Interval:       10 * time.Millisecond,
		HealthCheck:    true,
		HealthInterval: 10 * time.Millisecond,
	})

	s.Start(context.Background())
	time.Sleep(50 * time.Millisecond)
	s.Stop()
	// A second Stop must be safe.
	s.Stop()
}
