package provider

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func newTestManager(t *testing.T, handler http.Handler) (*ManagerClient, *httptest.Server) {
	t.Helper()
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)
	c := NewManagerClient(ManagerConfig{
		BaseURL:        ts.URL,
		CommandTimeout: 2 * time.Second,
		PingTimeout:    time.Second,
	})
	return c, ts
}

func TestListParsesSnapshotsAndSkipsMalformed(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/list", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`[
			{"name":"api","pid":11,"status":"online","cpu_percent":12.5,"memory_bytes":1048576,"restart_count":2,"started_at":"2026-03-01T10:00:00Z"},
			{"pid":12,"status":"online"},
			{"name":"worker","pid":13,"status":"weird"}
		]`))
	})
	c, _ := newTestManager(t, mux)

	snaps, err := c.List(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(snaps) != 2 {
		t.Fatalf("snapshots = %d, want 2 (nameless entry skipped)", len(snaps))
	}
	api := snaps[0]
	if api.Name != "api" || api.PID != 11 || api.Status != StatusOnline {
		t.Fatalf("api = %+v", api)
	}
	if api.CPUPercent != 12.5 || api.MemoryBytes != 1048576 || api.RestartCount != 2 {
		t.Fatalf("api metrics = %+v", api)
	}
	if api.StartedAt.IsZero() {
		t.Fatal("started_at not parsed")
	}
	if snaps[1].Status != StatusUnknown {
		t.Fatalf("unrecognized status = %q, want unknown", snaps[1].Status)
	}
}

func TestLifecyclePostsToManager(t *testing.T) {
	var gotPath, gotMethod, gotName string
	mux := http.NewServeMux()
	mux.HandleFunc("/restart", func(w http.ResponseWriter, r *http.Request) {
		gotPath, gotMethod, gotName = r.URL.Path, r.Method, r.URL.Query().Get("name")
		_, _ = w.Write([]byte(`{"ok":true}`))
	})
	c, _ := newTestManager(t, mux)

	if err := c.Restart(context.Background(), "api"); err != nil {
		t.Fatalf("restart: %v", err)
	}
	if gotPath != "/restart" || gotMethod != http.MethodPost || gotName != "api" {
		t.Fatalf("request = %s %s name=%s", gotMethod, gotPath, gotName)
	}
}

func TestLifecycleRequiresName(t *testing.T) {
	c, _ := newTestManager(t, http.NewServeMux())
	if err := c.Restart(context.Background(), ""); err == nil {
		t.Fatal("expected error for empty name")
	}
}

func TestManagerErrorBodySurfaces(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/restart", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"no such process"}`))
	})
	c, _ := newTestManager(t, mux)

	err := c.Restart(context.Background(), "ghost")
	if err == nil || !strings.Contains(err.Error(), "no such process") {
		t.Fatalf("err = %v, want manager error text", err)
	}
	var perr *Error
	if !errors.As(err, &perr) {
		t.Fatalf("err %T, want *Error", err)
	}
}

func TestPingUsesShortTimeout(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/ping", func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(2 * time.Second)
	})
	mux.HandleFunc("/status", func(w http.ResponseWriter, _ *http.Request) {})
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	c := NewManagerClient(ManagerConfig{
		BaseURL:        ts.URL,
		CommandTimeout: 10 * time.Second,
		PingTimeout:    50 * time.Millisecond,
	})

	start := time.Now()
	err := c.Ping(context.Background(), "api")
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if time.Since(start) > time.Second {
		t.Fatalf("ping took %v, short timeout not applied", time.Since(start))
	}
}

func TestConnectionMarkedBrokenAndRecovered(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/list", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`[]`))
	})
	mux.HandleFunc("/status", func(w http.ResponseWriter, _ *http.Request) {})
	c, ts := newTestManager(t, mux)

	if _, err := c.List(context.Background()); err != nil {
		t.Fatalf("list: %v", err)
	}
	if !c.connected.Load() {
		t.Fatal("expected connected after success")
	}

	ts.Close()
	if _, err := c.List(context.Background()); err == nil {
		t.Fatal("expected error after server closed")
	}
	if c.connected.Load() {
		t.Fatal("expected broken connection flag after failure")
	}
}

func TestLogsQuery(t *testing.T) {
	var gotLines, gotErrOnly string
	mux := http.NewServeMux()
	mux.HandleFunc("/logs", func(w http.ResponseWriter, r *http.Request) {
		gotLines = r.URL.Query().Get("lines")
		gotErrOnly = r.URL.Query().Get("error_only")
		_, _ = w.Write([]byte(`["line one","line two"]`))
	})
	mux.HandleFunc("/status", func(w http.ResponseWriter, _ *http.Request) {})
	c, _ := newTestManager(t, mux)

	lines, err := c.Logs(context.Background(), "api", 10, true)
	if err != nil {
		t.Fatalf("logs: %v", err)
	}
	if len(lines) != 2 || gotLines != "10" || gotErrOnly != "true" {
		t.Fatalf("lines=%v query lines=%s error_only=%s", lines, gotLines, gotErrOnly)
	}
}
