package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newTestDaemon(t *testing.T) (*Client, *http.ServeMux) {
	t.Helper()
	mux := http.NewServeMux()
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return New(Config{BaseURL: ts.URL, Timeout: 2 * time.Second}), mux
}

func TestStatusDecodesFleet(t *testing.T) {
	c, mux := newTestDaemon(t)
	mux.HandleFunc("/status", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`[{"name":"api","pid":9,"status":"online","cpu_percent":1.5,"consecutive_unhealthy":2}]`))
	})

	out, err := c.Status(context.Background())
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if len(out) != 1 || out[0].Name != "api" || out[0].ConsecutiveUnhealthy != 2 {
		t.Fatalf("out = %+v", out)
	}
}

func TestHealthByName(t *testing.T) {
	c, mux := newTestDaemon(t)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("name") != "api" {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":"unknown process"}`))
			return
		}
		_, _ = w.Write([]byte(`{"name":"api","consecutive_unhealthy":1}`))
	})

	rec, err := c.Health(context.Background(), "api")
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	if rec.Name != "api" || rec.ConsecutiveUnhealthy != 1 {
		t.Fatalf("rec = %+v", rec)
	}

	if _, err := c.Health(context.Background(), "ghost"); err == nil {
		t.Fatal("expected error for unknown process")
	}
}

func TestCheckAndRemediate(t *testing.T) {
	c, mux := newTestDaemon(t)
	var checked bool
	var remediated string
	mux.HandleFunc("/check", func(w http.ResponseWriter, r *http.Request) {
		checked = r.Method == http.MethodPost
		_, _ = w.Write([]byte(`{"ok":true}`))
	})
	mux.HandleFunc("/remediate", func(w http.ResponseWriter, r *http.Request) {
		remediated = r.URL.Query().Get("name")
		_, _ = w.Write([]byte(`{"ok":true}`))
	})

	if err := c.Check(context.Background()); err != nil {
		t.Fatalf("check: %v", err)
	}
	if !checked {
		t.Fatal("check was not a POST")
	}
	if err := c.Remediate(context.Background(), "api"); err != nil {
		t.Fatalf("remediate: %v", err)
	}
	if remediated != "api" {
		t.Fatalf("remediated = %q", remediated)
	}
}

func TestDaemonErrorSurfaces(t *testing.T) {
	c, mux := newTestDaemon(t)
	mux.HandleFunc("/remediate", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"error":"deep-health pass already in flight"}`))
	})

	err := c.Remediate(context.Background(), "api")
	if err == nil {
		t.Fatal("expected error")
	}
	if got := err.Error(); got != "daemon: deep-health pass already in flight" {
		t.Fatalf("err = %q", got)
	}
}

func TestIsReachable(t *testing.T) {
	c, mux := newTestDaemon(t)
	mux.HandleFunc("/status", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`[]`))
	})
	if !c.IsReachable(context.Background()) {
		t.Fatal("expected reachable")
	}

	dead := New(Config{BaseURL: "http://127.0.0.1:1", Timeout: 200 * time.Millisecond})
	if dead.IsReachable(context.Background()) {
		t.Fatal("expected unreachable")
	}
}
