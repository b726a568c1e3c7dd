package alert

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

type recordingSink struct {
	got []Alert
	err error
}

func (s *recordingSink) Send(_ context.Context, a Alert) error {
	s.got = append(s.got, a)
	return s.err
}

func TestDispatcherFansOutPastFailures(t *testing.T) {
	bad := &recordingSink{err: errors.New("boom")}
	good := &recordingSink{}
	d := NewDispatcher(nil, bad, good)

	a := New("api", SeverityWarning, KindUnhealthy, "cpu stuck")
	d.Send(context.Background(), a)

	if len(bad.got) != 1 || len(good.got) != 1 {
		t.Fatalf("deliveries: bad=%d good=%d, want 1 each", len(bad.got), len(good.got))
	}
	if good.got[0].Text != "cpu stuck" {
		t.Fatalf("text = %q", good.got[0].Text)
	}
}

func TestDispatcherRecentRingIsBounded(t *testing.T) {
	d := NewDispatcher(nil)
	for i := 0; i < ringSize+20; i++ {
		d.Send(context.Background(), New("p", SeverityWarning, KindThreshold, "n=%d", i))
	}
	recent := d.Recent()
	if len(recent) != ringSize {
		t.Fatalf("ring length = %d, want %d", len(recent), ringSize)
	}
	if recent[len(recent)-1].Text != fmt.Sprintf("n=%d", ringSize+19) {
		t.Fatalf("newest = %q", recent[len(recent)-1].Text)
	}
	if recent[0].Text != "n=20" {
		t.Fatalf("oldest = %q, want n=20", recent[0].Text)
	}
}

func TestAlertCarriesIDAndTimestamp(t *testing.T) {
	a := New("db", SeverityCritical, KindEscalation, "manual intervention required")
	if a.ID == "" {
		t.Fatal("missing ID")
	}
	if a.At.IsZero() || time.Since(a.At) > time.Minute {
		t.Fatalf("bad timestamp %v", a.At)
	}
	if a.Severity != SeverityCritical || a.Kind != KindEscalation {
		t.Fatalf("alert = %+v", a)
	}
}

func TestWebhookSinkPostsJSON(t *testing.T) {
	var gotType string
	var gotBody []byte
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotType = r.Header.Get("Content-Type")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer ts.Close()

	s := NewWebhookSink(ts.URL, time.Second)
	if err := s.Send(context.Background(), New("api", SeverityWarning, KindUnhealthy, "down")); err != nil {
		t.Fatalf("send: %v", err)
	}
	if gotType != "application/json" {
		t.Fatalf("content type = %q", gotType)
	}
	if len(gotBody) == 0 {
		t.Fatal("empty body")
	}
}

func TestWebhookSinkRejectsErrorStatus(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer ts.Close()

	s := NewWebhookSink(ts.URL, time.Second)
	if err := s.Send(context.Background(), New("api", SeverityWarning, KindUnhealthy, "down")); err == nil {
		t.Fatal("expected error for 502 response")
	}
}
