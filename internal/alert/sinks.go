package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	lj "gopkg.in/natefinch/lumberjack.v2"
)

// LogSink writes alerts to the daemon's structured log.
type LogSink struct {
	Logger *slog.Logger
}

func (s *LogSink) Name() string { return "log" }

func (s *LogSink) Send(_ context.Context, a Alert) error {
	l := s.Logger
	if l == nil {
		l = slog.Default()
	}
	if a.Severity == SeverityCritical {
		l.Error("ALERT "+a.Text, "process", a.Process, "kind", a.Kind, "id", a.ID)
	} else {
		l.Warn("ALERT "+a.Text, "process", a.Process, "kind", a.Kind, "id", a.ID)
	}
	return nil
}

// WebhookSink POSTs alerts as JSON to a destination URL.
type WebhookSink struct {
	URL    string
	client *http.Client
}

// NewWebhookSink builds a webhook sink with its own delivery timeout.
func NewWebhookSink(url string, timeout time.Duration) *WebhookSink {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WebhookSink{URL: url, client: &http.Client{Timeout: timeout}}
}

func (s *WebhookSink) Name() string { return "webhook " + s.URL }

func (s *WebhookSink) Send(ctx context.Context, a Alert) error {
	data, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.URL, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("webhook returned HTTP %d", resp.StatusCode)
	}
	return nil
}

// FileSink appends alerts to a rotating log file.
// Rotation parameters follow lumberjack semantics.
type FileSink struct {
	w *lj.Logger
}

// NewFileSink builds a rotating file sink at path.
func NewFileSink(path string, maxSizeMB, maxBackups, maxAgeDays int, compress bool) *FileSink {
	if maxSizeMB <= 0 {
		maxSizeMB = 10
	}
	if maxBackups <= 0 {
		maxBackups = 3
	}
	if maxAgeDays <= 0 {
		maxAgeDays = 7
	}
	return &FileSink{w: &lj.Logger{
		Filename:   path,
		MaxSize:    maxSizeMB,
		MaxBackups: maxBackups,
		MaxAge:     maxAgeDays,
		Compress:   compress,
	}}
}

func (s *FileSink) Name() string { return "file " + s.w.Filename }

func (s *FileSink) Send(_ context.Context, a Alert) error {
	line := fmt.Sprintf("[%s] [%s] %s: %s\n",
		a.At.Format(time.RFC3339), a.Severity, a.Process, a.Text)
	_, err := s.w.Write([]byte(line))
	return err
}

func (s *FileSink) Close() error { return s.w.Close() }
