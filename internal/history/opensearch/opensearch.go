package opensearch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/loykin/vigil/internal/history"
)

// document is the indexed shape of a health event. OccurredAt maps to
// @timestamp so stock index templates and dashboards pick it up without
// a custom mapping.
type document struct {
	Timestamp  time.Time `json:"@timestamp"`
	Event      string    `json:"event"`
	Process    string    `json:"process"`
	PID        int       `json:"pid,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	CPUPercent float64   `json:"cpu_percent,omitempty"`
	MemoryMB   float64   `json:"memory_mb,omitempty"`
}

// Sink indexes health events into OpenSearch (or Elasticsearch) by
// POSTing one document per event to {baseURL}/{index}/_doc.
type Sink struct {
	client  *http.Client
	baseURL string
	index   string
}

func New(baseURL, index string) *Sink {
	c := &http.Client{Timeout: 5 * time.Second}
	return &Sink{client: c, baseURL: strings.TrimRight(baseURL, "/"), index: index}
}

func (s *Sink) Send(ctx context.Context, e history.Event) error {
	doc := document{
		Timestamp:  e.OccurredAt,
		Event:      string(e.Type),
		Process:    e.Name,
		PID:        e.PID,
		Reason:     e.Reason,
		CPUPercent: e.CPUPercent,
		MemoryMB:   e.MemoryMB,
	}
	b, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("opensearch sink: encode event: %w", err)
	}
	u := fmt.Sprintf("%s/%s/_doc", s.baseURL, s.index)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(b))
	if err != nil {
		return fmt.Errorf("opensearch sink: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("opensearch sink: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("opensearch sink: index %s status %d: %s", s.index, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}
