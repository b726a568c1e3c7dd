package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"sync/atomic"
	"time"
)

// ManagerConfig holds connection settings for the process-manager daemon.
type ManagerConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	CommandTimeout time.Duration `mapstructure:"command_timeout"` // lifecycle ops and list (default 30s)
	PingTimeout    time.Duration `mapstructure:"ping_timeout"`    // liveness pings (default 5s)
	Logger         *slog.Logger
}

// DefaultManagerConfig returns the default manager connection settings.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		BaseURL:        "http://localhost:8080/api",
		CommandTimeout: 30 * time.Second,
		PingTimeout:    5 * time.Second,
	}
}

// ManagerClient talks to the process-manager daemon over HTTP.
// It keeps a connection-state flag: after any failed call the state is
// marked broken and the next call re-verifies reachability before use,
// so a dead channel is never silently reused.
type ManagerClient struct {
	baseURL     string
	client      *http.Client
	pingTimeout time.Duration
	logger      *slog.Logger
	connected   atomic.Bool
}

var _ Provider = (*ManagerClient)(nil)

// NewManagerClient creates a client for the process-manager API.
func NewManagerClient(cfg ManagerConfig) *ManagerClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:8080/api"
	}
	if cfg.CommandTimeout <= 0 {
		cfg.CommandTimeout = 30 * time.Second
	}
	if cfg.PingTimeout <= 0 {
		cfg.PingTimeout = 5 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &ManagerClient{
		baseURL:     cfg.BaseURL,
		client:      &http.Client{Timeout: cfg.CommandTimeout},
		pingTimeout: cfg.PingTimeout,
		logger:      cfg.Logger,
	}
}

// listEntry mirrors one element of the manager's list response. Fields are
// decoded loosely so a single bad entry cannot fail the whole payload.
type listEntry struct {
	Name         string  `json:"name"`
	PID          int     `json:"pid"`
	Status       string  `json:"status"`
	CPUPercent   float64 `json:"cpu_percent"`
	MemoryBytes  uint64  `json:"memory_bytes"`
	RestartCount int     `json:"restart_count"`
	StartedAt    string  `json:"started_at"`
}

// List fetches the current fleet snapshot.
func (c *ManagerClient) List(ctx context.Context) ([]ProcessSnapshot, error) {
	body, err := c.get(ctx, c.baseURL+"/list")
	if err != nil {
		return nil, &Error{Op: "list", Err: err}
	}
	var entries []listEntry
	if err := json.Unmarshal(body, &entries); err != nil {
		c.markBroken()
		return nil, &Error{Op: "list", Err: fmt.Errorf("decode response: %w", err)}
	}
	out := make([]ProcessSnapshot, 0, len(entries))
	for _, e := range entries {
		if e.Name == "" {
			c.logger.Warn("skipping malformed process entry without name", "pid", e.PID)
			continue
		}
		snap := ProcessSnapshot{
			Name:         e.Name,
			PID:          e.PID,
			Status:       ParseStatus(e.Status),
			CPUPercent:   e.CPUPercent,
			MemoryBytes:  e.MemoryBytes,
			RestartCount: e.RestartCount,
		}
		if e.StartedAt != "" {
			if ts, err := time.Parse(time.RFC3339, e.StartedAt); err == nil {
				snap.StartedAt = ts
			}
		}
		out = append(out, snap)
	}
	return out, nil
}

// Restart restarts a process (or "all") through the manager.
func (c *ManagerClient) Restart(ctx context.Context, name string) error {
	return c.lifecycle(ctx, "restart", name)
}

// Stop stops a process (or "all") through the manager.
func (c *ManagerClient) Stop(ctx context.Context, name string) error {
	return c.lifecycle(ctx, "stop", name)
}

// Start starts a process (or "all") through the manager.
func (c *ManagerClient) Start(ctx context.Context, name string) error {
	return c.lifecycle(ctx, "start", name)
}

// Reload reloads one process through the manager.
func (c *ManagerClient) Reload(ctx context.Context, name string) error {
	return c.lifecycle(ctx, "reload", name)
}

// Ping checks liveness of one process with the short ping timeout.
func (c *ManagerClient) Ping(ctx context.Context, name string) error {
	ctx, cancel := context.WithTimeout(ctx, c.pingTimeout)
	defer cancel()
	u := c.baseURL + "/ping?name=" + url.QueryEscape(name)
	if _, err := c.get(ctx, u); err != nil {
		return &Error{Op: "ping " + name, Err: err}
	}
	return nil
}

// Logs fetches the last lines of a process's output.
func (c *ManagerClient) Logs(ctx context.Context, name string, lines int, errorOnly bool) ([]string, error) {
	if lines <= 0 {
		lines = 50
	}
	u := c.baseURL + "/logs?name=" + url.QueryEscape(name) +
		"&lines=" + strconv.Itoa(lines) +
		"&error_only=" + strconv.FormatBool(errorOnly)
	body, err := c.get(ctx, u)
	if err != nil {
		return nil, &Error{Op: "logs " + name, Err: err}
	}
	var out []string
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, &Error{Op: "logs " + name, Err: fmt.Errorf("decode response: %w", err)}
	}
	return out, nil
}

// IsReachable reports whether the manager responds at all.
func (c *ManagerClient) IsReachable(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/status", nil)
	if err != nil {
		return false
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Debug("manager unreachable", "error", err)
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	ok := resp.StatusCode != http.StatusNotFound
	c.connected.Store(ok)
	return ok
}

func (c *ManagerClient) lifecycle(ctx context.Context, op, name string) error {
	if name == "" {
		return &Error{Op: op, Err: fmt.Errorf("process name required")}
	}
	u := c.baseURL + "/" + op + "?name=" + url.QueryEscape(name)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, nil)
	if err != nil {
		return &Error{Op: op + " " + name, Err: err}
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.markBroken()
		return &Error{Op: op + " " + name, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()
	if err := c.checkStatus(resp); err != nil {
		return &Error{Op: op + " " + name, Err: err}
	}
	c.connected.Store(true)
	return nil
}

func (c *ManagerClient) get(ctx context.Context, url string) ([]byte, error) {
	c.reconnectIfNeeded(ctx)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.markBroken()
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if err := c.checkStatus(resp); err != nil {
		return nil, err
	}
	c.connected.Store(true)
	return io.ReadAll(resp.Body)
}

type errorResponse struct {
	Error string `json:"error"`
}

func (c *ManagerClient) checkStatus(resp *http.Response) error {
	if resp.StatusCode == http.StatusOK {
		return nil
	}
	var er errorResponse
	if err := json.NewDecoder(resp.Body).Decode(&er); err != nil || er.Error == "" {
		return fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	return fmt.Errorf("manager error: %s", er.Error)
}

// reconnectIfNeeded verifies reachability after a previous failure before
// reusing the channel. Best-effort: a failed probe just leaves the flag
// down and the request proceeds (and reports its own error).
func (c *ManagerClient) reconnectIfNeeded(ctx context.Context) {
	if c.connected.Load() {
		return
	}
	c.logger.Debug("manager connection marked broken, re-checking reachability")
	c.IsReachable(ctx)
}

func (c *ManagerClient) markBroken() {
	if c.connected.Swap(false) {
		c.logger.Debug("manager connection marked broken")
	}
}
