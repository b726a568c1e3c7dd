package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Client provides HTTP client functionality to communicate with the
// vigil daemon API.
type Client struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// Config holds client configuration.
type Config struct {
	BaseURL string
	Timeout time.Duration
	Logger  *slog.Logger // Optional logger for client operations
}

// DefaultConfig returns default client configuration.
func DefaultConfig() Config {
	return Config{
		BaseURL: "http://localhost:9600/api",
		Timeout: 10 * time.Second,
	}
}

// New creates a new vigil API client.
func New(config Config) *Client {
	if config.BaseURL == "" {
		config.BaseURL = "http://localhost:9600/api"
	}
	if config.Timeout == 0 {
		config.Timeout = 10 * time.Second
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &Client{
		baseURL: config.BaseURL,
		logger:  config.Logger,
		client:  &http.Client{Timeout: config.Timeout},
	}
}

// IsReachable checks if the daemon is running and reachable.
func (c *Client) IsReachable(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/status", nil)
	if err != nil {
		return false
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Debug("daemon unreachable", "error", err)
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	return resp.StatusCode != http.StatusNotFound
}

// Status returns the fleet snapshot with health summaries.
func (c *Client) Status(ctx context.Context) ([]ProcessStatus, error) {
	var out []ProcessStatus
	if err := c.getJSON(ctx, c.baseURL+"/status", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Health returns the rolling health record for one process.
func (c *Client) Health(ctx context.Context, name string) (HealthRecord, error) {
	var out HealthRecord
	u := c.baseURL + "/health?name=" + url.QueryEscape(name)
	if err := c.getJSON(ctx, u, &out); err != nil {
		return HealthRecord{}, err
	}
	return out, nil
}

// HealthAll returns every known health record.
func (c *Client) HealthAll(ctx context.Context) ([]HealthRecord, error) {
	var out []HealthRecord
	if err := c.getJSON(ctx, c.baseURL+"/health", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Alerts returns the daemon's recent alerts, newest last.
func (c *Client) Alerts(ctx context.Context) ([]Alert, error) {
	var out []Alert
	if err := c.getJSON(ctx, c.baseURL+"/alerts", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Logs fetches the last lines of a process's output through the daemon.
func (c *Client) Logs(ctx context.Context, name string, lines int, errorOnly bool) ([]string, error) {
	u := fmt.Sprintf("%s/logs?name=%s&lines=%d&error_only=%s",
		c.baseURL, url.QueryEscape(name), lines, strconv.FormatBool(errorOnly))
	var out []string
	if err := c.getJSON(ctx, u, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Check triggers an immediate deep-health pass.
func (c *Client) Check(ctx context.Context) error {
	return c.post(ctx, c.baseURL+"/check")
}

// Remediate requests a manual restart of one process.
func (c *Client) Remediate(ctx context.Context, name string) error {
	return c.post(ctx, c.baseURL+"/remediate?name="+url.QueryEscape(name))
}

func (c *Client) getJSON(ctx context.Context, u string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if err := checkResponse(resp); err != nil {
		return err
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Client) post(ctx context.Context, u string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	return checkResponse(resp)
}

func checkResponse(resp *http.Response) error {
	if resp.StatusCode < http.StatusBadRequest {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
	var er ErrorResponse
	if json.Unmarshal(body, &er) == nil && er.Error != "" {
		return fmt.Errorf("daemon: %s", er.Error)
	}
	return fmt.Errorf("daemon returned HTTP %d", resp.StatusCode)
}
