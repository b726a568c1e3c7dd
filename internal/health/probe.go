package health

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/loykin/vigil/internal/provider"
)

// Probe status values recorded on the health record.
const (
	ProbeOK          = "ok"
	ProbeSlow        = "slow"
	ProbeHTTPError   = "http_error"
	ProbeAppReported = "app_unhealthy"
	ProbeTimeout     = "timeout"
	ProbeRefused     = "connection_refused"
	ProbeNetError    = "network_error"
	ProbeServerError = "server_error"
)

// slowFraction of the timeout budget after which a response is flagged slow.
const slowFraction = 0.8

// ProbeConfig tunes the HTTP liveness strategy.
type ProbeConfig struct {
	Timeout     time.Duration     `mapstructure:"timeout"`      // per-probe budget (default 5s)
	DefaultPath string            `mapstructure:"default_path"` // health endpoint path (default /health)
	DefaultPort int               `mapstructure:"default_port"` // fallback port (default 3000)
	Endpoints   map[string]string `mapstructure:"endpoints"`    // per-process full URL overrides
}

// DefaultProbeConfig returns the reference probe settings.
func DefaultProbeConfig() ProbeConfig {
	return ProbeConfig{
		Timeout:     5 * time.Second,
		DefaultPath: "/health",
		DefaultPort: 3000,
	}
}

func (c ProbeConfig) withDefaults() ProbeConfig {
	d := DefaultProbeConfig()
	if c.Timeout <= 0 {
		c.Timeout = d.Timeout
	}
	if c.DefaultPath == "" {
		c.DefaultPath = d.DefaultPath
	}
	if !strings.HasPrefix(c.DefaultPath, "/") {
		c.DefaultPath = "/" + c.DefaultPath
	}
	if c.DefaultPort <= 0 {
		c.DefaultPort = d.DefaultPort
	}
	return c
}

// portsByNamePattern maps well-known service name fragments to their
// conventional ports, consulted when the process name carries no numeric
// port token and no explicit override exists.
var portsByNamePattern = []struct {
	fragment string
	port     int
}{
	{"api", 8080},
	{"web", 3000},
	{"admin", 9000},
	{"worker", 9100},
}

// ProbeEvaluator classifies health by probing a per-process HTTP endpoint.
// Any status below 500 counts as "service up" but may still be flagged:
// client errors, slow responses, or a body that reports itself unhealthy.
type ProbeEvaluator struct {
	cfg    ProbeConfig
	client *http.Client
}

var _ Evaluator = (*ProbeEvaluator)(nil)

// NewProbeEvaluator builds the HTTP liveness strategy.
func NewProbeEvaluator(cfg ProbeConfig) *ProbeEvaluator {
	cfg = cfg.withDefaults()
	return &ProbeEvaluator{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

// Endpoint resolves the probe URL for a process name.
// Order: explicit override, numeric token in the name, well-known name
// pattern, configured default port.
func (e *ProbeEvaluator) Endpoint(name string) string {
	if u, ok := e.cfg.Endpoints[name]; ok {
		return u
	}
	port := e.cfg.DefaultPort
	if p, ok := portFromName(name); ok {
		port = p
	} else {
		lower := strings.ToLower(name)
		for _, pat := range portsByNamePattern {
			if strings.Contains(lower, pat.fragment) {
				port = pat.port
				break
			}
		}
	}
	return fmt.Sprintf("http://localhost:%d%s", port, e.cfg.DefaultPath)
}

// portFromName extracts a plausible port from a numeric token in the
// process name, e.g. "billing-3001" or "api_8443".
func portFromName(name string) (int, bool) {
	for _, tok := range strings.FieldsFunc(name, func(r rune) bool {
		return r < '0' || r > '9'
	}) {
		if len(tok) < 2 || len(tok) > 5 {
			continue
		}
		if p, err := strconv.Atoi(tok); err == nil && p > 0 && p <= 65535 {
			return p, true
		}
	}
	return 0, false
}

// probeBody is the structured shape some services report health in.
type probeBody struct {
	Status  string `json:"status"`
	Healthy *bool  `json:"healthy"`
}

// Evaluate probes the resolved endpoint and classifies the outcome.
func (e *ProbeEvaluator) Evaluate(ctx context.Context, snap provider.ProcessSnapshot, _ Record) Verdict {
	endpoint := e.Endpoint(snap.Name)
	ctx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return e.unhealthy(snap.Name, ProbeNetError, 0, fmt.Sprintf("invalid endpoint %s: %v", endpoint, err))
	}
	resp, err := e.client.Do(req)
	latency := time.Since(start)
	if err != nil {
		status, reason := classifyProbeError(err, e.cfg.Timeout)
		return e.unhealthy(snap.Name, status, latency, reason)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= http.StatusInternalServerError {
		return e.unhealthy(snap.Name, ProbeServerError, latency,
			fmt.Sprintf("HTTP %d from %s", resp.StatusCode, endpoint))
	}

	// Service is up; collect soft flags.
	var reasons []string
	status := ProbeOK
	if resp.StatusCode >= http.StatusBadRequest {
		status = ProbeHTTPError
		reasons = append(reasons, fmt.Sprintf("HTTP error: status %d from %s", resp.StatusCode, endpoint))
	}
	if float64(latency) >= slowFraction*float64(e.cfg.Timeout) {
		if status == ProbeOK {
			status = ProbeSlow
		}
		reasons = append(reasons, fmt.Sprintf("slow response: %s of %s budget", latency.Round(time.Millisecond), e.cfg.Timeout))
	}
	if body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10)); err == nil {
		var pb probeBody
		if json.Unmarshal(body, &pb) == nil {
			if strings.EqualFold(pb.Status, "unhealthy") || (pb.Healthy != nil && !*pb.Healthy) {
				status = ProbeAppReported
				reasons = append(reasons, "application reports unhealthy")
			}
		}
	}

	if len(reasons) > 0 {
		return Verdict{
			Name:    snap.Name,
			Reasons: reasons,
			Probe:   &ProbeResult{Status: status, Latency: latency},
		}
	}
	v := healthy(snap.Name)
	v.Probe = &ProbeResult{Status: ProbeOK, Latency: latency}
	return v
}

func (e *ProbeEvaluator) unhealthy(name, status string, latency time.Duration, reason string) Verdict {
	return Verdict{
		Name:    name,
		Reasons: []string{reason},
		Probe:   &ProbeResult{Status: status, Latency: latency},
	}
}

// classifyProbeError maps transport failures to a probe status and a
// human-readable reason.
func classifyProbeError(err error, budget time.Duration) (string, string) {
	var nerr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded),
		errors.As(err, &nerr) && nerr.Timeout():
		return ProbeTimeout, fmt.Sprintf("timeout: no response within %s", budget)
	case errors.Is(err, syscall.ECONNREFUSED):
		return ProbeRefused, "connection refused"
	default:
		return ProbeNetError, fmt.Sprintf("network error: %v", err)
	}
}
