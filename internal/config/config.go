package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/loykin/vigil/internal/health"
	"github.com/loykin/vigil/internal/logger"
	"github.com/loykin/vigil/internal/monitor"
	"github.com/loykin/vigil/internal/provider"
	"github.com/loykin/vigil/internal/remedy"
)

// Config is the top-level TOML structure for the monitor daemon.
type Config struct {
	Manager provider.ManagerConfig `mapstructure:"manager"`
	Monitor monitor.Config         `mapstructure:"monitor"`
	Health  HealthConfig           `mapstructure:"health"`
	Remedy  remedy.Config          `mapstructure:"remedy"`
	Alerts  AlertsConfig           `mapstructure:"alerts"`
	Server  ServerConfig           `mapstructure:"server"`
	Metrics MetricsConfig          `mapstructure:"metrics"`
	History HistoryConfig          `mapstructure:"history"`
	Log     logger.Config          `mapstructure:"log"`
}

// HealthConfig selects and tunes the evaluation strategy.
type HealthConfig struct {
	// HTTPProbe switches from process-metric heuristics to active HTTP
	// liveness probing.
	HTTPProbe bool                `mapstructure:"http_probe"`
	Metric    health.MetricConfig `mapstructure:"metric"`
	Probe     health.ProbeConfig  `mapstructure:"probe"`
}

// AlertsConfig lists alert destinations. All are optional; the daemon
// log always receives alerts.
type AlertsConfig struct {
	WebhookURLs    []string      `mapstructure:"webhook_urls"`
	WebhookTimeout time.Duration `mapstructure:"webhook_timeout"`
	File           string        `mapstructure:"file"`
	FileMaxSizeMB  int           `mapstructure:"file_max_size_mb"`
	FileMaxBackups int           `mapstructure:"file_max_backups"`
	FileMaxAgeDays int           `mapstructure:"file_max_age_days"`
	FileCompress   bool          `mapstructure:"file_compress"`
}

// ServerConfig controls the daemon HTTP API.
type ServerConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Listen   string `mapstructure:"listen"`
	BasePath string `mapstructure:"base_path"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen"`
}

// HistoryConfig points monitoring events at an external store.
// An empty DSN disables the audit trail.
type HistoryConfig struct {
	DSN string `mapstructure:"dsn"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Manager: provider.DefaultManagerConfig(),
		Monitor: monitor.DefaultConfig(),
		Health: HealthConfig{
			Metric: health.DefaultMetricConfig(),
			Probe:  health.DefaultProbeConfig(),
		},
		Remedy: remedy.DefaultConfig(),
		Server: ServerConfig{
			Enabled:  true,
			Listen:   ":9600",
			BasePath: "/api",
		},
		Metrics: MetricsConfig{Listen: ":9601"},
		Log:     logger.Config{Level: "info"},
	}
}

// Load reads a TOML config file and overlays it on the defaults.
// Any parse or mapping error is fatal to startup by contract, so the
// caller should treat a returned error as unrecoverable.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	if err := v.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.Manager.BaseURL == "" {
		return fmt.Errorf("manager.base_url must not be empty")
	}
	if c.Monitor.CPULimitPercent < 0 || c.Monitor.CPULimitPercent > 100 {
		return fmt.Errorf("monitor.cpu_limit_percent %v out of range [0,100]", c.Monitor.CPULimitPercent)
	}
	if c.Monitor.MemoryLimitMB < 0 {
		return fmt.Errorf("monitor.memory_limit_mb must not be negative")
	}
	if c.Remedy.RestartThreshold < 0 {
		return fmt.Errorf("remedy.restart_threshold must not be negative")
	}
	for name, u := range c.Health.Probe.Endpoints {
		if u == "" {
			return fmt.Errorf("health.probe.endpoints[%s] is empty", name)
		}
	}
	return nil
}
