package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"

	lj "gopkg.in/natefinch/lumberjack.v2"
)

// Default rotation parameters for the daemon log file.
const (
	DefaultMaxSizeMB  = 10 // MB
	DefaultMaxBackups = 3  // number of backup files
	DefaultMaxAgeDays = 7  // days
)

// Config describes logging for the vigil daemon.
// If File is empty, logs go to stderr with colored levels.
// Rotation parameters follow lumberjack semantics.
type Config struct {
	Level      string `mapstructure:"level"`        // debug, info, warn, error (default info)
	File       string `mapstructure:"file"`         // optional log file path
	MaxSizeMB  int    `mapstructure:"max_size_mb"`  // megabytes before rotation (default 10)
	MaxBackups int    `mapstructure:"max_backups"`  // number of backups to keep (default 3)
	MaxAgeDays int    `mapstructure:"max_age_days"` // days to keep (default 7)
	Compress   bool   `mapstructure:"compress"`     // gzip rotated files
}

// New builds a slog.Logger from the config. The returned closer is non-nil
// when a rotating file writer was opened and should be closed on shutdown.
func New(c Config) (*slog.Logger, io.Closer) {
	opts := &slog.HandlerOptions{Level: parseLevel(c.Level)}
	if c.File != "" {
		w := &lj.Logger{
			Filename:   c.File,
			MaxSize:    valOr(c.MaxSizeMB, DefaultMaxSizeMB),
			MaxBackups: valOr(c.MaxBackups, DefaultMaxBackups),
			MaxAge:     valOr(c.MaxAgeDays, DefaultMaxAgeDays),
			Compress:   c.Compress,
		}
		return slog.New(slog.NewTextHandler(w, opts)), w
	}
	return slog.New(NewColorTextHandler(os.Stderr, opts, true)), nil
}

// Setup installs the configured logger as the process-wide slog default.
func Setup(c Config) (*slog.Logger, io.Closer) {
	l, closer := New(c)
	slog.SetDefault(l)
	return l, closer
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func valOr(v int, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
