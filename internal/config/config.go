// Package config loads tapline configuration from YAML or JSON files.
package config

import (
	"fmt"
	"log/slog"
)

// Config holds the runtime settings for the monitor binary and the
// dispatcher it embeds.
type Config struct {
	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level"`

	// StreamBuffer is the per-stream channel capacity.
	StreamBuffer int `yaml:"stream_buffer"`

	// Metrics enables the OpenTelemetry metrics recorder.
	Metrics bool `yaml:"metrics"`

	// Device is the input device path for the evdev source, e.g.
	// /dev/input/event0. Empty selects the terminal source.
	Device string `yaml:"device"`
}

// Default returns the default configuration.
func Default() Config {
	return Config{
		LogLevel:     "info",
		StreamBuffer: 64,
		Metrics:      false,
	}
}

// Validate checks the configuration for consistency.
func (c Config) Validate() error {
	if c.StreamBuffer <= 0 {
		return fmt.Errorf("stream_buffer must be positive, got %d", c.StreamBuffer)
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	return nil
}

// Level parses LogLevel into a slog level.
func (c Config) Level() (slog.Level, error) {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unknown log_level %q", c.LogLevel)
	}
}
