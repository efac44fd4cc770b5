// Package config holds the blecon settings: defaults, an optional YAML file
// and the logger built from them.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"github.com/srg/blecon/pkg/codec"
	"gopkg.in/yaml.v3"
)

var ErrInvalidConfig = errors.New("invalid config")

// Config holds application configuration
type Config struct {
	LogLevel           string        `yaml:"log_level" default:"info"`
	Timeout            time.Duration `yaml:"timeout" default:"3s"`
	ScanWindow         time.Duration `yaml:"scan_window" default:"10s"`
	RestartDelay       time.Duration `yaml:"restart_delay" default:"1s"`
	DataFormat         string        `yaml:"data_format" default:"hex"`
	NotificationBuffer int           `yaml:"notification_buffer" default:"64"`
}

// DefaultConfig returns default configuration values
func DefaultConfig() *Config {
	cfg := &Config{}
	defaults.SetDefaults(cfg)
	return cfg
}

// Load reads a YAML file over the defaults. Keys missing from the file keep
// their default values.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrInvalidConfig, path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks ranges and enumerations.
func (c *Config) Validate() error {
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("%w: log_level: %w", ErrInvalidConfig, err)
	}
	if _, err := codec.ParseDataFormat(c.DataFormat); err != nil {
		return fmt.Errorf("%w: data_format: %w", ErrInvalidConfig, err)
	}
	if c.Timeout < time.Second || c.Timeout >= time.Minute {
		return fmt.Errorf("%w: timeout must be between 1s and 59s, got %v", ErrInvalidConfig, c.Timeout)
	}
	if c.ScanWindow <= 0 || c.RestartDelay <= 0 {
		return fmt.Errorf("%w: scan_window and restart_delay must be positive", ErrInvalidConfig)
	}
	if c.NotificationBuffer <= 0 {
		return fmt.Errorf("%w: notification_buffer must be positive", ErrInvalidConfig)
	}
	return nil
}

// Level returns the parsed log level, or info when the level is invalid.
func (c *Config) Level() logrus.Level {
	lvl, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return logrus.InfoLevel
	}
	return lvl
}

// Format returns the parsed data format, or hex when the format is invalid.
func (c *Config) Format() codec.DataFormat {
	f, err := codec.ParseDataFormat(c.DataFormat)
	if err != nil {
		return codec.Hex
	}
	return f
}

// NewLogger creates a configured logger instance
func (c *Config) NewLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(c.Level())

	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})

	return logger
}
