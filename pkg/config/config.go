package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Config holds application configuration
type Config struct {
	LogLevel string `yaml:"log_level" default:"info"`
	// Sensors lists the advertised names of the physical sensors.
	Sensors []string `yaml:"sensors"`
	// MetricsAddr enables the /metrics and /healthz endpoint when set.
	MetricsAddr string `yaml:"metrics_addr"`

	Connection ConnectionConfig `yaml:"connection"`
	ECG        ECGConfig        `yaml:"ecg"`
	EDA        EDAConfig        `yaml:"eda"`
}

// ConnectionConfig tunes discovery and the connection orchestrator.
type ConnectionConfig struct {
	ScanTimeout      time.Duration `yaml:"scan_timeout" default:"10s"`
	MaxParallel      int           `yaml:"max_parallel" default:"1"`
	RetryDelay       time.Duration `yaml:"retry_delay" default:"1s"`
	PollInterval     time.Duration `yaml:"poll_interval" default:"100ms"`
	FanoutErrorDelay time.Duration `yaml:"fanout_error_delay" default:"1s"`
	BatteryInterval  time.Duration `yaml:"battery_interval" default:"120s"`
}

// ECGConfig tunes the heart-rate analysis.
type ECGConfig struct {
	Window   time.Duration `yaml:"window" default:"5s"`
	History  time.Duration `yaml:"history" default:"5s"`
	Polarity float64       `yaml:"polarity" default:"-1"`
}

// EDAConfig tunes the skin-conductance response analysis.
type EDAConfig struct {
	Window       time.Duration `yaml:"window" default:"20s"`
	MinAmplitude float64       `yaml:"min_amplitude" default:"0.01"`
}

// ValidationError reports an invalid configuration value.
type ValidationError struct {
	Field  string
	Reason string
}

// Error implements the error interface
func (e *ValidationError) Error() string {
	if e == nil {
		return "<nil>"
	}
	return fmt.Sprintf("invalid config %s: %s", e.Field, e.Reason)
}

// Is makes every ValidationError match ErrInvalidConfig.
func (e *ValidationError) Is(target error) bool {
	_, ok := target.(*ValidationError)
	return ok
}

var ErrInvalidConfig = &ValidationError{}

// DefaultConfig returns default configuration values
func DefaultConfig() *Config {
	cfg := &Config{}
	defaults.SetDefaults(cfg)
	return cfg
}

// Load reads a YAML file. Keys left out take their default.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML content. Unknown keys are rejected.
func Parse(data []byte) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	defaults.SetDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Level returns the parsed log level.
func (c *Config) Level() (logrus.Level, error) {
	return logrus.ParseLevel(c.LogLevel)
}

// Validate checks values a YAML file can get wrong.
func (c *Config) Validate() error {
	if _, err := c.Level(); err != nil {
		return &ValidationError{Field: "log_level", Reason: err.Error()}
	}
	if c.Connection.MaxParallel < 1 {
		return &ValidationError{Field: "connection.max_parallel", Reason: "must be at least 1"}
	}
	durations := map[string]time.Duration{
		"connection.scan_timeout":       c.Connection.ScanTimeout,
		"connection.retry_delay":        c.Connection.RetryDelay,
		"connection.poll_interval":      c.Connection.PollInterval,
		"connection.fanout_error_delay": c.Connection.FanoutErrorDelay,
		"connection.battery_interval":   c.Connection.BatteryInterval,
		"ecg.window":                    c.ECG.Window,
		"ecg.history":                   c.ECG.History,
		"eda.window":                    c.EDA.Window,
	}
	for field, d := range durations {
		if d <= 0 {
			return &ValidationError{Field: field, Reason: "must be positive"}
		}
	}
	if c.ECG.Polarity != 1 && c.ECG.Polarity != -1 {
		return &ValidationError{Field: "ecg.polarity", Reason: "must be 1 or -1"}
	}
	return nil
}

// NewLogger creates a configured logger instance
func (c *Config) NewLogger() *logrus.Logger {
	logger := logrus.New()
	level, err := c.Level()
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	// Use structured logging format
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})

	return logger
}
