// Package config handles configuration for lambdactl.
//
// Precedence, lowest first: built-in defaults, the YAML config file, the
// environment (optionally seeded from a dotenv file), command-line flags.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment variables read by lambdactl.
const (
	EnvAPIKey     = "LAMBDA_API_KEY"
	EnvBaseURL    = "LAMBDA_API_BASE_URL"
	EnvConfigPath = "LAMBDACTL_CONFIG"
)

// Defaults.
const (
	DefaultPath         = "lambdactl.yaml"
	DefaultBaseURL      = "https://cloud.lambda.ai/api/v1"
	DefaultTimeout      = 30 * time.Second
	DefaultTagKey       = "started-at"
	DefaultThreshold    = 24 * time.Hour
	DefaultWorkers      = 4
	DefaultAuditWindow  = 14 * 24 * time.Hour
	DefaultResourceType = "instance"
	DefaultMaxPages     = 25
	DefaultServiceName  = "lambdactl"

	DefaultWatchInterval = 15 * time.Minute
	DefaultListenAddr    = ":9090"
)

// DefaultRunningStatuses are the provider statuses treated as running.
var DefaultRunningStatuses = []string{"active", "booting", "unhealthy", "running"}

// DefaultMatchPatterns are the audit action keywords that indicate a launch.
var DefaultMatchPatterns = []string{"launch", "launched", "start", "started", "restart", "restarted"}

// ErrInvalid is wrapped by every configuration validation failure.
var ErrInvalid = errors.New("invalid configuration")

// Config is the root configuration structure.
type Config struct {
	API         APIConfig         `yaml:"api"`
	LongRunning LongRunningConfig `yaml:"long_running"`
	Audit       AuditConfig       `yaml:"audit"`
	Log         LogConfig         `yaml:"log"`
	OTEL        OTELConfig        `yaml:"otel"`
	Metrics     TextfileConfig    `yaml:"metrics"`
	Journal     JournalConfig     `yaml:"journal"`
	Watch       WatchConfig       `yaml:"watch"`
}

// APIConfig holds provider API settings. The key is never read from the
// config file.
type APIConfig struct {
	Key       string        `yaml:"-"`
	BaseURL   string        `yaml:"base_url" validate:"required,url"`
	Timeout   time.Duration `yaml:"timeout" validate:"gt=0"`
	RateLimit bool          `yaml:"rate_limit"`
}

// LongRunningConfig holds settings for the long-running check.
type LongRunningConfig struct {
	TagKey          string        `yaml:"tag_key" validate:"required"`
	Threshold       time.Duration `yaml:"threshold" validate:"gt=0"`
	FailOnFindings  bool          `yaml:"fail_on_findings"`
	IncludeUnknown  bool          `yaml:"include_unknown"`
	Workers         int           `yaml:"workers" validate:"min=1,max=64"`
	RunningStatuses []string      `yaml:"running_statuses" validate:"min=1,dive,required"`
}

// AuditConfig holds settings for the audit-event fallback.
type AuditConfig struct {
	FallbackAuditEvents bool          `yaml:"fallback_audit_events"`
	Window              time.Duration `yaml:"window" validate:"gt=0"`
	ResourceType        string        `yaml:"resource_type"`
	MaxPages            int           `yaml:"max_pages" validate:"min=1"`
	MatchPatterns       []string      `yaml:"match_patterns" validate:"dive,required"`
	PolicyFile          string        `yaml:"policy_file"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `yaml:"level" validate:"oneof=trace debug info warn error"`
	Format string `yaml:"format" validate:"oneof=console json"`
}

// OTELConfig holds OpenTelemetry settings.
type OTELConfig struct {
	Endpoint    string        `yaml:"endpoint"`
	Insecure    bool          `yaml:"insecure"`
	ServiceName string        `yaml:"service_name"`
	Traces      TracesConfig  `yaml:"traces"`
	Metrics     MetricsConfig `yaml:"metrics"`
}

// TracesConfig holds tracing settings.
type TracesConfig struct {
	Enabled    bool    `yaml:"enabled"`
	SampleRate float64 `yaml:"sample_rate" validate:"gte=0,lte=1"`
}

// MetricsConfig holds OTLP metrics settings.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// TextfileConfig holds the node_exporter textfile output settings.
type TextfileConfig struct {
	Textfile string `yaml:"textfile"`
}

// JournalConfig holds the operation journal settings. An empty path
// disables the journal.
type JournalConfig struct {
	Path string `yaml:"path"`
}

// WatchConfig holds settings for repeated checks.
type WatchConfig struct {
	Interval time.Duration `yaml:"interval" validate:"gt=0"`
	Listen   string        `yaml:"listen"` // Empty disables the metrics and health server
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		API: APIConfig{
			BaseURL:   DefaultBaseURL,
			Timeout:   DefaultTimeout,
			RateLimit: true,
		},
		LongRunning: LongRunningConfig{
			TagKey:          DefaultTagKey,
			Threshold:       DefaultThreshold,
			Workers:         DefaultWorkers,
			RunningStatuses: append([]string(nil), DefaultRunningStatuses...),
		},
		Audit: AuditConfig{
			Window:        DefaultAuditWindow,
			ResourceType:  DefaultResourceType,
			MaxPages:      DefaultMaxPages,
			MatchPatterns: append([]string(nil), DefaultMatchPatterns...),
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
		OTEL: OTELConfig{
			ServiceName: DefaultServiceName,
			Traces:      TracesConfig{SampleRate: 1.0},
		},
		Watch: WatchConfig{
			Interval: DefaultWatchInterval,
			Listen:   DefaultListenAddr,
		},
	}
}

// Load reads a YAML config file on top of the defaults. Unknown fields are
// rejected.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML config bytes on top of the defaults.
func Parse(data []byte) (*Config, error) {
	cfg := Default()

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyDefaults(cfg)
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.OTEL.ServiceName == "" {
		cfg.OTEL.ServiceName = DefaultServiceName
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "console"
	}
}

// ResolvePath picks the config file to load. An explicit flag or
// LAMBDACTL_CONFIG must exist; the default path is used only if present.
// The returned path is empty when no file applies.
func ResolvePath(flagPath string, lookup func(string) (string, bool)) (path string, required bool) {
	if flagPath != "" {
		return flagPath, true
	}
	if v, ok := lookup(EnvConfigPath); ok && v != "" {
		return v, true
	}
	if _, err := os.Stat(DefaultPath); err == nil {
		return DefaultPath, false
	}
	return "", false
}

// ApplyEnv overlays environment settings onto the config.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	if v, ok := lookup(EnvAPIKey); ok && v != "" {
		c.API.Key = v
	}
	if v, ok := lookup(EnvBaseURL); ok && v != "" {
		c.API.BaseURL = v
	}
}
