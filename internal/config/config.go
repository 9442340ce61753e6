package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/viewlabs/viewband/pkg/envelope"
)

// Config is the root configuration. The engine never reads the
// environment itself; everything it needs is injected from here.
type Config struct {
	Samples  SamplesConfig   `yaml:"samples"`
	Envelope EnvelopeConfig  `yaml:"envelope"`
	Engine   envelope.Config `yaml:"engine"`
	Schedule ScheduleConfig  `yaml:"schedule"`
	Server   ServerConfig    `yaml:"server"`
	Alerts   AlertsConfig    `yaml:"alerts"`
	LogLevel string          `yaml:"log_level"`
}

// SamplesConfig configures the raw sample source.
type SamplesConfig struct {
	// Driver is "sqlite" (local file, schema managed here) or
	// "postgres" (external append-only table).
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// EnvelopeConfig configures the curve/baseline store.
type EnvelopeConfig struct {
	Path string `yaml:"path"`
}

// ScheduleConfig configures the background refresh cadence.
type ScheduleConfig struct {
	RefreshInterval string `yaml:"refresh_interval"`
}

// ParseRefreshInterval returns the refresh interval as time.Duration.
func (s ScheduleConfig) ParseRefreshInterval() time.Duration {
	d, err := time.ParseDuration(s.RefreshInterval)
	if err != nil {
		return 24 * time.Hour
	}
	return d
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// AlertsConfig configures refresh-report destinations.
type AlertsConfig struct {
	Slack   SlackConfig   `yaml:"slack"`
	Webhook WebhookConfig `yaml:"webhook"`
}

// SlackConfig for Slack webhook reports.
type SlackConfig struct {
	Enabled    bool   `yaml:"enabled"`
	WebhookURL string `yaml:"webhook_url"`
}

// WebhookConfig for generic signed webhook reports.
type WebhookConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
	Secret  string `yaml:"secret"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Samples:  SamplesConfig{Driver: "sqlite", DSN: "./viewband.db"},
		Envelope: EnvelopeConfig{Path: "./viewband-envelope"},
		Engine:   envelope.DefaultConfig(),
		Schedule: ScheduleConfig{RefreshInterval: "24h"},
		Server:   ServerConfig{Port: 8080},
		LogLevel: "info",
	}
}

// Load reads configuration from a YAML file and applies env var overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)
	return cfg, nil
}

// applyEnvOverrides overrides config values with environment variables.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("VIEWBAND_DB_DRIVER"); v != "" {
		cfg.Samples.Driver = v
	}
	if v := os.Getenv("VIEWBAND_DB_DSN"); v != "" {
		cfg.Samples.DSN = v
	}
	if v := os.Getenv("VIEWBAND_DATA_DIR"); v != "" {
		cfg.Envelope.Path = v
	}
	if v := os.Getenv("VIEWBAND_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("VIEWBAND_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("VIEWBAND_SLACK_WEBHOOK_URL"); v != "" {
		cfg.Alerts.Slack.WebhookURL = v
		cfg.Alerts.Slack.Enabled = true
	}
	if v := os.Getenv("VIEWBAND_WEBHOOK_URL"); v != "" {
		cfg.Alerts.Webhook.URL = v
		cfg.Alerts.Webhook.Enabled = true
	}
	if v := os.Getenv("VIEWBAND_WEBHOOK_SECRET"); v != "" {
		cfg.Alerts.Webhook.Secret = v
	}
}
