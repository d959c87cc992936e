// Package config holds the explicit configuration value constructed
// once at startup and passed into the engine's constructors. Nothing
// in the engine reads ambient process state.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrMissingCredentials is returned when the panel API key or password
// is not configured.
var ErrMissingCredentials = errors.New("config: panel credentials not configured")

// Config is the full tool configuration.
type Config struct {
	Panel   PanelConfig   `yaml:"panel"`
	Engine  EngineConfig  `yaml:"engine"`
	Logging LoggingConfig `yaml:"logging"`
	Audit   AuditConfig   `yaml:"audit"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// PanelConfig configures the control-panel API client.
type PanelConfig struct {
	BaseURL           string `yaml:"base_url"`
	APIKey            string `yaml:"api_key"`
	APIPass           string `yaml:"api_pass"`
	ConnectTimeoutSec int    `yaml:"connect_timeout_sec"`
	TimeoutSec        int    `yaml:"timeout_sec"`
}

// ConnectTimeout returns the configured connect timeout.
func (p PanelConfig) ConnectTimeout() time.Duration {
	return time.Duration(p.ConnectTimeoutSec) * time.Second
}

// Timeout returns the configured total-call timeout.
func (p PanelConfig) Timeout() time.Duration {
	return time.Duration(p.TimeoutSec) * time.Second
}

// EngineConfig configures the work scheduler and executor.
type EngineConfig struct {
	Workers        int    `yaml:"workers"`
	OverusePolicy  string `yaml:"overuse_policy"` // clamp | negative | skip
	RetryAttempts  int    `yaml:"retry_attempts"` // 1 = no retry
	RetryBackoffMs int    `yaml:"retry_backoff_ms"`
	DryRun         bool   `yaml:"dry_run"`
}

// LoggingConfig configures the run log.
type LoggingConfig struct {
	Format string `yaml:"format"` // "json" | "text"
	Level  string `yaml:"level"`
	File   string `yaml:"file"` // detailed run log, appended per invocation
}

// AuditConfig configures the change audit log.
type AuditConfig struct {
	File string `yaml:"file"`
}

// MetricsConfig configures the optional Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
}

// Default returns the built-in defaults.
func Default() Config {
	return Config{
		Panel: PanelConfig{
			ConnectTimeoutSec: 10,
			TimeoutSec:        60,
		},
		Engine: EngineConfig{
			Workers:        5,
			OverusePolicy:  "clamp",
			RetryAttempts:  1,
			RetryBackoffMs: 1000,
		},
		Logging: LoggingConfig{
			Format: "text",
			Level:  "info",
		},
		Audit: AuditConfig{
			File: "bwcarry-audit.log",
		},
		Metrics: MetricsConfig{
			Address: ":9104",
		},
	}
}

// Load builds the configuration: defaults, then the YAML file (if path
// is non-empty or the default file exists), then environment overrides.
func Load(path string) (Config, error) {
	cfg := Default()

	if path == "" {
		if _, err := os.Stat("bwcarry.yaml"); err == nil {
			path = "bwcarry.yaml"
		}
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	applyEnv(&cfg)
	return cfg, nil
}

// applyEnv overlays BWCARRY_* environment variables on the config.
func applyEnv(cfg *Config) {
	cfg.Panel.BaseURL = getenvDefault("BWCARRY_BASE_URL", cfg.Panel.BaseURL)
	cfg.Panel.APIKey = getenvDefault("BWCARRY_API_KEY", cfg.Panel.APIKey)
	cfg.Panel.APIPass = getenvDefault("BWCARRY_API_PASS", cfg.Panel.APIPass)
	cfg.Engine.OverusePolicy = getenvDefault("BWCARRY_OVERUSE_POLICY", cfg.Engine.OverusePolicy)
	cfg.Logging.Level = getenvDefault("BWCARRY_LOG_LEVEL", cfg.Logging.Level)
	cfg.Logging.File = getenvDefault("BWCARRY_RUN_LOG", cfg.Logging.File)
	cfg.Audit.File = getenvDefault("BWCARRY_AUDIT_LOG", cfg.Audit.File)

	if v := os.Getenv("BWCARRY_WORKERS"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			cfg.Engine.Workers = parsed
		}
	}
	if v := os.Getenv("BWCARRY_RETRY_ATTEMPTS"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			cfg.Engine.RetryAttempts = parsed
		}
	}
}

// Validate checks the configuration for a runnable state.
func (c Config) Validate() error {
	if c.Panel.BaseURL == "" {
		return fmt.Errorf("%w: base_url is empty", ErrMissingCredentials)
	}
	if c.Panel.APIKey == "" || c.Panel.APIPass == "" {
		return ErrMissingCredentials
	}
	if c.Engine.Workers < 1 {
		return fmt.Errorf("config: workers must be at least 1, got %d", c.Engine.Workers)
	}
	return nil
}

func getenvDefault(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}
