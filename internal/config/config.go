// Package config loads application configuration from environment variables.
package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all daemon configuration.
type Config struct {
	// General
	Environment string `envconfig:"ENVIRONMENT" default:"development"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	// Storage
	DBPath string `envconfig:"DB_PATH" default:"viability.db"`

	// Sweep scheduler
	SweepInterval time.Duration `envconfig:"SWEEP_INTERVAL" default:"1m"`
	SweepWorkers  int           `envconfig:"SWEEP_WORKERS" default:"4"`

	// Caches
	CacheCapacity      int           `envconfig:"CACHE_CAPACITY" default:"1024"`
	CacheSweepInterval time.Duration `envconfig:"CACHE_SWEEP_INTERVAL" default:"30s"`

	// Management API
	MgmtListenAddr  string `envconfig:"MGMT_LISTEN_ADDR" default:":8090"`
	MgmtAuthMode    string `envconfig:"MGMT_AUTH_MODE" default:"api-key"` // "api-key", "jwt", "none"
	MgmtAPIKey      string `envconfig:"MGMT_API_KEY"`
	MgmtJWTSecret   string `envconfig:"MGMT_JWT_SECRET"`
	MgmtCORSOrigins string `envconfig:"MGMT_CORS_ORIGINS"`

	// Slack notifications (optional — the daemon runs without Slack and
	// logs outcomes only)
	SlackBotToken    string `envconfig:"SLACK_BOT_TOKEN"`
	SlackCancChannel string `envconfig:"SLACK_CANCELLATION_CHANNEL" default:"#session-ops"`
	SlackWarnChannel string `envconfig:"SLACK_WARNING_CHANNEL" default:"#session-ops"`

	// Notification dispatch
	NotifyTimeout time.Duration `envconfig:"NOTIFY_TIMEOUT" default:"10s"`
	NotifyRetries int           `envconfig:"NOTIFY_RETRIES" default:"3"`

	// Optional YAML file of threshold configs loaded into an empty config
	// store at startup.
	SeedConfigPath string `envconfig:"SEED_CONFIG_PATH"`
}

// SlackEnabled returns true if a Slack bot token is configured.
func (c *Config) SlackEnabled() bool {
	return c.SlackBotToken != ""
}

// Validate checks cross-field constraints that envconfig cannot express.
func (c *Config) Validate() error {
	switch c.MgmtAuthMode {
	case "api-key":
		if c.MgmtAPIKey == "" {
			return fmt.Errorf("MGMT_API_KEY is required when MGMT_AUTH_MODE=api-key")
		}
	case "jwt":
		if c.MgmtJWTSecret == "" {
			return fmt.Errorf("MGMT_JWT_SECRET is required when MGMT_AUTH_MODE=jwt")
		}
	case "none":
	default:
		return fmt.Errorf("unknown MGMT_AUTH_MODE %q", c.MgmtAuthMode)
	}
	if c.SweepInterval <= 0 {
		return fmt.Errorf("SWEEP_INTERVAL must be positive")
	}
	if c.SweepWorkers < 1 {
		return fmt.Errorf("SWEEP_WORKERS must be >= 1")
	}
	return nil
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
