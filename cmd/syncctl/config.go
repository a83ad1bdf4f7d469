package main

import (
	"fmt"
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/c0deZ3R0/go-offline-sync/logging"
)

// Config is the syncctl configuration file layout.
type Config struct {
	// DBPath is the SQLite database holding the offline collections.
	DBPath string `toml:"db_path"`

	// RemoteURL is the base URL of the remote store the queue replays against.
	RemoteURL string `toml:"remote_url"`

	// MaxRetries is the replay cap before an operation becomes a conflict.
	MaxRetries int `toml:"max_retries"`

	// ReplayTimeoutSeconds bounds each network replay attempt.
	ReplayTimeoutSeconds int `toml:"replay_timeout_seconds"`

	// TickIntervalSeconds is the periodic sync tick fed to the monitor.
	TickIntervalSeconds int `toml:"tick_interval_seconds"`

	// DeviceID stamps promoted conflicts with the originating device.
	DeviceID string `toml:"device_id"`

	// UserID stamps promoted conflicts with the owning user.
	UserID string `toml:"user_id"`

	Logging logging.Config `toml:"logging"`
}

// DefaultCLIConfig returns the configuration used when no file is given.
func DefaultCLIConfig() Config {
	return Config{
		DBPath:               "offline-sync.db",
		RemoteURL:            "http://localhost:8080",
		MaxRetries:           3,
		ReplayTimeoutSeconds: 15,
		TickIntervalSeconds:  30,
		Logging:              logging.GetConfigFromEnv(),
	}
}

// LoadConfig reads a TOML config file, filling gaps with defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultCLIConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.ReplayTimeoutSeconds <= 0 {
		cfg.ReplayTimeoutSeconds = 15
	}
	if cfg.TickIntervalSeconds <= 0 {
		cfg.TickIntervalSeconds = 30
	}
	return cfg, nil
}

// ReplayTimeout returns the replay timeout as a duration.
func (c Config) ReplayTimeout() time.Duration {
	return time.Duration(c.ReplayTimeoutSeconds) * time.Second
}

// TickInterval returns the tick interval as a duration.
func (c Config) TickInterval() time.Duration {
	return time.Duration(c.TickIntervalSeconds) * time.Second
}
