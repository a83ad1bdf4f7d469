package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.DBPath != "offline-sync.db" {
		t.Errorf("db path: got %s", cfg.DBPath)
	}
	if cfg.MaxRetries != 3 {
		t.Errorf("max retries: expected 3, got %d", cfg.MaxRetries)
	}
	if cfg.ReplayTimeout() != 15*time.Second {
		t.Errorf("replay timeout: got %s", cfg.ReplayTimeout())
	}
	if cfg.TickInterval() != 30*time.Second {
		t.Errorf("tick interval: got %s", cfg.TickInterval())
	}
}

func TestLoadConfigFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "syncctl.toml")
	content := `
db_path = "/var/lib/sync/offline.db"
remote_url = "https://api.example.com"
max_retries = 5
tick_interval_seconds = 10
device_id = "laptop-1"

[logging]
level = "debug"
format = "json"
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.DBPath != "/var/lib/sync/offline.db" {
		t.Errorf("db path: got %s", cfg.DBPath)
	}
	if cfg.RemoteURL != "https://api.example.com" {
		t.Errorf("remote url: got %s", cfg.RemoteURL)
	}
	if cfg.MaxRetries != 5 {
		t.Errorf("max retries: expected 5, got %d", cfg.MaxRetries)
	}
	if cfg.TickInterval() != 10*time.Second {
		t.Errorf("tick interval: got %s", cfg.TickInterval())
	}
	if cfg.DeviceID != "laptop-1" {
		t.Errorf("device id: got %s", cfg.DeviceID)
	}
	// File values not set keep their defaults.
	if cfg.ReplayTimeoutSeconds != 15 {
		t.Errorf("replay timeout: expected default 15, got %d", cfg.ReplayTimeoutSeconds)
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "json" {
		t.Errorf("logging config: got %+v", cfg.Logging)
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "absent.toml")); err == nil {
		t.Error("expected error for missing config file")
	}
}

func TestLoadConfigClampsNonPositive(t *testing.T) {
	path := filepath.Join(t.TempDir(), "syncctl.toml")
	content := `
max_retries = -1
replay_timeout_seconds = 0
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.MaxRetries != 3 {
		t.Errorf("expected clamped max retries 3, got %d", cfg.MaxRetries)
	}
	if cfg.ReplayTimeoutSeconds != 15 {
		t.Errorf("expected clamped timeout 15, got %d", cfg.ReplayTimeoutSeconds)
	}
}
