package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadConfigCreatesDefaultFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("default config file not created: %v", err)
	}
	if cfg.Downloader.Bitrate != "320k" || cfg.Storage.LimitGB != 32 {
		t.Errorf("unexpected defaults: %+v", cfg)
	}

	// The created file round-trips.
	again, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	if again.Storage.HashPrefixLength != cfg.Storage.HashPrefixLength {
		t.Errorf("round-trip mismatch: %d vs %d", again.Storage.HashPrefixLength, cfg.Storage.HashPrefixLength)
	}
}

func TestLoadConfigEnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if _, err := LoadConfig(path); err != nil {
		t.Fatal(err)
	}

	t.Setenv("DRIFTSYNC_SPOTDL", "/opt/tools/spotdl")
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Downloader.SpotdlPath != "/opt/tools/spotdl" {
		t.Errorf("env override ignored: %q", cfg.Downloader.SpotdlPath)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults are valid", func(c *Config) {}, false},
		{"empty output root", func(c *Config) { c.Library.OutputRoot = "" }, true},
		{"zero storage limit", func(c *Config) { c.Storage.LimitGB = 0 }, true},
		{"hash prefix too short", func(c *Config) { c.Storage.HashPrefixLength = 4 }, true},
		{"hash prefix too long", func(c *Config) { c.Storage.HashPrefixLength = 80 }, true},
		{"bad bitrate", func(c *Config) { c.Downloader.Bitrate = "999k" }, true},
		{"timeout too short", func(c *Config) { c.Downloader.TimeoutSeconds = 5 }, true},
		{"negative min file size", func(c *Config) { c.Sync.MinValidFileSize = -1 }, true},
		{"zero poll interval", func(c *Config) { c.Device.PollIntervalSeconds = 0 }, true},
		{"bad log level", func(c *Config) { c.Logging.Level = "verbose" }, true},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestDurationHelpers(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Downloader.TimeoutSeconds = 90
	cfg.Device.PollIntervalSeconds = 3
	cfg.Storage.LimitGB = 2

	if got := cfg.DownloadTimeout(); got != 90*time.Second {
		t.Errorf("DownloadTimeout = %v", got)
	}
	if got := cfg.DevicePollInterval(); got != 3*time.Second {
		t.Errorf("DevicePollInterval = %v", got)
	}
	if got := cfg.StorageLimitBytes(); got != 2*1024*1024*1024 {
		t.Errorf("StorageLimitBytes = %d", got)
	}
}
