package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config represents the application configuration
type Config struct {
	Library    LibraryConfig    `toml:"library"`
	Storage    StorageConfig    `toml:"storage"`
	Downloader DownloaderConfig `toml:"downloader"`
	Sync       SyncConfig       `toml:"sync"`
	Device     DeviceConfig     `toml:"device"`
	Logging    LoggingConfig    `toml:"logging"`
}

// LibraryConfig contains library layout configuration
type LibraryConfig struct {
	OutputRoot  string `toml:"output_root"`
	HistoryPath string `toml:"history_path"`
}

// StorageConfig contains content store configuration
type StorageConfig struct {
	LimitGB          int  `toml:"limit_gb"`
	HashPrefixLength int  `toml:"hash_prefix_length"`
	WatchPlaylists   bool `toml:"watch_playlists"`
}

// DownloaderConfig contains spotdl downloader configuration
type DownloaderConfig struct {
	SpotdlPath     string `toml:"spotdl_path"`
	Bitrate        string `toml:"bitrate"`
	AudioFormat    string `toml:"audio_format"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// SyncConfig contains sync behavior configuration
type SyncConfig struct {
	AutoDeleteRemoved bool  `toml:"auto_delete_removed"`
	MinValidFileSize  int64 `toml:"min_valid_file_size_bytes"`
}

// DeviceConfig contains removable device detection configuration
type DeviceConfig struct {
	PollIntervalSeconds int      `toml:"poll_interval_seconds"`
	NameFragments       []string `toml:"name_fragments"`
	CapacityGB          int      `toml:"capacity_gb"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		Library: LibraryConfig{
			OutputRoot:  filepath.Join(home, "Music", "Driftsync"),
			HistoryPath: "./driftsync.db",
		},
		Storage: StorageConfig{
			LimitGB:          32,
			HashPrefixLength: 16,
			WatchPlaylists:   true,
		},
		Downloader: DownloaderConfig{
			SpotdlPath:     "spotdl",
			Bitrate:        "320k",
			AudioFormat:    "mp3",
			TimeoutSeconds: 120,
		},
		Sync: SyncConfig{
			AutoDeleteRemoved: false,
			MinValidFileSize:  100 * 1024,
		},
		Device: DeviceConfig{
			PollIntervalSeconds: 2,
			NameFragments:       []string{"openswim", "shokz", "mp3 player"},
			CapacityGB:          32,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// LoadConfig loads configuration from a TOML file
func LoadConfig(configPath string) (*Config, error) {
	// Start with defaults
	cfg := DefaultConfig()

	// Check if config file exists
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		// Config file doesn't exist, create it with defaults
		if err := cfg.SaveToFile(configPath); err != nil {
			return nil, fmt.Errorf("failed to create default config file: %w", err)
		}
		fmt.Printf("Created default configuration file at: %s\n", configPath)
		return cfg, nil
	}

	// Load from file
	if _, err := toml.DecodeFile(configPath, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Environment override for the downloader executable
	if p := os.Getenv("DRIFTSYNC_SPOTDL"); p != "" {
		cfg.Downloader.SpotdlPath = p
	}

	// Validate the configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// SaveToFile saves the configuration to a TOML file
func (c *Config) SaveToFile(configPath string) error {
	// Create directory if it doesn't exist
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	// Create or open file
	file, err := os.Create(configPath)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer file.Close()

	// Write header comment
	header := `# Driftsync Configuration
# This file contains all configuration options for the driftsync library
# and device sync engine. Edit the values below to customize behavior.

`
	if _, err := file.WriteString(header); err != nil {
		return fmt.Errorf("failed to write config header: %w", err)
	}

	// Encode configuration to TOML
	encoder := toml.NewEncoder(file)
	if err := encoder.Encode(c); err != nil {
		return fmt.Errorf("failed to encode config to TOML: %w", err)
	}

	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Library.OutputRoot == "" {
		return fmt.Errorf("library output root cannot be empty")
	}
	if c.Storage.LimitGB < 1 {
		return fmt.Errorf("storage limit must be at least 1 GB")
	}
	if c.Storage.HashPrefixLength < 8 || c.Storage.HashPrefixLength > 64 {
		return fmt.Errorf("hash prefix length must be between 8 and 64 characters")
	}

	// Validate downloader config
	validBitrates := map[string]bool{
		"128k": true, "192k": true, "256k": true, "320k": true,
	}
	if !validBitrates[c.Downloader.Bitrate] {
		return fmt.Errorf("invalid bitrate: %s (must be 128k, 192k, 256k, or 320k)", c.Downloader.Bitrate)
	}
	if c.Downloader.TimeoutSeconds < 30 || c.Downloader.TimeoutSeconds > 600 {
		return fmt.Errorf("download timeout must be between 30 and 600 seconds")
	}

	// Validate sync config
	if c.Sync.MinValidFileSize < 0 {
		return fmt.Errorf("minimum valid file size cannot be negative")
	}

	// Validate device config
	if c.Device.PollIntervalSeconds < 1 {
		return fmt.Errorf("device poll interval must be at least 1 second")
	}
	if c.Device.CapacityGB < 1 {
		return fmt.Errorf("device capacity must be at least 1 GB")
	}

	// Validate logging config
	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}

	validLogFormats := map[string]bool{
		"text": true, "json": true,
	}
	if !validLogFormats[c.Logging.Format] {
		return fmt.Errorf("invalid log format: %s (must be text or json)", c.Logging.Format)
	}

	return nil
}

// DownloadTimeout returns the per-track download timeout as a duration.
func (c *Config) DownloadTimeout() time.Duration {
	return time.Duration(c.Downloader.TimeoutSeconds) * time.Second
}

// DevicePollInterval returns the device detection poll interval as a duration.
func (c *Config) DevicePollInterval() time.Duration {
	return time.Duration(c.Device.PollIntervalSeconds) * time.Second
}

// StorageLimitBytes returns the configured storage cap in bytes.
func (c *Config) StorageLimitBytes() int64 {
	return int64(c.Storage.LimitGB) * 1024 * 1024 * 1024
}
