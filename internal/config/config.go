package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Default config file path.
const DefaultConfigPath = "~/.config/sitetracker/config.yaml"

// Config holds all sitetracker configuration.
type Config struct {
	Storage  StorageConfig  `yaml:"storage"`
	Daemon   DaemonConfig   `yaml:"daemon"`
	Tracking TrackingConfig `yaml:"tracking"`
	Sensing  SensingConfig  `yaml:"sensing"`
	Backup   BackupConfig   `yaml:"backup"`
	Reset    ResetConfig    `yaml:"reset"`
	Source   SourceConfig   `yaml:"source"`
	Summary  SummaryConfig  `yaml:"summary"`
	Logging  LoggingConfig  `yaml:"logging"`
}

type StorageConfig struct {
	Path              string `yaml:"path"`
	SQLiteFile        string `yaml:"sqlite_file"`
	SQLiteJournalMode string `yaml:"sqlite_journal_mode"`
	BackupFile        string `yaml:"backup_file"`
}

type DaemonConfig struct {
	Host           string   `yaml:"host"`
	Port           int      `yaml:"port"`
	MaxRequestSize int      `yaml:"max_request_size"`
	CORSOrigins    []string `yaml:"cors_origins"`
}

// TrackingConfig tunes the time-attribution engine.
type TrackingConfig struct {
	SweepIntervalSeconds    int      `yaml:"sweep_interval_seconds"`
	MediaStopCapSeconds     int      `yaml:"media_stop_cap_seconds"`
	HeartbeatCapSeconds     int      `yaml:"heartbeat_cap_seconds"`
	StopMediaOnTabSwitch    bool     `yaml:"stop_media_on_tab_switch"`
	MediaStopFromLastUpdate bool     `yaml:"media_stop_from_last_update"`
	IgnoreDomains           []string `yaml:"ignore_domains"`
}

// SensingConfig tunes the page-side media signal producer.
type SensingConfig struct {
	HeartbeatSeconds          int `yaml:"heartbeat_seconds"`
	MaxUpdateGapSeconds       int `yaml:"max_update_gap_seconds"`
	TimeUpdateThrottleSeconds int `yaml:"time_update_throttle_seconds"`
}

type BackupConfig struct {
	Enabled    bool `yaml:"enabled"`
	ExpiryDays int  `yaml:"expiry_days"`
}

type ResetConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Timezone string `yaml:"timezone"`
}

// SourceConfig selects where browser events come from. In "extension" mode
// the browser pushes events over HTTP; in "cdp" mode the daemon polls a
// DevTools endpoint itself.
type SourceConfig struct {
	Mode                string `yaml:"mode"`
	DevToolsURL         string `yaml:"devtools_url"`
	PollIntervalSeconds int    `yaml:"poll_interval_seconds"`
}

type SummaryConfig struct {
	HiddenSites []string `yaml:"hidden_sites"`
}

type LoggingConfig struct {
	Level      string   `yaml:"level"`
	File       string   `yaml:"file"`
	Writer     []string `yaml:"writer"`
	MaxSizeMB  int      `yaml:"max_size_mb"`
	MaxBackups int      `yaml:"max_backups"`
}

// Load reads a YAML config file at path and merges it with defaults.
// Returns an error if the file cannot be read or contains invalid YAML.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate rejects settings the engine cannot run with.
func (c *Config) Validate() error {
	if c.Tracking.SweepIntervalSeconds <= 0 {
		return fmt.Errorf("tracking.sweep_interval_seconds must be positive")
	}
	if c.Tracking.MediaStopCapSeconds <= 0 || c.Tracking.HeartbeatCapSeconds <= 0 {
		return fmt.Errorf("tracking caps must be positive")
	}
	if c.Backup.ExpiryDays <= 0 {
		return fmt.Errorf("backup.expiry_days must be positive")
	}
	switch c.Source.Mode {
	case SourceExtension, SourceCDP:
	default:
		return fmt.Errorf("source.mode %q: want %q or %q", c.Source.Mode, SourceExtension, SourceCDP)
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	return nil
}

// Source modes.
const (
	SourceExtension = "extension"
	SourceCDP       = "cdp"
)

// Location resolves reset.timezone. "Local" and "" mean the process zone.
func (c *Config) Location() (*time.Location, error) {
	if c.Reset.Timezone == "" || c.Reset.Timezone == "Local" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Reset.Timezone)
	if err != nil {
		return nil, fmt.Errorf("reset.timezone: %w", err)
	}
	return loc, nil
}

// SweepInterval returns the periodic media sweep interval.
func (c *Config) SweepInterval() time.Duration {
	return time.Duration(c.Tracking.SweepIntervalSeconds) * time.Second
}

// BackupExpiry returns how long a mirrored backup entry stays readable.
func (c *Config) BackupExpiry() time.Duration {
	return time.Duration(c.Backup.ExpiryDays) * 24 * time.Hour
}

// DBPath returns the resolved primary database path.
func (c *Config) DBPath() (string, error) {
	return c.storageFile(c.Storage.SQLiteFile)
}

// BackupPath returns the resolved backup medium path.
func (c *Config) BackupPath() (string, error) {
	return c.storageFile(c.Storage.BackupFile)
}

// LogPath returns the resolved log file path.
func (c *Config) LogPath() (string, error) {
	return c.storageFile(c.Logging.File)
}

func (c *Config) storageFile(name string) (string, error) {
	if filepath.IsAbs(name) {
		return name, nil
	}
	dir, err := expandPath(c.Storage.Path)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, name), nil
}

// expandPath replaces a leading ~ with the user's home directory.
func expandPath(path string) (string, error) {
	if len(path) > 0 && path[0] == '~' {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolving home directory: %w", err)
		}
		return filepath.Join(home, path[1:]), nil
	}
	return path, nil
}

// LoadOrCreate loads the config from the default path. If the file does
// not exist, it creates the directory structure and writes defaults.
func LoadOrCreate() (*Config, error) {
	path, err := expandPath(DefaultConfigPath)
	if err != nil {
		return nil, err
	}
	return LoadOrCreateAt(path)
}

// LoadOrCreateAt loads the config from the given path. If the file does
// not exist, it creates the directory structure and writes defaults.
func LoadOrCreateAt(path string) (*Config, error) {
	path, err := expandPath(path)
	if err != nil {
		return nil, err
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := DefaultConfig()

		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating config directory: %w", err)
		}

		data, err := yaml.Marshal(cfg)
		if err != nil {
			return nil, fmt.Errorf("marshaling default config: %w", err)
		}

		if err := os.WriteFile(path, data, 0644); err != nil {
			return nil, fmt.Errorf("writing default config: %w", err)
		}

		return cfg, nil
	}

	return Load(path)
}
