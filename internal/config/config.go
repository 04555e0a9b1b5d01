// Package config handles configuration loading and validation for devsync.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// LocalStorageConfig holds settings for the local-disk object store.
type LocalStorageConfig struct {
	Dir string `yaml:"dir"`
}

// S3StorageConfig holds settings for an S3-compatible object store
// (AWS, MinIO, or any managed provider with an S3 endpoint).
type S3StorageConfig struct {
	Endpoint  string `yaml:"endpoint"` // Empty for AWS default endpoints
	Region    string `yaml:"region"`
	Bucket    string `yaml:"bucket"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
}

// StorageConfig selects and configures the object store backend.
type StorageConfig struct {
	Provider string             `yaml:"provider"` // "local" or "s3"
	Local    LocalStorageConfig `yaml:"local"`
	S3       S3StorageConfig    `yaml:"s3"`
}

// PostgresConfig holds settings for the Postgres membership store.
type PostgresConfig struct {
	DSN string `yaml:"dsn"`
}

// MembershipConfig selects and configures the membership store backend.
type MembershipConfig struct {
	Provider string         `yaml:"provider"` // "memory" or "postgres"
	Postgres PostgresConfig `yaml:"postgres"`
}

// TerminalConfig holds settings for the external code-execution backend.
type TerminalConfig struct {
	RunnerURL   string `yaml:"runner_url"`
	Language    string `yaml:"language"`
	Version     string `yaml:"version"`
	TimeoutMS   int    `yaml:"timeout_ms"`
	MaxLogChars int    `yaml:"max_log_chars"`
}

// Timeout returns the per-run execution timeout.
func (c TerminalConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMS) * time.Millisecond
}

// RoomsConfig holds idle-room eviction settings. Durations are strings
// like "30m" or "60s".
type RoomsConfig struct {
	IdleThreshold string `yaml:"idle_threshold"`
	SweepInterval string `yaml:"sweep_interval"`
}

// IdleThresholdDuration returns the parsed eviction threshold.
func (c RoomsConfig) IdleThresholdDuration() time.Duration {
	d, err := time.ParseDuration(c.IdleThreshold)
	if err != nil {
		return 30 * time.Minute
	}
	return d
}

// SweepIntervalDuration returns the parsed collector interval.
func (c RoomsConfig) SweepIntervalDuration() time.Duration {
	d, err := time.ParseDuration(c.SweepInterval)
	if err != nil {
		return time.Minute
	}
	return d
}

// Config is the top-level devsync server configuration.
type Config struct {
	Listen         string           `yaml:"listen"`
	AllowedOrigins []string         `yaml:"allowed_origins"` // Empty allows all origins
	Storage        StorageConfig    `yaml:"storage"`
	Membership     MembershipConfig `yaml:"membership"`
	Terminal       TerminalConfig   `yaml:"terminal"`
	Rooms          RoomsConfig      `yaml:"rooms"`
}

// Load reads configuration from a YAML file and applies defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Default returns a configuration with all defaults applied, suitable
// for running without a config file.
func Default() *Config {
	cfg := &Config{}
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults fills in zero values with the documented defaults.
func (c *Config) ApplyDefaults() {
	if c.Listen == "" {
		c.Listen = ":6969"
	}
	if c.Storage.Provider == "" {
		c.Storage.Provider = "local"
	}
	if c.Storage.Local.Dir == "" {
		c.Storage.Local.Dir = "/var/lib/devsync/objects"
	}
	// Expand home directory in the local storage dir
	if strings.HasPrefix(c.Storage.Local.Dir, "~/") {
		homeDir, err := os.UserHomeDir()
		if err == nil {
			c.Storage.Local.Dir = filepath.Join(homeDir, c.Storage.Local.Dir[2:])
		}
	}
	if c.Membership.Provider == "" {
		c.Membership.Provider = "memory"
	}
	if c.Terminal.RunnerURL == "" {
		c.Terminal.RunnerURL = "https://emkc.org/api/v2/piston/execute"
	}
	if c.Terminal.Language == "" {
		c.Terminal.Language = "python"
	}
	if c.Terminal.Version == "" {
		c.Terminal.Version = "*"
	}
	if c.Terminal.TimeoutMS == 0 {
		c.Terminal.TimeoutMS = 15000
	}
	if c.Terminal.MaxLogChars == 0 {
		c.Terminal.MaxLogChars = 8000
	}
	if c.Rooms.IdleThreshold == "" {
		c.Rooms.IdleThreshold = "30m"
	}
	if c.Rooms.SweepInterval == "" {
		c.Rooms.SweepInterval = "60s"
	}
}

// Validate checks provider selectors and duration strings.
func (c *Config) Validate() error {
	switch c.Storage.Provider {
	case "local", "s3":
	default:
		return fmt.Errorf("unknown storage provider: %s", c.Storage.Provider)
	}
	if c.Storage.Provider == "s3" && c.Storage.S3.Bucket == "" {
		return fmt.Errorf("storage.s3.bucket is required")
	}

	switch c.Membership.Provider {
	case "memory", "postgres":
	default:
		return fmt.Errorf("unknown membership provider: %s", c.Membership.Provider)
	}
	if c.Membership.Provider == "postgres" && c.Membership.Postgres.DSN == "" {
		return fmt.Errorf("membership.postgres.dsn is required")
	}

	if _, err := time.ParseDuration(c.Rooms.IdleThreshold); err != nil {
		return fmt.Errorf("parse rooms.idle_threshold: %w", err)
	}
	if _, err := time.ParseDuration(c.Rooms.SweepInterval); err != nil {
		return fmt.Errorf("parse rooms.sweep_interval: %w", err)
	}

	if c.Terminal.TimeoutMS < 0 {
		return fmt.Errorf("terminal.timeout_ms must be positive")
	}

	return nil
}
