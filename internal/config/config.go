// Package config holds grip's configuration: one YAML file with nested
// sections, environment variable overrides on top, and an optional .env file
// loaded before the overrides are read. A missing config file yields the
// defaults, so a bare checkout works without any setup.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all grip configuration.
type Config struct {
	// Core settings
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	// Shell execution settings
	Shell ShellConfig `yaml:"shell"`

	// Session lifecycle settings
	Sessions SessionsConfig `yaml:"sessions"`

	// Permission engine rule sets
	Permissions PermissionsConfig `yaml:"permissions"`

	// Capability registry settings
	Capabilities CapabilitiesConfig `yaml:"capabilities"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name:    "grip",
		Version: "0.3.0",

		Shell: ShellConfig{
			Binary:         "/bin/sh",
			DefaultTimeout: "30s",
			MaxTimeout:     "10m",
			MaxOutputBytes: 10 * 1024 * 1024,
			AllowedEnvVars: []string{
				"PATH", "HOME", "USER", "SHELL", "TMPDIR",
				"LANG", "LC_ALL", "TERM",
			},
		},

		Sessions: SessionsConfig{
			HistoryLimit:   100,
			QueueCapacity:  64,
			HealthInterval: "30s",
			PollInterval:   "25ms",
		},

		Permissions: PermissionsConfig{
			TemporaryGrantTTL: "5m",
			DenyRules: []DenyRuleConfig{
				{Name: "recursive-root-delete", Command: `rm\s+(-[a-z]*r[a-z]*f|-[a-z]*f[a-z]*r)\s+/(\s|$)`},
				{Name: "privilege-escalation", Command: `^\s*(sudo|doas|su)\b`},
				{Name: "host-power", Command: `^\s*(shutdown|reboot|halt|poweroff)\b`},
				{Name: "disk-clobber", Command: `\b(mkfs|fdisk)\b|\bdd\s+if=`},
				{Name: "fork-bomb", Command: `:\(\)\s*\{\s*:\|:&\s*\}\s*;`},
				{Name: "system-config-write", Path: `^/etc/`},
			},
			AutoGrant: []AutoGrantRuleConfig{
				{
					Type:    "execute",
					Scope:   "project-only",
					Command: `^\s*(ls|pwd|echo|cat|head|tail|wc|date|env|which|grep|find|git\s+(status|log|diff|branch|show))\b`,
				},
				{Type: "read", Scope: "project-only"},
			},
		},

		Capabilities: CapabilitiesConfig{
			HistoryLimit: 500,
		},

		Logging: LoggingConfig{
			Level:     "info",
			Format:    "text",
			DebugMode: false,
		},
	}
}

// Load loads configuration from a YAML file, falling back to defaults when
// the file does not exist. A .env file beside the config file is loaded first
// so overrides can live there instead of the parent environment.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		if envPath := filepath.Join(filepath.Dir(path), ".env"); fileExists(envPath) {
			if err := godotenv.Load(envPath); err != nil {
				return nil, fmt.Errorf("failed to load %s: %w", envPath, err)
			}
		}

		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
			// Defaults only.
		case err != nil:
			return nil, fmt.Errorf("failed to read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config: %w", err)
			}
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("GRIP_SHELL"); v != "" {
		c.Shell.Binary = v
	}
	if v := os.Getenv("GRIP_DEFAULT_TIMEOUT"); v != "" {
		c.Shell.DefaultTimeout = v
	}
	if v := os.Getenv("GRIP_MAX_TIMEOUT"); v != "" {
		c.Shell.MaxTimeout = v
	}
	if v := os.Getenv("GRIP_TEMP_GRANT_TTL"); v != "" {
		c.Permissions.TemporaryGrantTTL = v
	}
	if v := os.Getenv("GRIP_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("GRIP_LOG_FORMAT"); v != "" {
		c.Logging.Format = v
	}
	if v := os.Getenv("GRIP_DEBUG"); v == "1" || v == "true" {
		c.Logging.DebugMode = true
		c.Logging.Level = "debug"
	}
}

// Validate rejects configurations the substrate cannot run with.
func (c *Config) Validate() error {
	if c.Shell.Binary == "" {
		return fmt.Errorf("shell.binary cannot be empty")
	}
	def, err := time.ParseDuration(c.Shell.DefaultTimeout)
	if err != nil || def <= 0 {
		return fmt.Errorf("shell.default_timeout %q is not a positive duration", c.Shell.DefaultTimeout)
	}
	max, err := time.ParseDuration(c.Shell.MaxTimeout)
	if err != nil || max <= 0 {
		return fmt.Errorf("shell.max_timeout %q is not a positive duration", c.Shell.MaxTimeout)
	}
	if max < def {
		return fmt.Errorf("shell.max_timeout %s is below shell.default_timeout %s", c.Shell.MaxTimeout, c.Shell.DefaultTimeout)
	}
	if c.Shell.MaxOutputBytes <= 0 {
		return fmt.Errorf("shell.max_output_bytes must be positive")
	}
	if c.Sessions.HistoryLimit <= 0 {
		return fmt.Errorf("sessions.history_limit must be positive")
	}
	if c.Sessions.QueueCapacity <= 0 {
		return fmt.Errorf("sessions.queue_capacity must be positive")
	}
	if _, err := time.ParseDuration(c.Permissions.TemporaryGrantTTL); err != nil {
		return fmt.Errorf("permissions.temporary_grant_ttl %q is not a duration", c.Permissions.TemporaryGrantTTL)
	}
	if c.Capabilities.HistoryLimit <= 0 {
		return fmt.Errorf("capabilities.history_limit must be positive")
	}
	return nil
}

// DefaultShellTimeout returns the default command timeout as a duration.
func (c *Config) DefaultShellTimeout() time.Duration {
	d, err := time.ParseDuration(c.Shell.DefaultTimeout)
	if err != nil {
		return 30 * time.Second
	}
	return d
}

// MaxShellTimeout returns the timeout ceiling as a duration.
func (c *Config) MaxShellTimeout() time.Duration {
	d, err := time.ParseDuration(c.Shell.MaxTimeout)
	if err != nil {
		return 10 * time.Minute
	}
	return d
}

// TemporaryGrantTTL returns the temporary grant window as a duration.
func (c *Config) TemporaryGrantTTL() time.Duration {
	d, err := time.ParseDuration(c.Permissions.TemporaryGrantTTL)
	if err != nil {
		return 5 * time.Minute
	}
	return d
}

// HealthInterval returns the registry health probe interval as a duration.
func (c *Config) HealthInterval() time.Duration {
	d, err := time.ParseDuration(c.Sessions.HealthInterval)
	if err != nil {
		return 30 * time.Second
	}
	return d
}

// PollInterval returns the IPC completion poll fallback interval.
func (c *Config) PollInterval() time.Duration {
	d, err := time.ParseDuration(c.Sessions.PollInterval)
	if err != nil {
		return 25 * time.Millisecond
	}
	return d
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
