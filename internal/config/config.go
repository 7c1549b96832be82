// Package config handles configuration loading for orrery. It supports
// XDG config paths, project-level overrides, and environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for orrery.
type Config struct {
	// ModificationTimeoutSeconds bounds how long the synchronizer waits
	// for the planner to answer one completion before force-resolving.
	ModificationTimeoutSeconds int `mapstructure:"modification_timeout_seconds"`
	// WaitTimeoutSeconds is the per-iteration budget for waiting on
	// pending modifications. Zero means the modification timeout.
	WaitTimeoutSeconds int `mapstructure:"wait_timeout_seconds"`
	// MaxWorkers bounds concurrent task dispatches.
	MaxWorkers int `mapstructure:"max_workers"`
	// PollIntervalMS is the idle loop delay in milliseconds.
	PollIntervalMS int `mapstructure:"poll_interval_ms"`
	// QueueBufferSize is the progress queue buffer size.
	QueueBufferSize int `mapstructure:"queue_buffer_size"`
	// LedgerPath is the SQLite session ledger location. Empty uses the
	// XDG default; "off" disables the ledger.
	LedgerPath string `mapstructure:"ledger_path"`
	// AuditLogPath enables the JSONL audit trail when set.
	AuditLogPath string `mapstructure:"audit_log_path"`
	// MetricsListen exposes /metrics on this address when set.
	MetricsListen string `mapstructure:"metrics_listen"`
	// SignalsDir is the directory watched for pause/resume/stop files.
	SignalsDir string `mapstructure:"signals_dir"`
}

// ModificationTimeout returns the timeout as a duration.
func (c *Config) ModificationTimeout() time.Duration {
	return time.Duration(c.ModificationTimeoutSeconds) * time.Second
}

// WaitTimeout returns the wait budget, defaulting to the modification
// timeout.
func (c *Config) WaitTimeout() time.Duration {
	if c.WaitTimeoutSeconds <= 0 {
		return c.ModificationTimeout()
	}
	return time.Duration(c.WaitTimeoutSeconds) * time.Second
}

// PollInterval returns the idle loop delay as a duration.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMS) * time.Millisecond
}

// Load loads configuration with the following precedence (highest first):
// environment variables (ORRERY_*), project config (.orrery.yaml in the
// working directory or a parent), user config
// ($XDG_CONFIG_HOME/orrery/config.yaml), built-in defaults.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	userConfigDir := getUserConfigDir()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(userConfigDir)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading user config: %w", err)
		}
	}

	if projectConfig := findProjectConfig(); projectConfig != "" {
		projectViper := viper.New()
		projectViper.SetConfigFile(projectConfig)
		if err := projectViper.ReadInConfig(); err == nil {
			if err := v.MergeConfigMap(projectViper.AllSettings()); err != nil {
				return nil, fmt.Errorf("merging project config: %w", err)
			}
		}
	}

	v.SetEnvPrefix("ORRERY")
	v.AutomaticEnv()
	bindEnvKeys(v)

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	return cfg, nil
}

// LoadFromPath loads configuration from a specific file.
func LoadFromPath(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	return cfg, nil
}

// Save writes the configuration to the user config file.
func Save(cfg *Config) error {
	userConfigDir := getUserConfigDir()
	if err := os.MkdirAll(userConfigDir, 0700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	v := viper.New()
	v.SetConfigFile(filepath.Join(userConfigDir, "config.yaml"))

	v.Set("modification_timeout_seconds", cfg.ModificationTimeoutSeconds)
	v.Set("wait_timeout_seconds", cfg.WaitTimeoutSeconds)
	v.Set("max_workers", cfg.MaxWorkers)
	v.Set("poll_interval_ms", cfg.PollIntervalMS)
	v.Set("queue_buffer_size", cfg.QueueBufferSize)
	v.Set("ledger_path", cfg.LedgerPath)
	v.Set("audit_log_path", cfg.AuditLogPath)
	v.Set("metrics_listen", cfg.MetricsListen)
	v.Set("signals_dir", cfg.SignalsDir)

	return v.WriteConfig()
}

// GetUserConfigPath returns the path to the user config file.
func GetUserConfigPath() string {
	return filepath.Join(getUserConfigDir(), "config.yaml")
}

// GetProjectConfigPath returns the project config path if one exists.
func GetProjectConfigPath() string {
	return findProjectConfig()
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("modification_timeout_seconds", 600)
	v.SetDefault("wait_timeout_seconds", 0)
	v.SetDefault("max_workers", 4)
	v.SetDefault("poll_interval_ms", 50)
	v.SetDefault("queue_buffer_size", 64)
	v.SetDefault("ledger_path", "")
	v.SetDefault("audit_log_path", "")
	v.SetDefault("metrics_listen", "")
	v.SetDefault("signals_dir", ".orrery/signals")
}

// bindEnvKeys binds each config key explicitly so AutomaticEnv picks up
// ORRERY_* variables for nested-free keys reliably.
func bindEnvKeys(v *viper.Viper) {
	for _, key := range []string{
		"modification_timeout_seconds",
		"wait_timeout_seconds",
		"max_workers",
		"poll_interval_ms",
		"queue_buffer_size",
		"ledger_path",
		"audit_log_path",
		"metrics_listen",
		"signals_dir",
	} {
		v.BindEnv(key)
	}
}

// getUserConfigDir returns the XDG config directory for orrery.
func getUserConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "orrery")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".orrery"
	}
	return filepath.Join(home, ".config", "orrery")
}

// findProjectConfig walks up from the working directory looking for
// .orrery.yaml.
func findProjectConfig() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}
	for {
		candidate := filepath.Join(dir, ".orrery.yaml")
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}
