// Copyright (C) 2026 Agentpulse
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config loads application configuration from file, environment
// variables and typed defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/agentpulse/agentpulse/internal/logger"
)

// AppConfig holds all application configuration.
// It is instantiated by NewConfig() and passed to components that need it.
type AppConfig struct {
	DataDir  string         `mapstructure:"data_dir"` // root for audit log, manifest, rollups
	Log      logger.Config  `mapstructure:"log"`
	Watch    WatchConfig    `mapstructure:"watch"`
	Session  SessionConfig  `mapstructure:"session"`
	Recorder RecorderConfig `mapstructure:"recorder"`
	Quota    QuotaConfig    `mapstructure:"quota"`

	// PricingFile optionally points at a standalone YAML rate table that
	// overrides the inline pricing section.
	PricingFile string        `mapstructure:"pricing_file"`
	Pricing     PricingConfig `mapstructure:"pricing"`
}

// WatchConfig controls the transcript tail loop.
type WatchConfig struct {
	PollInterval    time.Duration `mapstructure:"poll_interval"`  // how often new lines are read
	SidechainScan   time.Duration `mapstructure:"sidechain_scan"` // subagent file discovery interval
	EventBufferSize int           `mapstructure:"event_buffer_size"`
}

// SessionConfig controls aggregator limits.
type SessionConfig struct {
	TimelineCapacity   int           `mapstructure:"timeline_capacity"`
	LatencyHistory     int           `mapstructure:"latency_history"`
	PendingCallLimit   int           `mapstructure:"pending_call_limit"`
	BurnRateWindow     time.Duration `mapstructure:"burn_rate_window"`
	ContextWindowLimit int           `mapstructure:"context_window_limit"` // tokens
}

// RecorderConfig controls the audit log and manifest.
type RecorderConfig struct {
	MaxAgeDays     int           `mapstructure:"max_age_days"`
	MaxTotalSizeMB int           `mapstructure:"max_total_size_mb"`
	FlushInterval  time.Duration `mapstructure:"flush_interval"`
}

// QuotaConfig controls the usage-endpoint poller.
type QuotaConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	CredentialsPath string        `mapstructure:"credentials_path"`
	UsageURL        string        `mapstructure:"usage_url"`
	RefreshInterval time.Duration `mapstructure:"refresh_interval"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
}

// NewConfig creates a new AppConfig by reading from a file, environment
// variables, and applying defaults.
func NewConfig(configPath string) (*AppConfig, error) {
	cfg := defaultConfig()

	v := viper.New()
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.agentpulse")
	}

	v.SetEnvPrefix("AGENTPULSE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// It's okay if the config file doesn't exist; defaults apply.
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if err := v.Unmarshal(&cfg, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.expandPaths()

	if cfg.PricingFile != "" {
		pricing, err := LoadPricing(cfg.PricingFile)
		if err != nil {
			return nil, err
		}
		cfg.Pricing = pricing
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// defaultConfig returns an AppConfig with default values.
// This is more type-safe than using viper.SetDefault().
func defaultConfig() AppConfig {
	return AppConfig{
		DataDir: "~/.agentpulse",
		Log: logger.Config{
			Level:   "INFO",
			Format:  "console",
			Console: false,
			File: logger.FileConfig{
				Enabled:    true,
				Path:       "~/.agentpulse/logs/agentpulse.log",
				MaxSizeMB:  50,
				MaxBackups: 5,
				MaxAgeDays: 14,
			},
			Levels: map[string]string{
				"engine":   "INFO",
				"session":  "INFO",
				"provider": "INFO",
				"recorder": "INFO",
				"quota":    "INFO",
			},
		},
		Watch: WatchConfig{
			PollInterval:    time.Second,
			SidechainScan:   5 * time.Second,
			EventBufferSize: 1000,
		},
		Session: SessionConfig{
			TimelineCapacity:   200,
			LatencyHistory:     100,
			PendingCallLimit:   1000,
			BurnRateWindow:     5 * time.Minute,
			ContextWindowLimit: 200_000,
		},
		Recorder: RecorderConfig{
			MaxAgeDays:     30,
			MaxTotalSizeMB: 100,
			FlushInterval:  3 * time.Second,
		},
		Quota: QuotaConfig{
			Enabled:         true,
			CredentialsPath: "~/.agentpulse/credentials.json",
			UsageURL:        "https://api.anthropic.com/api/oauth/usage",
			RefreshInterval: 30 * time.Second,
			RequestTimeout:  10 * time.Second,
		},
		Pricing: defaultPricing(),
	}
}

func (c *AppConfig) expandPaths() {
	c.DataDir = expandHome(c.DataDir)
	c.Log.File.Path = expandHome(c.Log.File.Path)
	c.Quota.CredentialsPath = expandHome(c.Quota.CredentialsPath)
	c.PricingFile = expandHome(c.PricingFile)
}

func (c *AppConfig) validate() error {
	if c.Session.TimelineCapacity <= 0 {
		return fmt.Errorf("session.timeline_capacity must be positive, got %d", c.Session.TimelineCapacity)
	}
	if c.Session.BurnRateWindow <= 0 {
		return fmt.Errorf("session.burn_rate_window must be positive, got %s", c.Session.BurnRateWindow)
	}
	if c.Recorder.FlushInterval <= 0 {
		return fmt.Errorf("recorder.flush_interval must be positive, got %s", c.Recorder.FlushInterval)
	}
	if c.Watch.PollInterval <= 0 {
		return fmt.Errorf("watch.poll_interval must be positive, got %s", c.Watch.PollInterval)
	}
	if c.Watch.EventBufferSize <= 0 {
		return fmt.Errorf("watch.event_buffer_size must be positive, got %d", c.Watch.EventBufferSize)
	}
	return nil
}

func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, strings.TrimPrefix(path, "~"))
	}
	return path
}
