// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package config loads the daemon configuration from YAML.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the mbus daemon.
type Config struct {
	Pool      string          `yaml:"pool"`
	Log       LogConfig       `yaml:"log"`
	Storage   StorageConfig   `yaml:"storage"`
	RateLimit RateLimitConfig `yaml:"ratelimit"`
	Bridge    BridgeConfig    `yaml:"bridge"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
}

// StorageConfig holds retained-message storage configuration.
type StorageConfig struct {
	Type string `yaml:"type"` // memory, badger

	// BadgerDB settings
	BadgerDir string `yaml:"badger_dir"`
}

// RateLimitConfig holds publisher rate limiting settings.
type RateLimitConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Rate            float64       `yaml:"rate"`  // publishes per second per client
	Burst           int           `yaml:"burst"` // burst allowance
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
}

// BridgeConfig holds upstream-mirror settings.
type BridgeConfig struct {
	Enabled  bool     `yaml:"enabled"`
	Broker   string   `yaml:"broker"` // upstream broker URL, e.g. tcp://host:1883
	ClientID string   `yaml:"client_id"`
	Username string   `yaml:"username"`
	Password string   `yaml:"password"`
	Filters  []string `yaml:"filters"` // topic filters mirrored into the pool
	QoS      byte     `yaml:"qos"`
}

// MetricsConfig holds OpenTelemetry settings.
type MetricsConfig struct {
	Enabled      bool   `yaml:"enabled"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	ServiceName  string `yaml:"service_name"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Pool: "default",
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Storage: StorageConfig{
			Type: "memory",
		},
		RateLimit: RateLimitConfig{
			Rate:            100,
			Burst:           200,
			CleanupInterval: time.Minute,
		},
		Metrics: MetricsConfig{
			OTLPEndpoint: "localhost:4317",
			ServiceName:  "mbus",
		},
	}
}

// Load reads configuration from a YAML file, applying defaults for absent
// fields.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	if c.Pool == "" {
		return fmt.Errorf("pool name must not be empty")
	}

	switch c.Storage.Type {
	case "memory":
	case "badger":
		if c.Storage.BadgerDir == "" {
			return fmt.Errorf("storage type badger requires badger_dir")
		}
	default:
		return fmt.Errorf("unknown storage type %q", c.Storage.Type)
	}

	switch c.Log.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log level %q", c.Log.Level)
	}

	if c.Bridge.Enabled {
		if c.Bridge.Broker == "" {
			return fmt.Errorf("bridge requires a broker URL")
		}
		if len(c.Bridge.Filters) == 0 {
			return fmt.Errorf("bridge requires at least one topic filter")
		}
		if c.Bridge.QoS > 2 {
			return fmt.Errorf("bridge qos must be 0, 1, or 2")
		}
	}

	return nil
}
