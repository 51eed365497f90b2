// Memrankd - Context Memory Ranking and Training Worker
// Copyright 2026 Memrankd Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/memrankd/memrankd

// Package config loads worker configuration via Koanf v2 with layered
// sources (highest priority wins): built-in defaults, a YAML config file,
// then MEMRANKD_* environment variables.
//
// Environment keys map through a double-underscore separator so that
// snake_case field names survive: MEMRANKD_MODEL__NATIVE_DIM sets
// model.native_dim, MEMRANKD_TRAINING__EPOCHS sets training.epochs.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"github.com/memrankd/memrankd/internal/model"
)

// DefaultConfigPaths lists the paths where config files are searched in
// order of priority. The first file found wins.
var DefaultConfigPaths = []string{
	"memrankd.yaml",
	"memrankd.yml",
	"/etc/memrankd/config.yaml",
	"/etc/memrankd/config.yml",
}

// ConfigPathEnvVar overrides the config file path.
const ConfigPathEnvVar = "MEMRANKD_CONFIG"

// envPrefix is the prefix for configuration environment variables.
const envPrefix = "MEMRANKD_"

// Config is the root worker configuration.
type Config struct {
	Logging    LoggingConfig    `koanf:"logging"`
	Model      model.Config     `koanf:"model"`
	Training   TrainingConfig   `koanf:"training"`
	Checkpoint CheckpointConfig `koanf:"checkpoint"`
	Metrics    MetricsConfig    `koanf:"metrics"`

	// Seed drives parameter initialization; a fixed seed makes a freshly
	// constructed model reproducible across restarts.
	Seed uint64 `koanf:"seed"`
}

// LoggingConfig mirrors logging.Config for the config file.
type LoggingConfig struct {
	Level  string `koanf:"level" validate:"omitempty,oneof=trace debug info warn warning error fatal panic disabled"`
	Format string `koanf:"format" validate:"omitempty,oneof=json console"`
	Caller bool   `koanf:"caller"`
}

// TrainingConfig holds optimizer and training-run settings.
type TrainingConfig struct {
	LearningRate  float64 `koanf:"learning_rate" validate:"gt=0"`
	Temperature   float64 `koanf:"temperature" validate:"gt=0"`
	Epochs        int     `koanf:"epochs" validate:"gt=0"`
	Limit         int     `koanf:"limit" validate:"gt=0"`
	MinConfidence float64 `koanf:"min_confidence" validate:"gte=0,lte=1"`
	MinStability  float64 `koanf:"min_stability" validate:"gt=0,lte=1"`
	CanarySize    int     `koanf:"canary_size" validate:"gt=0"`
}

// CheckpointConfig controls model persistence.
type CheckpointConfig struct {
	// Path is loaded at startup when the file exists, and written after
	// accepted training runs when AutoSave is set.
	Path     string `koanf:"path"`
	AutoSave bool   `koanf:"auto_save"`
}

// MetricsConfig controls the optional Prometheus listener.
type MetricsConfig struct {
	Enabled bool   `koanf:"enabled"`
	Addr    string `koanf:"addr" validate:"required_with=Enabled"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Model: model.DefaultConfig(),
		Training: TrainingConfig{
			LearningRate:  1e-3,
			Temperature:   0.5,
			Epochs:        3,
			Limit:         500,
			MinConfidence: 0.6,
			MinStability:  0.6,
			CanarySize:    10,
		},
		Checkpoint: CheckpointConfig{
			AutoSave: true,
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Addr:    "127.0.0.1:9090",
		},
		Seed: 0x519e7,
	}
}

// Load builds the layered configuration. An explicit path of "" searches
// ConfigPathEnvVar and then DefaultConfigPaths; a missing config file is
// not an error, missing explicit files are.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	explicit := path != ""
	if !explicit {
		path = resolveConfigPath()
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			if explicit || !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("load config file %s: %w", path, err)
			}
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", envKeyMapper), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// resolveConfigPath finds the first config file that exists.
func resolveConfigPath() string {
	if p := os.Getenv(ConfigPathEnvVar); p != "" {
		return p
	}
	for _, p := range DefaultConfigPaths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// envKeyMapper turns MEMRANKD_TRAINING__LEARNING_RATE into
// training.learning_rate.
func envKeyMapper(key string) string {
	key = strings.ToLower(strings.TrimPrefix(key, envPrefix))
	return strings.ReplaceAll(key, "__", ".")
}

// Validate checks the assembled configuration.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if err := c.Model.Validate(); err != nil {
		return fmt.Errorf("invalid model config: %w", err)
	}
	return nil
}
