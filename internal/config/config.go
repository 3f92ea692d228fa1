// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package config loads the application configuration from an optional TOML
// file plus MVBRR_ prefixed environment variables, with working defaults for
// everything but the platform adapter settings.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"

	"github.com/autobrr/mvbrr/internal/domain"
)

const envPrefix = "MVBRR"

var configTemplate = `# config.toml

# Hostname / IP
#
# Default: "localhost"
#
host = "localhost"

# Port
#
# Default: 7575
#
port = 7575

# Base url
# Set custom baseUrl eg /mvbrr/ to serve in subdirectory.
# Not needed for subdomain, or by accessing with the :port directly.
#
# Optional
#
#baseUrl = "/mvbrr/"

# Log level
#
# Default: "info"
#
# Options: "ERROR", "DEBUG", "INFO", "WARN", "TRACE"
#
logLevel = "info"

# Log path
#
# Optional
#
#logPath = "log/mvbrr.log"

# Metrics
#
# Enable the Prometheus endpoint on /metrics
#
# Default: false
#
#metricsEnabled = true

# Platform adapter
#
# The built-in "memory" adapter keeps everything in-process and is meant
# for dry runs and tests. Real adapters register themselves by name.
#
# Default: "memory"
#
#adapter = "memory"

# Adapter settings, handed to the adapter untouched.
#
#[adapterSettings]
#sessionDir = "/data/sessions"
`

// AppConfig wraps the parsed configuration and its viper instance.
type AppConfig struct {
	Config *domain.Config
	viper  *viper.Viper

	configPath string
}

// New loads configuration from dir (creating a default config.toml there
// when missing) and the environment. An empty dir skips the file entirely.
func New(dir, version string) (*AppConfig, error) {
	c := &AppConfig{
		viper: viper.New(),
	}
	c.defaults(version)

	if err := c.load(dir); err != nil {
		return nil, err
	}
	if err := c.viper.Unmarshal(c.Config); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	if err := c.readAdapterSettings(); err != nil {
		return nil, err
	}
	if err := c.validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *AppConfig) defaults(version string) {
	c.Config = &domain.Config{
		Version:            version,
		Host:               "localhost",
		Port:               7575,
		LogLevel:           "info",
		Adapter:            "memory",
		PageSize:           200,
		PageDelayMs:        250,
		ItemPacingSec:      2,
		ChunkSizeKiB:       512,
		MemoryThresholdMiB: 400,
	}

	c.viper.SetDefault("host", c.Config.Host)
	c.viper.SetDefault("port", c.Config.Port)
	c.viper.SetDefault("logLevel", c.Config.LogLevel)
	c.viper.SetDefault("adapter", c.Config.Adapter)
	c.viper.SetDefault("pageSize", c.Config.PageSize)
	c.viper.SetDefault("pageDelayMs", c.Config.PageDelayMs)
	c.viper.SetDefault("itemPacingSec", c.Config.ItemPacingSec)
	c.viper.SetDefault("chunkSizeKiB", c.Config.ChunkSizeKiB)
	c.viper.SetDefault("memoryThresholdMiB", c.Config.MemoryThresholdMiB)
}

func (c *AppConfig) load(dir string) error {
	c.viper.SetConfigType("toml")
	c.viper.SetEnvPrefix(envPrefix)
	c.viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	c.viper.AutomaticEnv()

	if dir == "" {
		return nil
	}

	path := filepath.Join(dir, "config.toml")
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := c.writeDefault(path); err != nil {
			return err
		}
	}

	c.viper.SetConfigFile(path)
	if err := c.viper.ReadInConfig(); err != nil {
		return fmt.Errorf("reading config file %s: %w", path, err)
	}
	c.configPath = path
	return nil
}

// readAdapterSettings re-reads the adapterSettings table straight from the
// TOML file. Viper folds every key to lower case, which would mangle the
// camelCase keys adapters document; the settings are handed over untouched,
// casing included.
func (c *AppConfig) readAdapterSettings() error {
	if c.configPath == "" {
		return nil
	}

	data, err := os.ReadFile(c.configPath)
	if err != nil {
		return fmt.Errorf("reading config file %s: %w", c.configPath, err)
	}
	var raw struct {
		AdapterSettings map[string]string `toml:"adapterSettings"`
	}
	if err := toml.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("parsing adapter settings: %w", err)
	}
	if raw.AdapterSettings != nil {
		c.Config.AdapterSettings = raw.AdapterSettings
	}
	return nil
}

func (c *AppConfig) writeDefault(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}
	if err := os.WriteFile(path, []byte(configTemplate), 0o644); err != nil {
		return fmt.Errorf("writing default config: %w", err)
	}
	return nil
}

func (c *AppConfig) validate() error {
	cfg := c.Config

	if cfg.Port <= 0 || cfg.Port > 65535 {
		return fmt.Errorf("invalid port: %d", cfg.Port)
	}
	if _, err := zerolog.ParseLevel(strings.ToLower(cfg.LogLevel)); err != nil {
		return fmt.Errorf("invalid log level %q: %w", cfg.LogLevel, err)
	}
	if cfg.Adapter == "" {
		return fmt.Errorf("adapter must not be empty")
	}
	if cfg.PageSize <= 0 {
		return fmt.Errorf("pageSize must be positive")
	}
	if cfg.ChunkSizeKiB <= 0 {
		return fmt.Errorf("chunkSizeKiB must be positive")
	}
	if cfg.MemoryThresholdMiB <= 0 {
		return fmt.Errorf("memoryThresholdMiB must be positive")
	}
	return nil
}
