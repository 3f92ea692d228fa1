// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package domain

// Config represents the application configuration
type Config struct {
	Version  string
	Host     string `toml:"host" mapstructure:"host"`
	Port     int    `toml:"port" mapstructure:"port"`
	BaseURL  string `toml:"baseUrl" mapstructure:"baseUrl"`
	LogLevel string `toml:"logLevel" mapstructure:"logLevel"`
	LogPath  string `toml:"logPath" mapstructure:"logPath"`

	MetricsEnabled bool `toml:"metricsEnabled" mapstructure:"metricsEnabled"`
	PprofEnabled   bool `toml:"pprofEnabled" mapstructure:"pprofEnabled"`

	// Adapter selects the registered messaging platform client.
	Adapter string `toml:"adapter" mapstructure:"adapter"`
	// AdapterSettings is handed to the adapter factory untouched.
	AdapterSettings map[string]string `toml:"adapterSettings" mapstructure:"adapterSettings"`

	// Scan tuning.
	PageSize    int `toml:"pageSize" mapstructure:"pageSize"`
	PageDelayMs int `toml:"pageDelayMs" mapstructure:"pageDelayMs"`

	// Transfer tuning.
	ItemPacingSec      int    `toml:"itemPacingSec" mapstructure:"itemPacingSec"`
	ChunkSizeKiB       int    `toml:"chunkSizeKiB" mapstructure:"chunkSizeKiB"`
	MemoryThresholdMiB int    `toml:"memoryThresholdMiB" mapstructure:"memoryThresholdMiB"`
	SpoolDir           string `toml:"spoolDir" mapstructure:"spoolDir"`
}
