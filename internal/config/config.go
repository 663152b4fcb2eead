// Package config loads SDX configuration from .sdx/config.json under the
// workspace root.
package config

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// Config represents the complete SDX configuration
type Config struct {
	Version int `json:"version" mapstructure:"version"`

	// WorkspaceRoot anchors every relative path; file-serving endpoints
	// refuse anything that resolves outside it.
	WorkspaceRoot string `json:"workspaceRoot" mapstructure:"workspaceRoot"`

	// DataRoot holds the raw experiment tree (project/experiment/test).
	DataRoot string `json:"dataRoot" mapstructure:"dataRoot"`

	// OptimizationRoot holds parameter/result/visualization artifacts.
	OptimizationRoot string `json:"optimizationRoot" mapstructure:"optimizationRoot"`

	API     APIConfig     `json:"api" mapstructure:"api"`
	Watcher WatcherConfig `json:"watcher" mapstructure:"watcher"`
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`
}

// APIConfig contains HTTP server configuration
type APIConfig struct {
	Addr string `json:"addr" mapstructure:"addr"`
}

// WatcherConfig contains filesystem watcher configuration
type WatcherConfig struct {
	Enabled        bool     `json:"enabled" mapstructure:"enabled"`
	DebounceMs     int      `json:"debounceMs" mapstructure:"debounceMs"`
	IgnorePatterns []string `json:"ignorePatterns" mapstructure:"ignorePatterns"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Format string `json:"format" mapstructure:"format"`
	Level  string `json:"level" mapstructure:"level"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Version:          1,
		WorkspaceRoot:    ".",
		DataRoot:         "data",
		OptimizationRoot: "data/motion_sickness/optimization",
		API: APIConfig{
			Addr: "127.0.0.1:8050",
		},
		Watcher: WatcherConfig{
			Enabled:    true,
			DebounceMs: 2000,
			IgnorePatterns: []string{
				"*.tmp",
				"*.swp",
				".sdx/**",
				".git/**",
			},
		},
		Logging: LoggingConfig{
			Format: "human",
			Level:  "info",
		},
	}
}

// LoadConfig loads configuration from .sdx/config.json under the workspace
// root. A missing config file yields the defaults with WorkspaceRoot set.
func LoadConfig(workspaceRoot string) (*Config, error) {
	v := viper.New()

	v.SetDefault("version", 1)
	v.SetDefault("workspaceRoot", workspaceRoot)

	v.SetConfigName("config")
	v.SetConfigType("json")
	v.AddConfigPath(filepath.Join(workspaceRoot, ".sdx"))

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			cfg := DefaultConfig()
			cfg.WorkspaceRoot = workspaceRoot
			return cfg, nil
		}
		return nil, err
	}

	cfg := DefaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	if cfg.WorkspaceRoot == "" || cfg.WorkspaceRoot == "." {
		cfg.WorkspaceRoot = workspaceRoot
	}

	return cfg, nil
}

// Save writes the configuration to .sdx/config.json
func (c *Config) Save(workspaceRoot string) error {
	dir := filepath.Join(workspaceRoot, ".sdx")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(filepath.Join(dir, "config.json"), data, 0644)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Version != 1 {
		return &ConfigError{Field: "version", Message: "unsupported config version"}
	}
	if c.DataRoot == "" {
		return &ConfigError{Field: "dataRoot", Message: "data root is required"}
	}
	if c.OptimizationRoot == "" {
		return &ConfigError{Field: "optimizationRoot", Message: "optimization root is required"}
	}
	if c.Watcher.DebounceMs < 0 {
		return &ConfigError{Field: "watcher.debounceMs", Message: "debounce must be non-negative"}
	}
	return nil
}

// AbsDataRoot returns the data root resolved against the workspace root.
func (c *Config) AbsDataRoot() string {
	return c.resolve(c.DataRoot)
}

// AbsOptimizationRoot returns the optimization root resolved against the
// workspace root.
func (c *Config) AbsOptimizationRoot() string {
	return c.resolve(c.OptimizationRoot)
}

func (c *Config) resolve(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.WorkspaceRoot, p)
}

// ConfigError represents a configuration error
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return "config error in field '" + e.Field + "': " + e.Message
}
