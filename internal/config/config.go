// Package config handles configuration loading and validation for the
// stream sync engine.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// Version is the current configuration schema version.
const Version = 1

// Config holds the complete client configuration.
type Config struct {
	// Version is the configuration schema version.
	Version int `toml:"version" json:"version" yaml:"version"`

	// Storage configuration for the durable cache.
	Storage StorageConfig `toml:"storage" json:"storage" yaml:"storage"`

	// Sync configuration for hydration and the write path.
	Sync SyncConfig `toml:"sync" json:"sync" yaml:"sync"`

	// Logging configuration.
	Logging LoggingConfig `toml:"logging" json:"logging" yaml:"logging"`

	// Metrics configuration.
	Metrics MetricsConfig `toml:"metrics" json:"metrics" yaml:"metrics"`

	// Manifest configuration for the high-priority stream manifest.
	Manifest ManifestConfig `toml:"manifest" json:"manifest" yaml:"manifest"`
}

// StorageConfig holds persistence configuration.
type StorageConfig struct {
	// Enabled turns the durable cache on; when false the engine is
	// network-only.
	Enabled bool `toml:"enabled" json:"enabled" yaml:"enabled"`

	// Path is the path to the SQLite database file.
	Path string `toml:"path" json:"path" yaml:"path"`
}

// SyncConfig holds hydration and write-path tuning.
type SyncConfig struct {
	// ScrollbackPageSize is how many miniblocks one backward page
	// requests.
	ScrollbackPageSize int64 `toml:"scrollback_page_size" json:"scrollback_page_size" yaml:"scrollback_page_size"`

	// WaitTimeoutSec bounds wait-for-event primitives.
	WaitTimeoutSec int `toml:"wait_timeout_sec" json:"wait_timeout_sec" yaml:"wait_timeout_sec"`

	// NodeURL is the replica endpoint.
	NodeURL string `toml:"node_url" json:"node_url" yaml:"node_url"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	// Level is the minimum log level: "debug", "info", "warn", "error".
	Level string `toml:"level" json:"level" yaml:"level"`

	// Format is "text" or "json".
	Format string `toml:"format" json:"format" yaml:"format"`

	// Output is "stdout", "stderr", or a file path.
	Output string `toml:"output" json:"output" yaml:"output"`
}

// MetricsConfig holds metrics configuration.
type MetricsConfig struct {
	// Enabled turns on the Prometheus text endpoint in the CLI.
	Enabled bool `toml:"enabled" json:"enabled" yaml:"enabled"`
}

// ManifestConfig points at the sync manifest listing high-priority
// streams.
type ManifestConfig struct {
	// Path is the manifest file location; empty disables the manifest.
	Path string `toml:"path" json:"path" yaml:"path"`

	// Watch reloads the manifest on file changes.
	Watch bool `toml:"watch" json:"watch" yaml:"watch"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Version: Version,
		Storage: StorageConfig{
			Enabled: true,
			Path:    defaultDBPath(),
		},
		Sync: SyncConfig{
			ScrollbackPageSize: 20,
			WaitTimeoutSec:     20,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
	}
}

func defaultDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "streamsync.db"
	}
	return filepath.Join(home, ".streamsync", "streamsync.db")
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if c.Version <= 0 || c.Version > Version {
		errs = append(errs, fmt.Errorf("unsupported config version %d", c.Version))
	}
	if c.Storage.Enabled && c.Storage.Path == "" {
		errs = append(errs, errors.New("storage.path required when storage is enabled"))
	}
	if c.Sync.ScrollbackPageSize <= 0 {
		errs = append(errs, fmt.Errorf("sync.scrollback_page_size must be positive, got %d", c.Sync.ScrollbackPageSize))
	}
	if c.Sync.WaitTimeoutSec <= 0 {
		errs = append(errs, fmt.Errorf("sync.wait_timeout_sec must be positive, got %d", c.Sync.WaitTimeoutSec))
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("invalid logging.level %q", c.Logging.Level))
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("invalid logging.format %q", c.Logging.Format))
	}
	if c.Manifest.Watch && c.Manifest.Path == "" {
		errs = append(errs, errors.New("manifest.watch requires manifest.path"))
	}

	return errors.Join(errs...)
}

// ApplyEnvOverrides applies environment variable overrides.
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("STREAMSYNC_DB_PATH"); v != "" {
		c.Storage.Path = v
	}
	if v := os.Getenv("STREAMSYNC_NODE_URL"); v != "" {
		c.Sync.NodeURL = v
	}
	if v := os.Getenv("STREAMSYNC_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("STREAMSYNC_MANIFEST"); v != "" {
		c.Manifest.Path = v
	}
}
