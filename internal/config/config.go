package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config is the on-disk configuration for the core subsystems.
type Config struct {
	Ping    PingConfig    `toml:"ping"`
	Logging LoggingConfig `toml:"logging"`
}

// PingConfig configures the keepalive ping controller (XEP-0199).
type PingConfig struct {
	// PingInterval is the maximum keepalive interval in seconds. 0 disables
	// outbound pings; the inbound ping handler is still installed.
	PingInterval int `toml:"ping_interval"`

	// MinInterval is the minimum interval in seconds used to build the
	// heartbeat wake-up window [MinInterval, PingInterval]. Defaults to
	// PingInterval when zero or unset, yielding a fixed-period timer.
	MinInterval int `toml:"min_interval"`
}

// LoggingConfig contains logging settings, matching the ambient logger's
// own Config shape.
type LoggingConfig struct {
	Level   string `toml:"level"`
	File    string `toml:"file"`
	Console bool   `toml:"console"`
}

// Paths holds the XDG-compliant paths used to locate the config file.
type Paths struct {
	ConfigDir string
}

// DefaultConfig returns the default configuration: pings disabled.
func DefaultConfig() *Config {
	return &Config{
		Ping: PingConfig{
			PingInterval: 0,
			MinInterval:  0,
		},
		Logging: LoggingConfig{
			Level:   "info",
			Console: true,
		},
	}
}

// GetPaths returns XDG-compliant paths for the application.
func GetPaths() (*Paths, error) {
	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		configDir = filepath.Join(home, ".config")
	}
	configDir = filepath.Join(configDir, "xmppcore")

	return &Paths{ConfigDir: configDir}, nil
}

// Load loads the configuration from the config file, falling back to
// defaults when the file does not exist.
func Load() (*Config, error) {
	paths, err := GetPaths()
	if err != nil {
		return nil, err
	}

	cfg := DefaultConfig()
	configPath := filepath.Join(paths.ConfigDir, "config.toml")

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	if _, err := toml.DecodeFile(configPath, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if cfg.Ping.MinInterval == 0 {
		cfg.Ping.MinInterval = cfg.Ping.PingInterval
	}

	return cfg, nil
}

// Save writes the configuration to the config file.
func Save(cfg *Config) error {
	paths, err := GetPaths()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(paths.ConfigDir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	configPath := filepath.Join(paths.ConfigDir, "config.toml")
	f, err := os.Create(configPath)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	encoder := toml.NewEncoder(f)
	if err := encoder.Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	return nil
}
