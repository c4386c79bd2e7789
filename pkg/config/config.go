// Package config provides TOML configuration loading for grimoire.
package config

import (
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
)

// Config is the top-level configuration structure.
type Config struct {
	Server  ServerConfig  `toml:"server"`
	Console ConsoleConfig `toml:"console"`
}

// ServerConfig holds settings for the team server connection.
type ServerConfig struct {
	URL            string `toml:"url"`
	RequestTimeout string `toml:"request_timeout"`
}

// ConsoleConfig holds settings for the operator console.
type ConsoleConfig struct {
	RefreshInterval string `toml:"refresh_interval"`
	PollInterval    string `toml:"poll_interval"`
	PollAttempts    int    `toml:"poll_attempts"`
	KeyringPath     string `toml:"keyring_path"`
	LogLevel        string `toml:"log_level"`
	LogFile         string `toml:"log_file"`
}

// ParseRequestTimeout parses the per-request HTTP timeout to a time.Duration.
func (s *ServerConfig) ParseRequestTimeout() (time.Duration, error) {
	if s.RequestTimeout == "" {
		return 5 * time.Second, nil
	}
	return time.ParseDuration(s.RequestTimeout)
}

// ParseRefreshInterval parses the beacon roster refresh period to a time.Duration.
func (c *ConsoleConfig) ParseRefreshInterval() (time.Duration, error) {
	if c.RefreshInterval == "" {
		return 5 * time.Second, nil
	}
	return time.ParseDuration(c.RefreshInterval)
}

// ParsePollInterval parses the task output poll pause to a time.Duration.
func (c *ConsoleConfig) ParsePollInterval() (time.Duration, error) {
	if c.PollInterval == "" {
		return 2 * time.Second, nil
	}
	return time.ParseDuration(c.PollInterval)
}

// Load reads and parses a TOML config file, applying defaults for unset values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	cfg := &Config{}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	applyDefaults(cfg)
	applyEnv(cfg)
	cfg.expandPaths()
	return cfg, nil
}

// LoadOrDefault loads the config at path, or returns the built-in defaults
// when path is empty. Commands use this so the console works without a
// config file on disk.
func LoadOrDefault(path string) (*Config, error) {
	if path == "" {
		return Default(), nil
	}
	return Load(path)
}

// Default returns the built-in configuration with environment overrides applied.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	applyEnv(cfg)
	cfg.expandPaths()
	return cfg
}

func (cfg *Config) expandPaths() {
	cfg.Console.KeyringPath = ExpandPath(cfg.Console.KeyringPath)
	cfg.Console.LogFile = ExpandPath(cfg.Console.LogFile)
}

// ExpandPath expands tilde (~) to the user's home directory.
func ExpandPath(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	usr, err := user.Current()
	if err != nil {
		return path
	}
	if path == "~" {
		return usr.HomeDir
	}
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(usr.HomeDir, path[2:])
	}
	return path
}

func applyDefaults(cfg *Config) {

	// Server defaults
	if cfg.Server.URL == "" {
		cfg.Server.URL = "http://127.0.0.1:5000/api"
	}
	if cfg.Server.RequestTimeout == "" {
		cfg.Server.RequestTimeout = "5s"
	}

	// Console defaults
	if cfg.Console.RefreshInterval == "" {
		cfg.Console.RefreshInterval = "5s"
	}
	if cfg.Console.PollInterval == "" {
		cfg.Console.PollInterval = "2s"
	}
	if cfg.Console.PollAttempts == 0 {
		cfg.Console.PollAttempts = 30
	}
	if cfg.Console.KeyringPath == "" {
		cfg.Console.KeyringPath = "~/.grimoire/keyring.db"
	}
	if cfg.Console.LogLevel == "" {
		cfg.Console.LogLevel = "info"
	}
}

// applyEnv lets the environment override file values, so operators can point
// an installed binary at another team server without editing the config.
func applyEnv(cfg *Config) {
	if v := os.Getenv("GRIMOIRE_SERVER_URL"); v != "" {
		cfg.Server.URL = v
	}
	if v := os.Getenv("GRIMOIRE_LOG_LEVEL"); v != "" {
		cfg.Console.LogLevel = v
	}
}
