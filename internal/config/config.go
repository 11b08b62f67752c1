// ABOUTME: Configuration loading and parsing for the fb controller
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete fb controller configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Discovery DiscoveryConfig `yaml:"discovery"`
	Backups   BackupsConfig   `yaml:"backups"`
	Auth      AuthConfig      `yaml:"auth"`
	Agents    AgentsConfig    `yaml:"agents"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig holds the HTTP API address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// DiscoveryConfig holds the UDP discovery listener configuration
type DiscoveryConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// BackupsConfig holds the on-disk backup storage configuration
type BackupsConfig struct {
	Root string `yaml:"root"`
}

// AuthConfig holds operator API authentication configuration
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
}

// AgentsConfig holds agent call timing configuration
type AgentsConfig struct {
	ControlTimeout  time.Duration `yaml:"-"`
	TransferTimeout time.Duration `yaml:"-"`

	// Raw string values for YAML unmarshaling
	ControlTimeoutRaw  string `yaml:"control_timeout"`
	TransferTimeoutRaw string `yaml:"transfer_timeout"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default values applied by Load when the file omits them.
const (
	DefaultHTTPAddr      = ":8080"
	DefaultDiscoveryPort = 7355
)

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.applyDefaults()

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.HTTPAddr == "" {
		c.Server.HTTPAddr = DefaultHTTPAddr
	}
	if c.Discovery.Port == 0 {
		c.Discovery.Port = DefaultDiscoveryPort
	}
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.Backups.Root == "" {
		return fmt.Errorf("backups.root is required")
	}
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required")
	}
	if len(c.Auth.JWTSecret) < 16 {
		return fmt.Errorf("auth.jwt_secret must be at least 16 characters")
	}
	if c.Discovery.Port < 0 || c.Discovery.Port > 65535 {
		return fmt.Errorf("discovery.port %d is out of range", c.Discovery.Port)
	}
	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Agents.ControlTimeoutRaw != "" {
		cfg.Agents.ControlTimeout, err = time.ParseDuration(cfg.Agents.ControlTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing control_timeout %q: %w", cfg.Agents.ControlTimeoutRaw, err)
		}
	}

	if cfg.Agents.TransferTimeoutRaw != "" {
		cfg.Agents.TransferTimeout, err = time.ParseDuration(cfg.Agents.TransferTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing transfer_timeout %q: %w", cfg.Agents.TransferTimeoutRaw, err)
		}
	}

	return nil
}
