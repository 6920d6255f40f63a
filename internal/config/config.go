package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config source kinds
const (
	SourceYAML     = "yaml"
	SourceDatabase = "database"
)

// Config is the process configuration loaded at startup. The three
// declarative registries (databases, queries, endpoints) are loaded
// separately through a Source selected by Registry.Source.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Logging  LoggingConfig  `yaml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Swagger  SwaggerConfig  `yaml:"swagger"`
	Health   HealthConfig   `yaml:"health"`
	Registry RegistryConfig `yaml:"config"`
}

type ServerConfig struct {
	Host              string `yaml:"host"`
	Port              int    `yaml:"port"`
	DefaultTimeoutSec int    `yaml:"default_timeout_sec"` // Default query timeout
	MaxTimeoutSec     int    `yaml:"max_timeout_sec"`     // Caps per-request overrides
}

type LoggingConfig struct {
	Level      string `yaml:"level"`        // debug, info, warn, error
	FilePath   string `yaml:"file_path"`    // Log file path (empty = stdout)
	MaxSizeMB  int    `yaml:"max_size_mb"`  // Rotate at this size (MB)
	MaxBackups int    `yaml:"max_backups"`  // Old files to keep
	MaxAgeDays int    `yaml:"max_age_days"` // Delete after days
}

type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

type SwaggerConfig struct {
	Enabled bool `yaml:"enabled"`
}

type HealthConfig struct {
	ProbeIntervalMs int `yaml:"probe_interval_ms"` // 0 = default 30000
}

// RegistryConfig selects and parameterizes the configuration source.
type RegistryConfig struct {
	Source           string          `yaml:"source"`           // yaml or database
	Directories      []string        `yaml:"directories"`      // FileSource scan roots, in order
	DatabasePatterns []string        `yaml:"databasePatterns"` // Globs for database files
	QueryPatterns    []string        `yaml:"queryPatterns"`    // Globs for query files
	EndpointPatterns []string        `yaml:"endpointPatterns"` // Globs for endpoint files
	Metadata         *MetadataConfig `yaml:"metadata"`         // Metadata DB (source=database)
}

// MetadataConfig points at the metadata database holding the config tables.
type MetadataConfig struct {
	Driver   string `yaml:"driver"`
	URL      string `yaml:"url"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// Default glob patterns used when the config omits them
var (
	DefaultDatabasePatterns = []string{"*databases*.yaml", "*databases*.yml"}
	DefaultQueryPatterns    = []string{"*queries*.yaml", "*queries*.yml"}
	DefaultEndpointPatterns = []string{"*endpoints*.yaml", "*endpoints*.yml"}
)

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Expand environment variables in the config
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.validateRequired(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.DefaultTimeoutSec == 0 {
		c.Server.DefaultTimeoutSec = 30
	}
	if c.Server.MaxTimeoutSec == 0 {
		c.Server.MaxTimeoutSec = 300
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.MaxSizeMB == 0 {
		c.Logging.MaxSizeMB = 100
	}
	if c.Logging.MaxBackups == 0 {
		c.Logging.MaxBackups = 5
	}
	if c.Logging.MaxAgeDays == 0 {
		c.Logging.MaxAgeDays = 30
	}
	if c.Health.ProbeIntervalMs == 0 {
		c.Health.ProbeIntervalMs = 30000
	}
	if c.Registry.Source == "" {
		c.Registry.Source = SourceYAML
	}
	if len(c.Registry.DatabasePatterns) == 0 {
		c.Registry.DatabasePatterns = DefaultDatabasePatterns
	}
	if len(c.Registry.QueryPatterns) == 0 {
		c.Registry.QueryPatterns = DefaultQueryPatterns
	}
	if len(c.Registry.EndpointPatterns) == 0 {
		c.Registry.EndpointPatterns = DefaultEndpointPatterns
	}
}

// validateRequired checks structural requirements for config loading.
// Registry-level validation with warnings is done by registry.Validate.
func (c *Config) validateRequired() error {
	if c.Server.Port == 0 {
		return fmt.Errorf("server.port is required")
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be 1-65535")
	}
	if c.Server.MaxTimeoutSec < c.Server.DefaultTimeoutSec {
		return fmt.Errorf("server.max_timeout_sec must be >= server.default_timeout_sec")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be debug, info, warn, or error")
	}

	switch c.Registry.Source {
	case SourceYAML:
		if len(c.Registry.Directories) == 0 {
			return fmt.Errorf("config.directories is required when config.source is yaml")
		}
	case SourceDatabase:
		if c.Registry.Metadata == nil {
			return fmt.Errorf("config.metadata is required when config.source is database")
		}
		if c.Registry.Metadata.Driver == "" || c.Registry.Metadata.URL == "" {
			return fmt.Errorf("config.metadata.driver and config.metadata.url are required")
		}
	default:
		return fmt.Errorf("config.source must be yaml or database, got %q", c.Registry.Source)
	}

	return nil
}
