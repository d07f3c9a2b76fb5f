// Package config loads memoria configuration from defaults, an optional
// YAML file, bound command-line flags, and MEMORIA_ environment variables,
// in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	// Log configuration
	Log LogConfig `mapstructure:"log"`

	// Server configuration
	Server ServerConfig `mapstructure:"server"`

	// Database configuration
	Database DatabaseConfig `mapstructure:"database"`

	// Extraction configuration
	Extraction ExtractionConfig `mapstructure:"extraction"`

	// CircuitBreaker configuration
	CircuitBreaker CircuitBreakerConfig `mapstructure:"circuit_breaker"`

	// Checkpoint configuration
	Checkpoint CheckpointConfig `mapstructure:"checkpoint"`

	// Export configuration
	Export ExportConfig `mapstructure:"export"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // text, json
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	Mode string `mapstructure:"mode"` // gin mode: debug, release, test
}

// DatabaseConfig holds graph backend configuration
type DatabaseConfig struct {
	Driver string `mapstructure:"driver"` // memory, sqlite
	Path   string `mapstructure:"path"`   // sqlite file path; ":memory:" for ephemeral
}

// ExtractionConfig holds entity extraction configuration
type ExtractionConfig struct {
	Provider    string  `mapstructure:"provider"` // llm, pattern
	APIKey      string  `mapstructure:"api_key"`
	BaseURL     string  `mapstructure:"base_url"`
	Model       string  `mapstructure:"model"`
	Temperature float64 `mapstructure:"temperature"`
	MaxRetries  int     `mapstructure:"max_retries"`
	RulesPath   string  `mapstructure:"rules_path"` // optional YAML pattern rules
}

// CircuitBreakerConfig holds configuration for circuit breaking
type CircuitBreakerConfig struct {
	Enabled          bool    `mapstructure:"enabled"`
	MaxRequests      uint32  `mapstructure:"max_requests"`
	Interval         int     `mapstructure:"interval"` // in seconds
	Timeout          int     `mapstructure:"timeout"`  // in seconds
	ReadyToTripRatio float64 `mapstructure:"ready_to_trip_ratio"`
}

// CheckpointConfig holds checkpoint store configuration
type CheckpointConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"` // empty means a directory under os.TempDir
}

// ExportConfig holds snapshot export configuration
type ExportConfig struct {
	Dir string `mapstructure:"dir"`
}

// DefaultConfig returns the configuration used when nothing is overridden.
func DefaultConfig() *Config {
	return &Config{
		Log:      LogConfig{Level: "info", Format: "text"},
		Server:   ServerConfig{Host: "localhost", Port: 8080, Mode: "release"},
		Database: DatabaseConfig{Driver: "sqlite", Path: "./memoria.db"},
		Extraction: ExtractionConfig{
			Provider:    "llm",
			Model:       "",
			Temperature: 0,
			MaxRetries:  2,
		},
		CircuitBreaker: CircuitBreakerConfig{
			Enabled:          true,
			MaxRequests:      3,
			Interval:         60,
			Timeout:          30,
			ReadyToTripRatio: 0.6,
		},
		Checkpoint: CheckpointConfig{Enabled: false},
		Export:     ExportConfig{Dir: defaultExportDir()},
	}
}

// Load loads configuration from viper state and environment variables.
// Call LoadConfig instead when a config file should be considered.
func Load() (*Config, error) {
	setDefaults()
	bindEnv()

	config := &Config{}
	if err := viper.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	// Override with environment variables if present
	overrideWithEnv(config)

	return config, nil
}

// LoadConfig reads the config file at path, then loads. An empty path
// searches ./memoria.yaml and ~/.memoria/memoria.yaml; a missing file is
// fine there, but an explicit path must exist.
func LoadConfig(path string) (*Config, error) {
	if path != "" {
		viper.SetConfigFile(path)
		if err := viper.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
		return Load()
	}

	viper.SetConfigName("memoria")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	if home, err := os.UserHomeDir(); err == nil {
		viper.AddConfigPath(filepath.Join(home, ".memoria"))
	}
	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}
	return Load()
}

// setDefaults sets default configuration values
func setDefaults() {
	// Log defaults
	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.format", "text")

	// Server defaults
	viper.SetDefault("server.host", "localhost")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.mode", "release")

	// Database defaults
	viper.SetDefault("database.driver", "sqlite")
	viper.SetDefault("database.path", "./memoria.db")

	// Extraction defaults
	viper.SetDefault("extraction.provider", "llm")
	viper.SetDefault("extraction.api_key", "")
	viper.SetDefault("extraction.base_url", "")
	viper.SetDefault("extraction.model", "")
	viper.SetDefault("extraction.temperature", 0.0)
	viper.SetDefault("extraction.max_retries", 2)
	viper.SetDefault("extraction.rules_path", "")

	// Circuit breaker defaults
	viper.SetDefault("circuit_breaker.enabled", true)
	viper.SetDefault("circuit_breaker.max_requests", 3)
	viper.SetDefault("circuit_breaker.interval", 60)
	viper.SetDefault("circuit_breaker.timeout", 30)
	viper.SetDefault("circuit_breaker.ready_to_trip_ratio", 0.6)

	// Checkpoint defaults
	viper.SetDefault("checkpoint.enabled", false)
	viper.SetDefault("checkpoint.path", "")

	// Export defaults
	viper.SetDefault("export.dir", defaultExportDir())
}

func bindEnv() {
	viper.SetEnvPrefix("MEMORIA")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
}

func defaultExportDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./exports"
	}
	return filepath.Join(home, ".memoria", "exports")
}

// overrideWithEnv overrides config with environment variables
func overrideWithEnv(config *Config) {
	// OpenAI conventions double as extraction settings
	if apiKey := os.Getenv("OPENAI_API_KEY"); apiKey != "" && config.Extraction.APIKey == "" {
		config.Extraction.APIKey = apiKey
	}
	if baseURL := os.Getenv("OPENAI_BASE_URL"); baseURL != "" && config.Extraction.BaseURL == "" {
		config.Extraction.BaseURL = baseURL
	}

	// Generic database settings
	if dbDriver := os.Getenv("DB_DRIVER"); dbDriver != "" {
		config.Database.Driver = dbDriver
	}
	if dbPath := os.Getenv("DB_PATH"); dbPath != "" {
		config.Database.Path = dbPath
	}
}
