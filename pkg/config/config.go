package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	// Log configuration
	Log LogConfig `mapstructure:"log"`

	// Server configuration
	Server ServerConfig `mapstructure:"server"`

	// Database configuration (the backing store)
	Database DatabaseConfig `mapstructure:"database"`

	// Index configuration (the search index refreshed by the synchronizer)
	Index IndexConfig `mapstructure:"index"`

	// Queue configuration (refresh task transport)
	Queue QueueConfig `mapstructure:"queue"`

	// Sync configuration (synchronizer workers)
	Sync SyncConfig `mapstructure:"sync"`

	// Retry configuration for index writes
	Retry RetryConfig `mapstructure:"retry"`

	// Hub configuration
	Hub HubConfig `mapstructure:"hub"`

	// Telemetry configuration
	Telemetry TelemetryConfig `mapstructure:"telemetry"`

	// Alert configuration
	Alert AlertConfig `mapstructure:"alert"`

	// CircuitBreaker configuration
	CircuitBreaker CircuitBreakerConfig `mapstructure:"circuit_breaker"`
}

// AlertConfig holds configuration for alerting
type AlertConfig struct {
	Enabled  bool     `mapstructure:"enabled"`
	SMTPHost string   `mapstructure:"smtp_host"`
	SMTPPort int      `mapstructure:"smtp_port"`
	Username string   `mapstructure:"username"`
	Password string   `mapstructure:"password"`
	From     string   `mapstructure:"from"`
	To       []string `mapstructure:"to"`
}

// CircuitBreakerConfig holds configuration for circuit breaking
type CircuitBreakerConfig struct {
	Enabled          bool    `mapstructure:"enabled"`
	MaxRequests      uint32  `mapstructure:"max_requests"`
	Interval         int     `mapstructure:"interval"` // in seconds
	Timeout          int     `mapstructure:"timeout"`  // in seconds
	ReadyToTripRatio float64 `mapstructure:"ready_to_trip_ratio"`
}

// RetryConfig holds configuration for retry behavior
type RetryConfig struct {
	// MaxRetries is the maximum number of retry attempts (default: 3)
	MaxRetries int `mapstructure:"max_retries"`
	// InitialDelay is the delay before the first retry (default: 1 second)
	InitialDelay time.Duration `mapstructure:"initial_delay"`
	// MaxDelay caps the delay between retries (default: 60 seconds)
	MaxDelay time.Duration `mapstructure:"max_delay"`
	// BackoffMultiplier is the multiplier for exponential backoff (default: 2.0)
	BackoffMultiplier float64 `mapstructure:"backoff_multiplier"`
}

// DefaultRetryConfig returns the default retry configuration
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:        3,
		InitialDelay:      1 * time.Second,
		MaxDelay:          60 * time.Second,
		BackoffMultiplier: 2.0,
	}
}

// TelemetryConfig holds telemetry configuration
type TelemetryConfig struct {
	// ParquetPath is the directory error records are written to. Empty
	// disables persistence.
	ParquetPath string `mapstructure:"parquet_path"`
	// SQLPath is a SQLite file error records are inserted into. Empty
	// disables it.
	SQLPath string `mapstructure:"sql_path"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // text, json
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	Mode string `mapstructure:"mode"` // gin mode: debug, release, test
}

// DatabaseConfig holds backing store configuration
type DatabaseConfig struct {
	Driver string `mapstructure:"driver"` // sqlite, postgres, memory
	URI    string `mapstructure:"uri"`    // file path for sqlite, DSN for postgres
}

// IndexConfig holds search index configuration
type IndexConfig struct {
	Backend  string `mapstructure:"backend"` // memory, neo4j
	URI      string `mapstructure:"uri"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
}

// QueueConfig holds refresh queue configuration
type QueueConfig struct {
	Backend string `mapstructure:"backend"` // memory, badger
	Path    string `mapstructure:"path"`
}

// SyncConfig holds synchronizer configuration
type SyncConfig struct {
	Workers   int     `mapstructure:"workers"`
	RateLimit float64 `mapstructure:"rate_limit"` // index writes per second, 0 = unlimited
	Burst     int     `mapstructure:"burst"`
}

// HubConfig holds settings of the aggregation hub itself
type HubConfig struct {
	// BaseURI is the public root used to derive hub-local identifiers.
	BaseURI string `mapstructure:"base_uri"`
	// AutocreatedRepo is the placeholder repository for dangling references.
	AutocreatedRepo string `mapstructure:"autocreated_repo"`
}

// Load loads configuration from file and environment variables
func Load() (*Config, error) {
	// Set defaults
	setDefaults()

	config := &Config{}
	if err := viper.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	// Override with environment variables if present
	overrideWithEnv(config)

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Validate checks enumerated settings.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite", "postgres", "memory":
	default:
		return fmt.Errorf("unsupported database driver: %q (supported: sqlite, postgres, memory)", c.Database.Driver)
	}
	switch c.Index.Backend {
	case "memory", "neo4j":
	default:
		return fmt.Errorf("unsupported index backend: %q (supported: memory, neo4j)", c.Index.Backend)
	}
	switch c.Queue.Backend {
	case "memory", "badger":
	default:
		return fmt.Errorf("unsupported queue backend: %q (supported: memory, badger)", c.Queue.Backend)
	}
	if c.Sync.Workers < 1 {
		return fmt.Errorf("sync.workers must be at least 1, got %d", c.Sync.Workers)
	}
	return nil
}

// setDefaults sets default configuration values
func setDefaults() {
	// Log defaults
	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.format", "text")

	// Server defaults
	viper.SetDefault("server.host", "localhost")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.mode", "debug")

	// Database defaults
	viper.SetDefault("database.driver", "sqlite")
	viper.SetDefault("database.uri", "./ipifhub.db")

	// Index defaults
	viper.SetDefault("index.backend", "memory")
	viper.SetDefault("index.uri", "bolt://localhost:7687")
	viper.SetDefault("index.username", "neo4j")
	viper.SetDefault("index.password", "")
	viper.SetDefault("index.database", "neo4j")

	// Queue defaults
	viper.SetDefault("queue.backend", "memory")
	viper.SetDefault("queue.path", "./ipifhub_queue")

	// Sync defaults
	viper.SetDefault("sync.workers", 4)
	viper.SetDefault("sync.rate_limit", 0)
	viper.SetDefault("sync.burst", 1)

	// Retry defaults
	retry := DefaultRetryConfig()
	viper.SetDefault("retry.max_retries", retry.MaxRetries)
	viper.SetDefault("retry.initial_delay", retry.InitialDelay)
	viper.SetDefault("retry.max_delay", retry.MaxDelay)
	viper.SetDefault("retry.backoff_multiplier", retry.BackoffMultiplier)

	// Circuit breaker defaults
	viper.SetDefault("circuit_breaker.enabled", true)
	viper.SetDefault("circuit_breaker.max_requests", 1)
	viper.SetDefault("circuit_breaker.interval", 60)
	viper.SetDefault("circuit_breaker.timeout", 30)
	viper.SetDefault("circuit_breaker.ready_to_trip_ratio", 0.6)

	// Hub defaults
	viper.SetDefault("hub.base_uri", "http://localhost:8080")
	viper.SetDefault("hub.autocreated_repo", "IPIFHUB_AUTOCREATED")

	// Telemetry defaults
	home, err := os.UserHomeDir()
	if err == nil {
		defaultPath := fmt.Sprintf("%s/.ipifhub/telemetry", home)
		viper.SetDefault("telemetry.parquet_path", defaultPath)
	}
}

// overrideWithEnv overrides config with environment variables
func overrideWithEnv(config *Config) {
	// Backing store
	if dbDriver := os.Getenv("DB_DRIVER"); dbDriver != "" {
		config.Database.Driver = dbDriver
	}
	if dbURI := os.Getenv("DB_URI"); dbURI != "" {
		config.Database.URI = dbURI
	}

	// Graph index credentials
	if uri := os.Getenv("NEO4J_URI"); uri != "" {
		config.Index.URI = uri
	}
	if user := os.Getenv("NEO4J_USER"); user != "" {
		config.Index.Username = user
	}
	if pass := os.Getenv("NEO4J_PASSWORD"); pass != "" {
		config.Index.Password = pass
	}

	// Server settings
	if host := os.Getenv("SERVER_HOST"); host != "" {
		config.Server.Host = host
	}
	if port := os.Getenv("SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}

	// Hub settings
	if base := os.Getenv("IPIF_BASE_URI"); base != "" {
		config.Hub.BaseURI = base
	}

	// Telemetry settings
	if path := os.Getenv("TELEMETRY_PARQUET_PATH"); path != "" {
		config.Telemetry.ParquetPath = path
	}
	if path := os.Getenv("TELEMETRY_SQL_PATH"); path != "" {
		config.Telemetry.SQLPath = path
	}
}
