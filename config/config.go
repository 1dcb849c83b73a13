// Package config provides configuration management for the application.
// Configuration comes from environment variables, with an optional .env
// file loaded first for local development.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// DefaultBodySizeLimit is the maximum accepted request body size (10MB).
const DefaultBodySizeLimit int64 = 10 * 1024 * 1024

// Config holds the application configuration
type Config struct {
	Server     ServerConfig
	Transcribe TranscribeConfig
	Providers  ProvidersConfig
	Cache      CacheConfig
	Storage    StorageConfig
	Usage      UsageConfig
	Metrics    MetricsConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	// Port the HTTP server listens on (default: 8080)
	Port string

	// Env is "development" or "production" (default: development)
	Env string

	// LogLevel is one of debug, info, warn, error (default: info)
	LogLevel string

	// MasterKey, when set, requires Bearer authentication on API routes
	MasterKey string

	// BodySizeLimit is the max request body size in bytes
	BodySizeLimit int64
}

// TranscribeConfig holds transcription provider configuration
type TranscribeConfig struct {
	// AssemblyAIKey authenticates against the AssemblyAI API
	AssemblyAIKey string

	// PollInterval between job status checks (default: 5s)
	PollInterval time.Duration

	// MaxPollAttempts bounds how long a job is polled (default: 120)
	MaxPollAttempts int
}

// ProvidersConfig holds generation provider configuration
type ProvidersConfig struct {
	// CatalogFile optionally overrides the built-in provider table (YAML)
	CatalogFile string
}

// CacheConfig holds summary cache configuration
type CacheConfig struct {
	// Backend is "memory" or "redis" (default: memory)
	Backend string

	// RedisURL is required when Backend is "redis"
	RedisURL string

	// TTL for cached summaries (default: 24h)
	TTL time.Duration
}

// StorageConfig holds database configuration for usage tracking
type StorageConfig struct {
	// Type is "sqlite" or "postgresql" (default: sqlite)
	Type string

	SQLite     SQLiteConfig
	PostgreSQL PostgreSQLConfig
}

// SQLiteConfig holds SQLite-specific configuration
type SQLiteConfig struct {
	Path string
}

// PostgreSQLConfig holds PostgreSQL-specific configuration
type PostgreSQLConfig struct {
	URL      string
	MaxConns int
}

// UsageConfig holds usage tracking configuration
type UsageConfig struct {
	Enabled       bool
	BufferSize    int
	FlushInterval int // seconds
	RetentionDays int
}

// MetricsConfig holds Prometheus metrics configuration
type MetricsConfig struct {
	Enabled  bool
	Endpoint string
}

// Load reads configuration from the environment. A .env file in the working
// directory is loaded first if present.
func Load() (*Config, error) {
	_ = godotenv.Load() //nolint:errcheck

	cfg := &Config{
		Server: ServerConfig{
			Port:          getEnv("PORT", "8080"),
			Env:           getEnv("APP_ENV", "development"),
			LogLevel:      getEnv("LOG_LEVEL", "info"),
			MasterKey:     os.Getenv("MASTER_KEY"),
			BodySizeLimit: getEnvInt64("BODY_SIZE_LIMIT", DefaultBodySizeLimit),
		},
		Transcribe: TranscribeConfig{
			AssemblyAIKey:   os.Getenv("ASSEMBLYAI_API_KEY"),
			PollInterval:    time.Duration(getEnvInt("TRANSCRIBE_POLL_INTERVAL_SECONDS", 5)) * time.Second,
			MaxPollAttempts: getEnvInt("TRANSCRIBE_MAX_POLL_ATTEMPTS", 120),
		},
		Providers: ProvidersConfig{
			CatalogFile: os.Getenv("PROVIDERS_FILE"),
		},
		Cache: CacheConfig{
			Backend:  getEnv("CACHE_BACKEND", "memory"),
			RedisURL: os.Getenv("REDIS_URL"),
			TTL:      time.Duration(getEnvInt("CACHE_TTL_HOURS", 24)) * time.Hour,
		},
		Storage: StorageConfig{
			Type: getEnv("STORAGE_TYPE", "sqlite"),
			SQLite: SQLiteConfig{
				Path: getEnv("SQLITE_PATH", ".cache/tutorly.db"),
			},
			PostgreSQL: PostgreSQLConfig{
				URL:      os.Getenv("POSTGRESQL_URL"),
				MaxConns: getEnvInt("POSTGRESQL_MAX_CONNS", 10),
			},
		},
		Usage: UsageConfig{
			Enabled:       getEnvBool("USAGE_ENABLED", true),
			BufferSize:    getEnvInt("USAGE_BUFFER_SIZE", 1000),
			FlushInterval: getEnvInt("USAGE_FLUSH_INTERVAL_SECONDS", 5),
			RetentionDays: getEnvInt("USAGE_RETENTION_DAYS", 90),
		},
		Metrics: MetricsConfig{
			Enabled:  getEnvBool("METRICS_ENABLED", true),
			Endpoint: getEnv("METRICS_ENDPOINT", "/metrics"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Cache.Backend == "redis" && c.Cache.RedisURL == "" {
		return fmt.Errorf("REDIS_URL is required when CACHE_BACKEND=redis")
	}
	if c.Storage.Type == "postgresql" && c.Storage.PostgreSQL.URL == "" {
		return fmt.Errorf("POSTGRESQL_URL is required when STORAGE_TYPE=postgresql")
	}
	if c.Transcribe.MaxPollAttempts <= 0 {
		return fmt.Errorf("TRANSCRIBE_MAX_POLL_ATTEMPTS must be positive")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getEnvInt64(key string, fallback int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fallback
	}
	return n
}

func getEnvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}
