package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/tablero/tablero/pkg/observability"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server ServerConfig

	// Database configuration
	Database DatabaseConfig

	// Cache configuration (shared context cache + session store)
	Cache CacheConfig

	// Auth configuration (token validation at the edge)
	Auth AuthConfig

	// Janitor configuration (expired grant cleanup)
	Janitor JanitorConfig

	// Observability configuration
	Observability ObservabilityConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// Health/metrics server (separate port for k8s probes)
	HealthPort string
}

// DatabaseConfig holds postgres configuration
type DatabaseConfig struct {
	PostgresURL  string
	MaxOpenConns int
	MaxIdleConns int
	ConnTimeout  time.Duration
}

// CacheConfig holds context cache and session store configuration
type CacheConfig struct {
	// Backend is "redis" or "memory"
	Backend string

	RedisURL      string
	RedisPassword string
	RedisDB       int
	RedisPoolSize int

	// MemoryMaxEntries bounds the in-memory backend
	MemoryMaxEntries int

	// EntityTTL bounds staleness of cached tenant/principal entities
	EntityTTL time.Duration
	// AggregationTTL bounds staleness of cached role/permission sets
	AggregationTTL time.Duration
	// SessionTTL bounds the "last chosen tenant" session slot
	SessionTTL time.Duration
}

// AuthConfig holds bearer-token validation settings
type AuthConfig struct {
	JWTSecret string
	Issuer    string
}

// JanitorConfig holds expired-grant cleanup settings
type JanitorConfig struct {
	Enabled bool
	// Schedule is a cron expression
	Schedule string
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel       observability.LogLevel
	MetricsEnabled bool

	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server:        loadServerConfig(),
		Database:      loadDatabaseConfig(),
		Cache:         loadCacheConfig(),
		Auth:          loadAuthConfig(),
		Janitor:       loadJanitorConfig(),
		Observability: loadObservabilityConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("TABLERO_HOST", "0.0.0.0"),
		Port:            getEnv("TABLERO_PORT", "8080"),
		ReadTimeout:     getEnvDuration("TABLERO_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("TABLERO_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:     getEnvDuration("TABLERO_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("TABLERO_SHUTDOWN_TIMEOUT", 30*time.Second),
		HealthPort:      getEnv("TABLERO_HEALTH_PORT", "9090"),
	}
}

func loadDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		PostgresURL:  getEnv("TABLERO_POSTGRES_URL", ""),
		MaxOpenConns: getEnvInt("TABLERO_POSTGRES_MAX_CONNS", 25),
		MaxIdleConns: getEnvInt("TABLERO_POSTGRES_IDLE_CONNS", 5),
		ConnTimeout:  getEnvDuration("TABLERO_POSTGRES_TIMEOUT", 5*time.Second),
	}
}

func loadCacheConfig() CacheConfig {
	return CacheConfig{
		Backend:          getEnv("TABLERO_CACHE_BACKEND", "memory"),
		RedisURL:         getEnv("TABLERO_REDIS_URL", ""),
		RedisPassword:    getEnv("TABLERO_REDIS_PASSWORD", ""),
		RedisDB:          getEnvInt("TABLERO_REDIS_DB", 0),
		RedisPoolSize:    getEnvInt("TABLERO_REDIS_POOL_SIZE", 10),
		MemoryMaxEntries: getEnvInt("TABLERO_MEMORY_CACHE_ENTRIES", 4096),
		EntityTTL:        getEnvDuration("TABLERO_CACHE_ENTITY_TTL", time.Hour),
		AggregationTTL:   getEnvDuration("TABLERO_CACHE_AGGREGATION_TTL", 30*time.Minute),
		SessionTTL:       getEnvDuration("TABLERO_SESSION_TTL", 24*time.Hour),
	}
}

func loadAuthConfig() AuthConfig {
	return AuthConfig{
		JWTSecret: getEnv("TABLERO_JWT_SECRET", ""),
		Issuer:    getEnv("TABLERO_JWT_ISSUER", "tablero"),
	}
}

func loadJanitorConfig() JanitorConfig {
	return JanitorConfig{
		Enabled:  getEnvBool("TABLERO_JANITOR_ENABLED", true),
		Schedule: getEnv("TABLERO_JANITOR_SCHEDULE", "@every 15m"),
	}
}

func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:           parseLogLevel(getEnv("TABLERO_LOG_LEVEL", "info")),
		MetricsEnabled:     getEnvBool("TABLERO_METRICS_ENABLED", true),
		OTelEnabled:        getEnvBool("TABLERO_OTEL_ENABLED", false),
		OTelEndpoint:       getEnv("TABLERO_OTEL_ENDPOINT", "localhost:4317"),
		OTelServiceName:    getEnv("TABLERO_OTEL_SERVICE_NAME", "tablero-api"),
		OTelServiceVersion: getEnv("TABLERO_OTEL_SERVICE_VERSION", "1.0.0"),
		OTelInsecure:       getEnvBool("TABLERO_OTEL_INSECURE", true),
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}

	if c.Database.PostgresURL == "" {
		return fmt.Errorf("postgres URL is required")
	}

	switch c.Cache.Backend {
	case "memory":
		if c.Cache.MemoryMaxEntries <= 0 {
			return fmt.Errorf("memory cache entries must be positive")
		}
	case "redis":
		if c.Cache.RedisURL == "" {
			return fmt.Errorf("redis URL is required for redis cache backend")
		}
	default:
		return fmt.Errorf("invalid cache backend: %s (must be memory or redis)", c.Cache.Backend)
	}

	if c.Cache.EntityTTL <= 0 || c.Cache.AggregationTTL <= 0 {
		return fmt.Errorf("cache TTLs must be positive")
	}

	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("JWT secret is required")
	}

	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
	}

	return nil
}

// parseLogLevel parses a log level string
func parseLogLevel(level string) observability.LogLevel {
	switch strings.ToLower(level) {
	case "debug":
		return observability.DebugLevel
	case "info":
		return observability.InfoLevel
	case "warn", "warning":
		return observability.WarnLevel
	case "error":
		return observability.ErrorLevel
	default:
		return observability.InfoLevel
	}
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
