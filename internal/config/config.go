package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Store backends.
const (
	StoreSupabase = "supabase"
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

// Config holds all application configuration.
// Values are loaded from environment variables with sensible defaults.
type Config struct {
	// Server
	Port        int
	LogLevel    string
	LogFile     string
	Environment string
	CORSOrigins []string

	// Persistence
	StoreBackend       string // supabase | postgres | memory
	SupabaseURL        string
	SupabaseAnonKey    string
	SupabaseServiceKey string
	DatabaseURL        string
	AutoMigrate        bool

	// Routing
	FanOutLimit     int // required, ROUTING_FANOUT_LIMIT
	RoutingTimezone string
	SyncIngest      bool // route inline when the request does not choose a mode

	// Sweeper
	SweepSchedule string
	StaleAfter    time.Duration
	SweepBatch    int

	// Geocoding
	GeocoderURL       string
	GeocoderUserAgent string
	RedisURL          string

	// Queue
	RabbitMQURL   string
	QueueWorkers  int
	QueuePrefetch int

	// Object storage (S3-compatible)
	S3Endpoint  string
	S3Region    string
	S3Bucket    string
	S3AccessKey string
	S3SecretKey string

	// Imports
	ImportConcurrency int
	ImportMaxRows     int
	ImportMaxBytes    int64

	// HTTP client
	HTTPTimeout time.Duration

	// Resilience
	MaxRetries     int
	InitialBackoff time.Duration
	MaxConcurrency int

	// Cache
	CacheTTL time.Duration

	// Observability
	OTLPEndpoint string
	SentryDSN    string

	// Auth
	JWTSecret          string
	JWTAccessTTL       time.Duration
	IngestAPIKeyHashes []string // bcrypt hashes accepted on /webhooks/leads
}

// Load reads configuration from environment variables with defaults.
func Load() *Config {
	return &Config{
		Port:        getEnvInt("PORT", 8080),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		LogFile:     getEnv("LOG_FILE", ""),
		Environment: getEnv("ENVIRONMENT", "development"),
		CORSOrigins: getEnvList("CORS_ALLOWED_ORIGINS", []string{"*"}),

		StoreBackend:       strings.ToLower(getEnv("STORE_BACKEND", StoreSupabase)),
		SupabaseURL:        getEnv("SUPABASE_URL", ""),
		SupabaseAnonKey:    getEnv("SUPABASE_ANON_KEY", ""),
		SupabaseServiceKey: getEnv("SUPABASE_SERVICE_ROLE_KEY", ""),
		DatabaseURL:        getEnv("DATABASE_URL", ""),
		AutoMigrate:        getEnv("AUTO_MIGRATE", "false") == "true",

		FanOutLimit:     getEnvInt("ROUTING_FANOUT_LIMIT", 0),
		RoutingTimezone: getEnv("ROUTING_TIMEZONE", "UTC"),
		SyncIngest:      getEnv("INGEST_MODE", "sync") == "sync",

		SweepSchedule: getEnv("SWEEP_SCHEDULE", "@every 5m"),
		StaleAfter:    getEnvDuration("SWEEP_STALE_AFTER", 10*time.Minute),
		SweepBatch:    getEnvInt("SWEEP_BATCH", 100),

		GeocoderURL:       getEnv("GEOCODER_URL", ""),
		GeocoderUserAgent: getEnv("GEOCODER_USER_AGENT", "lead-router/1.0"),
		RedisURL:          getEnv("REDIS_URL", ""),

		RabbitMQURL:   getEnv("RABBITMQ_URL", ""),
		QueueWorkers:  getEnvInt("QUEUE_WORKERS", 4),
		QueuePrefetch: getEnvInt("QUEUE_PREFETCH", 16),

		S3Endpoint:  getEnv("S3_ENDPOINT", ""),
		S3Region:    getEnv("S3_REGION", "us-east-1"),
		S3Bucket:    getEnv("S3_BUCKET", ""),
		S3AccessKey: getEnv("S3_ACCESS_KEY_ID", ""),
		S3SecretKey: getEnv("S3_SECRET_ACCESS_KEY", ""),

		ImportConcurrency: getEnvInt("IMPORT_CONCURRENCY", 8),
		ImportMaxRows:     getEnvInt("IMPORT_MAX_ROWS", 50000),
		ImportMaxBytes:    int64(getEnvInt("IMPORT_MAX_BYTES", 20<<20)),

		HTTPTimeout: getEnvDuration("HTTP_TIMEOUT", 10*time.Second),

		MaxRetries:     getEnvInt("MAX_RETRIES", 3),
		InitialBackoff: getEnvDuration("INITIAL_BACKOFF", 100*time.Millisecond),
		MaxConcurrency: getEnvInt("MAX_CONCURRENCY", 50),

		CacheTTL: getEnvDuration("CACHE_TTL", 24*time.Hour),

		OTLPEndpoint: getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		SentryDSN:    getEnv("SENTRY_DSN", ""),

		JWTSecret:          getEnv("JWT_SECRET", ""),
		JWTAccessTTL:       getEnvDuration("JWT_ACCESS_TTL", 15*time.Minute),
		IngestAPIKeyHashes: getEnvList("INGEST_API_KEY_HASHES", nil),
	}
}

// Validate checks required values and backend-specific settings.
func (c *Config) Validate() error {
	var errs []error

	if c.FanOutLimit <= 0 {
		errs = append(errs, errors.New("ROUTING_FANOUT_LIMIT must be set to a positive integer"))
	}
	if _, err := time.LoadLocation(c.RoutingTimezone); err != nil {
		errs = append(errs, fmt.Errorf("ROUTING_TIMEZONE: %w", err))
	}

	switch c.StoreBackend {
	case StoreSupabase:
		if c.SupabaseURL == "" || c.SupabaseServiceKey == "" {
			errs = append(errs, errors.New("SUPABASE_URL and SUPABASE_SERVICE_ROLE_KEY are required for the supabase backend"))
		}
	case StorePostgres:
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("DATABASE_URL is required for the postgres backend"))
		}
	case StoreMemory:
	default:
		errs = append(errs, fmt.Errorf("STORE_BACKEND %q is not one of supabase, postgres, memory", c.StoreBackend))
	}

	if c.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	} else if len(c.JWTSecret) < 32 {
		errs = append(errs, errors.New("JWT_SECRET must be at least 32 characters"))
	}
	if c.ImportConcurrency <= 0 {
		errs = append(errs, errors.New("IMPORT_CONCURRENCY must be positive"))
	}
	if c.MaxConcurrency <= 0 {
		errs = append(errs, errors.New("MAX_CONCURRENCY must be positive"))
	}

	return errors.Join(errs...)
}

// Location returns the time zone cap periods are evaluated in.
// Call after Validate.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.RoutingTimezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

// getEnvList splits a comma-separated variable, dropping empty entries.
func getEnvList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
