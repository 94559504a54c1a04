package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
)

type Config struct {
	// Ingress socket
	IngressHost string `validate:"required"`
	IngressPort int    `validate:"min=1,max=65535"`

	// Admin HTTP
	HTTPPort int    `validate:"min=1,max=65535"`
	Env      string `validate:"required"`

	// Database URLs
	PostgresURL   string `validate:"required"`
	ClickHouseURL string `validate:"required"`
	RedisURL      string `validate:"required"`

	// Authentication caches
	TokenCacheTTL    time.Duration `validate:"gt=0"`
	SourceCacheTTL   time.Duration `validate:"gt=0"`
	LastUsedDebounce time.Duration `validate:"gt=0"`

	// Rate limiting of failed beacons
	RateLimitMaxAttempts int           `validate:"gt=0"`
	RateLimitWindow      time.Duration `validate:"gt=0"`
	RateLimitBlock       time.Duration `validate:"gt=0"`

	// Pipeline workers
	WorkerCount   int           `validate:"gt=0"`
	ShutdownGrace time.Duration `validate:"gt=0"`

	// Warn-path cooldown
	LogCooldown time.Duration `validate:"gt=0"`

	// Repository call timeout
	RepoTimeout time.Duration `validate:"gt=0"`

	// Event archive batching
	ArchiveBatchSize     int           `validate:"gt=0"`
	ArchiveFlushInterval time.Duration `validate:"gt=0"`

	// Downstream queue
	QueueStream string `validate:"required"`
	QueueMaxLen int64  `validate:"gt=0"`
}

// Load loads configuration from environment variables.
// It returns an error if critical configuration is missing.
func Load() (*Config, error) {
	cfg := &Config{
		IngressHost: getEnv("INGRESS_HOST", "0.0.0.0"),
		IngressPort: getEnvInt("INGRESS_PORT", 27500),
		HTTPPort:    getEnvInt("HTTP_PORT", 8080),
		Env:         getEnv("ENV", "development"),

		TokenCacheTTL:    getEnvDuration("TOKEN_CACHE_TTL", time.Minute),
		SourceCacheTTL:   getEnvDuration("SOURCE_CACHE_TTL", 5*time.Minute),
		LastUsedDebounce: getEnvDuration("LAST_USED_DEBOUNCE", 5*time.Minute),

		RateLimitMaxAttempts: getEnvInt("RATE_LIMIT_MAX_ATTEMPTS", 10),
		RateLimitWindow:      getEnvDuration("RATE_LIMIT_WINDOW", time.Minute),
		RateLimitBlock:       getEnvDuration("RATE_LIMIT_BLOCK", time.Minute),

		WorkerCount:   getEnvInt("WORKER_COUNT", 8),
		ShutdownGrace: getEnvDuration("SHUTDOWN_GRACE", 5*time.Second),

		LogCooldown: getEnvDuration("LOG_COOLDOWN", 5*time.Minute),
		RepoTimeout: getEnvDuration("REPO_TIMEOUT", 5*time.Second),

		ArchiveBatchSize:     getEnvInt("ARCHIVE_BATCH_SIZE", 500),
		ArchiveFlushInterval: getEnvDuration("ARCHIVE_FLUSH_INTERVAL", time.Second),

		QueueStream: getEnv("QUEUE_STREAM", "hlx:events"),
		QueueMaxLen: int64(getEnvInt("QUEUE_MAXLEN", 1_000_000)),
	}

	// Critical configuration - fail if missing
	var err error
	if cfg.PostgresURL, err = getEnvRequired("POSTGRES_URL"); err != nil {
		return nil, err
	}
	if cfg.ClickHouseURL, err = getEnvRequired("CLICKHOUSE_URL"); err != nil {
		return nil, err
	}
	if cfg.RedisURL, err = getEnvRequired("REDIS_URL"); err != nil {
		return nil, err
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvRequired(key string) (string, error) {
	if value := os.Getenv(key); value != "" {
		return value, nil
	}
	return "", fmt.Errorf("missing required environment variable: %s", key)
}

func getEnvInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}
