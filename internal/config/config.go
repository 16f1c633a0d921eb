package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

const (
	RateLimitBackendLog   = "log"
	RateLimitBackendRedis = "redis"
)

// Config holds all configuration for the application
type Config struct {
	Port        string
	DatabaseURL string
	RedisURL    string

	RateLimitBackend  string
	APIKeyPepper      string
	AuthJWTSecret     string
	WebhookTimeout    time.Duration
	AnalyticsCacheTTL time.Duration

	LogLevel  string
	LogFormat string
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not found)
	_ = godotenv.Load()

	cfg := &Config{
		Port:             getEnv("PORT", "8080"),
		DatabaseURL:      getEnv("DATABASE_URL", "postgres://localhost:5432/storefront?sslmode=disable"),
		RedisURL:         getEnv("REDIS_URL", ""),
		RateLimitBackend: getEnv("RATE_LIMIT_BACKEND", RateLimitBackendLog),
		APIKeyPepper:     getEnv("API_KEY_PEPPER", ""),
		AuthJWTSecret:    getEnv("AUTH_JWT_SECRET", ""),
		LogLevel:         getEnv("LOG_LEVEL", "info"),
		LogFormat:        getEnv("LOG_FORMAT", "console"),
	}

	var err error
	if cfg.WebhookTimeout, err = getEnvDuration("WEBHOOK_TIMEOUT", 30*time.Second); err != nil {
		return nil, err
	}
	if cfg.AnalyticsCacheTTL, err = getEnvDuration("ANALYTICS_CACHE_TTL", 60*time.Second); err != nil {
		return nil, err
	}

	switch cfg.RateLimitBackend {
	case RateLimitBackendLog:
	case RateLimitBackendRedis:
		if cfg.RedisURL == "" {
			return nil, fmt.Errorf("RATE_LIMIT_BACKEND=redis requires REDIS_URL")
		}
	default:
		return nil, fmt.Errorf("unknown RATE_LIMIT_BACKEND %q", cfg.RateLimitBackend)
	}

	return cfg, nil
}

// Validate checks the settings the HTTP server cannot run without.
func (c *Config) Validate() error {
	if c.APIKeyPepper == "" {
		return fmt.Errorf("API_KEY_PEPPER is required")
	}
	if _, err := strconv.Atoi(c.Port); err != nil {
		return fmt.Errorf("invalid PORT %q: %w", c.Port, err)
	}
	return nil
}

// getEnv gets an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	return d, nil
}
