// Package config loads process configuration from environment variables,
// the way the rest of this system's ambient stack is configured: no flags,
// no config file, sensible defaults for local/dev, required values only
// where there genuinely is no safe default.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// StoreBackend selects which store.Queue/store.Receipts implementation to
// wire up: postgres for production, sqlite for a single-process lite mode.
type StoreBackend string

const (
	StorePostgres StoreBackend = "postgres"
	StoreSQLite   StoreBackend = "sqlite"
)

// Config holds everything cmd/router and cmd/worker need to start.
type Config struct {
	Port     string
	LogLevel string

	StoreBackend StoreBackend
	DatabaseURL  string
	SQLitePath   string

	RegistryPath   string
	PollInterval   time.Duration
	LeaseDuration  time.Duration
	SweepInterval  time.Duration

	// WebhookSecrets maps a webhook source name (lowercase, matching the
	// POST /webhooks/<source> path segment) to its HMAC signing secret,
	// collected from every WEBHOOK_SECRET_<SOURCE> env var found.
	WebhookSecrets map[string]string

	JWTSecret      string
	RequireAuth    bool
	RateLimitRPS   float64
	RateLimitBurst int

	RedisURL string
}

// Load reads Config from the environment, applying the same
// default-then-override pattern throughout.
func Load() *Config {
	cfg := &Config{
		Port:           envOr("PORT", "8080"),
		LogLevel:       envOr("LOG_LEVEL", "INFO"),
		StoreBackend:   StoreBackend(envOr("STORE_BACKEND", string(StorePostgres))),
		DatabaseURL:    envOr("DATABASE_URL", "postgres://gem@localhost:5432/gem?sslmode=disable"),
		SQLitePath:     envOr("SQLITE_PATH", "./gem.db"),
		RegistryPath:   envOr("REGISTRY_PATH", "registry/tools.yaml"),
		PollInterval:   envDurationMS("POLL_INTERVAL_MS", 500),
		LeaseDuration:  envDurationMS("LEASE_DURATION_MS", 120_000),
		SweepInterval:  envDurationMS("SWEEP_INTERVAL_MS", 30_000),
		WebhookSecrets: webhookSecretsFromEnv(),
		JWTSecret:      os.Getenv("JWT_SECRET"),
		RequireAuth:    os.Getenv("REQUIRE_AUTH") == "true",
		RateLimitRPS:   envFloat("RATE_LIMIT_RPS", 10),
		RateLimitBurst: envInt("RATE_LIMIT_BURST", 20),
		RedisURL:       os.Getenv("REDIS_URL"),
	}
	return cfg
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envDurationMS(key string, fallbackMS int) time.Duration {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return time.Duration(n) * time.Millisecond
		}
	}
	return time.Duration(fallbackMS) * time.Millisecond
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

// webhookSecretsFromEnv collects every WEBHOOK_SECRET_<SOURCE> variable
// into a lowercase-source-keyed map, so adding a new webhook source never
// requires a code change here, only a new env var.
func webhookSecretsFromEnv() map[string]string {
	const prefix = "WEBHOOK_SECRET_"
	secrets := make(map[string]string)
	for _, kv := range os.Environ() {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(key, prefix) {
			continue
		}
		source := strings.ToLower(strings.TrimPrefix(key, prefix))
		secrets[source] = value
	}
	return secrets
}
