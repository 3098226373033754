package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the application configuration
type Config struct {
	DatabaseURL         string
	StripeSecretKey     string
	StripeWebhookSecret string
	// HS256 secret shared with the hosted auth provider that issues user sessions
	AuthJWTSecret string
	// Optional: redis://... for the entitlement snapshot cache; empty disables it
	RedisURL string
	// Lifetime of cached entitlement snapshots
	EntitlementCacheTTL time.Duration
	// Optional: base URL for running remote HTTP integration tests (e.g., https://api.example.com)
	IntegrationBaseURL string
	// Server ports
	HTTPPort string
	GRPCPort string
	// Logging
	LogLevel  string
	LogFormat string
	// Parallel workers used by the admin bulk sync
	BulkSyncConcurrency int
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	config := &Config{}

	if err := loadDotEnv(); err != nil {
		return nil, err
	}

	// Get required environment variables
	requiredVars := []struct {
		name     string
		envVar   string
		display  string
		required bool
	}{
		{"DatabaseURL", "DATABASE_URL", "Database URL", true},
		{"StripeSecretKey", "STRIPE_SECRET_KEY", "Stripe Secret Key", true},
		{"StripeWebhookSecret", "STRIPE_WEBHOOK_SECRET", "Stripe Webhook Secret", true},
		{"AuthJWTSecret", "AUTH_JWT_SECRET", "Auth JWT Secret", true},
		{"RedisURL", "REDIS_URL", "Redis URL", false},
		// Optional integration base URL for remote tests
		{"IntegrationBaseURL", "INTEGRATION_BASE_URL", "Integration Base URL", false},
		// Optional server ports
		{"HTTPPort", "PORT", "HTTP Port", false},
		{"GRPCPort", "GRPC_PORT", "gRPC Port", false},
		{"LogLevel", "LOG_LEVEL", "Log Level", false},
		{"LogFormat", "LOG_FORMAT", "Log Format", false},
	}

	for _, v := range requiredVars {
		value := os.Getenv(v.envVar)
		if v.required && value == "" {
			return nil, fmt.Errorf("missing required environment variable: %s", v.display)
		}
		configField := reflect.ValueOf(config).Elem().FieldByName(v.name)
		configField.SetString(value)
	}

	if raw := os.Getenv("BULK_SYNC_CONCURRENCY"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return nil, fmt.Errorf("invalid BULK_SYNC_CONCURRENCY %q: must be a positive integer", raw)
		}
		config.BulkSyncConcurrency = n
	}

	if raw := os.Getenv("ENTITLEMENT_CACHE_TTL"); raw != "" {
		ttl, err := time.ParseDuration(raw)
		if err != nil || ttl <= 0 {
			return nil, fmt.Errorf("invalid ENTITLEMENT_CACHE_TTL %q: must be a positive duration", raw)
		}
		config.EntitlementCacheTTL = ttl
	}

	// Defaults
	if config.HTTPPort == "" {
		config.HTTPPort = "8080"
	}
	if config.GRPCPort == "" {
		config.GRPCPort = "50051"
	}
	if config.LogLevel == "" {
		config.LogLevel = "info"
	}
	if config.LogFormat == "" {
		config.LogFormat = "text"
	}
	if config.BulkSyncConcurrency == 0 {
		config.BulkSyncConcurrency = 4
	}
	if config.EntitlementCacheTTL == 0 {
		config.EntitlementCacheTTL = 24 * time.Hour
	}

	return config, nil
}

// loadDotEnv tries to load a .env file from the current directory and parent directories.
// Variables already present in the environment win over the file.
func loadDotEnv() error {
	currentDir, _ := os.Getwd()
	for currentDir != "/" && currentDir != "." {
		envPath := filepath.Join(currentDir, ".env")
		if _, err := os.Stat(envPath); err == nil {
			if err := godotenv.Load(envPath); err != nil {
				return fmt.Errorf("failed to load .env file: %v", err)
			}
			return nil
		}
		currentDir = filepath.Dir(currentDir)
	}
	return nil
}
