// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port      string
	Env       string // "development", "staging", "production"
	LogLevel  string
	LogFormat string // "text" or "json"

	// Database
	DatabaseURL string // PostgreSQL connection string (optional, uses in-memory if not set)

	// Security
	AdminSecret    string
	AllowedOrigins []string

	// Module access
	AccessCheckTimeout       time.Duration
	ResolverConsultOverrides bool
	QueryCacheTTL            time.Duration
	SeedFile                 string // YAML catalog seed applied at startup (optional)

	// Subscriptions
	SubscriptionExpiryInterval time.Duration
	StripeWebhookSecret        string

	// Observability
	OTLPEndpoint string
}

// Defaults
const (
	DefaultPort                       = "8080"
	DefaultEnv                        = "development"
	DefaultLogLevel                   = "info"
	DefaultLogFormat                  = "json"
	DefaultAccessCheckTimeout         = 15 * time.Second
	DefaultQueryCacheTTL              = 5 * time.Minute
	DefaultSubscriptionExpiryInterval = time.Hour
)

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:                       getEnv("PORT", DefaultPort),
		Env:                        getEnv("ENV", DefaultEnv),
		LogLevel:                   getEnv("LOG_LEVEL", DefaultLogLevel),
		LogFormat:                  getEnv("LOG_FORMAT", DefaultLogFormat),
		DatabaseURL:                os.Getenv("DATABASE_URL"),
		AdminSecret:                os.Getenv("ADMIN_SECRET"),
		AllowedOrigins:             getEnvList("ALLOWED_ORIGINS"),
		AccessCheckTimeout:         getEnvDuration("ACCESS_CHECK_TIMEOUT", DefaultAccessCheckTimeout),
		ResolverConsultOverrides:   getEnvBool("RESOLVER_CONSULT_OVERRIDES", true),
		QueryCacheTTL:              getEnvDuration("QUERY_CACHE_TTL", DefaultQueryCacheTTL),
		SeedFile:                   os.Getenv("SEED_FILE"),
		SubscriptionExpiryInterval: getEnvDuration("SUBSCRIPTION_EXPIRY_INTERVAL", DefaultSubscriptionExpiryInterval),
		StripeWebhookSecret:        os.Getenv("STRIPE_WEBHOOK_SECRET"),
		OTLPEndpoint:               os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that the configuration is usable
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT is required")
	}
	if _, err := strconv.Atoi(c.Port); err != nil {
		return fmt.Errorf("PORT must be numeric, got %q", c.Port)
	}
	if c.IsProduction() && c.AdminSecret == "" {
		return fmt.Errorf("ADMIN_SECRET is required in production")
	}
	if c.AdminSecret != "" && len(c.AdminSecret) < 16 {
		return fmt.Errorf("ADMIN_SECRET must be at least 16 characters")
	}
	if c.AccessCheckTimeout <= 0 {
		return fmt.Errorf("ACCESS_CHECK_TIMEOUT must be positive")
	}
	if c.QueryCacheTTL <= 0 {
		return fmt.Errorf("QUERY_CACHE_TTL must be positive")
	}
	if c.SubscriptionExpiryInterval <= 0 {
		return fmt.Errorf("SUBSCRIPTION_EXPIRY_INTERVAL must be positive")
	}
	return nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvList(key string) []string {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
