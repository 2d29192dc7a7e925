// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port     string
	Env      string // "development", "staging", "production"
	LogLevel string

	// Database
	DatabaseURL string // PostgreSQL connection string (optional, uses in-memory if not set)

	// Trade lifecycle
	ProposalTTL   time.Duration // pending proposals older than this are expired by the sweeper
	ExchangeTTL   time.Duration // active exchanges past accepted_at + TTL are expired by the sweeper
	SweepInterval time.Duration // how often the background sweepers run

	// Reputation notifications (optional)
	ReputationURL    string // webhook URL notified on exchange completion
	ReputationSecret string // HMAC secret for signing notification payloads

	// Observability
	OTLPEndpoint string // OTLP gRPC endpoint for traces (optional)

	// Security
	RateLimitRPM int
}

const (
	DefaultPort          = "8080"
	DefaultEnv           = "development"
	DefaultLogLevel      = "info"
	DefaultProposalTTL   = 72 * time.Hour
	DefaultExchangeTTL   = 48 * time.Hour
	DefaultSweepInterval = 30 * time.Second
	DefaultRateLimit     = 120
)

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	cfg := &Config{
		Port:             getEnv("PORT", DefaultPort),
		Env:              getEnv("ENV", DefaultEnv),
		LogLevel:         getEnv("LOG_LEVEL", DefaultLogLevel),
		DatabaseURL:      os.Getenv("DATABASE_URL"), // Optional, uses in-memory if not set
		ProposalTTL:      getEnvDuration("PROPOSAL_TTL", DefaultProposalTTL),
		ExchangeTTL:      getEnvDuration("EXCHANGE_TTL", DefaultExchangeTTL),
		SweepInterval:    getEnvDuration("SWEEP_INTERVAL", DefaultSweepInterval),
		ReputationURL:    os.Getenv("REPUTATION_WEBHOOK_URL"),
		ReputationSecret: os.Getenv("REPUTATION_WEBHOOK_SECRET"),
		OTLPEndpoint:     os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		RateLimitRPM:     int(getEnvInt64("RATE_LIMIT_RPM", DefaultRateLimit)),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all required configuration is present
func (c *Config) Validate() error {
	if c.ProposalTTL <= 0 {
		return fmt.Errorf("PROPOSAL_TTL must be positive")
	}
	if c.ExchangeTTL <= 0 {
		return fmt.Errorf("EXCHANGE_TTL must be positive")
	}
	if c.SweepInterval <= 0 {
		return fmt.Errorf("SWEEP_INTERVAL must be positive")
	}
	if c.ReputationSecret != "" && c.ReputationURL == "" {
		return fmt.Errorf("REPUTATION_WEBHOOK_SECRET set without REPUTATION_WEBHOOK_URL")
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

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
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
