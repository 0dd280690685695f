// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port     string
	Env      string // "development", "staging", "production"
	LogLevel string

	// Oracle (hosted language model) settings
	OracleURL     string // OpenAI-compatible chat completions endpoint (optional)
	OracleAPIKey  string
	OracleModel   string
	OracleTimeout int // seconds, per call

	// Verification policy
	MaxAttempts       int
	RaidThreshold     int // joins per 60s window before a raid is flagged
	BehaviorThreshold int // bot score at or above which a completed session fails

	// Gateway authentication
	GatewayToken string // bearer token required on /v1 write endpoints

	// Observability
	OTLPEndpoint string // OTLP gRPC endpoint; empty disables tracing

	// Rate limiting
	RateLimitRPM int
}

// Defaults used when the corresponding environment variable is unset.
const (
	DefaultPort              = "8080"
	DefaultEnv               = "development"
	DefaultLogLevel          = "info"
	DefaultOracleModel       = "gpt-4o-mini"
	DefaultOracleTimeout     = 10
	DefaultMaxAttempts       = 3
	DefaultRaidThreshold     = 10
	DefaultBehaviorThreshold = 50
	DefaultRateLimitRPM      = 120
)

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	cfg := &Config{
		Port:              getEnv("PORT", DefaultPort),
		Env:               getEnv("ENV", DefaultEnv),
		LogLevel:          getEnv("LOG_LEVEL", DefaultLogLevel),
		OracleURL:         os.Getenv("ORACLE_URL"), // Optional, local fallbacks used if not set
		OracleAPIKey:      os.Getenv("ORACLE_API_KEY"),
		OracleModel:       getEnv("ORACLE_MODEL", DefaultOracleModel),
		OracleTimeout:     getEnvInt("ORACLE_TIMEOUT_SECONDS", DefaultOracleTimeout),
		MaxAttempts:       getEnvInt("MAX_ATTEMPTS", DefaultMaxAttempts),
		RaidThreshold:     getEnvInt("RAID_THRESHOLD", DefaultRaidThreshold),
		BehaviorThreshold: getEnvInt("BEHAVIOR_THRESHOLD", DefaultBehaviorThreshold),
		GatewayToken:      os.Getenv("GATEWAY_TOKEN"),
		OTLPEndpoint:      os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		RateLimitRPM:      getEnvInt("RATE_LIMIT_RPM", DefaultRateLimitRPM),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that the configuration is coherent
func (c *Config) Validate() error {
	if c.MaxAttempts < 1 {
		return fmt.Errorf("MAX_ATTEMPTS must be at least 1")
	}
	if c.RaidThreshold < 2 {
		return fmt.Errorf("RAID_THRESHOLD must be at least 2")
	}
	if c.BehaviorThreshold < 1 || c.BehaviorThreshold > 100 {
		return fmt.Errorf("BEHAVIOR_THRESHOLD must be in [1,100]")
	}
	if c.OracleTimeout < 1 {
		return fmt.Errorf("ORACLE_TIMEOUT_SECONDS must be at least 1")
	}
	if c.IsProduction() && c.GatewayToken == "" {
		return fmt.Errorf("GATEWAY_TOKEN is required in production")
	}
	return nil
}

// OracleEnabled returns true if a hosted oracle endpoint is configured
func (c *Config) OracleEnabled() bool {
	return c.OracleURL != ""
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

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}
