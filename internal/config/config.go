// Package config handles application configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration.
type Config struct {
	// Server settings
	Port     string
	Env      string // "development", "staging", "production"
	LogLevel string
	LogFmt   string // "text" or "json"

	// Database (optional; feedback audit uses in-memory store if not set)
	DatabaseURL string

	// Tracing
	OTLPEndpoint string // OTLP gRPC endpoint; empty disables tracing

	// Scoring pipeline
	GraphCacheTTL    time.Duration // staleness bound for cached graph snapshots
	HighRiskCutoff   float64
	MediumRiskCutoff float64

	// Feedback loop
	DrainInterval    time.Duration // update-queue drain tick
	DriftInterval    time.Duration // performance drift tick
	FeedbackCapacity int           // bounded retention for feedback history
}

// Defaults.
const (
	DefaultPort             = "8090"
	DefaultEnv              = "development"
	DefaultLogLevel         = "info"
	DefaultLogFmt           = "text"
	DefaultGraphCacheTTL    = 30 * time.Second
	DefaultHighRiskCutoff   = 0.7
	DefaultMediumRiskCutoff = 0.4
	DefaultDrainInterval    = 30 * time.Second
	DefaultDriftInterval    = 5 * time.Minute
	DefaultFeedbackCapacity = 10000
)

// Load reads configuration from environment variables. It loads a .env
// file if present (for local development).
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:             getEnv("PORT", DefaultPort),
		Env:              getEnv("ENV", DefaultEnv),
		LogLevel:         getEnv("LOG_LEVEL", DefaultLogLevel),
		LogFmt:           getEnv("LOG_FORMAT", DefaultLogFmt),
		DatabaseURL:      os.Getenv("DATABASE_URL"),
		OTLPEndpoint:     os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		GraphCacheTTL:    getEnvDuration("GRAPH_CACHE_TTL", DefaultGraphCacheTTL),
		HighRiskCutoff:   getEnvFloat("HIGH_RISK_CUTOFF", DefaultHighRiskCutoff),
		MediumRiskCutoff: getEnvFloat("MEDIUM_RISK_CUTOFF", DefaultMediumRiskCutoff),
		DrainInterval:    getEnvDuration("UPDATE_DRAIN_INTERVAL", DefaultDrainInterval),
		DriftInterval:    getEnvDuration("PERF_DRIFT_INTERVAL", DefaultDriftInterval),
		FeedbackCapacity: getEnvInt("FEEDBACK_CAPACITY", DefaultFeedbackCapacity),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	if c.MediumRiskCutoff >= c.HighRiskCutoff {
		return fmt.Errorf("MEDIUM_RISK_CUTOFF (%.2f) must be below HIGH_RISK_CUTOFF (%.2f)",
			c.MediumRiskCutoff, c.HighRiskCutoff)
	}
	if c.FeedbackCapacity <= 0 {
		return fmt.Errorf("FEEDBACK_CAPACITY must be positive, got %d", c.FeedbackCapacity)
	}
	if c.GraphCacheTTL < 0 {
		return fmt.Errorf("GRAPH_CACHE_TTL must not be negative")
	}
	return nil
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

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

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
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
