package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ErrMissingJWTSecret is returned when no JWT secret is configured.
// The server refuses to start rather than fall back to a default key.
var ErrMissingJWTSecret = errors.New("JWT_SECRET is required")

// Config holds all startup configuration. Values come from the
// environment (RECON_ prefix) with defaults suitable for development.
type Config struct {
	Port        string
	Environment string
	DatabaseDSN string

	JWTSecret string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Circuit breaker defaults for the reconciliation route group.
	BreakerThreshold    float64
	BreakerResetTimeout time.Duration

	// Fixed-window rate limit defaults.
	RateLimitWindow time.Duration
	RateLimitMax    int

	// Interval between background auto-reconciliation passes.
	// Zero disables the background processor.
	ReconcileInterval time.Duration
}

// Load reads configuration from the environment and validates
// required secrets. Missing required values are fatal by contract.
func Load() (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("RECON")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("port", "8080")
	v.SetDefault("environment", "development")
	v.SetDefault("database_dsn", "recon.db")
	v.SetDefault("redis_addr", "localhost:6379")
	v.SetDefault("redis_password", "")
	v.SetDefault("redis_db", 0)
	v.SetDefault("breaker_threshold", 0.5)
	v.SetDefault("breaker_reset_timeout", 30*time.Second)
	v.SetDefault("rate_limit_window", time.Minute)
	v.SetDefault("rate_limit_max", 100)
	v.SetDefault("reconcile_interval", 5*time.Minute)

	cfg := &Config{
		Port:                v.GetString("port"),
		Environment:         v.GetString("environment"),
		DatabaseDSN:         v.GetString("database_dsn"),
		JWTSecret:           v.GetString("jwt_secret"),
		RedisAddr:           v.GetString("redis_addr"),
		RedisPassword:       v.GetString("redis_password"),
		RedisDB:             v.GetInt("redis_db"),
		BreakerThreshold:    v.GetFloat64("breaker_threshold"),
		BreakerResetTimeout: v.GetDuration("breaker_reset_timeout"),
		RateLimitWindow:     v.GetDuration("rate_limit_window"),
		RateLimitMax:        v.GetInt("rate_limit_max"),
		ReconcileInterval:   v.GetDuration("reconcile_interval"),
	}

	if cfg.JWTSecret == "" {
		return nil, ErrMissingJWTSecret
	}

	return cfg, nil
}

// IsProduction reports whether the server runs in production mode.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}
