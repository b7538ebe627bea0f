// Package config provides configuration management for the resilience
// service. Values are loaded from environment variables with sensible
// defaults and validated before the application starts.
//
// Environment Variables:
//
// Application Settings:
//   - PORT: Server port (default: 8080)
//   - LOG_LEVEL: Logging level (default: info)
//
// Redis Configuration (the shared counter store):
//   - REDIS_ADDRESS: Redis server address (default: localhost:6379)
//   - REDIS_PASSWORD: Redis password
//   - REDIS_DB: Redis database number 0-15 (default: 0)
//   - REDIS_POOL_SIZE: Redis connection pool size (default: 10)
//
// Rate Limiting:
//   - RATE_LIMIT_ENABLED: Enable admission control (default: true)
//
// Security Configuration:
//   - JWT_SECRET: HMAC secret used to read user identity from bearer
//     tokens (required, minimum 32 characters)
//   - ADMIN_TOKEN: Shared secret for the admin/maintenance endpoints
//     (required)
//
// Monitoring:
//   - MONITOR_INTERVAL: Interval for periodic health/stat logging
//     (default: 30s)
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all configuration values for the resilience service.
// All fields correspond to environment variables that can be set to
// override the default values.
type Config struct {
	// Application settings
	Port     string // Server port number
	LogLevel string // Logging level (debug, info, warn, error)

	// Redis configuration for the shared counter store
	RedisAddress  string // Redis server address (host:port)
	RedisPassword string // Redis authentication password
	RedisDB       string // Redis database number (0-15)
	RedisPoolSize string // Redis connection pool size

	// Rate limiting configuration
	RateLimitEnabled bool // Whether admission control is enforced

	// Security configuration
	JWTSecret  string // Secret for reading user identity claims (required)
	AdminToken string // Shared secret guarding the admin surface (required)

	// Monitoring configuration
	MonitorInterval string // Interval for periodic health/stat logging
}

// Load creates a new Config instance with values loaded from environment
// variables. It does not validate; call Validate() on the result.
func Load() *Config {
	return &Config{
		Port:     getEnv("PORT", "8080"),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		RedisAddress:  getEnv("REDIS_ADDRESS", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnv("REDIS_DB", "0"),
		RedisPoolSize: getEnv("REDIS_POOL_SIZE", "10"),

		RateLimitEnabled: getBoolEnv("RATE_LIMIT_ENABLED", true),

		JWTSecret:  getEnv("JWT_SECRET", ""),
		AdminToken: getEnv("ADMIN_TOKEN", ""),

		MonitorInterval: getEnv("MONITOR_INTERVAL", "30s"),
	}
}

// Validate performs validation on the configuration to ensure all
// required fields are present and all values are valid.
func (c *Config) Validate() error {
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET environment variable is required")
	}
	if len(c.JWTSecret) < 32 {
		return fmt.Errorf("JWT_SECRET must be at least 32 characters long for security")
	}
	if c.AdminToken == "" {
		return fmt.Errorf("ADMIN_TOKEN environment variable is required")
	}

	if port, err := strconv.Atoi(c.Port); err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("PORT must be a valid port number between 1 and 65535")
	}

	if db, err := strconv.Atoi(c.RedisDB); err != nil || db < 0 || db > 15 {
		return fmt.Errorf("REDIS_DB must be a number between 0 and 15")
	}
	if size, err := strconv.Atoi(c.RedisPoolSize); err != nil || size < 1 {
		return fmt.Errorf("REDIS_POOL_SIZE must be a positive number")
	}

	if _, err := time.ParseDuration(c.MonitorInterval); err != nil {
		return fmt.Errorf("MONITOR_INTERVAL must be a valid duration (e.g. \"30s\"): %w", err)
	}

	return nil
}

// MonitorEvery returns the parsed monitoring interval. Validate must
// have been called first; invalid values fall back to 30 seconds.
func (c *Config) MonitorEvery() time.Duration {
	d, err := time.ParseDuration(c.MonitorInterval)
	if err != nil || d <= 0 {
		return 30 * time.Second
	}
	return d
}

// getEnv retrieves an environment variable value or returns a default
// value if not set.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getBoolEnv retrieves a boolean environment variable value or returns
// a default value when unset or unparsable.
func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
