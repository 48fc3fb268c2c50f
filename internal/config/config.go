package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the matchd server.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Engine   EngineConfig
	Jobs     JobsConfig
	Auth     AuthConfig
}

type ServerConfig struct {
	Port int
	Env  string
}

type DatabaseConfig struct {
	// URL may be empty, in which case jobs live in an in-memory store.
	// Demo deployments run that way; anything durable needs Postgres.
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	URL string
}

type EngineConfig struct {
	BaseURL            string
	Timeout            time.Duration
	RetryMax           int
	FallbackSimulation bool
}

type JobsConfig struct {
	MaxConcurrent int
}

type AuthConfig struct {
	// APIKeyHash is a bcrypt hash of the admin API key. Empty disables
	// authentication entirely.
	APIKeyHash      string
	RateLimitPerMin int
}

// Load reads configuration from environment variables and returns a validated Config.
// Returns an error with a descriptive message if any required value is missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port: envInt("MATCHD_PORT", 8080),
			Env:  envString("MATCHD_ENV", "development"),
		},
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    envInt("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: envDuration("DATABASE_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			URL: os.Getenv("REDIS_URL"),
		},
		Engine: EngineConfig{
			BaseURL:            os.Getenv("ENGINE_BASE_URL"),
			Timeout:            envDuration("ENGINE_TIMEOUT", 30*time.Second),
			RetryMax:           envInt("ENGINE_RETRY_MAX", 3),
			FallbackSimulation: envBool("ENGINE_FALLBACK_SIMULATION", true),
		},
		Jobs: JobsConfig{
			MaxConcurrent: envInt("MATCHD_MAX_CONCURRENT_JOBS", 5),
		},
		Auth: AuthConfig{
			APIKeyHash:      os.Getenv("MATCHD_API_KEY_HASH"),
			RateLimitPerMin: envInt("MATCHD_RATE_LIMIT_PER_MIN", 120),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Redis.URL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}

	if c.Engine.BaseURL == "" && !c.Engine.FallbackSimulation {
		return fmt.Errorf("ENGINE_BASE_URL is required when ENGINE_FALLBACK_SIMULATION is disabled")
	}
	if c.Engine.BaseURL != "" &&
		!strings.HasPrefix(c.Engine.BaseURL, "http://") && !strings.HasPrefix(c.Engine.BaseURL, "https://") {
		return fmt.Errorf("ENGINE_BASE_URL must start with http:// or https://, got %q", c.Engine.BaseURL)
	}
	if c.Engine.RetryMax < 0 {
		return fmt.Errorf("ENGINE_RETRY_MAX must not be negative")
	}

	if c.Jobs.MaxConcurrent < 1 {
		return fmt.Errorf("MATCHD_MAX_CONCURRENT_JOBS must be at least 1")
	}

	return nil
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func envBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
