package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// maxPermissionCacheTTL is the hard ceiling on how stale a cached permission
// set may get. Explicit invalidation is still authoritative; this only bounds
// the window if an invalidation is ever missed.
const maxPermissionCacheTTL = 5 * time.Minute

// maxCleanupChunkSize bounds the id set per cleanup statement and therefore
// the worst-case transaction duration.
const maxCleanupChunkSize = 500

// Config holds all configuration for the keygate server.
type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	Revocation RevocationConfig
	Cleanup    CleanupConfig
	RateLimit  RateLimitConfig
}

type ServerConfig struct {
	Port int
	Env  string
}

type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	URL string
}

type RevocationConfig struct {
	// ConfirmTTL is how long a pending revocation request stays confirmable.
	ConfirmTTL time.Duration
	// PermissionCacheTTL is clamped to maxPermissionCacheTTL by validate.
	PermissionCacheTTL time.Duration
}

type CleanupConfig struct {
	Interval   time.Duration
	ChunkSize  int
	TimeBudget time.Duration
	// Retention is how long a revoked key is kept before the purge sweep
	// hard-deletes it.
	Retention time.Duration
}

type RateLimitConfig struct {
	RequestsPerMinute int
}

// Load reads configuration from environment variables and returns a validated Config.
// Returns an error with a descriptive message if any required value is missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port: envInt("KEYGATE_PORT", 8080),
			Env:  envString("KEYGATE_ENV", "development"),
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
		Revocation: RevocationConfig{
			ConfirmTTL:         envDuration("REVOCATION_CONFIRM_TTL", 15*time.Minute),
			PermissionCacheTTL: envDuration("PERMISSION_CACHE_TTL", maxPermissionCacheTTL),
		},
		Cleanup: CleanupConfig{
			Interval:   envDuration("CLEANUP_INTERVAL", 5*time.Minute),
			ChunkSize:  envInt("CLEANUP_CHUNK_SIZE", maxCleanupChunkSize),
			TimeBudget: envDuration("CLEANUP_TIME_BUDGET", 2*time.Minute),
			Retention:  envDuration("REVOKED_KEY_RETENTION", 720*time.Hour),
		},
		RateLimit: RateLimitConfig{
			RequestsPerMinute: envInt("RATE_LIMIT_PER_MINUTE", 60),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.Redis.URL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}

	if c.Revocation.ConfirmTTL <= 0 {
		return fmt.Errorf("REVOCATION_CONFIRM_TTL must be positive, got %s", c.Revocation.ConfirmTTL)
	}
	if c.Revocation.PermissionCacheTTL <= 0 {
		return fmt.Errorf("PERMISSION_CACHE_TTL must be positive, got %s", c.Revocation.PermissionCacheTTL)
	}
	if c.Revocation.PermissionCacheTTL > maxPermissionCacheTTL {
		c.Revocation.PermissionCacheTTL = maxPermissionCacheTTL
	}

	if c.Cleanup.ChunkSize <= 0 || c.Cleanup.ChunkSize > maxCleanupChunkSize {
		c.Cleanup.ChunkSize = maxCleanupChunkSize
	}
	if c.Cleanup.Interval <= 0 {
		return fmt.Errorf("CLEANUP_INTERVAL must be positive, got %s", c.Cleanup.Interval)
	}
	if c.Cleanup.Retention <= 0 {
		return fmt.Errorf("REVOKED_KEY_RETENTION must be positive, got %s", c.Cleanup.Retention)
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
