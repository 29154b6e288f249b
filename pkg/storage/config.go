// Package storage opens the PostgreSQL and Redis clients shared by the
// entitlement store, status cache and rate limiter.
package storage

import "time"

// Storage backends
const (
	TypeMemory   = "memory"
	TypePostgres = "postgres"
)

// Config holds storage configuration
type Config struct {
	// Type selects the entitlement store backend (memory or postgres)
	Type string

	// PostgreSQL
	PostgresURL         string
	PostgresMaxConns    int
	PostgresMinConns    int
	PostgresTimeout     time.Duration
	PostgresMaxLifetime time.Duration
	PostgresMaxIdleTime time.Duration
	AutoMigrate         bool

	// Redis (optional, used for the status cache L2 and rate limiting)
	RedisURL        string
	RedisPassword   string
	RedisDB         int
	RedisMaxRetries int
	RedisPoolSize   int

	// Status cache
	CacheEnabled bool
	CacheSize    int
	CacheTTL     time.Duration
}

// DefaultConfig returns default storage configuration
func DefaultConfig() Config {
	return Config{
		Type:                TypeMemory,
		PostgresMaxConns:    20,
		PostgresMinConns:    2,
		PostgresTimeout:     10 * time.Second,
		PostgresMaxLifetime: 30 * time.Minute,
		PostgresMaxIdleTime: 5 * time.Minute,
		AutoMigrate:         true,
		RedisDB:             0,
		RedisMaxRetries:     3,
		RedisPoolSize:       10,
		CacheEnabled:        true,
		CacheSize:           10000,
		CacheTTL:            30 * time.Second,
	}
}
