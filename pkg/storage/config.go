package storage

import "time"

// Backend types
const (
	BackendMemory   = "memory"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
)

// Config for storage backends
type Config struct {
	Type string // "memory", "sqlite", "postgres"

	// SQLite config
	SQLitePath string

	// PostgreSQL config
	PostgresURL      string
	PostgresMaxConns int
	PostgresMinConns int
	PostgresTimeout  time.Duration

	// Redis config (counter store)
	RedisURL        string
	RedisPassword   string
	RedisDB         int
	RedisMaxRetries int
	RedisPoolSize   int

	// S3 config (event archive)
	S3Endpoint     string
	S3Region       string
	S3Bucket       string
	S3AccessKey    string
	S3SecretKey    string
	S3UsePathStyle bool

	// Circuit breaker
	BreakerFailureThreshold uint32
	BreakerOpenTimeout      time.Duration
}

// DefaultConfig returns sensible default configuration
func DefaultConfig() Config {
	return Config{
		Type:                    BackendMemory,
		SQLitePath:              "playerpulse.db",
		PostgresMaxConns:        20,
		PostgresMinConns:        2,
		PostgresTimeout:         10 * time.Second,
		RedisDB:                 0,
		RedisMaxRetries:         3,
		RedisPoolSize:           10,
		S3Region:                "us-east-1",
		BreakerFailureThreshold: 5,
		BreakerOpenTimeout:      30 * time.Second,
	}
}
