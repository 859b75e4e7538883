package storage

import "time"

// Config for the persistence backends
type Config struct {
	// Database config
	Driver          string // "postgres" or "sqlite3"
	DatabaseURL     string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	ConnectTimeout  time.Duration

	// Redis config
	RedisURL        string
	RedisPassword   string
	RedisDB         int
	RedisMaxRetries int
	RedisPoolSize   int

	// S3 config
	S3Endpoint     string
	S3Region       string
	S3Bucket       string
	S3AccessKey    string
	S3SecretKey    string
	S3UsePathStyle bool
	S3EnsureBucket bool
}

// DefaultConfig returns sensible default configuration
func DefaultConfig() Config {
	return Config{
		Driver:          DriverSQLite,
		DatabaseURL:     "file:nano-banana.db?_busy_timeout=5000&_journal_mode=WAL",
		MaxOpenConns:    20,
		MaxIdleConns:    2,
		ConnMaxLifetime: time.Hour,
		ConnMaxIdleTime: 10 * time.Minute,
		ConnectTimeout:  10 * time.Second,
		RedisDB:         -1,
		RedisMaxRetries: 3,
		RedisPoolSize:   10,
		S3Region:        "us-east-1",
	}
}

// RedisEnabled reports whether a Redis URL was configured
func (c Config) RedisEnabled() bool {
	return c.RedisURL != ""
}

// ArchiveEnabled reports whether an S3 bucket was configured
func (c Config) ArchiveEnabled() bool {
	return c.S3Bucket != ""
}
