package cache

import (
	"context"
	"time"
)

// Cache defines the interface for working with the cache.
type Cache interface {
	// Get fetches the value at key and deserializes it into dest.
	Get(ctx context.Context, key string, dest interface{}) error

	// Set stores value with the given TTL.
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error

	// Delete removes the value at key.
	Delete(ctx context.Context, key string) error

	// Exists reports whether key is present.
	Exists(ctx context.Context, key string) (bool, error)

	// TTL returns the remaining time-to-live for key.
	TTL(ctx context.Context, key string) (time.Duration, error)

	// Expire sets a TTL on an existing key.
	Expire(ctx context.Context, key string, ttl time.Duration) error

	// HealthCheck checks the cache's health.
	HealthCheck(ctx context.Context) error

	// Ping checks connectivity to the cache.
	Ping(ctx context.Context) error

	// Flush clears the entire cache.
	Flush(ctx context.Context) error

	// Incr atomically increments the integer stored at key (creating it at 1
	// if absent) and returns the new value. Used for circuit-breaker failure
	// and success counters.
	Incr(ctx context.Context, key string) (int64, error)

	// SetNX sets key to value only if it does not already exist, applying
	// ttl atomically. Returns true if the key was set by this call, false if
	// it already existed. Backs idempotency-key and refresh-token-rotation
	// checks that must not race across replicas.
	SetNX(ctx context.Context, key string, value interface{}, ttl time.Duration) (bool, error)

	// ScanKeys returns keys matching pattern using a cursor-based SCAN,
	// never the O(N) blocking KEYS command.
	ScanKeys(ctx context.Context, pattern string) ([]string, error)
}

// CacheStats holds cache operational statistics.
type CacheStats struct {
	Hits         int64
	Misses       int64
	Sets         int64
	Deletes      int64
	Errors       int64
	Connections  int
	Uptime       time.Duration
}

// CacheConfig holds cache configuration.
type CacheConfig struct {
	// Redis connection settings
	Addr     string        `env:"REDIS_ADDR" default:"localhost:6379"`
	Password string        `env:"REDIS_PASSWORD" default:""`
	DB       int           `env:"REDIS_DB" default:"0"`

	// Pool settings
	PoolSize     int           `env:"REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `env:"REDIS_MIN_IDLE_CONNS" default:"1"`
	MaxConnAge   time.Duration `env:"REDIS_MAX_CONN_AGE" default:"30m"`

	// Timeout settings
	DialTimeout  time.Duration `env:"REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `env:"REDIS_READ_TIMEOUT" default:"3s"`
	WriteTimeout time.Duration `env:"REDIS_WRITE_TIMEOUT" default:"3s"`

	// Retry settings
	MaxRetries      int           `env:"REDIS_MAX_RETRIES" default:"3"`
	MinRetryBackoff time.Duration `env:"REDIS_MIN_RETRY_BACKOFF" default:"8ms"`
	MaxRetryBackoff time.Duration `env:"REDIS_MAX_RETRY_BACKOFF" default:"512ms"`

	// Circuit breaker settings
	CircuitBreakerEnabled bool          `env:"REDIS_CIRCUIT_BREAKER_ENABLED" default:"true"`
	CircuitBreakerTimeout time.Duration `env:"REDIS_CIRCUIT_BREAKER_TIMEOUT" default:"10s"`

	// Monitoring
	MetricsEnabled bool `env:"REDIS_METRICS_ENABLED" default:"true"`
}

// Validate checks the configuration for correctness.
func (c *CacheConfig) Validate() error {
	if c.Addr == "" {
		return ErrInvalidConfig
	}
	if c.PoolSize <= 0 {
		return ErrInvalidConfig
	}
	if c.DialTimeout <= 0 {
		return ErrInvalidConfig
	}
	return nil
}

// ErrNotFound is returned when a key is not present in the cache.
var ErrNotFound = NewCacheError("key not found", "NOT_FOUND")

// ErrInvalidConfig is returned for an invalid configuration.
var ErrInvalidConfig = NewCacheError("invalid cache configuration", "CONFIG_ERROR")

// ErrConnectionFailed is returned on a connection problem.
var ErrConnectionFailed = NewCacheError("connection failed", "CONNECTION_ERROR")

// CacheError represents a cache error.
type CacheError struct {
	Message string
	Code    string
	Cause   error
}

func (e *CacheError) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *CacheError) Unwrap() error {
	return e.Cause
}

// NewCacheError creates a new cache error.
func NewCacheError(message, code string) *CacheError {
	return &CacheError{
		Message: message,
		Code:    code,
	}
}

// IsNotFound reports whether err is a "not found" error.
func IsNotFound(err error) bool {
	if cacheErr, ok := err.(*CacheError); ok {
		return cacheErr.Code == "NOT_FOUND"
	}
	return false
}

// IsConnectionError reports whether err is a connection error.
func IsConnectionError(err error) bool {
	if cacheErr, ok := err.(*CacheError); ok {
		return cacheErr.Code == "CONNECTION_ERROR"
	}
	return false
}
