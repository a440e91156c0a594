package domain

import (
	"context"
	"time"
)

// Cache defines the interface for caching operations.
// Supports two-phase caching: local LRU (Community) + Redis (Pro).
// All methods require tenantID for strict multi-tenancy isolation.
type Cache interface {
	// Get retrieves a value from cache.
	// Returns nil, nil if key not found.
	Get(ctx context.Context, tenantID string, key string) ([]byte, error)

	// Set stores a value in cache with expiration.
	Set(ctx context.Context, tenantID string, key string, value []byte, ttl time.Duration) error

	// Delete removes a value from cache.
	Delete(ctx context.Context, tenantID string, key string) error

	// GetRun retrieves a cached analysis run.
	GetRun(ctx context.Context, tenantID string, key string) (*AnalysisRun, error)

	// SetRun caches an analysis run under the given key. The latest run is
	// kept under RunKeyLatest; ledger fingerprints map to completed runs so
	// re-submitting an identical ledger is a cache hit.
	SetRun(ctx context.Context, tenantID string, key string, run *AnalysisRun, ttl time.Duration) error

	// IncrementCounter atomically increments a counter and returns new value.
	// Used to track analyses per tenant in a rolling window.
	IncrementCounter(ctx context.Context, tenantID string, key string, window time.Duration) (int64, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// Well-known cache keys for analysis runs.
const (
	// RunKeyLatest holds the most recent run for a tenant.
	RunKeyLatest = "run:latest"

	// RunKeyPrefix prefixes run-id keyed entries.
	RunKeyPrefix = "run:"

	// FingerprintKeyPrefix prefixes ledger-fingerprint keyed entries.
	FingerprintKeyPrefix = "ledger:"
)

// CacheConfig holds configuration for cache initialization.
type CacheConfig struct {
	// Type is the cache type: "memory" or "redis"
	Type string

	// Local LRU cache settings (Community tier)
	LocalMaxSize int
	LocalTTL     time.Duration

	// Redis settings (Pro tier)
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Two-phase settings
	EnableTwoPhase bool // If true, check local first, then Redis
}
