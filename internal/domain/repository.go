// Package domain defines the core interfaces and types for Shrike.
package domain

import (
	"context"
	"time"
)

// Repository defines the interface for data persistence.
// All methods require tenantID for strict multi-tenancy isolation.
type Repository interface {
	// Analysis run operations
	SaveRun(ctx context.Context, tenantID string, run *AnalysisRun) error
	GetRun(ctx context.Context, tenantID string, runID string) (*AnalysisRun, error)
	ListRuns(ctx context.Context, tenantID string, limit int) ([]*AnalysisRun, error)

	// Triage policy operations
	SavePolicy(ctx context.Context, tenantID string, policy *Policy) error
	GetPolicy(ctx context.Context, tenantID string, policyID string) (*Policy, error)
	ListPolicies(ctx context.Context, tenantID string) ([]*Policy, error)
	DeletePolicy(ctx context.Context, tenantID string, policyID string) error

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string

	// SQLite specific
	SQLitePath string

	// PostgreSQL specific
	PostgresHost     string
	PostgresPort     int
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Connection pool settings
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}
