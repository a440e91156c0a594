// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/opensource-finance/shrike/internal/domain"
	"github.com/opensource-finance/shrike/internal/report"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrInvalidInput = errors.New("invalid input")
)

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (domain.Repository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}

	// Run migrations
	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// SaveRun stores a completed analysis run with tenant isolation. The result
// is stored in its envelope encoding; runs are immutable once written.
func (r *SQLRepository) SaveRun(ctx context.Context, tenantID string, run *domain.AnalysisRun) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}
	if run == nil || run.ID == "" {
		return fmt.Errorf("%w: run with id is required", ErrInvalidInput)
	}

	result, err := report.Encode(run.Result)
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	alertList := run.Alerts
	if alertList == nil {
		alertList = []domain.Alert{}
	}
	alerts, _ := json.Marshal(alertList)

	var flagged, rings int
	if run.Result != nil {
		flagged = run.Result.Summary.SuspiciousAccountsFlagged
		rings = run.Result.Summary.FraudRingsDetected
	}

	query := `
		INSERT INTO runs (
			id, tenant_id, created_at, tx_count, duration_ms,
			report_hash, accounts_flagged, rings_detected, result, alerts
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = r.db.ExecContext(ctx, r.rebind(query),
		run.ID, tenantID, run.CreatedAt, run.TxCount, run.DurationMs,
		run.ReportHash, flagged, rings,
		string(result), string(alerts),
	)
	return err
}

// GetRun retrieves an analysis run by ID with tenant isolation.
func (r *SQLRepository) GetRun(ctx context.Context, tenantID string, runID string) (*domain.AnalysisRun, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, created_at, tx_count, duration_ms,
			   report_hash, result, alerts
		FROM runs
		WHERE tenant_id = ? AND id = ?
	`

	var run domain.AnalysisRun
	var result, alerts string

	err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, runID).Scan(
		&run.ID, &run.TenantID, &run.CreatedAt, &run.TxCount, &run.DurationMs,
		&run.ReportHash, &result, &alerts,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	run.Result, err = report.Decode([]byte(result))
	if err != nil {
		return nil, fmt.Errorf("decode result for run %s: %w", runID, err)
	}
	run.Alerts = []domain.Alert{}
	if alerts != "" {
		json.Unmarshal([]byte(alerts), &run.Alerts)
	}

	return &run, nil
}

// ListRuns retrieves recent runs for a tenant, newest first. Results are not
// hydrated; fetch a single run for the full report.
func (r *SQLRepository) ListRuns(ctx context.Context, tenantID string, limit int) ([]*domain.AnalysisRun, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, tenant_id, created_at, tx_count, duration_ms, report_hash, alerts
		FROM runs
		WHERE tenant_id = ?
		ORDER BY created_at DESC
		LIMIT ?
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*domain.AnalysisRun
	for rows.Next() {
		var run domain.AnalysisRun
		var alerts string

		if err := rows.Scan(
			&run.ID, &run.TenantID, &run.CreatedAt, &run.TxCount,
			&run.DurationMs, &run.ReportHash, &alerts,
		); err != nil {
			return nil, err
		}

		run.Alerts = []domain.Alert{}
		if alerts != "" {
			json.Unmarshal([]byte(alerts), &run.Alerts)
		}
		runs = append(runs, &run)
	}

	return runs, rows.Err()
}

// SavePolicy stores a triage policy with tenant isolation. Saving an
// existing policy ID updates it in place.
func (r *SQLRepository) SavePolicy(ctx context.Context, tenantID string, policy *domain.Policy) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}
	if policy == nil || policy.ID == "" {
		return fmt.Errorf("%w: policy with id is required", ErrInvalidInput)
	}

	enabled := 0
	if policy.Enabled {
		enabled = 1
	}

	now := time.Now().UTC()

	query := `
		INSERT INTO policies (
			id, tenant_id, name, description, expression, severity, enabled, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id, tenant_id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			expression = excluded.expression,
			severity = excluded.severity,
			enabled = excluded.enabled,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		policy.ID, tenantID, policy.Name, policy.Description,
		policy.Expression, policy.Severity, enabled,
		now, now,
	)
	return err
}

// GetPolicy retrieves a triage policy with tenant isolation. Disabled
// policies are returned too; callers filter on Enabled when evaluating.
func (r *SQLRepository) GetPolicy(ctx context.Context, tenantID string, policyID string) (*domain.Policy, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, name, description, expression, severity, enabled, created_at, updated_at
		FROM policies
		WHERE tenant_id = ? AND id = ?
	`

	var p domain.Policy
	var enabled int

	err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, policyID).Scan(
		&p.ID, &p.TenantID, &p.Name, &p.Description,
		&p.Expression, &p.Severity, &enabled,
		&p.CreatedAt, &p.UpdatedAt,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	p.Enabled = enabled == 1

	return &p, nil
}

// ListPolicies retrieves all triage policies for a tenant.
func (r *SQLRepository) ListPolicies(ctx context.Context, tenantID string) ([]*domain.Policy, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, name, description, expression, severity, enabled, created_at, updated_at
		FROM policies
		WHERE tenant_id = ?
		ORDER BY name
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var policies []*domain.Policy
	for rows.Next() {
		var p domain.Policy
		var enabled int

		if err := rows.Scan(
			&p.ID, &p.TenantID, &p.Name, &p.Description,
			&p.Expression, &p.Severity, &enabled,
			&p.CreatedAt, &p.UpdatedAt,
		); err != nil {
			return nil, err
		}

		p.Enabled = enabled == 1
		policies = append(policies, &p)
	}

	return policies, rows.Err()
}

// DeletePolicy removes a triage policy. Enabled doubles as a user-facing
// toggle here, so deletion is a hard delete rather than a soft disable.
func (r *SQLRepository) DeletePolicy(ctx context.Context, tenantID string, policyID string) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		DELETE FROM policies
		WHERE tenant_id = ? AND id = ?
	`

	result, err := r.db.ExecContext(ctx, r.rebind(query), tenantID, policyID)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}

	return nil
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	// Convert ? to $1, $2, etc.
	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = append(result, fmt.Sprintf("%d", n)...)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}
