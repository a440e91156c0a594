package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/opensource-finance/shrike/internal/domain"
	"github.com/opensource-finance/shrike/internal/engine"
	"github.com/opensource-finance/shrike/internal/graphstore"
	"github.com/opensource-finance/shrike/internal/notify"
	"github.com/opensource-finance/shrike/internal/report"
	"github.com/opensource-finance/shrike/internal/triage"
)

// defaultRunCacheTTL bounds how long completed runs stay cached.
const defaultRunCacheTTL = 24 * time.Hour

// analysesCounterKey tracks analyses per tenant in a rolling day.
const analysesCounterKey = "analyses"

// AlertEvent is the payload published on TopicAlertRaised, one per alert.
type AlertEvent struct {
	RunID string       `json:"run_id"`
	Alert domain.Alert `json:"alert"`
}

// Processor runs a submitted ledger through the full pipeline: analysis,
// triage, persistence, caching, graph export, event publication and
// notification. The synchronous API path and the async worker share it.
//
// Repository, cache, exporter and notifier failures are logged and do not
// fail the run; the analysis result always wins.
type Processor struct {
	engine   *engine.Engine
	policies *triage.Engine
	repo     domain.Repository
	cache    domain.Cache
	bus      domain.EventBus
	exporter *graphstore.Exporter
	notifier notify.Notifier

	// RunCacheTTL overrides the default cache lifetime for completed runs.
	RunCacheTTL time.Duration
}

// NewProcessor creates a processor. Every dependency except the engine may
// be nil; nil components are skipped.
func NewProcessor(analysisEngine *engine.Engine, policies *triage.Engine, repo domain.Repository, cache domain.Cache, bus domain.EventBus, exporter *graphstore.Exporter, notifier notify.Notifier) *Processor {
	return &Processor{
		engine:      analysisEngine,
		policies:    policies,
		repo:        repo,
		cache:       cache,
		bus:         bus,
		exporter:    exporter,
		notifier:    notifier,
		RunCacheTTL: defaultRunCacheTTL,
	}
}

// Process analyzes the job's transactions and fans the completed run out to
// every configured component. A missing run ID is generated.
func (p *Processor) Process(ctx context.Context, job *domain.LedgerJob) (*domain.AnalysisRun, error) {
	if job == nil {
		return nil, errors.New("nil ledger job")
	}
	if job.TenantID == "" {
		return nil, errors.New("ledger job has no tenant")
	}
	if job.RunID == "" {
		job.RunID = uuid.New().String()
	}

	start := time.Now()
	tenantID := job.TenantID

	result := p.engine.Analyze(ctx, job.Transactions)

	var alerts []domain.Alert
	if p.policies != nil && p.policies.PoliciesCount() > 0 {
		alerts = p.policies.Evaluate(result)
	}

	hash, err := report.Hash(result)
	if err != nil {
		return nil, fmt.Errorf("hash report for run %s: %w", job.RunID, err)
	}

	run := &domain.AnalysisRun{
		ID:         job.RunID,
		TenantID:   tenantID,
		CreatedAt:  time.Now().UTC(),
		TxCount:    len(job.Transactions),
		DurationMs: time.Since(start).Milliseconds(),
		ReportHash: hash,
		Result:     result,
		Alerts:     alerts,
	}

	if p.repo != nil {
		if err := p.repo.SaveRun(ctx, tenantID, run); err != nil {
			slog.Error("failed to save run",
				"run_id", run.ID,
				"tenant_id", tenantID,
				"error", err,
			)
		}
	}

	p.cacheRun(ctx, tenantID, run, job.Transactions)

	if p.exporter != nil {
		if err := p.exporter.ExportRun(ctx, run); err != nil {
			slog.Error("graph export failed",
				"run_id", run.ID,
				"error", err,
			)
		}
	}

	p.publish(ctx, tenantID, run, alerts)

	if p.notifier != nil {
		if err := p.notifier.AnalysisCompleted(ctx, run, alerts); err != nil {
			slog.Error("notification failed",
				"run_id", run.ID,
				"error", err,
			)
		}
	}

	slog.Info("ledger analyzed",
		"run_id", run.ID,
		"tenant_id", tenantID,
		"tx_count", run.TxCount,
		"accounts_flagged", result.Summary.SuspiciousAccountsFlagged,
		"rings_detected", result.Summary.FraudRingsDetected,
		"alerts", len(alerts),
		"duration_ms", run.DurationMs,
	)

	return run, nil
}

// cacheRun stores the run under its ID, as the tenant's latest, and maps the
// ledger fingerprint to the run ID so identical resubmissions hit cache.
func (p *Processor) cacheRun(ctx context.Context, tenantID string, run *domain.AnalysisRun, txs []domain.Transaction) {
	if p.cache == nil {
		return
	}

	if err := p.cache.SetRun(ctx, tenantID, domain.RunKeyPrefix+run.ID, run, p.RunCacheTTL); err != nil {
		slog.Warn("failed to cache run", "run_id", run.ID, "error", err)
	}
	if err := p.cache.SetRun(ctx, tenantID, domain.RunKeyLatest, run, p.RunCacheTTL); err != nil {
		slog.Warn("failed to cache latest run", "run_id", run.ID, "error", err)
	}

	fp := report.Fingerprint(txs)
	if err := p.cache.Set(ctx, tenantID, domain.FingerprintKeyPrefix+fp, []byte(run.ID), p.RunCacheTTL); err != nil {
		slog.Warn("failed to cache ledger fingerprint", "run_id", run.ID, "error", err)
	}

	if _, err := p.cache.IncrementCounter(ctx, tenantID, analysesCounterKey, 24*time.Hour); err != nil {
		slog.Warn("failed to count analysis", "tenant_id", tenantID, "error", err)
	}
}

// publish emits the completion event (result body stripped; consumers fetch
// the full report by run ID) and one alert event per triage alert.
func (p *Processor) publish(ctx context.Context, tenantID string, run *domain.AnalysisRun, alerts []domain.Alert) {
	if p.bus == nil {
		return
	}

	event := *run
	event.Result = nil
	payload, _ := json.Marshal(&event)
	if err := p.bus.Publish(ctx, tenantID, domain.TopicAnalysisCompleted, payload); err != nil {
		slog.Error("failed to publish completion",
			"run_id", run.ID,
			"error", err,
		)
	}

	for _, alert := range alerts {
		alertPayload, _ := json.Marshal(AlertEvent{RunID: run.ID, Alert: alert})
		if err := p.bus.Publish(ctx, tenantID, domain.TopicAlertRaised, alertPayload); err != nil {
			slog.Error("failed to publish alert",
				"run_id", run.ID,
				"policy_id", alert.PolicyID,
				"error", err,
			)
		}
	}
}

// CachedRunForLedger returns the run a previously analyzed identical ledger
// produced, or nil when the fingerprint is unknown.
func (p *Processor) CachedRunForLedger(ctx context.Context, tenantID string, txs []domain.Transaction) *domain.AnalysisRun {
	if p.cache == nil {
		return nil
	}

	fp := report.Fingerprint(txs)
	runID, err := p.cache.Get(ctx, tenantID, domain.FingerprintKeyPrefix+fp)
	if err != nil || runID == nil {
		return nil
	}

	run, err := p.cache.GetRun(ctx, tenantID, domain.RunKeyPrefix+string(runID))
	if err != nil || run == nil {
		return nil
	}
	return run
}
