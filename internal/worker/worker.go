// Package worker provides async ledger processing for the Pro tier.
package worker

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/opensource-finance/shrike/internal/domain"
)

// Worker consumes submitted ledgers from the EventBus and runs them through
// the processing pipeline.
type Worker struct {
	bus       domain.EventBus
	processor *Processor

	subscriptions []domain.Subscription
	ctx           context.Context
	cancel        context.CancelFunc
}

// Config holds worker configuration.
type Config struct {
	// TenantIDs is the list of tenants to process (empty = all via the
	// global subscription)
	TenantIDs []string
}

// NewWorker creates a new async worker.
func NewWorker(bus domain.EventBus, processor *Processor) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:       bus,
		processor: processor,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start begins processing submitted ledgers for the given tenants.
func (w *Worker) Start(cfg Config) error {
	if len(cfg.TenantIDs) == 0 {
		return w.startGlobalWorker()
	}

	for _, tenantID := range cfg.TenantIDs {
		if err := w.startTenantWorker(tenantID); err != nil {
			slog.Error("failed to start worker for tenant",
				"tenant_id", tenantID,
				"error", err,
			)
			continue
		}
	}

	slog.Info("workers started",
		"tenant_count", len(cfg.TenantIDs),
	)

	return nil
}

// startGlobalWorker starts a worker that processes all tenants (for
// testing/dev; production deployments subscribe per tenant or use JetStream
// wildcards).
func (w *Worker) startGlobalWorker() error {
	sub, err := w.bus.Subscribe(w.ctx, "_global", domain.TopicLedgerSubmitted, w.handleMessage)
	if err != nil {
		return err
	}
	w.subscriptions = append(w.subscriptions, sub)

	slog.Info("global worker started")
	return nil
}

// startTenantWorker starts a worker for a specific tenant.
func (w *Worker) startTenantWorker(tenantID string) error {
	sub, err := w.bus.Subscribe(w.ctx, tenantID, domain.TopicLedgerSubmitted, func(ctx context.Context, msg *domain.Message) error {
		return w.processJob(ctx, tenantID, msg)
	})
	if err != nil {
		return err
	}
	w.subscriptions = append(w.subscriptions, sub)

	slog.Info("tenant worker started",
		"tenant_id", tenantID,
		"topic", domain.TopicLedgerSubmitted,
	)

	return nil
}

// handleMessage handles messages from the global subscription.
func (w *Worker) handleMessage(ctx context.Context, msg *domain.Message) error {
	return w.processJob(ctx, msg.TenantID, msg)
}

// processJob decodes a submitted ledger and runs the pipeline over it.
func (w *Worker) processJob(ctx context.Context, tenantID string, msg *domain.Message) error {
	var job domain.LedgerJob
	if err := json.Unmarshal(msg.Payload, &job); err != nil {
		slog.Error("failed to parse ledger job",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}

	// Use message tenant if the job doesn't carry one
	if job.TenantID == "" {
		job.TenantID = tenantID
	}

	slog.Debug("processing submitted ledger",
		"run_id", job.RunID,
		"tenant_id", job.TenantID,
		"tx_count", len(job.Transactions),
	)

	run, err := w.processor.Process(ctx, &job)
	if err != nil {
		slog.Error("ledger processing failed",
			"run_id", job.RunID,
			"tenant_id", job.TenantID,
			"error", err,
		)
		return err
	}

	slog.Debug("submitted ledger processed",
		"run_id", run.ID,
		"report_hash", run.ReportHash,
	)

	return nil
}

// Stop gracefully stops all workers.
func (w *Worker) Stop() error {
	w.cancel()

	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.subscriptions = nil

	slog.Info("workers stopped")
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
	}
}
