// Package notify delivers run completion notices to external channels.
package notify

import (
	"context"
	"fmt"

	"github.com/opensource-finance/shrike/internal/domain"
)

// Notifier receives the outcome of a completed analysis run. Implementations
// must tolerate a nil Result on the run; list endpoints strip it.
type Notifier interface {
	AnalysisCompleted(ctx context.Context, run *domain.AnalysisRun, alerts []domain.Alert) error
}

// Noop discards all notifications.
type Noop struct{}

// AnalysisCompleted implements Notifier.
func (Noop) AnalysisCompleted(ctx context.Context, run *domain.AnalysisRun, alerts []domain.Alert) error {
	return nil
}

// New creates a notifier based on configuration.
func New(cfg domain.NotifierConfig) (Notifier, error) {
	switch cfg.Type {
	case "", "none":
		return Noop{}, nil

	case "telegram":
		return NewTelegram(cfg.TelegramToken, cfg.TelegramChatID, cfg.MaxRetries)

	default:
		return nil, fmt.Errorf("unsupported notifier type: %s", cfg.Type)
	}
}
