package notify

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/opensource-finance/shrike/internal/domain"
)

// maxAlertLines caps how many alerts a single message lists.
const maxAlertLines = 8

// Telegram sends run summaries to a Telegram chat via the Bot API.
type Telegram struct {
	bot        *tgbotapi.BotAPI
	chatID     int64
	maxRetries int
	retryDelay time.Duration
}

// NewTelegram creates a Telegram notifier. Delivery is retried with linear
// backoff up to maxRetries attempts.
func NewTelegram(token, chatID string, maxRetries int) (*Telegram, error) {
	if token == "" {
		return nil, errors.New("telegram token is required")
	}

	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}

	chatIDInt, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid telegram chat ID %q: %w", chatID, err)
	}

	if maxRetries <= 0 {
		maxRetries = 3
	}

	return &Telegram{
		bot:        bot,
		chatID:     chatIDInt,
		maxRetries: maxRetries,
		retryDelay: time.Second,
	}, nil
}

// AnalysisCompleted formats the run into a MarkdownV2 message and delivers it.
func (t *Telegram) AnalysisCompleted(ctx context.Context, run *domain.AnalysisRun, alerts []domain.Alert) error {
	msg := tgbotapi.NewMessage(t.chatID, formatRunMessage(run, alerts))
	msg.ParseMode = "MarkdownV2"

	var lastErr error
	for attempt := 1; attempt <= t.maxRetries; attempt++ {
		if _, err := t.bot.Send(msg); err == nil {
			return nil
		} else {
			lastErr = err
		}
		if attempt == t.maxRetries {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(t.retryDelay * time.Duration(attempt)):
		}
	}

	return fmt.Errorf("telegram send failed after %d attempts: %w", t.maxRetries, lastErr)
}

// formatRunMessage renders a run summary for Telegram.
func formatRunMessage(run *domain.AnalysisRun, alerts []domain.Alert) string {
	message := "\U0001F6A8 *Fraud analysis completed*\n\n"
	message += fmt.Sprintf("Run: `%s`\n", escapeMarkdownV2(run.ID))
	message += fmt.Sprintf("Transactions: %d\n", run.TxCount)

	if run.Result != nil {
		s := run.Result.Summary
		message += fmt.Sprintf("Accounts analyzed: %d\n", s.TotalAccountsAnalyzed)
		message += fmt.Sprintf("Accounts flagged: %d\n", s.SuspiciousAccountsFlagged)
		message += fmt.Sprintf("Fraud rings: %d\n", s.FraudRingsDetected)
	}
	message += fmt.Sprintf("Alerts: %d\n", len(alerts))

	if len(alerts) > 0 {
		message += "\n*Alerts*\n"
		for i, alert := range alerts {
			if i == maxAlertLines {
				message += escapeMarkdownV2(fmt.Sprintf("… and %d more", len(alerts)-maxAlertLines)) + "\n"
				break
			}
			line := fmt.Sprintf("%d. [%s] %s (score %d) %s",
				i+1, alert.Severity, alert.AccountID, alert.Score, alert.PolicyName)
			if alert.RingID != nil {
				line += fmt.Sprintf(" in %s", *alert.RingID)
			}
			message += escapeMarkdownV2(line) + "\n"
		}
	}

	return message
}

// escapeMarkdownV2 escapes the characters Telegram's MarkdownV2 parse mode
// treats as syntax: _ * [ ] ( ) ~ ` > # + - = | { } . !
func escapeMarkdownV2(text string) string {
	result := ""
	for _, char := range text {
		switch char {
		case '_', '*', '[', ']', '(', ')', '~', '`', '>', '#', '+', '-', '=', '|', '{', '}', '.', '!':
			result += "\\" + string(char)
		default:
			result += string(char)
		}
	}
	return result
}
