package domain

import (
	"time"
)

// Transaction is one immutable ledger row: a transfer of funds from one
// account to another at a point in time. The engine never mutates these.
type Transaction struct {
	ID         string    `json:"transaction_id"`
	SenderID   string    `json:"sender_id"`
	ReceiverID string    `json:"receiver_id"`
	Amount     float64   `json:"amount"`
	Timestamp  time.Time `json:"timestamp"`
}

// LedgerRequest is the API request payload for a JSON-submitted ledger.
type LedgerRequest struct {
	Transactions []TransactionInput `json:"transactions"`
}

// TransactionInput is one row as submitted over the API. Timestamp is kept
// as a string so the ingest layer can apply its flexible parsing rules.
type TransactionInput struct {
	ID         string  `json:"transaction_id"`
	SenderID   string  `json:"sender_id"`
	ReceiverID string  `json:"receiver_id"`
	Amount     float64 `json:"amount"`
	Timestamp  string  `json:"timestamp"`
}

// LedgerJob is the payload published on TopicLedgerSubmitted for asynchronous
// analysis. The worker picks it up, runs the engine, and persists the run.
type LedgerJob struct {
	RunID        string        `json:"run_id"`
	TenantID     string        `json:"tenant_id"`
	SubmittedAt  time.Time     `json:"submitted_at"`
	Transactions []Transaction `json:"transactions"`
}
