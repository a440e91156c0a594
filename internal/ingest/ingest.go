// Package ingest validates raw ledger input and turns it into well-typed
// transactions. The engine assumes already-valid rows; this package is the
// gate that rejects a malformed batch before analysis.
package ingest

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/opensource-finance/shrike/internal/domain"
)

var (
	ErrEmptyLedger   = errors.New("ledger contains no rows")
	ErrMissingColumn = errors.New("missing required column")
	ErrBadRow        = errors.New("invalid row")
)

// RequiredColumns lists the header fields every ledger CSV must carry.
// Extra columns are tolerated and ignored; order is free.
var RequiredColumns = []string{"transaction_id", "sender_id", "receiver_id", "amount", "timestamp"}

// Stats summarizes an accepted batch. Duplicate transaction ids are
// tolerated with a count rather than rejected.
type Stats struct {
	Rows         int `json:"rows"`
	Accounts     int `json:"accounts"`
	DuplicateIDs int `json:"duplicate_ids"`
}

var timestampLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseTimestamp accepts RFC3339, a space-separated datetime, a bare date,
// or unix epoch seconds/milliseconds. Epoch values of 13+ digits are
// treated as milliseconds.
func ParseTimestamp(raw string) (time.Time, error) {
	if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
		if n >= 1_000_000_000_000 {
			return time.UnixMilli(n).UTC(), nil
		}
		return time.Unix(n, 0).UTC(), nil
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", raw)
}

// ParseCSV reads and validates a ledger in CSV form. Row numbers in errors
// count the header as line 1. Any invalid row rejects the whole batch.
func ParseCSV(r io.Reader) ([]domain.Transaction, *Stats, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err == io.EOF {
		return nil, nil, ErrEmptyLedger
	}
	if err != nil {
		return nil, nil, fmt.Errorf("read header: %w", err)
	}
	colIndex := make(map[string]int, len(header))
	for i, col := range header {
		colIndex[strings.ToLower(strings.TrimSpace(col))] = i
	}
	for _, col := range RequiredColumns {
		if _, ok := colIndex[col]; !ok {
			return nil, nil, fmt.Errorf("%w: %s", ErrMissingColumn, col)
		}
	}

	var txs []domain.Transaction
	stats := &Stats{}
	seen := make(map[string]bool)
	accounts := make(map[string]bool)
	line := 1
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return nil, nil, fmt.Errorf("%w: line %d: %v", ErrBadRow, line, err)
		}
		field := func(name string) string {
			idx := colIndex[name]
			if idx >= len(record) {
				return ""
			}
			return strings.TrimSpace(record[idx])
		}

		id := field("transaction_id")
		sender := field("sender_id")
		receiver := field("receiver_id")
		rawAmount := field("amount")
		rawTime := field("timestamp")
		if id == "" || sender == "" || receiver == "" || rawAmount == "" || rawTime == "" {
			return nil, nil, fmt.Errorf("%w: line %d: blank required field", ErrBadRow, line)
		}
		amount, err := strconv.ParseFloat(rawAmount, 64)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: line %d: amount %q is not numeric", ErrBadRow, line, rawAmount)
		}
		tx, err := validate(id, sender, receiver, amount, rawTime)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: line %d: %v", ErrBadRow, line, err)
		}

		if seen[tx.ID] {
			stats.DuplicateIDs++
		} else {
			seen[tx.ID] = true
		}
		accounts[tx.SenderID] = true
		accounts[tx.ReceiverID] = true
		txs = append(txs, tx)
	}
	if len(txs) == 0 {
		return nil, nil, ErrEmptyLedger
	}
	stats.Rows = len(txs)
	stats.Accounts = len(accounts)
	return txs, stats, nil
}

// ParseRows validates API-submitted rows with the same rules as ParseCSV.
func ParseRows(rows []domain.TransactionInput) ([]domain.Transaction, *Stats, error) {
	if len(rows) == 0 {
		return nil, nil, ErrEmptyLedger
	}
	txs := make([]domain.Transaction, 0, len(rows))
	stats := &Stats{}
	seen := make(map[string]bool)
	accounts := make(map[string]bool)
	for i, in := range rows {
		if in.ID == "" || in.SenderID == "" || in.ReceiverID == "" || in.Timestamp == "" {
			return nil, nil, fmt.Errorf("%w: row %d: blank required field", ErrBadRow, i+1)
		}
		tx, err := validate(in.ID, in.SenderID, in.ReceiverID, in.Amount, in.Timestamp)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: row %d: %v", ErrBadRow, i+1, err)
		}

		if seen[tx.ID] {
			stats.DuplicateIDs++
		} else {
			seen[tx.ID] = true
		}
		accounts[tx.SenderID] = true
		accounts[tx.ReceiverID] = true
		txs = append(txs, tx)
	}
	stats.Rows = len(txs)
	stats.Accounts = len(accounts)
	return txs, stats, nil
}

func validate(id, sender, receiver string, amount float64, rawTime string) (domain.Transaction, error) {
	if amount < 0 {
		return domain.Transaction{}, fmt.Errorf("negative amount %v", amount)
	}
	ts, err := ParseTimestamp(rawTime)
	if err != nil {
		return domain.Transaction{}, err
	}
	return domain.Transaction{
		ID:         id,
		SenderID:   sender,
		ReceiverID: receiver,
		Amount:     amount,
		Timestamp:  ts,
	}, nil
}
