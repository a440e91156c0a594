package generator

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/opensource-finance/shrike/internal/domain"
)

const timestampLayout = "2006-01-02 15:04:05"

// WriteCSV serializes transactions in the ingest schema.
func WriteCSV(w io.Writer, txs []domain.Transaction) error {
	cw := csv.NewWriter(w)

	if err := cw.Write([]string{"transaction_id", "sender_id", "receiver_id", "amount", "timestamp"}); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	for _, tx := range txs {
		row := []string{
			tx.ID,
			tx.SenderID,
			tx.ReceiverID,
			strconv.FormatFloat(tx.Amount, 'f', -1, 64),
			tx.Timestamp.UTC().Format(timestampLayout),
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write row %s: %w", tx.ID, err)
		}
	}

	cw.Flush()
	return cw.Error()
}

// WriteCSVFile writes the ledger to a file path.
func WriteCSVFile(path string, txs []domain.Transaction) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer file.Close()

	return WriteCSV(file, txs)
}
