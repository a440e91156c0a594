package detect

import (
	"math"

	"github.com/opensource-finance/shrike/internal/domain"
)

// OutlierSigma is the number of standard deviations above the mean at which
// a transaction amount becomes a high-value outlier.
const OutlierSigma = 2.0

// HighValueOutliers flags both endpoints of every transaction whose amount
// strictly exceeds mean + 2·stddev over all amounts in the ledger. The
// statistics are population-wide, not per-edge or per-node normalized.
func HighValueOutliers(txs []domain.Transaction) map[string]bool {
	flagged := make(map[string]bool)
	if len(txs) == 0 {
		return flagged
	}

	var sum float64
	for _, tx := range txs {
		sum += tx.Amount
	}
	mean := sum / float64(len(txs))

	var variance float64
	for _, tx := range txs {
		d := tx.Amount - mean
		variance += d * d
	}
	variance /= float64(len(txs))

	cutoff := mean + OutlierSigma*math.Sqrt(variance)

	for _, tx := range txs {
		if tx.Amount > cutoff {
			flagged[tx.SenderID] = true
			flagged[tx.ReceiverID] = true
		}
	}
	return flagged
}
