package detect

import (
	"fmt"
	"testing"
	"time"

	"github.com/opensource-finance/shrike/internal/domain"
	"github.com/opensource-finance/shrike/internal/graph"
)

// fanOut builds n transfers from hub to distinct receivers, spaced gap apart.
func fanOut(hub string, n int, gap time.Duration) []domain.Transaction {
	txs := make([]domain.Transaction, 0, n)
	for i := 0; i < n; i++ {
		txs = append(txs, tx(
			fmt.Sprintf("out%02d", i),
			hub,
			fmt.Sprintf("R%02d", i),
			100,
			time.Duration(i)*gap,
		))
	}
	return txs
}

// fanIn builds n transfers from distinct senders into hub.
func fanIn(hub string, n int, gap time.Duration) []domain.Transaction {
	txs := make([]domain.Transaction, 0, n)
	for i := 0; i < n; i++ {
		txs = append(txs, tx(
			fmt.Sprintf("in%02d", i),
			fmt.Sprintf("S%02d", i),
			hub,
			100,
			time.Duration(i)*gap,
		))
	}
	return txs
}

func TestSmurfingFanOut(t *testing.T) {
	g := graph.Build(fanOut("HUB", SmurfThreshold, time.Hour))

	res := Smurfing(g)
	if !res.Smurfing["HUB"] {
		t.Error("fan-out hub not flagged as smurfing")
	}
	if !res.Temporal["HUB"] {
		t.Error("fan-out hub within 9h not flagged as temporally clustered")
	}
	if res.Smurfing["R00"] {
		t.Error("receiver should not be flagged")
	}
}

func TestSmurfingFanIn(t *testing.T) {
	g := graph.Build(fanIn("HUB", SmurfThreshold, time.Hour))

	res := Smurfing(g)
	if !res.Smurfing["HUB"] {
		t.Error("fan-in hub not flagged as smurfing")
	}
	if !res.Temporal["HUB"] {
		t.Error("fan-in hub not flagged as temporally clustered")
	}
}

func TestSmurfingBelowThreshold(t *testing.T) {
	g := graph.Build(fanOut("HUB", SmurfThreshold-1, time.Hour))

	res := Smurfing(g)
	if res.Smurfing["HUB"] {
		t.Errorf("hub with %d counterparties flagged; threshold is %d",
			SmurfThreshold-1, SmurfThreshold)
	}
}

func TestSmurfingMerchantExcluded(t *testing.T) {
	// 10 distinct receivers, 10 transfers each: fan-out shape, but 100 total
	// transactions makes it a presumed-legitimate merchant.
	var txs []domain.Transaction
	for r := 0; r < 10; r++ {
		for i := 0; i < 10; i++ {
			txs = append(txs, tx(
				fmt.Sprintf("m%02d_%02d", r, i),
				"MERCHANT",
				fmt.Sprintf("R%02d", r),
				50,
				time.Duration(r*10+i)*time.Minute,
			))
		}
	}
	g := graph.Build(txs)
	if g.TxCount["MERCHANT"] != MerchantThreshold {
		t.Fatalf("fixture broken: merchant TxCount = %d, want %d",
			g.TxCount["MERCHANT"], MerchantThreshold)
	}

	res := Smurfing(g)
	if res.Smurfing["MERCHANT"] {
		t.Error("merchant-volume node must not be flagged as smurfing")
	}
	if res.Temporal["MERCHANT"] {
		t.Error("merchant-volume node must not be flagged as temporal")
	}
}

func TestSmurfingTemporalWindow(t *testing.T) {
	// 10 transfers 10h apart span 90h: smurfing yes, clustering no.
	spread := graph.Build(fanOut("HUB", SmurfThreshold, 10*time.Hour))
	res := Smurfing(spread)
	if !res.Smurfing["HUB"] {
		t.Error("spread hub not flagged as smurfing")
	}
	if res.Temporal["HUB"] {
		t.Error("90h spread flagged as temporally clustered; window is 72h")
	}

	// 11 transfers 8h apart: the tightest 10 span exactly 72h, inclusive.
	edge := graph.Build(fanOut("HUB", SmurfThreshold+1, 8*time.Hour))
	res = Smurfing(edge)
	if !res.Temporal["HUB"] {
		t.Error("exact 72h window not flagged as temporally clustered")
	}
}
