// Package generator produces synthetic ledgers with planted fraud scenarios
// for benchmarks and end-to-end tests. Output is deterministic for a fixed
// seed.
package generator

import (
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/opensource-finance/shrike/internal/domain"
)

// Planted pattern labels, keyed per actor account in Dataset.Labels.
const (
	LabelCycle      = "cycle"
	LabelSmurfHub   = "smurf_hub"
	LabelShellChain = "shell_chain"
)

// Config drives the synthetic ledger generator.
type Config struct {
	Seed              int64
	SmurfSenders      int
	MerchantCustomers int
	PayrollEmployees  int
	NoiseTransactions int
	NoiseAccounts     int
}

// DefaultConfig returns the baseline scenario mix.
func DefaultConfig() Config {
	return Config{
		Seed:              42,
		SmurfSenders:      14,
		MerchantCustomers: 29,
		PayrollEmployees:  24,
		NoiseTransactions: 100,
		NoiseAccounts:     50,
	}
}

// Dataset contains the generated ledger and the planted ground truth:
// Labels maps each planted fraud actor to its scenario label.
type Dataset struct {
	Transactions []domain.Transaction
	Labels       map[string]string
}

// Generator produces synthetic ledgers aligned with the ingest schema.
type Generator struct {
	cfg  Config
	rand *rand.Rand
	base time.Time
	seq  int
}

// New returns a configured Generator instance.
func New(cfg Config) *Generator {
	if cfg.SmurfSenders <= 0 {
		cfg.SmurfSenders = DefaultConfig().SmurfSenders
	}
	if cfg.MerchantCustomers <= 0 {
		cfg.MerchantCustomers = DefaultConfig().MerchantCustomers
	}
	if cfg.PayrollEmployees <= 0 {
		cfg.PayrollEmployees = DefaultConfig().PayrollEmployees
	}
	if cfg.NoiseTransactions < 0 {
		cfg.NoiseTransactions = DefaultConfig().NoiseTransactions
	}
	if cfg.NoiseAccounts <= 0 {
		cfg.NoiseAccounts = DefaultConfig().NoiseAccounts
	}
	if cfg.Seed == 0 {
		cfg.Seed = time.Now().UnixNano()
	}

	return &Generator{
		cfg:  cfg,
		rand: rand.New(rand.NewSource(cfg.Seed)),
		base: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC),
	}
}

// Generate synthesises the full scenario mix: a transfer cycle, a smurfing
// hub draining to a single destination, a shell chain, a high-volume
// merchant, a payroll batch, and random noise. Only the first three plant
// fraud actors; the rest exist to exercise false-positive handling.
func (g *Generator) Generate() Dataset {
	ds := Dataset{
		Transactions: make([]domain.Transaction, 0),
		Labels:       make(map[string]string),
	}

	g.plantCycle(&ds)
	g.plantSmurfing(&ds)
	g.plantShellChain(&ds)
	g.addMerchant(&ds)
	g.addPayroll(&ds)
	g.addNoise(&ds)

	return ds
}

// plantCycle routes funds FRAUD_A -> B -> C -> D -> A with small losses at
// each hop.
func (g *Generator) plantCycle(ds *Dataset) {
	members := []string{"FRAUD_A", "FRAUD_B", "FRAUD_C", "FRAUD_D"}
	amount := 5000.0
	for i, sender := range members {
		receiver := members[(i+1)%len(members)]
		g.addTx(ds, sender, receiver, amount, float64(i+1))
		amount -= 100
	}
	for _, m := range members {
		ds.Labels[m] = LabelCycle
	}
}

// plantSmurfing fans many just-under-reporting-limit deposits into one hub,
// which then drains the pool in a single large transfer.
func (g *Generator) plantSmurfing(ds *Dataset) {
	for i := 1; i <= g.cfg.SmurfSenders; i++ {
		sender := fmt.Sprintf("SMURF_SRC_%d", i)
		g.addTx(ds, sender, "SMURF_TARGET", 9000, 5+float64(i)*0.1)
	}
	g.addTx(ds, "SMURF_TARGET", "SMURF_DESTINATION", 125000, 10)
	ds.Labels["SMURF_TARGET"] = LabelSmurfHub
}

// plantShellChain moves money through a straight line of pass-through
// intermediaries.
func (g *Generator) plantShellChain(ds *Dataset) {
	chain := []string{"SHELL_START", "SHELL_NODE_1", "SHELL_NODE_2", "SHELL_NODE_3", "SHELL_CAYMAN"}
	amount := 20000.0
	for i := 0; i < len(chain)-1; i++ {
		g.addTx(ds, chain[i], chain[i+1], amount, float64(11+i))
		amount -= 500
	}
	// Endpoints transact once and stay clean; the intermediaries are planted.
	for _, node := range chain[1 : len(chain)-1] {
		ds.Labels[node] = LabelShellChain
	}
}

// addMerchant simulates a legitimate business: high in-volume from many
// customers, a single supplier payment out.
func (g *Generator) addMerchant(ds *Dataset) {
	for i := 1; i <= g.cfg.MerchantCustomers; i++ {
		customer := fmt.Sprintf("CUSTOMER_%d", i)
		g.addTx(ds, customer, "SAFE_MERCHANT", g.uniform(50, 500), float64(15+i))
	}
	g.addTx(ds, "SAFE_MERCHANT", "MERCHANT_SUPPLIER", 4000, 50)
}

// addPayroll simulates salary distribution: consistent amounts to every
// employee in one batch.
func (g *Generator) addPayroll(ds *Dataset) {
	for i := 1; i <= g.cfg.PayrollEmployees; i++ {
		employee := fmt.Sprintf("EMPLOYEE_%d", i)
		g.addTx(ds, "SAFE_PAYROLL_CORP", employee, 3500, 60)
	}
}

// addNoise scatters ordinary transfers between two disjoint account pools,
// so no accidental cycles form.
func (g *Generator) addNoise(ds *Dataset) {
	for i := 0; i < g.cfg.NoiseTransactions; i++ {
		sender := fmt.Sprintf("RANDOM_%d", 1+g.rand.Intn(g.cfg.NoiseAccounts))
		receiver := fmt.Sprintf("RANDOM_%d", g.cfg.NoiseAccounts+1+g.rand.Intn(g.cfg.NoiseAccounts))
		g.addTx(ds, sender, receiver, g.uniform(10, 2000), g.uniform(0, 100))
	}
}

func (g *Generator) addTx(ds *Dataset, sender, receiver string, amount, offsetHours float64) {
	g.seq++
	// Truncate to seconds so the CSV timestamp layout is lossless.
	ts := g.base.Add(time.Duration(offsetHours * float64(time.Hour))).Truncate(time.Second)
	ds.Transactions = append(ds.Transactions, domain.Transaction{
		ID:         fmt.Sprintf("TX_%05d", g.seq),
		SenderID:   sender,
		ReceiverID: receiver,
		Amount:     amount,
		Timestamp:  ts,
	})
}

// uniform draws from [lo, hi) rounded to cents.
func (g *Generator) uniform(lo, hi float64) float64 {
	v := lo + g.rand.Float64()*(hi-lo)
	return math.Round(v*100) / 100
}
