// Benchmark tool for testing Shrike against a labeled synthetic ledger.
//
// Usage:
//   go run cmd/benchmark/main.go -url http://localhost:8080
//   go run cmd/benchmark/main.go -csv /path/to/ledger.csv
//
// This tool:
//   1. Generates a synthetic ledger with planted fraud patterns (or loads a CSV)
//   2. Uploads the whole ledger to Shrike for analysis
//   3. Compares flagged accounts against the planted labels
//   4. Calculates precision, recall, F1-score, and confusion matrix
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"sort"
	"time"

	"github.com/opensource-finance/shrike/internal/domain"
	"github.com/opensource-finance/shrike/internal/generator"
	"github.com/opensource-finance/shrike/internal/ingest"
)

func main() {
	// Parse flags
	csvPath := flag.String("csv", "", "Path to a ledger CSV (skips generation; no planted labels)")
	baseURL := flag.String("url", "http://localhost:8080", "Shrike base URL")
	tenantID := flag.String("tenant", "benchmark-test", "Tenant ID for requests")
	seed := flag.Int64("seed", 42, "Generator seed")
	noise := flag.Int("noise", 100, "Number of random noise transactions to generate")
	outPath := flag.String("out", "", "Write the generated ledger CSV to this path")
	verbose := flag.Bool("verbose", false, "Print each planted account's verdict")
	flag.Parse()

	fmt.Println("╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║        SHRIKE BENCHMARK - Planted Fraud Ring Detection         ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")
	fmt.Printf("\nShrike URL:  %s\n", *baseURL)
	fmt.Printf("Tenant ID:   %s\n", *tenantID)
	if *csvPath != "" {
		fmt.Printf("CSV File:    %s\n", *csvPath)
	} else {
		fmt.Printf("Seed:        %d\n", *seed)
		fmt.Printf("Noise Txs:   %d\n", *noise)
	}
	fmt.Println()

	// Check Shrike is running
	if err := checkHealth(*baseURL); err != nil {
		fmt.Printf("ERROR: Shrike not reachable at %s: %v\n", *baseURL, err)
		fmt.Println("\nMake sure Shrike is running:")
		fmt.Println("  cd shrike && go run cmd/shrike/main.go")
		os.Exit(1)
	}
	fmt.Println("✓ Shrike is healthy")

	// Build the ledger
	var (
		transactions []domain.Transaction
		labels       map[string]string
	)
	if *csvPath != "" {
		fmt.Printf("\nReading ledger from %s...\n", *csvPath)
		var err error
		transactions, err = readLedgerCSV(*csvPath)
		if err != nil {
			fmt.Printf("ERROR: Failed to read CSV: %v\n", err)
			os.Exit(1)
		}
	} else {
		cfg := generator.DefaultConfig()
		cfg.Seed = *seed
		cfg.NoiseTransactions = *noise
		dataset := generator.New(cfg).Generate()
		transactions = dataset.Transactions
		labels = dataset.Labels

		if *outPath != "" {
			if err := generator.WriteCSVFile(*outPath, transactions); err != nil {
				fmt.Printf("ERROR: Failed to write ledger CSV: %v\n", err)
				os.Exit(1)
			}
			fmt.Printf("✓ Ledger written to %s\n", *outPath)
		}
	}
	fmt.Printf("✓ Loaded %d transactions (%d planted fraud accounts)\n", len(transactions), len(labels))

	// Run benchmark
	fmt.Println("\nUploading ledger for analysis...")
	startTime := time.Now()
	run, err := analyzeLedger(*baseURL, *tenantID, transactions)
	duration := time.Since(startTime)
	if err != nil {
		fmt.Printf("ERROR: Analysis failed: %v\n", err)
		os.Exit(1)
	}

	// Print results
	printResults(run, labels, duration, *verbose)
}

func checkHealth(baseURL string) error {
	resp, err := http.Get(baseURL + "/health")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}
	return nil
}

func readLedgerCSV(path string) ([]domain.Transaction, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	transactions, stats, err := ingest.ParseCSV(file)
	if err != nil {
		return nil, err
	}
	if stats.DuplicateIDs > 0 {
		fmt.Printf("  - %d duplicate transaction ids tolerated\n", stats.DuplicateIDs)
	}
	return transactions, nil
}

// analyzeLedger uploads the ledger as multipart CSV, the same path a
// dashboard upload takes.
func analyzeLedger(baseURL, tenantID string, transactions []domain.Transaction) (*domain.AnalysisRun, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", "benchmark.csv")
	if err != nil {
		return nil, err
	}
	if err := generator.WriteCSV(part, transactions); err != nil {
		return nil, err
	}
	if err := writer.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequest(http.MethodPost, baseURL+"/v1/ledger/analyze", &body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("X-Tenant-ID", tenantID)

	client := &http.Client{Timeout: 120 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}

	var run domain.AnalysisRun
	if err := json.NewDecoder(resp.Body).Decode(&run); err != nil {
		return nil, err
	}
	if run.Result == nil {
		return nil, fmt.Errorf("response carries no analysis result")
	}
	return &run, nil
}

// Metrics tracks benchmark results over planted labels.
type Metrics struct {
	TruePositives  int // Planted account flagged
	FalsePositives int // Clean account flagged
	TrueNegatives  int // Clean account not flagged
	FalseNegatives int // Planted account missed

	// Per planted pattern: how many of its accounts were flagged
	PatternTotal   map[string]int
	PatternCaught  map[string]int
	MissedAccounts []string
}

func scoreRun(run *domain.AnalysisRun, labels map[string]string) *Metrics {
	m := &Metrics{
		PatternTotal:  map[string]int{},
		PatternCaught: map[string]int{},
	}

	for accountID, account := range run.Result.AllAccounts {
		predicted := account.SuspicionScore >= domain.FlagThreshold
		pattern, planted := labels[accountID]

		switch {
		case predicted && planted:
			m.TruePositives++
			m.PatternCaught[pattern]++
		case predicted && !planted:
			m.FalsePositives++
		case !predicted && planted:
			m.FalseNegatives++
			m.MissedAccounts = append(m.MissedAccounts, accountID)
		default:
			m.TrueNegatives++
		}
		if planted {
			m.PatternTotal[pattern]++
		}
	}

	// Planted accounts that never made it into the result count as misses
	for accountID, pattern := range labels {
		if _, ok := run.Result.AllAccounts[accountID]; !ok {
			m.FalseNegatives++
			m.PatternTotal[pattern]++
			m.MissedAccounts = append(m.MissedAccounts, accountID)
		}
	}
	sort.Strings(m.MissedAccounts)

	return m
}

func printResults(run *domain.AnalysisRun, labels map[string]string, duration time.Duration, verbose bool) {
	fmt.Println("\n╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║                      BENCHMARK RESULTS                         ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")

	summary := run.Result.Summary
	fmt.Printf("\n📊 ANALYSIS RUN\n")
	fmt.Printf("   Run ID:            %s\n", run.ID)
	fmt.Printf("   Report Hash:       %s\n", run.ReportHash)
	fmt.Printf("   Accounts Analyzed: %d\n", summary.TotalAccountsAnalyzed)
	fmt.Printf("   Accounts Flagged:  %d\n", summary.SuspiciousAccountsFlagged)
	fmt.Printf("   Fraud Rings:       %d\n", summary.FraudRingsDetected)
	fmt.Printf("   Triage Alerts:     %d\n", len(run.Alerts))

	if verbose {
		fmt.Printf("\n🔎 FLAGGED ACCOUNTS\n")
		for _, account := range run.Result.SuspiciousAccounts {
			if account.SuspicionScore < domain.FlagThreshold {
				continue
			}
			ring := "-"
			if account.RingID != nil {
				ring = *account.RingID
			}
			fmt.Printf("   %-20s score=%-3d ring=%-10s patterns=%v\n",
				account.AccountID, account.SuspicionScore, ring, account.DetectedPatterns)
		}
	}

	if len(labels) == 0 {
		fmt.Println("\n💡 No planted labels for this ledger - skipping detection metrics.")
		printPerformance(run, duration)
		return
	}

	m := scoreRun(run, labels)

	fmt.Printf("\n📈 CONFUSION MATRIX\n")
	fmt.Println("                          Predicted")
	fmt.Println("                    Flagged      Clean")
	fmt.Println("              ┌──────────┬──────────┐")
	fmt.Printf("   Planted    │ %8d │ %8d │  (TP, FN)\n", m.TruePositives, m.FalseNegatives)
	fmt.Println("              ├──────────┼──────────┤")
	fmt.Printf("   Clean      │ %8d │ %8d │  (FP, TN)\n", m.FalsePositives, m.TrueNegatives)
	fmt.Println("              └──────────┴──────────┘")

	// Calculate metrics
	precision := float64(0)
	if m.TruePositives+m.FalsePositives > 0 {
		precision = float64(m.TruePositives) / float64(m.TruePositives+m.FalsePositives)
	}

	recall := float64(0)
	if m.TruePositives+m.FalseNegatives > 0 {
		recall = float64(m.TruePositives) / float64(m.TruePositives+m.FalseNegatives)
	}

	f1 := float64(0)
	if precision+recall > 0 {
		f1 = 2 * (precision * recall) / (precision + recall)
	}

	accuracy := float64(0)
	total := m.TruePositives + m.TrueNegatives + m.FalsePositives + m.FalseNegatives
	if total > 0 {
		accuracy = float64(m.TruePositives+m.TrueNegatives) / float64(total)
	}

	fmt.Printf("\n🎯 DETECTION METRICS\n")
	fmt.Printf("   Precision:  %.4f  (of flagged accounts, how many were planted)\n", precision)
	fmt.Printf("   Recall:     %.4f  (of planted accounts, how many were caught)\n", recall)
	fmt.Printf("   F1-Score:   %.4f  (harmonic mean of precision & recall)\n", f1)
	fmt.Printf("   Accuracy:   %.4f  (overall correct verdicts)\n", accuracy)

	fmt.Printf("\n🔍 PER-PATTERN RECALL\n")
	patterns := make([]string, 0, len(m.PatternTotal))
	for pattern := range m.PatternTotal {
		patterns = append(patterns, pattern)
	}
	sort.Strings(patterns)
	for _, pattern := range patterns {
		caught := m.PatternCaught[pattern]
		planted := m.PatternTotal[pattern]
		fmt.Printf("   %-14s %d / %d (%.2f%%)\n", pattern, caught, planted, 100*float64(caught)/float64(planted))
	}
	if len(m.MissedAccounts) > 0 {
		fmt.Printf("   Missed: %v ⚠️\n", m.MissedAccounts)
	}

	printPerformance(run, duration)

	// Interpretation
	fmt.Printf("\n💡 INTERPRETATION\n")
	if recall >= 0.9 {
		fmt.Println("   ✅ Excellent recall - catching most planted fraud")
	} else if recall >= 0.7 {
		fmt.Println("   ⚠️  Good recall - but missing some planted accounts")
	} else if recall >= 0.5 {
		fmt.Println("   ⚠️  Moderate recall - significant fraud being missed")
	} else {
		fmt.Println("   ❌ Poor recall - most planted fraud is being missed!")
	}

	if precision >= 0.5 {
		fmt.Println("   ✅ Good precision - flags are meaningful")
	} else if precision >= 0.2 {
		fmt.Println("   ⚠️  Low precision - many false alarms")
	} else {
		fmt.Println("   ❌ Very low precision - mostly false alarms")
	}

	fmt.Println()
}

func printPerformance(run *domain.AnalysisRun, duration time.Duration) {
	fmt.Printf("\n⏱️  PERFORMANCE\n")
	fmt.Printf("   Round Trip:       %v\n", duration.Round(time.Millisecond))
	fmt.Printf("   Engine Duration:  %d ms\n", run.DurationMs)
	if run.TxCount > 0 && duration > 0 {
		tps := float64(run.TxCount) / duration.Seconds()
		fmt.Printf("   Throughput:       %.2f tx/sec\n", tps)
	}
}
