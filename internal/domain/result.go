package domain

import (
	"time"
)

// FlagThreshold is the suspicion score at or above which an account counts
// as flagged in the analysis summary.
const FlagThreshold = 40

// AccountAnalysis is the per-account verdict produced by the scorer. The
// ring grouper later sets RingID exactly once; no other component mutates
// these records after scoring.
type AccountAnalysis struct {
	AccountID         string   `json:"account_id"`
	SuspicionScore    int      `json:"suspicion_score"`
	DetectedPatterns  []string `json:"detected_patterns"`
	RingID            *string  `json:"ring_id"`
	TotalTransactions int      `json:"total_transactions"`
}

// FraudRing groups suspicious accounts linked by shared cycle or shell-chain
// membership. Immutable once the ring list is sorted.
type FraudRing struct {
	RingID         string   `json:"ring_id"`
	MemberAccounts []string `json:"member_accounts"`
	PatternType    string   `json:"pattern_type"`
	RiskScore      float64  `json:"risk_score"`
}

// EdgeSummary is one deduplicated directed edge in the report. Amount is the
// sum of all transaction amounts on the ordered pair; Suspicious is true when
// either endpoint scored above zero.
type EdgeSummary struct {
	From       string  `json:"from_account"`
	To         string  `json:"to_account"`
	Amount     float64 `json:"amount"`
	Suspicious bool    `json:"suspicious"`
}

// Summary aggregates the headline numbers of a run.
type Summary struct {
	TotalAccountsAnalyzed     int     `json:"total_accounts_analyzed"`
	SuspiciousAccountsFlagged int     `json:"suspicious_accounts_flagged"`
	FraudRingsDetected        int     `json:"fraud_rings_detected"`
	ProcessingTimeSeconds     float64 `json:"processing_time_seconds"`
}

// AnalysisResult is the engine's sole output.
//
// Ordering is pinned so that two runs over the same ledger are byte-identical
// (modulo ProcessingTimeSeconds): suspicious accounts sort by score descending
// then account id ascending, rings by risk score descending (stable), edges
// by (from, to), and adjacency lists are lexicographically sorted.
type AnalysisResult struct {
	SuspiciousAccounts []*AccountAnalysis          `json:"suspicious_accounts"`
	FraudRings         []FraudRing                 `json:"fraud_rings"`
	AllAccounts        map[string]*AccountAnalysis `json:"all_accounts"`
	Edges              []EdgeSummary               `json:"edges"`
	Communities        map[string]int              `json:"communities"`
	NodeDegrees        map[string]int              `json:"node_degrees"`
	Adjacency          map[string][]string         `json:"adj"`
	ReverseAdjacency   map[string][]string         `json:"reverse_adj"`
	Summary            Summary                     `json:"summary"`
}

// NewAnalysisResult returns an empty but fully initialized result, so an
// empty ledger serializes to empty arrays and objects rather than nulls.
func NewAnalysisResult() *AnalysisResult {
	return &AnalysisResult{
		SuspiciousAccounts: []*AccountAnalysis{},
		FraudRings:         []FraudRing{},
		AllAccounts:        map[string]*AccountAnalysis{},
		Edges:              []EdgeSummary{},
		Communities:        map[string]int{},
		NodeDegrees:        map[string]int{},
		Adjacency:          map[string][]string{},
		ReverseAdjacency:   map[string][]string{},
	}
}

// AnalysisRun wraps an AnalysisResult with service-level metadata: identity,
// timing, the report hash, and any triage alerts raised against the result.
type AnalysisRun struct {
	ID         string          `json:"run_id"`
	TenantID   string          `json:"tenant_id"`
	CreatedAt  time.Time       `json:"created_at"`
	TxCount    int             `json:"tx_count"`
	DurationMs int64           `json:"duration_ms"`
	ReportHash string          `json:"report_hash"`
	Result     *AnalysisResult `json:"result,omitempty"`
	Alerts     []Alert         `json:"alerts"`
}
