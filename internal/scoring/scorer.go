// Package scoring merges detector findings into per-account suspicion
// scores with their pattern labels.
package scoring

import (
	"fmt"

	"github.com/opensource-finance/shrike/internal/detect"
	"github.com/opensource-finance/shrike/internal/domain"
	"github.com/opensource-finance/shrike/internal/graph"
)

// Point contributions per finding. Labels are appended in this order,
// and the final score is clamped to 100.
const (
	PointsCycle    = 40
	PointsSmurfing = 25
	PointsShell    = 20
	PointsTemporal = 10
	PointsOutlier  = 5
)

const (
	LabelSmurfing = "smurfing"
	LabelShell    = "shell_chain"
	LabelTemporal = "temporal_clustering"
	LabelOutlier  = "high_value_outlier"
)

// CycleLabel returns the pattern label for membership in a cycle of n nodes.
func CycleLabel(n int) string {
	return fmt.Sprintf("cycle_length_%d", n)
}

// Score produces one AccountAnalysis per graph node. Cycle membership
// contributes points once but a label per cycle, so an account threaded
// through several loops carries several cycle_length labels.
func Score(g *graph.Graph, cycles [][]string, smurf detect.SmurfingResult, chains [][]string, outliers map[string]bool) map[string]*domain.AccountAnalysis {
	cycleLabels := make(map[string][]string)
	for _, cycle := range cycles {
		label := CycleLabel(len(cycle))
		for _, id := range cycle {
			cycleLabels[id] = append(cycleLabels[id], label)
		}
	}

	shelled := make(map[string]bool)
	for _, chain := range chains {
		for _, id := range chain {
			shelled[id] = true
		}
	}

	accounts := make(map[string]*domain.AccountAnalysis, g.NodeCount())
	for _, id := range g.Nodes() {
		score := 0
		patterns := []string{}
		if labels := cycleLabels[id]; len(labels) > 0 {
			score += PointsCycle
			patterns = append(patterns, labels...)
		}
		if smurf.Smurfing[id] {
			score += PointsSmurfing
			patterns = append(patterns, LabelSmurfing)
		}
		if shelled[id] {
			score += PointsShell
			patterns = append(patterns, LabelShell)
		}
		if smurf.Temporal[id] {
			score += PointsTemporal
			patterns = append(patterns, LabelTemporal)
		}
		if outliers[id] {
			score += PointsOutlier
			patterns = append(patterns, LabelOutlier)
		}
		if score > 100 {
			score = 100
		}
		accounts[id] = &domain.AccountAnalysis{
			AccountID:         id,
			SuspicionScore:    score,
			DetectedPatterns:  patterns,
			TotalTransactions: g.TxCount[id],
		}
	}
	return accounts
}
