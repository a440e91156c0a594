package graphstore

import (
	"context"
	"fmt"
	"sort"

	"github.com/opensource-finance/shrike/internal/domain"
)

// mergeAccountsCypher upserts one node per analyzed account, keyed by
// (accountId, tenantId), refreshing the verdict fields on every run.
const mergeAccountsCypher = `
UNWIND $accounts AS acct
MERGE (a:Account {accountId: acct.id, tenantId: $tenantId})
SET a.suspicionScore = acct.score,
    a.ringId = acct.ringId,
    a.patterns = acct.patterns,
    a.txCount = acct.txCount,
    a.lastRunId = $runId,
    a.updatedAt = datetime()
`

// mergeTransfersCypher upserts one TRANSFER edge per deduplicated directed
// pair. Account nodes are merged first, so both MATCHes always hit.
const mergeTransfersCypher = `
UNWIND $edges AS edge
MATCH (s:Account {accountId: edge.from, tenantId: $tenantId})
MATCH (r:Account {accountId: edge.to, tenantId: $tenantId})
MERGE (s)-[t:TRANSFER]->(r)
SET t.amount = edge.amount,
    t.suspicious = edge.suspicious,
    t.lastRunId = $runId,
    t.updatedAt = datetime()
`

// Exporter mirrors completed runs into the graph store.
type Exporter struct {
	client Client
}

// NewExporter creates an exporter over the given client.
func NewExporter(client Client) *Exporter {
	return &Exporter{client: client}
}

// ExportRun writes the run's account verdicts and transfer edges in two
// batched statements. Runs without a result body are skipped.
func (e *Exporter) ExportRun(ctx context.Context, run *domain.AnalysisRun) error {
	if run == nil || run.Result == nil {
		return nil
	}

	if accounts := accountRows(run.Result); len(accounts) > 0 {
		params := map[string]any{
			"tenantId": run.TenantID,
			"runId":    run.ID,
			"accounts": accounts,
		}
		if _, err := e.client.ExecuteWrite(ctx, mergeAccountsCypher, params); err != nil {
			return fmt.Errorf("merge accounts for run %s: %w", run.ID, err)
		}
	}

	if edges := edgeRows(run.Result); len(edges) > 0 {
		params := map[string]any{
			"tenantId": run.TenantID,
			"runId":    run.ID,
			"edges":    edges,
		}
		if _, err := e.client.ExecuteWrite(ctx, mergeTransfersCypher, params); err != nil {
			return fmt.Errorf("merge transfers for run %s: %w", run.ID, err)
		}
	}

	return nil
}

// accountRows flattens AllAccounts into UNWIND-able parameter maps, sorted
// by account ID so exports are deterministic.
func accountRows(result *domain.AnalysisResult) []map[string]any {
	ids := make([]string, 0, len(result.AllAccounts))
	for id := range result.AllAccounts {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	rows := make([]map[string]any, 0, len(ids))
	for _, id := range ids {
		acct := result.AllAccounts[id]
		var ringID any
		if acct.RingID != nil {
			ringID = *acct.RingID
		}
		rows = append(rows, map[string]any{
			"id":       acct.AccountID,
			"score":    acct.SuspicionScore,
			"ringId":   ringID,
			"patterns": acct.DetectedPatterns,
			"txCount":  acct.TotalTransactions,
		})
	}
	return rows
}

func edgeRows(result *domain.AnalysisResult) []map[string]any {
	rows := make([]map[string]any, 0, len(result.Edges))
	for _, edge := range result.Edges {
		rows = append(rows, map[string]any{
			"from":       edge.From,
			"to":         edge.To,
			"amount":     edge.Amount,
			"suspicious": edge.Suspicious,
		})
	}
	return rows
}
