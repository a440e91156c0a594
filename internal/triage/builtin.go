package triage

import "github.com/opensource-finance/shrike/internal/domain"

// Builtin returns the default triage policies seeded for a tenant with no
// stored policies. Operators override them through the policies API.
func Builtin() []*domain.Policy {
	return []*domain.Policy{
		{
			ID:          "builtin-critical-score",
			Name:        "Critical suspicion score",
			Description: "Account scored at or above 80 by the detection engine",
			Expression:  "score >= 80",
			Severity:    domain.SeverityCritical,
			Enabled:     true,
		},
		{
			ID:          "builtin-ring-member",
			Name:        "Fraud ring member",
			Description: "Account grouped into a multi-member fraud ring",
			Expression:  "ring_size >= 2",
			Severity:    domain.SeverityHigh,
			Enabled:     true,
		},
		{
			ID:          "builtin-structuring",
			Name:        "Structuring",
			Description: "Fan pattern combined with tight temporal clustering",
			Expression:  "'smurfing' in patterns && 'temporal_clustering' in patterns",
			Severity:    domain.SeverityHigh,
			Enabled:     true,
		},
	}
}
