package domain

import (
	"time"
)

// Policy defines a triage policy: a CEL expression evaluated against each
// scored account after an analysis run. Policies raise alerts; they never
// change suspicion scores.
type Policy struct {
	ID          string `json:"id"`
	TenantID    string `json:"tenantId"`
	Name        string `json:"name"`
	Description string `json:"description"`

	// CEL expression over: account (string), score (int), patterns
	// (list of string), ring_size (int), tx_count (int).
	Expression string `json:"expression"`

	// Severity attached to alerts raised by this policy.
	Severity string `json:"severity"`

	// Whether the policy is active.
	Enabled bool `json:"enabled"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Alert severities, most severe first.
const (
	SeverityCritical = "critical"
	SeverityHigh     = "high"
	SeverityMedium   = "medium"
	SeverityLow      = "low"
)

// Alert is raised when a policy matches a scored account.
type Alert struct {
	PolicyID   string  `json:"policy_id"`
	PolicyName string  `json:"policy_name"`
	Severity   string  `json:"severity"`
	AccountID  string  `json:"account_id"`
	Score      int     `json:"score"`
	RingID     *string `json:"ring_id"`
}
