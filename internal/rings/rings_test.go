package rings

import (
	"reflect"
	"testing"

	"github.com/opensource-finance/shrike/internal/domain"
)

func account(id string, score int, patterns ...string) *domain.AccountAnalysis {
	if patterns == nil {
		patterns = []string{}
	}
	return &domain.AccountAnalysis{
		AccountID:        id,
		SuspicionScore:   score,
		DetectedPatterns: patterns,
	}
}

func TestClusterSet(t *testing.T) {
	cs := NewClusterSet()
	if cs.Find("A") != "A" {
		t.Error("fresh element is not its own root")
	}

	cs.Union("A", "B")
	cs.Union("C", "D")
	if cs.Find("A") != cs.Find("B") {
		t.Error("A and B not merged")
	}
	if cs.Find("A") == cs.Find("C") {
		t.Error("disjoint sets share a root")
	}

	cs.Union("B", "C")
	for _, id := range []string{"A", "B", "C", "D"} {
		if cs.Find(id) != cs.Find("A") {
			t.Errorf("%s not in merged set", id)
		}
	}
}

func TestSuspiciousOrdering(t *testing.T) {
	accounts := map[string]*domain.AccountAnalysis{
		"C": account("C", 40, "shell_chain"),
		"A": account("A", 40, "smurfing"),
		"B": account("B", 60, "cycle_length_3"),
		"Z": account("Z", 0),
	}

	got := Suspicious(accounts)
	ids := make([]string, len(got))
	for i, a := range got {
		ids[i] = a.AccountID
	}
	want := []string{"B", "A", "C"}
	if !reflect.DeepEqual(ids, want) {
		t.Errorf("order = %v, want %v", ids, want)
	}
}

func TestGroupRingAggregation(t *testing.T) {
	accounts := map[string]*domain.AccountAnalysis{
		"A": account("A", 40, "cycle_length_3"),
		"B": account("B", 60, "cycle_length_3", "smurfing"),
	}

	got := Group(accounts, [][]string{{"A", "B"}}, nil)
	if len(got) != 1 {
		t.Fatalf("got %d rings, want 1", len(got))
	}
	ring := got[0]
	if ring.RingID != "RING_001" {
		t.Errorf("ring id = %q, want RING_001", ring.RingID)
	}
	if ring.RiskScore != 50.0 {
		t.Errorf("risk = %v, want 50.0", ring.RiskScore)
	}
	if ring.PatternType != "cycle_length_3,smurfing" {
		t.Errorf("pattern type = %q", ring.PatternType)
	}
	if !reflect.DeepEqual(ring.MemberAccounts, []string{"B", "A"}) {
		t.Errorf("members = %v", ring.MemberAccounts)
	}
	for id, a := range accounts {
		if a.RingID == nil || *a.RingID != "RING_001" {
			t.Errorf("%s not stamped with ring id", id)
		}
	}
}

func TestGroupSoloRings(t *testing.T) {
	accounts := map[string]*domain.AccountAnalysis{
		"A": account("A", 25, "smurfing", "temporal_clustering"),
		"B": account("B", 5),
	}

	got := Group(accounts, nil, nil)
	if len(got) != 2 {
		t.Fatalf("got %d rings, want 2", len(got))
	}
	if got[0].PatternType != "smurfing" || got[0].RiskScore != 25.0 {
		t.Errorf("solo ring = %+v", got[0])
	}
	if got[1].PatternType != "anomaly" || got[1].RiskScore != 5.0 {
		t.Errorf("patternless solo ring = %+v", got[1])
	}
}

func TestGroupRiskRounding(t *testing.T) {
	accounts := map[string]*domain.AccountAnalysis{
		"A": account("A", 40, "cycle_length_3"),
		"B": account("B", 40, "cycle_length_3"),
		"C": account("C", 45, "cycle_length_3", "high_value_outlier"),
	}

	got := Group(accounts, [][]string{{"A", "B", "C"}}, nil)
	if len(got) != 1 {
		t.Fatalf("got %d rings, want 1", len(got))
	}
	// (40+40+45)/3 = 41.666... rounds to 41.7.
	if got[0].RiskScore != 41.7 {
		t.Errorf("risk = %v, want 41.7", got[0].RiskScore)
	}
}

func TestGroupSortedByRiskAfterAssignment(t *testing.T) {
	// Group one holds the single highest-scored account so it is
	// encountered first and takes RING_001, but group two has the higher
	// mean. The sort reorders the list without renumbering.
	accounts := map[string]*domain.AccountAnalysis{
		"A": account("A", 90, "cycle_length_3"),
		"B": account("B", 10, "cycle_length_3"),
		"C": account("C", 80, "shell_chain"),
		"D": account("D", 80, "shell_chain"),
	}

	got := Group(accounts, [][]string{{"A", "B"}}, [][]string{{"C", "D"}})
	if len(got) != 2 {
		t.Fatalf("got %d rings, want 2", len(got))
	}
	if got[0].RingID != "RING_002" || got[0].RiskScore != 80.0 {
		t.Errorf("rings[0] = %+v, want RING_002 at 80.0", got[0])
	}
	if got[1].RingID != "RING_001" || got[1].RiskScore != 50.0 {
		t.Errorf("rings[1] = %+v, want RING_001 at 50.0", got[1])
	}
}

func TestGroupChainsLinkAccounts(t *testing.T) {
	accounts := map[string]*domain.AccountAnalysis{
		"A": account("A", 20, "shell_chain"),
		"B": account("B", 20, "shell_chain"),
		"C": account("C", 20, "shell_chain"),
	}

	got := Group(accounts, nil, [][]string{{"A", "B", "C"}})
	if len(got) != 1 {
		t.Fatalf("got %d rings, want 1", len(got))
	}
	if len(got[0].MemberAccounts) != 3 {
		t.Errorf("members = %v, want all three", got[0].MemberAccounts)
	}
	if got[0].PatternType != "shell_chain" {
		t.Errorf("pattern type = %q, want shell_chain", got[0].PatternType)
	}
}
