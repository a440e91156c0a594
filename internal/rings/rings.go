package rings

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/opensource-finance/shrike/internal/domain"
)

// Suspicious returns the accounts with a positive suspicion score,
// ordered by score descending, account id ascending within ties.
func Suspicious(accounts map[string]*domain.AccountAnalysis) []*domain.AccountAnalysis {
	out := make([]*domain.AccountAnalysis, 0)
	for _, a := range accounts {
		if a.SuspicionScore > 0 {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SuspicionScore != out[j].SuspicionScore {
			return out[i].SuspicionScore > out[j].SuspicionScore
		}
		return out[i].AccountID < out[j].AccountID
	})
	return out
}

// Group clusters suspicious accounts that share a cycle or a shell chain
// into fraud rings. Ring ids are assigned in the order groups are first
// encountered while walking Suspicious; each member account is stamped
// with its ring id here and nowhere else. The returned list is sorted by
// risk score descending, ties keeping assignment order.
func Group(accounts map[string]*domain.AccountAnalysis, cycles, chains [][]string) []domain.FraudRing {
	cs := NewClusterSet()
	for _, cycle := range cycles {
		for _, id := range cycle[1:] {
			cs.Union(cycle[0], id)
		}
	}
	for _, chain := range chains {
		for _, id := range chain[1:] {
			cs.Union(chain[0], id)
		}
	}

	groups := make(map[string][]*domain.AccountAnalysis)
	order := make([]string, 0)
	for _, a := range Suspicious(accounts) {
		root := cs.Find(a.AccountID)
		if _, ok := groups[root]; !ok {
			order = append(order, root)
		}
		groups[root] = append(groups[root], a)
	}

	out := make([]domain.FraudRing, 0, len(order))
	for i, root := range order {
		members := groups[root]
		ringID := fmt.Sprintf("RING_%03d", i+1)
		ring := domain.FraudRing{RingID: ringID}
		for _, m := range members {
			id := ringID
			m.RingID = &id
			ring.MemberAccounts = append(ring.MemberAccounts, m.AccountID)
		}
		if len(members) == 1 {
			m := members[0]
			if len(m.DetectedPatterns) > 0 {
				ring.PatternType = m.DetectedPatterns[0]
			} else {
				ring.PatternType = "anomaly"
			}
			ring.RiskScore = float64(m.SuspicionScore)
		} else {
			seen := make(map[string]bool)
			patterns := make([]string, 0)
			total := 0
			for _, m := range members {
				total += m.SuspicionScore
				for _, p := range m.DetectedPatterns {
					if !seen[p] {
						seen[p] = true
						patterns = append(patterns, p)
					}
				}
			}
			ring.PatternType = strings.Join(patterns, ",")
			mean := float64(total) / float64(len(members))
			ring.RiskScore = math.Round(mean*10) / 10
		}
		out = append(out, ring)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].RiskScore > out[j].RiskScore
	})
	return out
}
