package detect

import (
	"github.com/opensource-finance/shrike/internal/graph"
)

const (
	// ShellMinActivity and ShellMaxActivity bound the total transaction
	// count of a shell-chain candidate account.
	ShellMinActivity = 2
	ShellMaxActivity = 3

	// ShellMinChain is the minimum node count of a retained chain.
	ShellMinChain = 3
)

// ShellChains traces pass-through layering: chains of three or more
// low-activity accounts linked by directed edges.
//
// The walk is greedy first-match: from each unvisited candidate it repeatedly
// takes the first eligible successor in sorted order, stopping when none
// exists or when the next hop would revisit the current chain. It does not
// search for the longest possible chain; a different successor could yield a
// different, possibly longer, chain. Members of retained chains are marked
// shelled and excluded both as future starts and as successors.
func ShellChains(g *graph.Graph) [][]string {
	candidate := make(map[string]bool)
	for _, node := range g.Nodes() {
		if n := g.TxCount[node]; n >= ShellMinActivity && n <= ShellMaxActivity {
			candidate[node] = true
		}
	}

	var chains [][]string
	shelled := make(map[string]bool)

	for _, start := range g.Nodes() {
		if !candidate[start] || shelled[start] {
			continue
		}

		chain := []string{start}
		onChain := map[string]bool{start: true}
		node := start
		for {
			next, ok := nextHop(g, node, candidate, shelled)
			if !ok || onChain[next] {
				break
			}
			chain = append(chain, next)
			onChain[next] = true
			node = next
		}

		if len(chain) >= ShellMinChain {
			chains = append(chains, chain)
			for _, member := range chain {
				shelled[member] = true
			}
		}
	}

	return chains
}

// nextHop returns the first successor in sorted order that is a shell
// candidate and not part of an already retained chain.
func nextHop(g *graph.Graph, node string, candidate, shelled map[string]bool) (string, bool) {
	for _, next := range g.Successors(node) {
		if candidate[next] && !shelled[next] {
			return next, true
		}
	}
	return "", false
}
