// Package detect implements the four independent pattern detectors. Each
// detector reads the graph builder's output without mutating it, so all four
// can run concurrently over the same graph.
package detect

import (
	"strings"

	"github.com/opensource-finance/shrike/internal/graph"
)

// MaxCycleLength is the default bound on the cycle detector's DFS path
// depth. Paths hold at most this many nodes, so enumerated cycles span
// 3 to MaxCycleLength nodes.
const MaxCycleLength = 5

// maxRawCycles stops the sweep on pathologically dense graphs.
const maxRawCycles = 5000

// Cycles enumerates the distinct elementary directed cycles of the graph,
// each with between 3 and maxLen nodes. Exponential in the worst case;
// maxLen bounds the depth and transaction graphs are sparse in practice.
//
// Every cycle is returned rotated to begin at its lexicographically smallest
// node, in first-discovery order. Deduplication is rotation-only: a directed
// cycle and its reverse traversal are different cycles and both are kept.
func Cycles(g *graph.Graph, maxLen int) [][]string {
	if maxLen <= 0 {
		maxLen = MaxCycleLength
	}

	var cycles [][]string
	seen := make(map[string]bool)
	raw := 0

	var path []string
	onPath := make(map[string]bool)

	var walk func(start, node string)
	walk = func(start, node string) {
		if raw > maxRawCycles {
			return
		}
		path = append(path, node)
		onPath[node] = true

		for _, next := range g.Successors(node) {
			if next == start && len(path) >= 3 {
				raw++
				cycle := rotateToSmallest(path)
				key := strings.Join(cycle, ",")
				if !seen[key] {
					seen[key] = true
					cycles = append(cycles, cycle)
				}
				continue
			}
			if !onPath[next] && len(path) < maxLen {
				walk(start, next)
			}
		}

		path = path[:len(path)-1]
		onPath[node] = false
	}

	for _, node := range g.Nodes() {
		if raw > maxRawCycles {
			break
		}
		walk(node, node)
	}

	return cycles
}

// rotateToSmallest copies the cycle rotated so it begins at its
// lexicographically smallest node. The full DFS sweep finds each cycle once
// per member; the rotated form collapses those discoveries into one key.
func rotateToSmallest(cycle []string) []string {
	smallest := 0
	for i, id := range cycle {
		if id < cycle[smallest] {
			smallest = i
		}
	}

	rotated := make([]string, 0, len(cycle))
	rotated = append(rotated, cycle[smallest:]...)
	rotated = append(rotated, cycle[:smallest]...)
	return rotated
}
