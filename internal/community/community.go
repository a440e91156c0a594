// Package community assigns graph nodes to communities by greedy
// modularity optimization, a single-level Louvain approximation.
package community

import (
	"sort"

	"github.com/opensource-finance/shrike/internal/graph"
)

// MaxPasses caps the optimization sweeps. The walk usually converges in
// two or three passes on transaction graphs.
const MaxPasses = 10

// Detect assigns every node a community id. The directed graph is
// projected onto an undirected weighted one, each node starts in its own
// community, and nodes greedily move to the neighboring community with
// the strictly greatest positive modularity gain until a full pass makes
// no move or MaxPasses elapse. Ids are normalized to sequential integers
// from 0 in order of first encounter over the sorted node list.
func Detect(g *graph.Graph) map[string]int {
	nodes := g.Nodes()

	weights := make(map[string]map[string]float64, len(nodes))
	for _, id := range nodes {
		weights[id] = make(map[string]float64)
	}
	var m float64
	for _, e := range g.Edges() {
		weights[e.Src][e.Dst] += 1
		weights[e.Dst][e.Src] += 1
		m += 1
	}

	comm := make(map[string]int, len(nodes))
	for i, id := range nodes {
		comm[id] = i
	}
	if m == 0 {
		return normalize(nodes, comm)
	}

	degree := make(map[string]float64, len(nodes))
	for _, id := range nodes {
		var k float64
		for _, w := range weights[id] {
			k += w
		}
		degree[id] = k
	}
	comDegree := make(map[int]float64)
	for _, id := range nodes {
		comDegree[comm[id]] += degree[id]
	}

	for pass := 0; pass < MaxPasses; pass++ {
		moved := false
		for _, node := range nodes {
			cur := comm[node]
			k := degree[node]
			comDegree[cur] -= k

			links := make(map[int]float64)
			for nb, w := range weights[node] {
				if nb == node {
					continue
				}
				links[comm[nb]] += w
			}

			// A rival community has to beat the current one strictly,
			// so ties leave the node where it is.
			best := cur
			bestGain := 0.0
			if gain := links[cur] - comDegree[cur]*k/(2*m); gain > 0 {
				bestGain = gain
			}
			candidates := make([]int, 0, len(links))
			for c := range links {
				candidates = append(candidates, c)
			}
			sort.Ints(candidates)
			for _, c := range candidates {
				if c == cur {
					continue
				}
				gain := links[c] - comDegree[c]*k/(2*m)
				if gain > bestGain {
					bestGain = gain
					best = c
				}
			}

			comDegree[best] += k
			if best != cur {
				comm[node] = best
				moved = true
			}
		}
		if !moved {
			break
		}
	}

	return normalize(nodes, comm)
}

func normalize(nodes []string, comm map[string]int) map[string]int {
	remap := make(map[int]int)
	out := make(map[string]int, len(nodes))
	for _, id := range nodes {
		c := comm[id]
		seq, ok := remap[c]
		if !ok {
			seq = len(remap)
			remap[c] = seq
		}
		out[id] = seq
	}
	return out
}
