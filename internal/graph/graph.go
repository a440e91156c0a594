// Package graph builds the directed transaction graph that every detector
// reads. The graph is derived state: rebuilt fresh for each analysis run,
// never mutated afterwards.
package graph

import (
	"sort"
	"time"

	"github.com/opensource-finance/shrike/internal/domain"
)

// Key identifies a directed edge by its ordered endpoint pair.
type Key struct {
	Src string
	Dst string
}

// Graph holds the adjacency structure plus the per-node and per-edge
// statistics the detectors need. Duplicate transfers between the same pair
// do not multiply adjacency entries, but their timestamps and amounts are
// appended per occurrence.
type Graph struct {
	// Adjacency maps each node to its set of distinct successors.
	Adjacency map[string]map[string]bool

	// Reverse maps each node to its set of distinct predecessors.
	Reverse map[string]map[string]bool

	// TxCount counts transactions per node: each transaction increments
	// both its sender and its receiver, regardless of edge dedup.
	TxCount map[string]int

	// EdgeTimes lists the timestamp of every transaction on an ordered
	// pair, in input order.
	EdgeTimes map[Key][]time.Time

	// EdgeAmounts lists the amount of every transaction on an ordered pair.
	EdgeAmounts map[Key][]float64
}

// Build constructs the graph from a ledger. Any string is a valid account
// id; no referential checks are performed. Every node appearing in any
// transaction gets entries in both Adjacency and Reverse, possibly empty.
func Build(txs []domain.Transaction) *Graph {
	g := &Graph{
		Adjacency:   make(map[string]map[string]bool),
		Reverse:     make(map[string]map[string]bool),
		TxCount:     make(map[string]int),
		EdgeTimes:   make(map[Key][]time.Time),
		EdgeAmounts: make(map[Key][]float64),
	}

	for _, tx := range txs {
		g.ensure(tx.SenderID)
		g.ensure(tx.ReceiverID)

		g.Adjacency[tx.SenderID][tx.ReceiverID] = true
		g.Reverse[tx.ReceiverID][tx.SenderID] = true
		g.TxCount[tx.SenderID]++
		g.TxCount[tx.ReceiverID]++

		k := Key{Src: tx.SenderID, Dst: tx.ReceiverID}
		g.EdgeTimes[k] = append(g.EdgeTimes[k], tx.Timestamp)
		g.EdgeAmounts[k] = append(g.EdgeAmounts[k], tx.Amount)
	}

	return g
}

func (g *Graph) ensure(id string) {
	if g.Adjacency[id] == nil {
		g.Adjacency[id] = make(map[string]bool)
	}
	if g.Reverse[id] == nil {
		g.Reverse[id] = make(map[string]bool)
	}
}

// Nodes returns every account id in lexicographic order. All pipeline
// iteration goes through the sorted accessors so results do not depend on
// map iteration order or on the input ordering of the ledger.
func (g *Graph) Nodes() []string {
	nodes := make([]string, 0, len(g.Adjacency))
	for id := range g.Adjacency {
		nodes = append(nodes, id)
	}
	sort.Strings(nodes)
	return nodes
}

// Successors returns the distinct receivers of id, sorted.
func (g *Graph) Successors(id string) []string {
	return sortedKeys(g.Adjacency[id])
}

// Predecessors returns the distinct senders into id, sorted.
func (g *Graph) Predecessors(id string) []string {
	return sortedKeys(g.Reverse[id])
}

// Edges returns every distinct directed edge, sorted by (src, dst).
func (g *Graph) Edges() []Key {
	edges := make([]Key, 0, len(g.EdgeTimes))
	for k := range g.EdgeTimes {
		edges = append(edges, k)
	}
	sort.Slice(edges, func(i, j int) bool {
		if edges[i].Src != edges[j].Src {
			return edges[i].Src < edges[j].Src
		}
		return edges[i].Dst < edges[j].Dst
	})
	return edges
}

// NodeCount returns the number of distinct accounts in the graph.
func (g *Graph) NodeCount() int {
	return len(g.Adjacency)
}

// EdgeCount returns the number of distinct directed edges.
func (g *Graph) EdgeCount() int {
	return len(g.EdgeTimes)
}

func sortedKeys(set map[string]bool) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
