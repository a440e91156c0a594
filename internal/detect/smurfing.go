package detect

import (
	"sort"
	"time"

	"github.com/opensource-finance/shrike/internal/graph"
)

const (
	// SmurfThreshold is the distinct-counterparty count at which fan-out or
	// fan-in is flagged.
	SmurfThreshold = 10

	// MerchantThreshold is the total transaction count at or above which a
	// node is presumed a legitimate high-volume entity and skipped entirely.
	MerchantThreshold = 100

	// ClusterWindow is the span within which SmurfThreshold consecutive
	// transfers count as temporally clustered.
	ClusterWindow = 72 * time.Hour
)

// SmurfingResult holds the two node sets the smurfing detector produces.
// Temporal is a subset-shaped companion to Smurfing, scored separately.
type SmurfingResult struct {
	// Smurfing is the union of fan-out and fan-in flagged nodes.
	Smurfing map[string]bool

	// Temporal marks flagged nodes whose transfers cluster inside the window.
	Temporal map[string]bool
}

// Smurfing flags structuring hubs: nodes below the merchant threshold with
// at least SmurfThreshold distinct receivers (fan-out) or distinct senders
// (fan-in). Both directions are checked independently. For each flagged
// direction, that direction's edge timestamps are scanned for a cluster of
// SmurfThreshold consecutive transfers inside ClusterWindow.
func Smurfing(g *graph.Graph) SmurfingResult {
	res := SmurfingResult{
		Smurfing: make(map[string]bool),
		Temporal: make(map[string]bool),
	}

	for _, node := range g.Nodes() {
		if g.TxCount[node] >= MerchantThreshold {
			continue
		}

		if len(g.Adjacency[node]) >= SmurfThreshold {
			res.Smurfing[node] = true
			if clustered(outgoingTimes(g, node)) {
				res.Temporal[node] = true
			}
		}

		if len(g.Reverse[node]) >= SmurfThreshold {
			res.Smurfing[node] = true
			if clustered(incomingTimes(g, node)) {
				res.Temporal[node] = true
			}
		}
	}

	return res
}

func outgoingTimes(g *graph.Graph, node string) []time.Time {
	var times []time.Time
	for _, dst := range g.Successors(node) {
		times = append(times, g.EdgeTimes[graph.Key{Src: node, Dst: dst}]...)
	}
	return times
}

func incomingTimes(g *graph.Graph, node string) []time.Time {
	var times []time.Time
	for _, src := range g.Predecessors(node) {
		times = append(times, g.EdgeTimes[graph.Key{Src: src, Dst: node}]...)
	}
	return times
}

// clustered reports whether any SmurfThreshold consecutive timestamps, in
// ascending order, span at most ClusterWindow.
func clustered(times []time.Time) bool {
	if len(times) < SmurfThreshold {
		return false
	}

	sort.Slice(times, func(i, j int) bool { return times[i].Before(times[j]) })

	for i := 0; i+SmurfThreshold <= len(times); i++ {
		if times[i+SmurfThreshold-1].Sub(times[i]) <= ClusterWindow {
			return true
		}
	}
	return false
}
