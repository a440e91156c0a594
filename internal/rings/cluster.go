// Package rings clusters suspicious accounts into fraud rings based on
// shared cycle and shell-chain membership.
package rings

// ClusterSet is a disjoint-set forest over account ids with lazily
// created entries, path compression, and union by rank.
type ClusterSet struct {
	parent map[string]string
	rank   map[string]int
}

func NewClusterSet() *ClusterSet {
	return &ClusterSet{
		parent: make(map[string]string),
		rank:   make(map[string]int),
	}
}

// Find returns the root of id's set, creating a singleton on first sight.
func (cs *ClusterSet) Find(id string) string {
	if _, ok := cs.parent[id]; !ok {
		cs.parent[id] = id
		cs.rank[id] = 0
	}
	root := id
	for cs.parent[root] != root {
		root = cs.parent[root]
	}
	for id != root {
		next := cs.parent[id]
		cs.parent[id] = root
		id = next
	}
	return root
}

// Union merges the sets containing a and b.
func (cs *ClusterSet) Union(a, b string) {
	ra, rb := cs.Find(a), cs.Find(b)
	if ra == rb {
		return
	}
	switch {
	case cs.rank[ra] < cs.rank[rb]:
		cs.parent[ra] = rb
	case cs.rank[ra] > cs.rank[rb]:
		cs.parent[rb] = ra
	default:
		cs.parent[rb] = ra
		cs.rank[ra]++
	}
}
