// Package report serializes analysis results for text storage and computes
// the digest served by the report hash endpoint. Map and Set values cross
// the storage boundary wrapped in a tagged envelope so empty and non-empty
// collections round-trip without collapsing to null.
package report

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/opensource-finance/shrike/internal/domain"
)

var ErrBadEnvelope = errors.New("bad envelope")

const (
	typeMap = "Map"
	typeSet = "Set"
)

type envelope struct {
	Type  string          `json:"__type"`
	Value json.RawMessage `json:"value"`
}

type wireResult struct {
	SuspiciousAccounts []*domain.AccountAnalysis `json:"suspicious_accounts"`
	FraudRings         []domain.FraudRing        `json:"fraud_rings"`
	AllAccounts        any                       `json:"all_accounts"`
	Edges              []domain.EdgeSummary      `json:"edges"`
	Communities        any                       `json:"communities"`
	NodeDegrees        any                       `json:"node_degrees"`
	Adjacency          any                       `json:"adj"`
	ReverseAdjacency   any                       `json:"reverse_adj"`
	Summary            domain.Summary            `json:"summary"`
}

// Encode serializes a result with Map/Set fields wrapped in tagged
// envelopes. Fixed struct field order plus encoding/json's sorted map keys
// make the output canonical: equal results encode to equal bytes.
func Encode(res *domain.AnalysisResult) ([]byte, error) {
	if res == nil {
		return nil, errors.New("nil result")
	}
	res = normalized(res)
	return json.Marshal(wireResult{
		SuspiciousAccounts: res.SuspiciousAccounts,
		FraudRings:         res.FraudRings,
		AllAccounts:        tagMap(res.AllAccounts),
		Edges:              res.Edges,
		Communities:        tagMap(res.Communities),
		NodeDegrees:        tagMap(res.NodeDegrees),
		Adjacency:          tagSets(res.Adjacency),
		ReverseAdjacency:   tagSets(res.ReverseAdjacency),
		Summary:            res.Summary,
	})
}

// Decode reverses Encode. Envelopes with an unexpected __type reject the
// whole blob; a stored run that fails to decode is corrupt, not partial.
func Decode(data []byte) (*domain.AnalysisResult, error) {
	var wire struct {
		SuspiciousAccounts []*domain.AccountAnalysis `json:"suspicious_accounts"`
		FraudRings         []domain.FraudRing        `json:"fraud_rings"`
		AllAccounts        envelope                  `json:"all_accounts"`
		Edges              []domain.EdgeSummary      `json:"edges"`
		Communities        envelope                  `json:"communities"`
		NodeDegrees        envelope                  `json:"node_degrees"`
		Adjacency          envelope                  `json:"adj"`
		ReverseAdjacency   envelope                  `json:"reverse_adj"`
		Summary            domain.Summary            `json:"summary"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, fmt.Errorf("decode report: %w", err)
	}

	res := domain.NewAnalysisResult()
	res.SuspiciousAccounts = wire.SuspiciousAccounts
	res.FraudRings = wire.FraudRings
	res.Edges = wire.Edges
	res.Summary = wire.Summary
	if err := unwrapMap(wire.AllAccounts, &res.AllAccounts); err != nil {
		return nil, fmt.Errorf("all_accounts: %w", err)
	}
	if err := unwrapMap(wire.Communities, &res.Communities); err != nil {
		return nil, fmt.Errorf("communities: %w", err)
	}
	if err := unwrapMap(wire.NodeDegrees, &res.NodeDegrees); err != nil {
		return nil, fmt.Errorf("node_degrees: %w", err)
	}
	adj, err := unwrapSets(wire.Adjacency)
	if err != nil {
		return nil, fmt.Errorf("adj: %w", err)
	}
	res.Adjacency = adj
	rev, err := unwrapSets(wire.ReverseAdjacency)
	if err != nil {
		return nil, fmt.Errorf("reverse_adj: %w", err)
	}
	res.ReverseAdjacency = rev
	return normalized(res), nil
}

// Hash returns the SHA-256 hex digest of the canonical encoded form, so any
// edit to a persisted run is detectable.
func Hash(res *domain.AnalysisResult) (string, error) {
	data, err := Encode(res)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// Fingerprint hashes a ledger in submission order. Re-uploading an identical
// file maps to the same fingerprint, letting the service reuse a cached run.
func Fingerprint(txs []domain.Transaction) string {
	h := sha256.New()
	for _, tx := range txs {
		fmt.Fprintf(h, "%s\x00%s\x00%s\x00%s\x00%d\n",
			tx.ID, tx.SenderID, tx.ReceiverID,
			strconv.FormatFloat(tx.Amount, 'g', -1, 64), tx.Timestamp.UnixMilli())
	}
	return hex.EncodeToString(h.Sum(nil))
}

func tagMap(value any) map[string]any {
	return map[string]any{"__type": typeMap, "value": value}
}

func tagSets(adj map[string][]string) map[string]any {
	sets := make(map[string]any, len(adj))
	for node, members := range adj {
		if members == nil {
			members = []string{}
		}
		sets[node] = map[string]any{"__type": typeSet, "value": members}
	}
	return tagMap(sets)
}

func unwrapMap(env envelope, target any) error {
	if env.Type != typeMap {
		return fmt.Errorf("%w: __type %q, want %q", ErrBadEnvelope, env.Type, typeMap)
	}
	if len(env.Value) == 0 {
		return nil
	}
	return json.Unmarshal(env.Value, target)
}

func unwrapSets(env envelope) (map[string][]string, error) {
	if env.Type != typeMap {
		return nil, fmt.Errorf("%w: __type %q, want %q", ErrBadEnvelope, env.Type, typeMap)
	}
	var inner map[string]envelope
	if len(env.Value) > 0 {
		if err := json.Unmarshal(env.Value, &inner); err != nil {
			return nil, err
		}
	}
	out := make(map[string][]string, len(inner))
	for node, set := range inner {
		if set.Type != typeSet {
			return nil, fmt.Errorf("%w: node %s: __type %q, want %q", ErrBadEnvelope, node, set.Type, typeSet)
		}
		var members []string
		if err := json.Unmarshal(set.Value, &members); err != nil {
			return nil, err
		}
		if members == nil {
			members = []string{}
		}
		out[node] = members
	}
	return out, nil
}

// normalized returns a copy of res with nil collections replaced by their
// empty forms, so encoding never emits null.
func normalized(res *domain.AnalysisResult) *domain.AnalysisResult {
	out := *res
	if out.SuspiciousAccounts == nil {
		out.SuspiciousAccounts = []*domain.AccountAnalysis{}
	}
	if out.FraudRings == nil {
		out.FraudRings = []domain.FraudRing{}
	}
	if out.AllAccounts == nil {
		out.AllAccounts = map[string]*domain.AccountAnalysis{}
	}
	if out.Edges == nil {
		out.Edges = []domain.EdgeSummary{}
	}
	if out.Communities == nil {
		out.Communities = map[string]int{}
	}
	if out.NodeDegrees == nil {
		out.NodeDegrees = map[string]int{}
	}
	if out.Adjacency == nil {
		out.Adjacency = map[string][]string{}
	}
	if out.ReverseAdjacency == nil {
		out.ReverseAdjacency = map[string][]string{}
	}
	return &out
}
