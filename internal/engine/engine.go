// Package engine orchestrates the analysis pipeline: graph construction,
// the four pattern detectors, scoring, ring grouping, and community
// detection, assembled into a single AnalysisResult.
package engine

import (
	"context"
	"math"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/opensource-finance/shrike/internal/community"
	"github.com/opensource-finance/shrike/internal/detect"
	"github.com/opensource-finance/shrike/internal/domain"
	"github.com/opensource-finance/shrike/internal/graph"
	"github.com/opensource-finance/shrike/internal/rings"
	"github.com/opensource-finance/shrike/internal/scoring"
)

var tracer = otel.Tracer("shrike-engine")

// Options configures an Engine.
type Options struct {
	// MaxCycleLength bounds the DFS path depth during cycle enumeration.
	MaxCycleLength int
}

// DefaultOptions returns the standard engine configuration.
func DefaultOptions() Options {
	return Options{MaxCycleLength: detect.MaxCycleLength}
}

// Engine runs the analysis pipeline over a transaction batch.
type Engine struct {
	opts Options
}

// New creates an Engine. A non-positive cycle length falls back to the
// default bound.
func New(opts Options) *Engine {
	if opts.MaxCycleLength <= 0 {
		opts.MaxCycleLength = detect.MaxCycleLength
	}
	return &Engine{opts: opts}
}

// Analyze builds the transaction graph and runs every detector over it.
// The four detectors are independent and run concurrently once the graph
// is built; community detection needs only the graph and runs alongside
// them. Scoring waits for all detectors, ring grouping for scoring.
// Analyze never fails: an empty batch yields a valid zero-account result.
func (e *Engine) Analyze(ctx context.Context, txs []domain.Transaction) *domain.AnalysisResult {
	started := time.Now()
	ctx, span := tracer.Start(ctx, "engine.analyze")
	defer span.End()

	g := graph.Build(txs)

	var (
		wg       sync.WaitGroup
		cycles   [][]string
		smurf    detect.SmurfingResult
		chains   [][]string
		outliers map[string]bool
	)
	wg.Add(4)
	go func() {
		defer wg.Done()
		_, s := tracer.Start(ctx, "engine.detect_cycles")
		cycles = detect.Cycles(g, e.opts.MaxCycleLength)
		s.End()
	}()
	go func() {
		defer wg.Done()
		_, s := tracer.Start(ctx, "engine.detect_smurfing")
		smurf = detect.Smurfing(g)
		s.End()
	}()
	go func() {
		defer wg.Done()
		_, s := tracer.Start(ctx, "engine.detect_shell_chains")
		chains = detect.ShellChains(g)
		s.End()
	}()
	go func() {
		defer wg.Done()
		_, s := tracer.Start(ctx, "engine.detect_outliers")
		outliers = detect.HighValueOutliers(txs)
		s.End()
	}()

	commCh := make(chan map[string]int, 1)
	go func() {
		_, s := tracer.Start(ctx, "engine.detect_communities")
		commCh <- community.Detect(g)
		s.End()
	}()

	wg.Wait()

	accounts := scoring.Score(g, cycles, smurf, chains, outliers)
	fraudRings := rings.Group(accounts, cycles, chains)
	communities := <-commCh

	res := assemble(g, accounts, fraudRings, communities)
	res.Summary.ProcessingTimeSeconds = math.Round(time.Since(started).Seconds()*100) / 100

	span.SetAttributes(
		attribute.Int("graph.nodes", g.NodeCount()),
		attribute.Int("graph.edges", g.EdgeCount()),
		attribute.Int("cycles.found", len(cycles)),
		attribute.Int("accounts.flagged", res.Summary.SuspiciousAccountsFlagged),
		attribute.Int("rings.detected", res.Summary.FraudRingsDetected),
	)
	return res
}

func assemble(g *graph.Graph, accounts map[string]*domain.AccountAnalysis, fraudRings []domain.FraudRing, communities map[string]int) *domain.AnalysisResult {
	res := domain.NewAnalysisResult()
	res.SuspiciousAccounts = rings.Suspicious(accounts)
	res.FraudRings = fraudRings
	res.Communities = communities

	flagged := 0
	for _, id := range g.Nodes() {
		a := accounts[id]
		res.AllAccounts[id] = a
		res.NodeDegrees[id] = len(g.Adjacency[id]) + len(g.Reverse[id])
		res.Adjacency[id] = g.Successors(id)
		res.ReverseAdjacency[id] = g.Predecessors(id)
		if a.SuspicionScore >= domain.FlagThreshold {
			flagged++
		}
	}

	for _, key := range g.Edges() {
		var total float64
		for _, amt := range g.EdgeAmounts[key] {
			total += amt
		}
		res.Edges = append(res.Edges, domain.EdgeSummary{
			From:       key.Src,
			To:         key.Dst,
			Amount:     total,
			Suspicious: accounts[key.Src].SuspicionScore > 0 || accounts[key.Dst].SuspicionScore > 0,
		})
	}

	multi := 0
	for _, r := range fraudRings {
		if len(r.MemberAccounts) >= 2 {
			multi++
		}
	}
	res.Summary = domain.Summary{
		TotalAccountsAnalyzed:     g.NodeCount(),
		SuspiciousAccountsFlagged: flagged,
		FraudRingsDetected:        multi,
	}
	return res
}
