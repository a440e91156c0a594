// Package triage provides the CEL-Go based policy evaluation engine. Policies
// run against scored accounts after an analysis completes and raise alerts;
// they never alter the engine's suspicion scores.
package triage

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/opensource-finance/shrike/internal/domain"
)

// Engine is the CEL-based policy evaluation engine.
type Engine struct {
	mu       sync.RWMutex
	env      *cel.Env
	compiled map[string]*CompiledPolicy
}

// CompiledPolicy holds a pre-compiled CEL program.
type CompiledPolicy struct {
	Policy  *domain.Policy
	Program cel.Program
}

// NewEngine creates a new policy evaluation engine.
func NewEngine() (*Engine, error) {
	// Create CEL environment with per-account variables
	env, err := cel.NewEnv(
		cel.Variable("account", cel.StringType),
		cel.Variable("score", cel.IntType),
		cel.Variable("patterns", cel.ListType(cel.StringType)),
		cel.Variable("ring_size", cel.IntType),
		cel.Variable("tx_count", cel.IntType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &Engine{
		env:      env,
		compiled: make(map[string]*CompiledPolicy),
	}, nil
}

// ValidatePolicy compiles a policy without loading it into the engine.
func (e *Engine) ValidatePolicy(p *domain.Policy) error {
	if p == nil {
		return fmt.Errorf("policy is required")
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	_, err := e.compilePolicy(p)
	return err
}

// LoadPolicy compiles and loads a policy into the engine.
func (e *Engine) LoadPolicy(p *domain.Policy) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	compiled, err := e.compilePolicy(p)
	if err != nil {
		return err
	}

	e.compiled[p.ID] = compiled

	return nil
}

// LoadPolicies compiles and loads all enabled policies.
func (e *Engine) LoadPolicies(policies []*domain.Policy) error {
	for _, p := range policies {
		if p.Enabled {
			if err := e.LoadPolicy(p); err != nil {
				return err
			}
		}
	}
	return nil
}

// ReloadPolicies clears all existing policies and loads new ones.
// This enables hot-reloading after policy CRUD.
func (e *Engine) ReloadPolicies(policies []*domain.Policy) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	fresh := make(map[string]*CompiledPolicy)

	for _, p := range policies {
		if !p.Enabled {
			continue
		}

		compiled, err := e.compilePolicy(p)
		if err != nil {
			return err
		}
		fresh[p.ID] = compiled
	}

	e.compiled = fresh

	return nil
}

// Evaluate runs all loaded policies against every suspicious account in the
// result. Alerts come back ordered by account (score descending, as in the
// result) then policy ID, so repeated runs produce identical alert lists.
func (e *Engine) Evaluate(result *domain.AnalysisResult) []domain.Alert {
	if result == nil {
		return nil
	}

	e.mu.RLock()
	policies := make([]*CompiledPolicy, 0, len(e.compiled))
	for _, p := range e.compiled {
		policies = append(policies, p)
	}
	e.mu.RUnlock()

	if len(policies) == 0 || len(result.SuspiciousAccounts) == 0 {
		return nil
	}

	sort.Slice(policies, func(i, j int) bool {
		return policies[i].Policy.ID < policies[j].Policy.ID
	})

	ringSize := make(map[string]int, len(result.FraudRings))
	for _, ring := range result.FraudRings {
		ringSize[ring.RingID] = len(ring.MemberAccounts)
	}

	var alerts []domain.Alert
	for _, acct := range result.SuspiciousAccounts {
		size := 0
		if acct.RingID != nil {
			size = ringSize[*acct.RingID]
		}

		activation := map[string]any{
			"account":   acct.AccountID,
			"score":     acct.SuspicionScore,
			"patterns":  acct.DetectedPatterns,
			"ring_size": size,
			"tx_count":  acct.TotalTransactions,
		}

		for _, p := range policies {
			out, _, err := p.Program.Eval(activation)
			if err != nil {
				slog.Warn("policy evaluation failed",
					"policy_id", p.Policy.ID,
					"account", acct.AccountID,
					"error", err,
				)
				continue
			}

			matched, ok := out.Value().(bool)
			if !ok || !matched {
				continue
			}

			alerts = append(alerts, domain.Alert{
				PolicyID:   p.Policy.ID,
				PolicyName: p.Policy.Name,
				Severity:   p.Policy.Severity,
				AccountID:  acct.AccountID,
				Score:      acct.SuspicionScore,
				RingID:     acct.RingID,
			})
		}
	}

	return alerts
}

// PoliciesCount returns the number of loaded policies.
func (e *Engine) PoliciesCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.compiled)
}

// LoadedPolicies returns the currently loaded policy configurations.
func (e *Engine) LoadedPolicies() []*domain.Policy {
	e.mu.RLock()
	defer e.mu.RUnlock()

	policies := make([]*domain.Policy, 0, len(e.compiled))
	for _, compiled := range e.compiled {
		policies = append(policies, compiled.Policy)
	}
	return policies
}

// Close cleans up the engine.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.compiled = make(map[string]*CompiledPolicy)
	return nil
}

func (e *Engine) compilePolicy(p *domain.Policy) (*CompiledPolicy, error) {
	ast, issues := e.env.Compile(p.Expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile policy %s: %w", p.ID, issues.Err())
	}

	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("policy %s: expression must return bool, got %s", p.ID, ast.OutputType())
	}

	program, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program for policy %s: %w", p.ID, err)
	}

	return &CompiledPolicy{
		Policy:  p,
		Program: program,
	}, nil
}
