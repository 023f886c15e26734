package policy

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/open-policy-agent/opa/v1/ast"
	"github.com/open-policy-agent/opa/v1/rego"
	"github.com/rs/zerolog"

	"github.com/openfroyo/vminit/pkg/engine"
)

// Engine evaluates provisioning specs against Rego policies.
type Engine struct {
	mu       sync.RWMutex
	policies map[string]*compiledPolicy
	params   InputParams
	logger   zerolog.Logger
}

type compiledPolicy struct {
	policy *Policy
	query  rego.PreparedEvalQuery
}

// Options configures an Engine.
type Options struct {
	AllowPassword bool
	// ReservedUsers defaults to DefaultReservedUsers when nil.
	ReservedUsers []string
}

// NewEngine creates an engine with the built-in policies loaded.
func NewEngine(ctx context.Context, opts Options, logger zerolog.Logger) (*Engine, error) {
	reserved := opts.ReservedUsers
	if reserved == nil {
		reserved = DefaultReservedUsers
	}

	e := &Engine{
		policies: make(map[string]*compiledPolicy),
		params:   InputParams{AllowPassword: opts.AllowPassword, ReservedUsers: reserved},
		logger:   logger.With().Str("component", "policy-engine").Logger(),
	}

	builtins := BuiltinPolicies()
	for i := range builtins {
		if err := e.compileAndStore(ctx, &builtins[i]); err != nil {
			return nil, fmt.Errorf("failed to compile built-in policy %s: %w", builtins[i].Name, err)
		}
	}
	e.logger.Debug().Int("count", len(builtins)).Msg("Built-in policies loaded")
	return e, nil
}

// LoadPolicies compiles additional policies from .rego files or directories.
func (e *Engine) LoadPolicies(ctx context.Context, paths []string) error {
	policies, err := NewLoader(e.logger).LoadFromPaths(paths)
	if err != nil {
		return fmt.Errorf("failed to load policies: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	for i := range policies {
		if err := e.compileAndStore(ctx, &policies[i]); err != nil {
			return fmt.Errorf("failed to compile policy %s: %w", policies[i].Name, err)
		}
	}
	return nil
}

// Evaluate runs every enabled policy against spec. A policy that fails to evaluate fails
// the whole evaluation.
func (e *Engine) Evaluate(ctx context.Context, spec *engine.ProvisioningSpec) (*Result, error) {
	start := time.Now()
	e.mu.RLock()
	defer e.mu.RUnlock()

	input := NewInput(spec, e.params)
	result := &Result{Allowed: true}

	for _, name := range e.sortedNames() {
		cp := e.policies[name]
		if !cp.policy.Enabled {
			continue
		}
		result.EvaluatedPolicies = append(result.EvaluatedPolicies, name)

		violations, err := e.evaluatePolicy(ctx, cp, input)
		if err != nil {
			e.logger.Error().Err(err).Str("policy", name).Msg("Policy evaluation failed")
			return nil, engine.NewUnhandledError(fmt.Sprintf("policy %s could not be evaluated", name), err).
				WithDetail("policy", name)
		}
		for _, v := range violations {
			if v.Severity == SeverityError {
				result.Allowed = false
			}
		}
		result.Violations = append(result.Violations, violations...)
	}

	result.Duration = time.Since(start)
	e.logger.Debug().
		Int("violations", len(result.Violations)).
		Dur("duration", result.Duration).
		Msg("Policy evaluation completed")
	return result, nil
}

// Check evaluates spec and converts a denial into a classified error. A password
// violation maps to non_empty_password; anything else to policy_violation.
func (e *Engine) Check(ctx context.Context, spec *engine.ProvisioningSpec) error {
	result, err := e.Evaluate(ctx, spec)
	if err != nil {
		return err
	}

	var messages []string
	for _, v := range result.Violations {
		if v.Severity != SeverityError {
			e.logger.Warn().Str("policy", v.Policy).Str("rule", v.Rule).Msg(v.Message)
			continue
		}
		if v.Rule == RuleNonEmptyPassword {
			return engine.ErrNonEmptyPassword
		}
		messages = append(messages, v.Message)
	}
	if result.Allowed {
		return nil
	}
	return engine.NewPolicyError(strings.Join(messages, "; ")).
		WithDetail("policies", result.EvaluatedPolicies)
}

// ListPolicies returns the loaded policies sorted by name.
func (e *Engine) ListPolicies() []Policy {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]Policy, 0, len(e.policies))
	for _, name := range e.sortedNames() {
		out = append(out, *e.policies[name].policy)
	}
	return out
}

// DisablePolicy turns off a policy by name.
func (e *Engine) DisablePolicy(name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	cp, ok := e.policies[name]
	if !ok {
		return fmt.Errorf("policy not found: %s", name)
	}
	cp.policy.Enabled = false
	e.logger.Info().Str("policy", name).Msg("Policy disabled")
	return nil
}

func (e *Engine) sortedNames() []string {
	names := make([]string, 0, len(e.policies))
	for name := range e.policies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// compileAndStore parses the module and prepares its deny query once.
func (e *Engine) compileAndStore(ctx context.Context, policy *Policy) error {
	module, err := ast.ParseModule(policy.Name, policy.Rego)
	if err != nil {
		return fmt.Errorf("failed to parse policy: %w", err)
	}
	if policy.Severity == "" {
		policy.Severity = SeverityError
	}

	query, err := rego.New(
		rego.Module(policy.Name, policy.Rego),
		rego.Query(module.Package.Path.String()+".deny"),
	).PrepareForEval(ctx)
	if err != nil {
		return fmt.Errorf("failed to prepare query: %w", err)
	}

	e.policies[policy.Name] = &compiledPolicy{policy: policy, query: query}
	return nil
}

func (e *Engine) evaluatePolicy(ctx context.Context, cp *compiledPolicy, input *Input) ([]Violation, error) {
	results, err := cp.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return nil, fmt.Errorf("policy evaluation error: %w", err)
	}

	var violations []Violation
	for _, result := range results {
		if len(result.Expressions) == 0 {
			continue
		}
		denySet, ok := result.Expressions[0].Value.([]interface{})
		if !ok {
			continue
		}
		for _, d := range denySet {
			violations = append(violations, newViolation(cp.policy, d))
		}
	}

	sort.Slice(violations, func(i, j int) bool { return violations[i].Rule < violations[j].Rule })
	return violations, nil
}

func newViolation(policy *Policy, result interface{}) Violation {
	v := Violation{Policy: policy.Name, Severity: policy.Severity}

	switch r := result.(type) {
	case string:
		v.Message = r
	case map[string]interface{}:
		if msg, ok := r["message"].(string); ok {
			v.Message = msg
		}
		if rule, ok := r["rule"].(string); ok {
			v.Rule = rule
		}
		if sev, ok := r["severity"].(string); ok {
			v.Severity = Severity(sev)
		}
	default:
		v.Message = fmt.Sprintf("%v", result)
	}
	return v
}
