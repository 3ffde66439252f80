package policy

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/open-policy-agent/opa/ast"
	"github.com/open-policy-agent/opa/rego"
	"github.com/open-policy-agent/opa/storage"
	"github.com/open-policy-agent/opa/storage/inmem"

	"github.com/zonecraft/zonecraft/pkg/engine"
	"github.com/zonecraft/zonecraft/pkg/telemetry"
)

// Engine evaluates Rego safety policies against planned change sets.
// It implements engine.Gate.
type Engine struct {
	mu       sync.RWMutex
	policies map[string]*compiledPolicy
	store    storage.Store
	log      *telemetry.Logger
}

// compiledPolicy is a parsed and prepared policy.
type compiledPolicy struct {
	policy   *Policy
	module   *ast.Module
	compiled time.Time
}

// NewEngine creates a policy engine with the built-in policies loaded.
func NewEngine(log *telemetry.Logger) (*Engine, error) {
	if log == nil {
		log = telemetry.Nop()
	}

	e := &Engine{
		policies: make(map[string]*compiledPolicy),
		store:    inmem.New(),
		log:      log.Component("policy"),
	}

	builtins := BuiltinPolicies()
	for i := range builtins {
		if err := e.compileAndStore(&builtins[i]); err != nil {
			return nil, fmt.Errorf("compiling built-in policy %s: %w", builtins[i].Name, err)
		}
	}
	e.log.Debugf("loaded %d built-in policies", len(builtins))

	return e, nil
}

// Check evaluates every enabled policy against the change set and
// returns a PolicyDeniedError when any blocking violation is found.
// Warnings are logged and do not block.
func (e *Engine) Check(ctx context.Context, cs *engine.ChangeSet, opts engine.Options) error {
	res, err := e.Evaluate(ctx, cs, opts)
	if err != nil {
		return err
	}

	for i := range res.Warnings {
		w := &res.Warnings[i]
		e.log.Z().Warn().
			Str("policy", w.Policy).
			Str("record", w.Record).
			Msg(w.Message)
	}

	if res.Allowed {
		return nil
	}

	msgs := make([]string, 0, len(res.Violations))
	for i := range res.Violations {
		v := &res.Violations[i]
		if v.Record != "" {
			msgs = append(msgs, fmt.Sprintf("%s: %s (%s)", v.Policy, v.Message, v.Record))
		} else {
			msgs = append(msgs, fmt.Sprintf("%s: %s", v.Policy, v.Message))
		}
	}
	return engine.NewError(engine.ErrCodePolicyDenied,
		fmt.Sprintf("plan denied by policy: %s", strings.Join(msgs, "; ")))
}

// Evaluate runs every enabled policy against the plan and each change
// and returns the collected findings without deciding anything.
func (e *Engine) Evaluate(ctx context.Context, cs *engine.ChangeSet, opts engine.Options) (*Result, error) {
	start := time.Now()

	e.mu.RLock()
	defer e.mu.RUnlock()

	plan := planInput(cs, opts)
	evaluated := make([]string, 0, len(e.policies))

	var violations, warnings []Violation

	names := make([]string, 0, len(e.policies))
	for name := range e.policies {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		cp := e.policies[name]
		if !cp.policy.Enabled {
			continue
		}
		evaluated = append(evaluated, cp.policy.Name)

		// Plan-level pass.
		found, err := e.evaluatePolicy(ctx, cp, &Input{
			Plan:    plan,
			Context: &Context{Timestamp: time.Now(), Operation: "plan"},
		})
		if err != nil {
			return nil, engine.NewError(engine.ErrCodeInternal,
				fmt.Sprintf("policy %s evaluation failed", cp.policy.Name)).WithCause(err)
		}
		violations, warnings = partition(found, violations, warnings)

		// Per-change pass.
		for i := range cs.Changes {
			c := &cs.Changes[i]
			if c.Action == engine.ActionNoop {
				continue
			}
			found, err := e.evaluatePolicy(ctx, cp, &Input{
				Change:  changeInput(c),
				Plan:    plan,
				Context: &Context{Timestamp: time.Now(), Operation: "plan"},
			})
			if err != nil {
				return nil, engine.NewError(engine.ErrCodeInternal,
					fmt.Sprintf("policy %s evaluation failed", cp.policy.Name)).WithCause(err)
			}
			violations, warnings = partition(found, violations, warnings)
		}
	}

	res := &Result{
		Allowed:           len(violations) == 0,
		Violations:        violations,
		Warnings:          warnings,
		EvaluatedPolicies: evaluated,
		EvaluatedAt:       time.Now(),
		Duration:          time.Since(start),
	}

	e.log.Z().Debug().
		Str("domain", cs.Domain).
		Int("policies", len(evaluated)).
		Int("violations", len(violations)).
		Int("warnings", len(warnings)).
		Dur("duration", res.Duration).
		Msg("policy evaluation completed")

	return res, nil
}

// LoadPaths loads and compiles policies from the given files or
// directories, replacing any previously loaded policies with the same
// names. Built-in policies stay loaded.
func (e *Engine) LoadPaths(ctx context.Context, paths []string) error {
	loader := NewLoader(e.log)
	policies, err := loader.LoadFromPaths(ctx, paths)
	if err != nil {
		return err
	}
	return e.Replace(policies)
}

// Replace swaps in a new set of custom policies. Used by the file
// watcher on reload.
func (e *Engine) Replace(policies []Policy) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	for i := range policies {
		if err := e.compileAndStore(&policies[i]); err != nil {
			return fmt.Errorf("compiling policy %s: %w", policies[i].Name, err)
		}
	}

	e.log.Infof("loaded %d policies", len(policies))
	return nil
}

// Get returns a loaded policy by name.
func (e *Engine) Get(name string) (*Policy, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	cp, ok := e.policies[name]
	if !ok {
		return nil, engine.NewError(engine.ErrCodeNotFound, fmt.Sprintf("policy not found: %s", name))
	}
	return cp.policy, nil
}

// List returns all loaded policies sorted by name.
func (e *Engine) List() []Policy {
	e.mu.RLock()
	defer e.mu.RUnlock()

	policies := make([]Policy, 0, len(e.policies))
	for _, cp := range e.policies {
		policies = append(policies, *cp.policy)
	}
	sort.Slice(policies, func(i, j int) bool { return policies[i].Name < policies[j].Name })
	return policies
}

// evaluatePolicy queries the policy's deny rule with the given input.
func (e *Engine) evaluatePolicy(ctx context.Context, cp *compiledPolicy, input *Input) ([]Violation, error) {
	query := fmt.Sprintf("data.%s.deny", packageName(cp.policy.Rego))

	r := rego.New(
		rego.Module(cp.policy.Name, cp.policy.Rego),
		rego.Query(query),
		rego.Input(input),
	)

	results, err := r.Eval(ctx)
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
			violations = append(violations, newViolation(cp.policy, d, input))
		}
	}

	return violations, nil
}

// compileAndStore parses a policy module and registers it. Callers
// hold the write lock or run before the engine is shared.
func (e *Engine) compileAndStore(p *Policy) error {
	module, err := ast.ParseModule(p.Name, p.Rego)
	if err != nil {
		return fmt.Errorf("parsing policy: %w", err)
	}

	e.policies[p.Name] = &compiledPolicy{
		policy:   p,
		module:   module,
		compiled: time.Now(),
	}
	return nil
}

// newViolation converts a raw deny result into a Violation.
func newViolation(p *Policy, result interface{}, input *Input) Violation {
	v := Violation{
		Policy:     p.Name,
		Severity:   p.Severity,
		DetectedAt: time.Now(),
	}
	if input.Change != nil {
		v.Record = input.Change.Record.Type + "/" + input.Change.Record.Name
	}

	switch r := result.(type) {
	case string:
		v.Message = r
	case map[string]interface{}:
		if msg, ok := r["message"].(string); ok {
			v.Message = msg
		}
		if sev, ok := r["severity"].(string); ok {
			v.Severity = Severity(sev)
		}
		if rec, ok := r["record"].(string); ok {
			v.Record = rec
		}
	default:
		v.Message = fmt.Sprintf("%v", result)
	}

	return v
}

// partition routes findings into blocking violations and warnings.
func partition(found, violations, warnings []Violation) ([]Violation, []Violation) {
	for i := range found {
		if found[i].Severity == SeverityError {
			violations = append(violations, found[i])
		} else {
			warnings = append(warnings, found[i])
		}
	}
	return violations, warnings
}

// packageName extracts the package declaration from Rego source.
func packageName(src string) string {
	for _, line := range strings.Split(src, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "package ") {
			parts := strings.Fields(trimmed)
			if len(parts) >= 2 {
				return parts[1]
			}
		}
	}
	return "zonecraft.policies"
}
