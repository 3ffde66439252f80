package policy

import (
	"context"
	"strings"
	"testing"

	"github.com/zonecraft/zonecraft/pkg/engine"
	"github.com/zonecraft/zonecraft/pkg/provider"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	eng, err := NewEngine(nil)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	return eng
}

func changeSet(domain string, changes ...engine.Change) *engine.ChangeSet {
	return &engine.ChangeSet{Domain: domain, Changes: changes}
}

func deleteChange(typ, name, value string) engine.Change {
	rec := provider.Record{ID: "r-" + name, Type: typ, Name: name, Value: value, TTL: 3600}
	return engine.Change{Action: engine.ActionDelete, Record: rec, Previous: &rec}
}

func createChange(typ, name, value string, ttl int) engine.Change {
	return engine.Change{
		Action: engine.ActionCreate,
		Record: provider.Record{Type: typ, Name: name, Value: value, TTL: ttl},
	}
}

func TestEngine_Check_AllowsBenignPlan(t *testing.T) {
	eng := newTestEngine(t)
	cs := changeSet("example.com",
		createChange("A", "www", "203.0.113.10", 3600),
		createChange("TXT", "@", "v=spf1 -all", 3600),
	)

	opts := engine.Options{Mode: engine.ModeForce, AllowDeletes: true}
	if err := eng.Check(context.Background(), cs, opts); err != nil {
		t.Fatalf("benign plan should pass: %v", err)
	}
}

func TestEngine_Check_DeniesNSDeletion(t *testing.T) {
	eng := newTestEngine(t)
	cs := changeSet("example.com", deleteChange("NS", "@", "ns1.example.com"))

	err := eng.Check(context.Background(), cs, engine.Options{Mode: engine.ModeForce, AllowDeletes: true})
	if err == nil {
		t.Fatal("NS deletion should be denied")
	}
	if !engine.HasCode(err, engine.ErrCodePolicyDenied) {
		t.Fatalf("expected POLICY_DENIED, got %v", err)
	}
	if !strings.Contains(err.Error(), "protected-record-types") {
		t.Errorf("error should name the policy, got %q", err.Error())
	}
}

func TestEngine_Check_DeniesApexAddressDeletion(t *testing.T) {
	eng := newTestEngine(t)
	cs := changeSet("example.com", deleteChange("A", "@", "203.0.113.10"))

	err := eng.Check(context.Background(), cs, engine.Options{Mode: engine.ModeForce, AllowDeletes: true})
	if !engine.HasCode(err, engine.ErrCodePolicyDenied) {
		t.Fatalf("apex A deletion should be denied, got %v", err)
	}
}

func TestEngine_Check_AllowsNonApexDeletion(t *testing.T) {
	eng := newTestEngine(t)
	cs := changeSet("example.com", deleteChange("A", "old-host", "203.0.113.99"))

	if err := eng.Check(context.Background(), cs, engine.Options{Mode: engine.ModeForce, AllowDeletes: true}); err != nil {
		t.Fatalf("non-apex A deletion should pass: %v", err)
	}
}

func TestEngine_Evaluate_DeletionBudget(t *testing.T) {
	eng := newTestEngine(t)

	var changes []engine.Change
	for i := 0; i < 26; i++ {
		changes = append(changes, deleteChange("TXT", "stale", "old"))
	}
	cs := changeSet("example.com", changes...)

	res, err := eng.Evaluate(context.Background(), cs, engine.Options{Mode: engine.ModeForce, AllowDeletes: true})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if res.Allowed {
		t.Fatal("26 deletes should exceed the budget")
	}

	found := false
	for _, v := range res.Violations {
		if v.Policy == "deletion-budget" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected a deletion-budget violation, got %+v", res.Violations)
	}
}

func TestEngine_Evaluate_MostlyDeletions(t *testing.T) {
	eng := newTestEngine(t)
	cs := changeSet("example.com",
		deleteChange("TXT", "a", "1"),
		deleteChange("TXT", "b", "2"),
		deleteChange("TXT", "c", "3"),
		createChange("A", "www", "203.0.113.10", 3600),
		createChange("A", "api", "203.0.113.11", 3600),
	)

	res, err := eng.Evaluate(context.Background(), cs, engine.Options{Mode: engine.ModeForce, AllowDeletes: true})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if res.Allowed {
		t.Fatalf("3 of 5 deletions should trip the budget, got %+v", res)
	}
}

func TestEngine_Evaluate_LowTTLIsWarningOnly(t *testing.T) {
	eng := newTestEngine(t)
	cs := changeSet("example.com", createChange("A", "www", "203.0.113.10", 10))

	res, err := eng.Evaluate(context.Background(), cs, engine.Options{Mode: engine.ModeForce})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if !res.Allowed {
		t.Fatalf("low TTL should not block: %+v", res.Violations)
	}

	found := false
	for _, w := range res.Warnings {
		if w.Policy == "low-ttl" && w.Record == "A/www" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected a low-ttl warning for A/www, got %+v", res.Warnings)
	}

	if err := eng.Check(context.Background(), cs, engine.Options{Mode: engine.ModeForce}); err != nil {
		t.Errorf("Check should pass with warnings only: %v", err)
	}
}

func TestEngine_Evaluate_SkipsNoops(t *testing.T) {
	eng := newTestEngine(t)
	rec := provider.Record{ID: "r1", Type: "NS", Name: "@", Value: "ns1.example.com", TTL: 10}
	cs := changeSet("example.com", engine.Change{Action: engine.ActionNoop, Record: rec, Previous: &rec})

	res, err := eng.Evaluate(context.Background(), cs, engine.Options{Mode: engine.ModeForce})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if !res.Allowed || len(res.Warnings) != 0 {
		t.Errorf("NOOP changes should not be evaluated: %+v", res)
	}
}

func TestEngine_ReplaceAndGet(t *testing.T) {
	eng := newTestEngine(t)

	custom := Policy{
		Name:        "no-wildcards",
		Description: "Blocks wildcard record names",
		Severity:    SeverityError,
		Enabled:     true,
		Rego: `package zonecraft.policies.wildcards

import rego.v1

deny contains msg if {
	input.change
	startswith(input.change.record.name, "*")
	msg := sprintf("wildcard record '%s' is not allowed", [input.change.record.name])
}
`,
	}
	if err := eng.Replace([]Policy{custom}); err != nil {
		t.Fatalf("Replace: %v", err)
	}

	got, err := eng.Get("no-wildcards")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Description != custom.Description {
		t.Errorf("Get description = %q, want %q", got.Description, custom.Description)
	}

	if _, err := eng.Get("missing"); !engine.HasCode(err, engine.ErrCodeNotFound) {
		t.Errorf("Get of unknown policy should be NOT_FOUND, got %v", err)
	}

	cs := changeSet("example.com", createChange("A", "*.apps", "203.0.113.10", 3600))
	err = eng.Check(context.Background(), cs, engine.Options{Mode: engine.ModeForce})
	if !engine.HasCode(err, engine.ErrCodePolicyDenied) {
		t.Fatalf("wildcard create should be denied by the custom policy, got %v", err)
	}
	if !strings.Contains(err.Error(), "*.apps") {
		t.Errorf("denial should carry the string violation message, got %q", err.Error())
	}
}

func TestEngine_Replace_RejectsBadRego(t *testing.T) {
	eng := newTestEngine(t)
	err := eng.Replace([]Policy{{
		Name:    "broken",
		Enabled: true,
		Rego:    "package broken\n\ndeny contains if {",
	}})
	if err == nil {
		t.Fatal("malformed Rego should fail to compile")
	}
}

func TestEngine_List_SortedWithBuiltins(t *testing.T) {
	eng := newTestEngine(t)
	policies := eng.List()
	if len(policies) != len(BuiltinPolicies()) {
		t.Fatalf("List returned %d policies, want %d", len(policies), len(BuiltinPolicies()))
	}
	for i := 1; i < len(policies); i++ {
		if policies[i-1].Name > policies[i].Name {
			t.Fatalf("List not sorted: %q before %q", policies[i-1].Name, policies[i].Name)
		}
	}
}

func TestEngine_DisabledPolicyDoesNotRun(t *testing.T) {
	eng := newTestEngine(t)
	if err := eng.Replace([]Policy{{
		Name:     "always-deny",
		Severity: SeverityError,
		Enabled:  false,
		Rego: `package zonecraft.policies.never

import rego.v1

deny contains "always" if {
	true
}
`,
	}}); err != nil {
		t.Fatalf("Replace: %v", err)
	}

	cs := changeSet("example.com", createChange("A", "www", "203.0.113.10", 3600))
	if err := eng.Check(context.Background(), cs, engine.Options{Mode: engine.ModeForce}); err != nil {
		t.Errorf("disabled policy should not block: %v", err)
	}
}

func TestPackageName(t *testing.T) {
	if got := packageName("package zonecraft.policies.apex\n\nimport rego.v1\n"); got != "zonecraft.policies.apex" {
		t.Errorf("packageName = %q", got)
	}
	if got := packageName("# comment only\n"); got != "zonecraft.policies" {
		t.Errorf("default packageName = %q", got)
	}
}
