package variables

import (
	"strings"
	"testing"

	"github.com/zonecraft/zonecraft/pkg/engine"
	"github.com/zonecraft/zonecraft/pkg/template"
)

func baseTemplate() *template.Template {
	return &template.Template{
		Metadata: template.Metadata{Name: "test", Version: "1.0.0"},
		Variables: map[string]string{
			"domain": "example.com",
			"ttl":    "3600",
			"target": "web.${domain}",
		},
		Records: map[string][]template.Record{
			"A": {
				{ID: "apex", Name: "@", Value: "203.0.113.10", TTL: "${ttl}"},
			},
			"CNAME": {
				{ID: "www", Name: "www", Value: "${target}", DependsOn: []string{"apex"}},
			},
		},
		Environments: map[string]template.Environment{
			"staging": {
				Variables: map[string]string{"ttl": "60"},
			},
		},
	}
}

func TestResolver_SubstitutesNestedReferences(t *testing.T) {
	res, err := NewResolver().Resolve(baseTemplate(), "", nil)
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}

	if got := res.Values["target"]; got != "web.example.com" {
		t.Errorf("nested reference should expand, got %q", got)
	}
	if got := res.Template.Records["CNAME"][0].Value; got != "web.example.com" {
		t.Errorf("record value should be substituted, got %q", got)
	}
	if got := res.Template.Records["A"][0].TTL.String(); got != "3600" {
		t.Errorf("ttl placeholder should resolve, got %q", got)
	}
}

func TestResolver_DoesNotMutateInput(t *testing.T) {
	tpl := baseTemplate()
	if _, err := NewResolver().Resolve(tpl, "", nil); err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if got := tpl.Records["A"][0].TTL.String(); got != "${ttl}" {
		t.Errorf("input template was mutated: ttl=%q", got)
	}
}

func TestResolver_EnvironmentOverrides(t *testing.T) {
	res, err := NewResolver().Resolve(baseTemplate(), "staging", nil)
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if got := res.Template.Records["A"][0].TTL.String(); got != "60" {
		t.Errorf("staging ttl should apply, got %q", got)
	}
}

func TestResolver_UnknownEnvironment(t *testing.T) {
	_, err := NewResolver().Resolve(baseTemplate(), "production", nil)
	if !engine.HasCode(err, engine.ErrCodeNotFound) {
		t.Errorf("unknown environment should be NOT_FOUND, got %v", err)
	}
}

func TestResolver_CallerOverridesWin(t *testing.T) {
	res, err := NewResolver().Resolve(baseTemplate(), "staging", map[string]string{"ttl": "15"})
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	// Overrides beat both global and environment values.
	if got := res.Values["ttl"]; got != "15" {
		t.Errorf("override should win, got %q", got)
	}
}

func TestResolver_UndefinedVariable(t *testing.T) {
	tpl := baseTemplate()
	tpl.Records["A"][0].Value = "${missing}"

	_, err := NewResolver().Resolve(tpl, "", nil)
	if !engine.HasCode(err, engine.ErrCodeUndefinedVariable) {
		t.Fatalf("expected UNDEFINED_VARIABLE, got %v", err)
	}
	if !strings.Contains(err.Error(), "missing") {
		t.Errorf("error should name the variable, got %v", err)
	}
}

func TestResolver_CircularReference(t *testing.T) {
	tpl := baseTemplate()
	tpl.Variables["a"] = "${b}"
	tpl.Variables["b"] = "${a}"

	_, err := NewResolver().Resolve(tpl, "", nil)
	if !engine.HasCode(err, engine.ErrCodeCircularReference) {
		t.Fatalf("expected CIRCULAR_REFERENCE, got %v", err)
	}
	if !strings.Contains(err.Error(), "a -> b -> a") && !strings.Contains(err.Error(), "b -> a -> b") {
		t.Errorf("error should show the chain, got %v", err)
	}
}

func TestResolver_SelfReference(t *testing.T) {
	tpl := baseTemplate()
	tpl.Variables["loop"] = "prefix-${loop}"

	_, err := NewResolver().Resolve(tpl, "", nil)
	if !engine.HasCode(err, engine.ErrCodeCircularReference) {
		t.Errorf("self reference should be CIRCULAR_REFERENCE, got %v", err)
	}
}

func TestResolver_ConditionFiltersRecords(t *testing.T) {
	tpl := baseTemplate()
	tpl.Variables["enable_beta"] = "false"
	tpl.Records["TXT"] = []template.Record{
		{ID: "beta", Name: "beta", Value: "on", Condition: "enable_beta"},
		{ID: "always", Name: "always", Value: "on"},
	}

	res, err := NewResolver().Resolve(tpl, "", nil)
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}

	txt := res.Template.Records["TXT"]
	if len(txt) != 1 || txt[0].ID != "always" {
		t.Errorf("false condition should drop the record, got %v", txt)
	}

	res, err = NewResolver().Resolve(tpl, "", map[string]string{"enable_beta": "true"})
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if len(res.Template.Records["TXT"]) != 2 {
		t.Errorf("true condition should keep the record, got %v", res.Template.Records["TXT"])
	}
}

func TestResolver_ConditionExpression(t *testing.T) {
	tpl := baseTemplate()
	tpl.Records["TXT"] = []template.Record{
		{ID: "big", Name: "big", Value: "on", Condition: "ttl > 600"},
	}

	res, err := NewResolver().Resolve(tpl, "", nil)
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if len(res.Template.Records["TXT"]) != 1 {
		t.Error("ttl 3600 > 600 should keep the record")
	}

	res, err = NewResolver().Resolve(tpl, "staging", nil)
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if len(res.Template.Records["TXT"]) != 0 {
		t.Error("ttl 60 > 600 is false, record should be dropped")
	}
}

func TestResolver_BrokenConditionIsValidationError(t *testing.T) {
	tpl := baseTemplate()
	tpl.Records["TXT"] = []template.Record{
		{ID: "bad", Name: "bad", Value: "x", Condition: "ttl +"},
	}

	_, err := NewResolver().Resolve(tpl, "", nil)
	if !engine.HasCode(err, engine.ErrCodeValidation) {
		t.Errorf("unparseable condition should be VALIDATION_ERROR, got %v", err)
	}
}

func TestResolver_EnvironmentRecordOverlay(t *testing.T) {
	tpl := baseTemplate()
	env := tpl.Environments["staging"]
	env.Records = map[string][]template.Record{
		"TXT": {{ID: "marker", Name: "_env", Value: "staging"}},
	}
	tpl.Environments["staging"] = env

	res, err := NewResolver().Resolve(tpl, "staging", nil)
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if len(res.Template.Records["TXT"]) != 1 {
		t.Errorf("environment records should overlay, got %v", res.Template.Records)
	}
}

func TestResolver_Idempotent(t *testing.T) {
	res, err := NewResolver().Resolve(baseTemplate(), "", nil)
	if err != nil {
		t.Fatalf("first resolve failed: %v", err)
	}
	again, err := NewResolver().Resolve(res.Template, "", nil)
	if err != nil {
		t.Fatalf("second resolve failed: %v", err)
	}
	if again.Template.Records["CNAME"][0].Value != res.Template.Records["CNAME"][0].Value {
		t.Error("resolving a resolved template should change nothing")
	}
}
