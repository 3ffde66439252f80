package variables

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/zonecraft/zonecraft/pkg/engine"
	"github.com/zonecraft/zonecraft/pkg/template"
)

const managerDoc = `
metadata:
  name: managed
  version: 1.0.0

variables:
  domain: example.com
  ttl: 3600
  owner: platform

records:
  A:
    - id: apex
      name: "@"
      value: 203.0.113.10

environments:
  staging:
    variables:
      ttl: 60
`

func managedTemplate(t *testing.T) (string, *Manager) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "managed.yaml")
	if err := os.WriteFile(path, []byte(managerDoc), 0o644); err != nil {
		t.Fatal(err)
	}
	return path, NewManager(template.NewLoader())
}

func TestManager_SetAndGet(t *testing.T) {
	path, mgr := managedTemplate(t)

	if err := mgr.Set(path, "", "region", "eu-west-1"); err != nil {
		t.Fatalf("set failed: %v", err)
	}

	got, err := mgr.Get(path, "", "region")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got != "eu-west-1" {
		t.Errorf("expected eu-west-1, got %q", got)
	}
}

func TestManager_SetEnvironmentScope(t *testing.T) {
	path, mgr := managedTemplate(t)

	if err := mgr.Set(path, "staging", "ttl", "120"); err != nil {
		t.Fatalf("set failed: %v", err)
	}

	// Environment scope shadows global on read.
	got, err := mgr.Get(path, "staging", "ttl")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got != "120" {
		t.Errorf("expected staging ttl 120, got %q", got)
	}

	global, err := mgr.Get(path, "", "ttl")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if global != "3600" {
		t.Errorf("global ttl should be untouched, got %q", global)
	}
}

func TestManager_SetUnknownEnvironment(t *testing.T) {
	path, mgr := managedTemplate(t)
	err := mgr.Set(path, "production", "ttl", "120")
	if !engine.HasCode(err, engine.ErrCodeNotFound) {
		t.Errorf("unknown environment should be NOT_FOUND, got %v", err)
	}
}

func TestManager_RemoveBuiltinIsRejected(t *testing.T) {
	path, mgr := managedTemplate(t)

	for _, name := range []string{"domain", "ttl"} {
		err := mgr.Remove(path, "", name)
		if !engine.HasCode(err, engine.ErrCodeValidation) {
			t.Errorf("removing built-in %s should fail, got %v", name, err)
		}
	}

	// Environment overrides of built-ins may be removed.
	if err := mgr.Remove(path, "staging", "ttl"); err != nil {
		t.Errorf("removing an environment override should work, got %v", err)
	}
}

func TestManager_RemoveAndGetMissing(t *testing.T) {
	path, mgr := managedTemplate(t)

	if err := mgr.Remove(path, "", "owner"); err != nil {
		t.Fatalf("remove failed: %v", err)
	}
	_, err := mgr.Get(path, "", "owner")
	if !engine.HasCode(err, engine.ErrCodeNotFound) {
		t.Errorf("removed variable should be NOT_FOUND, got %v", err)
	}

	err = mgr.Remove(path, "", "owner")
	if !engine.HasCode(err, engine.ErrCodeNotFound) {
		t.Errorf("double remove should be NOT_FOUND, got %v", err)
	}
}

func TestManager_List(t *testing.T) {
	path, mgr := managedTemplate(t)

	entries, err := mgr.List(path, "staging")
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}

	if len(entries) != 4 {
		t.Fatalf("expected 3 global + 1 staging entries, got %d", len(entries))
	}
	// Global scope comes first, sorted by name.
	if entries[0].Name != "domain" || entries[0].Scope != "global" {
		t.Errorf("unexpected first entry: %+v", entries[0])
	}
	last := entries[len(entries)-1]
	if last.Scope != "environment:staging" || last.Name != "ttl" {
		t.Errorf("unexpected last entry: %+v", last)
	}
}

func TestManager_SetPreservesInheritChain(t *testing.T) {
	dir := t.TempDir()
	base := `
metadata:
  name: base
  version: 1.0.0

variables:
  domain: example.com
  ttl: 3600

records:
  A:
    - id: apex
      name: "@"
      value: 203.0.113.10
`
	child := `
metadata:
  name: child
  version: 1.0.0

inherit: [base.yaml]

variables:
  ttl: 300

records: {}
`
	if err := os.WriteFile(filepath.Join(dir, "base.yaml"), []byte(base), 0o644); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, "child.yaml")
	if err := os.WriteFile(path, []byte(child), 0o644); err != nil {
		t.Fatal(err)
	}

	mgr := NewManager(template.NewLoader())
	if err := mgr.Set(path, "", "region", "eu-west-1"); err != nil {
		t.Fatalf("set failed: %v", err)
	}

	// The child file keeps its inherit link instead of being rewritten
	// as the flattened merge.
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "inherit:") {
		t.Fatalf("inherit section lost on write-back:\n%s", data)
	}
	if strings.Contains(string(data), "203.0.113.10") {
		t.Errorf("parent records flattened into the child:\n%s", data)
	}

	// Resolution still sees both the new variable and the parent.
	tpl, err := template.NewLoader().Load(path)
	if err != nil {
		t.Fatalf("child does not load after write-back: %v", err)
	}
	if tpl.Variables["region"] != "eu-west-1" {
		t.Errorf("saved value missing after reload: %v", tpl.Variables)
	}
	if len(tpl.Records["A"]) != 1 {
		t.Errorf("inherited records lost: %v", tpl.Records)
	}
}

func TestManager_WritesSurviveReload(t *testing.T) {
	path, mgr := managedTemplate(t)

	if err := mgr.Set(path, "", "region", "eu-west-1"); err != nil {
		t.Fatalf("set failed: %v", err)
	}

	// The rewritten file must still be a loadable canonical template.
	tpl, err := template.NewLoader().Load(path)
	if err != nil {
		t.Fatalf("saved template does not load: %v", err)
	}
	if tpl.Variables["region"] != "eu-west-1" {
		t.Errorf("saved value missing after reload: %v", tpl.Variables)
	}
	if len(tpl.Records["A"]) != 1 {
		t.Errorf("records lost on rewrite: %v", tpl.Records)
	}
}
