package template

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/zonecraft/zonecraft/pkg/engine"
)

const canonicalDoc = `
metadata:
  name: webshop
  version: 1.0.0

variables:
  domain: example.com
  ttl: 3600

records:
  A:
    - id: apex
      name: "@"
      value: 203.0.113.10
      ttl: ${ttl}
  CNAME:
    - id: www
      name: www
      value: ${domain}
      depends_on: [apex]
`

func writeTemplate(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoader_CanonicalShape(t *testing.T) {
	dir := t.TempDir()
	path := writeTemplate(t, dir, "webshop.yaml", canonicalDoc)

	tpl, err := NewLoader().Load(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if tpl.Metadata.Version != "1.0.0" {
		t.Errorf("expected version 1.0.0, got %q", tpl.Metadata.Version)
	}
	if got := tpl.Variables["domain"]; got != "example.com" {
		t.Errorf("expected domain variable, got %q", got)
	}
	if len(tpl.Records["A"]) != 1 || len(tpl.Records["CNAME"]) != 1 {
		t.Fatalf("unexpected record groups: %v", tpl.Records)
	}

	// Templated TTL survives loading as a string scalar.
	if got := tpl.Records["A"][0].TTL.String(); got != "${ttl}" {
		t.Errorf("expected ttl placeholder preserved, got %q", got)
	}
	if tpl.Records["A"][0].Type != "A" {
		t.Errorf("group key should stamp the type, got %q", tpl.Records["A"][0].Type)
	}
}

func TestLoader_WrappedVariablesCompat(t *testing.T) {
	doc := `
metadata:
  name: legacy
  version: 1.0.0

custom_vars:
  ttl:
    value: 300
    description: short ttl for testing

records:
  A:
    - id: apex
      name: "@"
      value: 203.0.113.10
`
	dir := t.TempDir()
	tpl, err := NewLoader().Load(writeTemplate(t, dir, "legacy.yaml", doc))
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if got := tpl.Variables["ttl"]; got != "300" {
		t.Errorf("wrapped variable should flatten to its value, got %q", got)
	}
}

func TestLoader_PurposeGroupRequiresExplicitType(t *testing.T) {
	valid := `
metadata:
  name: grouped
  version: 1.0.0

records:
  mail:
    - id: mx1
      type: MX
      name: "@"
      value: mail.example.com
      priority: 10
`
	dir := t.TempDir()
	tpl, err := NewLoader().Load(writeTemplate(t, dir, "grouped.yaml", valid))
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if len(tpl.Records["MX"]) != 1 {
		t.Fatalf("purpose group should regroup by type, got %v", tpl.Records)
	}

	invalid := strings.Replace(valid, "      type: MX\n", "", 1)
	_, err = NewLoader().Load(writeTemplate(t, dir, "bad.yaml", invalid))
	if !engine.HasCode(err, engine.ErrCodeSchema) {
		t.Errorf("typeless entry in purpose group should be a schema error, got %v", err)
	}
}

func TestLoader_MissingVersionIsSchemaError(t *testing.T) {
	doc := `
metadata:
  name: incomplete

records:
  A:
    - id: apex
      name: "@"
      value: 203.0.113.10
`
	dir := t.TempDir()
	_, err := NewLoader().Load(writeTemplate(t, dir, "incomplete.yaml", doc))
	if !engine.HasCode(err, engine.ErrCodeSchema) {
		t.Errorf("missing metadata.version should be a schema error, got %v", err)
	}
}

func TestLoader_MalformedYAMLIsParseError(t *testing.T) {
	dir := t.TempDir()
	_, err := NewLoader().Load(writeTemplate(t, dir, "broken.yaml", "metadata: [unclosed"))
	if !engine.HasCode(err, engine.ErrCodeParse) {
		t.Errorf("malformed yaml should be a parse error, got %v", err)
	}
}

func TestLoader_MissingFileIsNotFound(t *testing.T) {
	_, err := NewLoader().Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if !engine.HasCode(err, engine.ErrCodeNotFound) {
		t.Errorf("expected NOT_FOUND, got %v", err)
	}
}

func TestLoader_InheritMergesBaseFirst(t *testing.T) {
	base := `
metadata:
  name: base
  version: 1.0.0

variables:
  ttl: 3600
  domain: example.com

records:
  A:
    - id: apex
      name: "@"
      value: 203.0.113.10
      ttl: 3600
`
	child := `
metadata:
  name: child
  version: 2.0.0

inherit: [base.yaml]

variables:
  ttl: 300

records:
  A:
    - id: apex
      name: "@"
      value: 198.51.100.1
      ttl: 300
  TXT:
    - id: spf
      name: "@"
      value: "v=spf1 -all"
`
	dir := t.TempDir()
	writeTemplate(t, dir, "base.yaml", base)
	tpl, err := NewLoader().Load(writeTemplate(t, dir, "child.yaml", child))
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if tpl.Metadata.Name != "child" || tpl.Metadata.Version != "2.0.0" {
		t.Errorf("child metadata should win, got %+v", tpl.Metadata)
	}
	if got := tpl.Variables["ttl"]; got != "300" {
		t.Errorf("child variable should override, got %q", got)
	}
	if got := tpl.Variables["domain"]; got != "example.com" {
		t.Errorf("base variable should survive, got %q", got)
	}

	// Matching id replaces, new records append.
	if len(tpl.Records["A"]) != 1 {
		t.Fatalf("apex should be replaced, not duplicated: %v", tpl.Records["A"])
	}
	if tpl.Records["A"][0].Value != "198.51.100.1" {
		t.Errorf("child record should win, got %q", tpl.Records["A"][0].Value)
	}
	if len(tpl.Records["TXT"]) != 1 {
		t.Errorf("child TXT record should be added, got %v", tpl.Records["TXT"])
	}
	if len(tpl.Inherit) != 0 {
		t.Errorf("inherit list should be consumed, got %v", tpl.Inherit)
	}
}

func TestLoader_InheritLaterParentsOverrideEarlier(t *testing.T) {
	first := `
metadata:
  name: first
  version: 1.0.0

variables:
  ttl: 3600

records:
  A:
    - id: apex
      name: "@"
      value: 203.0.113.10
`
	second := `
metadata:
  name: second
  version: 1.0.0

variables:
  ttl: 600

records:
  A:
    - id: apex
      name: "@"
      value: 203.0.113.20
`
	child := `
metadata:
  name: child
  version: 1.0.0

inherit: [first.yaml, second.yaml]

records: {}
`
	dir := t.TempDir()
	writeTemplate(t, dir, "first.yaml", first)
	writeTemplate(t, dir, "second.yaml", second)
	tpl, err := NewLoader().Load(writeTemplate(t, dir, "child.yaml", child))
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if got := tpl.Variables["ttl"]; got != "600" {
		t.Errorf("later parent should override earlier, got ttl=%q", got)
	}
	if tpl.Records["A"][0].Value != "203.0.113.20" {
		t.Errorf("later parent record should win, got %q", tpl.Records["A"][0].Value)
	}
}

func TestLoader_InheritCycleDetected(t *testing.T) {
	a := `
metadata:
  name: a
  version: 1.0.0

inherit: [b.yaml]

records: {}
`
	b := `
metadata:
  name: b
  version: 1.0.0

inherit: [a.yaml]

records: {}
`
	dir := t.TempDir()
	writeTemplate(t, dir, "a.yaml", a)
	path := writeTemplate(t, dir, "b.yaml", b)

	_, err := NewLoader().Load(path)
	if !engine.HasCode(err, engine.ErrCodeSchema) {
		t.Fatalf("inherit cycle should be a schema error, got %v", err)
	}
	if !strings.Contains(err.Error(), "cycle") {
		t.Errorf("error should mention the cycle, got %v", err)
	}
}

func TestLoader_EnvironmentRecordsAndVariables(t *testing.T) {
	doc := `
metadata:
  name: env
  version: 1.0.0

variables:
  ttl: 3600

records:
  A:
    - id: apex
      name: "@"
      value: 203.0.113.10

environments:
  staging:
    variables:
      ttl: 60
    records:
      TXT:
        - id: marker
          name: _env
          value: staging
`
	dir := t.TempDir()
	tpl, err := NewLoader().Load(writeTemplate(t, dir, "env.yaml", doc))
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	env, ok := tpl.Environments["staging"]
	if !ok {
		t.Fatal("staging environment missing")
	}
	if got := env.Variables["ttl"]; got != "60" {
		t.Errorf("expected staging ttl override 60, got %q", got)
	}
	if len(env.Records["TXT"]) != 1 {
		t.Errorf("expected staging TXT overlay, got %v", env.Records)
	}
}

func TestLoader_SettingsDefaults(t *testing.T) {
	dir := t.TempDir()
	tpl, err := NewLoader().Load(writeTemplate(t, dir, "webshop.yaml", canonicalDoc))
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	s := tpl.Settings
	if !s.Backup.Enabled || s.Backup.RetentionDays != 30 {
		t.Errorf("unexpected backup defaults: %+v", s.Backup)
	}
	if s.Validation.TTLMin != 60 || s.Validation.TTLMax != 86400 {
		t.Errorf("unexpected validation defaults: %+v", s.Validation)
	}
}

func TestLoader_PartialSettingsKeepOtherSectionDefaults(t *testing.T) {
	doc := `
metadata:
  name: strictzone
  version: 1.0.0

records:
  A:
    - id: apex
      name: "@"
      value: 203.0.113.10

settings:
  validation:
    strict: true
`
	dir := t.TempDir()
	tpl, err := NewLoader().Load(writeTemplate(t, dir, "strictzone.yaml", doc))
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if !tpl.Settings.Validation.Strict {
		t.Error("strict setting should survive loading")
	}
	// Writing one section must not zero the others.
	if !tpl.Settings.Backup.Enabled {
		t.Errorf("backup defaults lost: %+v", tpl.Settings.Backup)
	}
	if !tpl.Settings.Rollback.Enabled {
		t.Errorf("rollback defaults lost: %+v", tpl.Settings.Rollback)
	}
}

func TestLoader_LoadLocalKeepsInheritChain(t *testing.T) {
	base := `
metadata:
  name: base
  version: 1.0.0

variables:
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
	dir := t.TempDir()
	writeTemplate(t, dir, "base.yaml", base)
	path := writeTemplate(t, dir, "child.yaml", child)

	tpl, err := NewLoader().LoadLocal(path)
	if err != nil {
		t.Fatalf("local load failed: %v", err)
	}

	if len(tpl.Inherit) != 1 || tpl.Inherit[0] != "base.yaml" {
		t.Errorf("inherit chain should be preserved, got %v", tpl.Inherit)
	}
	if len(tpl.Records["A"]) != 0 {
		t.Errorf("parent records must not be merged in, got %v", tpl.Records["A"])
	}
	if got := tpl.Variables["ttl"]; got != "300" {
		t.Errorf("child variables should be untouched, got %q", got)
	}

	// Saving the local form round-trips without flattening.
	if err := Save(tpl, path); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	again, err := NewLoader().Load(path)
	if err != nil {
		t.Fatalf("saved child should still resolve its parent: %v", err)
	}
	if len(again.Records["A"]) != 1 {
		t.Errorf("resolved child lost inherited records: %v", again.Records)
	}
}

func TestMarshal_CanonicalRoundTrip(t *testing.T) {
	dir := t.TempDir()
	tpl, err := NewLoader().Load(writeTemplate(t, dir, "webshop.yaml", canonicalDoc))
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	data, err := Marshal(tpl)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	again, err := NewLoader().Parse(data, dir)
	if err != nil {
		t.Fatalf("canonical output should load cleanly: %v", err)
	}
	if again.RecordCount() != tpl.RecordCount() {
		t.Errorf("round trip changed record count: %d -> %d", tpl.RecordCount(), again.RecordCount())
	}
}
