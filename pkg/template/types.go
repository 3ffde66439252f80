// Package template loads, normalizes, and serializes zone templates.
//
// Templates are YAML documents describing the desired record set for a
// domain, plus the variables and per-environment overrides used to
// render it. Several historical shapes are accepted on load; the
// canonical form groups records by type and keeps variables as flat
// scalars.
package template

import (
	"fmt"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Metadata describes the template itself.
type Metadata struct {
	Name        string   `yaml:"name,omitempty" json:"name,omitempty"`
	Version     string   `yaml:"version" json:"version" validate:"required"`
	Description string   `yaml:"description,omitempty" json:"description,omitempty"`
	Author      string   `yaml:"author,omitempty" json:"author,omitempty"`
	Tags        []string `yaml:"tags,omitempty" json:"tags,omitempty"`
}

// Record is a single desired DNS record as authored in a template.
// Value, Name, and Condition may contain ${variable} references until
// the template is resolved.
type Record struct {
	// ID is the template-local identifier referenced by depends_on.
	ID        string     `yaml:"id,omitempty" json:"id,omitempty"`
	Type      string     `yaml:"type,omitempty" json:"type,omitempty"`
	Name      string     `yaml:"name" json:"name"`
	Value     string     `yaml:"value" json:"value"`
	TTL       Scalar     `yaml:"ttl,omitempty" json:"ttl,omitempty"`
	Priority  *int       `yaml:"priority,omitempty" json:"priority,omitempty"`
	Weight    *int       `yaml:"weight,omitempty" json:"weight,omitempty"`
	Port      *int       `yaml:"port,omitempty" json:"port,omitempty"`
	DependsOn StringList `yaml:"depends_on,omitempty" json:"depends_on,omitempty"`

	// Condition is an optional expression; when it evaluates to false
	// the record is dropped during resolution.
	Condition   string `yaml:"condition,omitempty" json:"condition,omitempty"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
}

// Scalar is a YAML scalar kept in string form so that values like
// "${ttl}" survive loading and can be substituted later. Numeric
// scalars round-trip as numbers on output.
type Scalar string

// UnmarshalYAML implements yaml.Unmarshaler.
func (s *Scalar) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: expected scalar", node.Line)
	}
	*s = Scalar(node.Value)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (s Scalar) MarshalYAML() (interface{}, error) {
	if n, err := strconv.Atoi(string(s)); err == nil {
		return n, nil
	}
	return string(s), nil
}

// Int parses the scalar as a base-10 integer.
func (s Scalar) Int() (int, error) {
	return strconv.Atoi(string(s))
}

// String returns the raw scalar text.
func (s Scalar) String() string { return string(s) }

// IsZero reports whether the scalar is unset.
func (s Scalar) IsZero() bool { return s == "" }

// StringList accepts either a YAML scalar or a sequence of scalars.
type StringList []string

// UnmarshalYAML implements yaml.Unmarshaler.
func (s *StringList) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		var single string
		if err := node.Decode(&single); err != nil {
			return err
		}
		*s = StringList{single}
		return nil
	case yaml.SequenceNode:
		var many []string
		if err := node.Decode(&many); err != nil {
			return err
		}
		*s = StringList(many)
		return nil
	}
	return fmt.Errorf("line %d: expected scalar or sequence", node.Line)
}

// BackupSettings control snapshot capture around mutating runs.
type BackupSettings struct {
	Enabled       bool   `yaml:"enabled" json:"enabled"`
	Directory     string `yaml:"directory,omitempty" json:"directory,omitempty"`
	RetentionDays int    `yaml:"retention_days,omitempty" json:"retention_days,omitempty"`
}

// RollbackSettings control restore behavior after failed runs.
type RollbackSettings struct {
	Enabled    bool `yaml:"enabled" json:"enabled"`
	Automatic  bool `yaml:"automatic" json:"automatic"`
	MaxChanges int  `yaml:"max_changes,omitempty" json:"max_changes,omitempty"`
}

// ValidationSettings tune record validation.
type ValidationSettings struct {
	Strict       bool `yaml:"strict" json:"strict"`
	TTLMin       int  `yaml:"ttl_min,omitempty" json:"ttl_min,omitempty"`
	TTLMax       int  `yaml:"ttl_max,omitempty" json:"ttl_max,omitempty"`
	MaxTXTLength int  `yaml:"max_txt_length,omitempty" json:"max_txt_length,omitempty"`
}

// Settings holds the optional per-template operational settings.
type Settings struct {
	Backup     BackupSettings     `yaml:"backup,omitempty" json:"backup,omitempty"`
	Rollback   RollbackSettings   `yaml:"rollback,omitempty" json:"rollback,omitempty"`
	Validation ValidationSettings `yaml:"validation,omitempty" json:"validation,omitempty"`
}

// Environment is a named overlay of variable overrides and additional
// or overriding records.
type Environment struct {
	Variables map[string]string   `yaml:"variables,omitempty" json:"variables,omitempty"`
	Records   map[string][]Record `yaml:"records,omitempty" json:"records,omitempty"`
}

// Template is the canonical in-memory form of a zone template.
type Template struct {
	// Path is the file the template was loaded from, if any.
	Path string `yaml:"-" json:"-"`

	Metadata Metadata `yaml:"metadata" json:"metadata" validate:"required"`

	// Inherit lists parent template files, resolved relative to Path
	// and applied base-first. Later parents override earlier ones; the
	// child overrides all parents.
	Inherit StringList `yaml:"inherit,omitempty" json:"inherit,omitempty"`

	// Variables are flat name to scalar mappings. Compat shapes such as
	// {value: ..., description: ...} wrappers are flattened on load.
	Variables map[string]string `yaml:"variables,omitempty" json:"variables,omitempty"`

	// Records groups desired records by DNS type (A, AAAA, MX, ...).
	Records map[string][]Record `yaml:"records" json:"records"`

	Environments map[string]Environment `yaml:"environments,omitempty" json:"environments,omitempty"`
	Settings     Settings               `yaml:"settings,omitempty" json:"settings,omitempty"`

	// settingsSet records which settings sections the document carried,
	// which matters for inherit merging and defaulting.
	settingsSet settingsPresence
}

// settingsPresence marks the settings sections a document wrote itself.
type settingsPresence struct {
	backup     bool
	rollback   bool
	validation bool
}

// DefaultSettings returns the settings applied when a template omits them.
func DefaultSettings() Settings {
	return Settings{
		Backup: BackupSettings{
			Enabled:       true,
			RetentionDays: 30,
		},
		Rollback: RollbackSettings{
			Enabled:   true,
			Automatic: false,
		},
		Validation: ValidationSettings{
			Strict:       false,
			TTLMin:       60,
			TTLMax:       86400,
			MaxTXTLength: 2048,
		},
	}
}

// RecordCount returns the total number of records across all types.
func (t *Template) RecordCount() int {
	n := 0
	for _, recs := range t.Records {
		n += len(recs)
	}
	return n
}

// EnvironmentNames returns the defined environment names.
func (t *Template) EnvironmentNames() []string {
	names := make([]string, 0, len(t.Environments))
	for name := range t.Environments {
		names = append(names, name)
	}
	return names
}

// Clone returns a deep copy of the template.
func (t *Template) Clone() *Template {
	out := &Template{
		Path:             t.Path,
		Metadata:         t.Metadata,
		Inherit:          append(StringList(nil), t.Inherit...),
		Settings:         t.Settings,
		settingsSet:      t.settingsSet,
	}
	if t.Variables != nil {
		out.Variables = make(map[string]string, len(t.Variables))
		for k, v := range t.Variables {
			out.Variables[k] = v
		}
	}
	if t.Records != nil {
		out.Records = make(map[string][]Record, len(t.Records))
		for typ, recs := range t.Records {
			cp := make([]Record, len(recs))
			copy(cp, recs)
			for i := range cp {
				cp[i].DependsOn = append(StringList(nil), recs[i].DependsOn...)
				if recs[i].Priority != nil {
					p := *recs[i].Priority
					cp[i].Priority = &p
				}
				if recs[i].Weight != nil {
					w := *recs[i].Weight
					cp[i].Weight = &w
				}
				if recs[i].Port != nil {
					pt := *recs[i].Port
					cp[i].Port = &pt
				}
			}
			out.Records[typ] = cp
		}
	}
	if t.Environments != nil {
		out.Environments = make(map[string]Environment, len(t.Environments))
		for name, env := range t.Environments {
			vars := make(map[string]string, len(env.Variables))
			for k, v := range env.Variables {
				vars[k] = v
			}
			var recs map[string][]Record
			if env.Records != nil {
				recs = make(map[string][]Record, len(env.Records))
				for typ, rr := range env.Records {
					cp := make([]Record, len(rr))
					copy(cp, rr)
					recs[typ] = cp
				}
			}
			out.Environments[name] = Environment{Variables: vars, Records: recs}
		}
	}
	return out
}
