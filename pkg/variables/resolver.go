// Package variables merges variable scopes and substitutes ${name}
// references throughout a template, producing the fully resolved copy
// the validator and diff engine consume.
package variables

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/zonecraft/zonecraft/pkg/engine"
	"github.com/zonecraft/zonecraft/pkg/template"
)

// maxDepth bounds recursive substitution. A chain deeper than this is
// treated as a reference cycle.
const maxDepth = 10

var tokenPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_.-]*)\}`)

// Resolved is the output of a resolution pass.
type Resolved struct {
	// Template is a deep copy of the input with every ${name} token
	// replaced and false-conditioned records removed. The input is
	// never mutated.
	Template *template.Template

	// Values is the flat merged variable table after expansion.
	Values map[string]string
}

// Resolver substitutes variables and evaluates record conditions.
type Resolver struct {
	conditions *ConditionEvaluator
}

// NewResolver creates a resolver.
func NewResolver() *Resolver {
	return &Resolver{conditions: NewConditionEvaluator()}
}

// Resolve merges global variables, the named environment's overrides,
// and caller overrides (highest precedence), then substitutes every
// string field in records and settings. env may be empty; overrides may
// be nil.
func (r *Resolver) Resolve(tpl *template.Template, env string, overrides map[string]string) (*Resolved, error) {
	table := make(map[string]string, len(tpl.Variables))
	for k, v := range tpl.Variables {
		table[k] = v
	}

	out := tpl.Clone()

	if env != "" {
		envDef, ok := tpl.Environments[env]
		if !ok {
			return nil, engine.NewError(engine.ErrCodeNotFound,
				fmt.Sprintf("environment %q is not defined in template", env))
		}
		for k, v := range envDef.Variables {
			table[k] = v
		}
		out.Records = template.OverlayRecords(out.Records, envDef.Records)
	}
	for k, v := range overrides {
		table[k] = v
	}

	values, err := expandTable(table)
	if err != nil {
		return nil, err
	}

	for typ, recs := range out.Records {
		kept := recs[:0]
		for i := range recs {
			rec := recs[i]
			path := fmt.Sprintf("records.%s[%d]", typ, i)
			if err := substituteRecord(&rec, values, path); err != nil {
				return nil, err
			}
			if rec.Condition != "" {
				keep, err := r.conditions.Eval(rec.Condition, values)
				if err != nil {
					return nil, engine.NewError(engine.ErrCodeValidation, err.Error()).WithPath(path + ".condition")
				}
				if !keep {
					continue
				}
			}
			kept = append(kept, rec)
		}
		if len(kept) == 0 {
			delete(out.Records, typ)
			continue
		}
		out.Records[typ] = kept
	}

	if out.Settings.Backup.Directory != "" {
		dir, err := substitute(out.Settings.Backup.Directory, values, "settings.backup.directory")
		if err != nil {
			return nil, err
		}
		out.Settings.Backup.Directory = dir
	}

	out.Variables = values
	return &Resolved{Template: out, Values: values}, nil
}

// expandTable resolves references between variables themselves, so that
// a variable's value may mention other variables.
func expandTable(table map[string]string) (map[string]string, error) {
	resolved := make(map[string]string, len(table))

	var expand func(name string, stack []string) (string, error)
	expand = func(name string, stack []string) (string, error) {
		if v, ok := resolved[name]; ok {
			return v, nil
		}
		for _, seen := range stack {
			if seen == name {
				cycle := strings.Join(append(stack, name), " -> ")
				return "", engine.NewError(engine.ErrCodeCircularReference,
					"circular variable reference: "+cycle)
			}
		}
		if len(stack) >= maxDepth {
			return "", engine.NewError(engine.ErrCodeCircularReference,
				fmt.Sprintf("variable %q exceeds substitution depth %d", name, maxDepth))
		}
		raw, ok := table[name]
		if !ok {
			return "", engine.NewError(engine.ErrCodeUndefinedVariable,
				fmt.Sprintf("undefined variable ${%s}", name))
		}
		stack = append(stack, name)
		var tokenErr error
		val := tokenPattern.ReplaceAllStringFunc(raw, func(tok string) string {
			inner := tokenPattern.FindStringSubmatch(tok)[1]
			v, err := expand(inner, stack)
			if err != nil {
				if tokenErr == nil {
					tokenErr = err
				}
				return tok
			}
			return v
		})
		if tokenErr != nil {
			return "", tokenErr
		}
		resolved[name] = val
		return val, nil
	}

	// Deterministic iteration keeps error messages stable.
	names := make([]string, 0, len(table))
	for name := range table {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if _, err := expand(name, nil); err != nil {
			if e, ok := err.(*engine.Error); ok {
				return nil, e.WithPath("variables." + name)
			}
			return nil, err
		}
	}
	return resolved, nil
}

// substitute replaces every token in s from the resolved table. Unknown
// tokens fail naming the token and its field path.
func substitute(s string, values map[string]string, path string) (string, error) {
	var tokenErr error
	out := tokenPattern.ReplaceAllStringFunc(s, func(tok string) string {
		name := tokenPattern.FindStringSubmatch(tok)[1]
		v, ok := values[name]
		if !ok {
			if tokenErr == nil {
				tokenErr = engine.NewError(engine.ErrCodeUndefinedVariable,
					fmt.Sprintf("undefined variable ${%s}", name)).WithPath(path)
			}
			return tok
		}
		return v
	})
	if tokenErr != nil {
		return "", tokenErr
	}
	return out, nil
}

func substituteRecord(rec *template.Record, values map[string]string, path string) error {
	var err error
	if rec.Name, err = substitute(rec.Name, values, path+".name"); err != nil {
		return err
	}
	if rec.Value, err = substitute(rec.Value, values, path+".value"); err != nil {
		return err
	}
	if !rec.TTL.IsZero() {
		ttl, err := substitute(rec.TTL.String(), values, path+".ttl")
		if err != nil {
			return err
		}
		rec.TTL = template.Scalar(ttl)
	}
	if rec.Description != "" {
		if rec.Description, err = substitute(rec.Description, values, path+".description"); err != nil {
			return err
		}
	}
	if rec.Condition != "" {
		if rec.Condition, err = substitute(rec.Condition, values, path+".condition"); err != nil {
			return err
		}
	}
	return nil
}
