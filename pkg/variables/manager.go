package variables

import (
	"fmt"
	"sort"

	"github.com/zonecraft/zonecraft/pkg/engine"
	"github.com/zonecraft/zonecraft/pkg/template"
)

// builtins are variable names every template is expected to define and
// that cannot be removed.
var builtins = map[string]bool{
	"domain": true,
	"ttl":    true,
}

// IsBuiltin reports whether name is a protected built-in variable.
func IsBuiltin(name string) bool {
	return builtins[name]
}

// Manager performs variable CRUD against template files. Writes go back
// to the file in the canonical shape.
type Manager struct {
	loader *template.Loader
}

// NewManager creates a variable manager.
func NewManager(loader *template.Loader) *Manager {
	return &Manager{loader: loader}
}

// Set creates or updates a variable in the template file. env scopes
// the write to an environment's overrides when non-empty. Writes edit
// the file's own document, so inherit chains stay in place.
func (m *Manager) Set(path, env, name, value string) error {
	tpl, err := m.loader.LoadLocal(path)
	if err != nil {
		return err
	}
	if env != "" {
		e, ok := tpl.Environments[env]
		if !ok {
			return engine.NewError(engine.ErrCodeNotFound,
				fmt.Sprintf("environment %q is not defined in template", env)).WithPath(path)
		}
		if e.Variables == nil {
			e.Variables = make(map[string]string)
		}
		e.Variables[name] = value
		tpl.Environments[env] = e
	} else {
		if tpl.Variables == nil {
			tpl.Variables = make(map[string]string)
		}
		tpl.Variables[name] = value
	}
	return template.Save(tpl, path)
}

// Get returns a variable's value. Environment scope shadows global.
func (m *Manager) Get(path, env, name string) (string, error) {
	tpl, err := m.loader.Load(path)
	if err != nil {
		return "", err
	}
	if env != "" {
		if e, ok := tpl.Environments[env]; ok {
			if v, ok := e.Variables[name]; ok {
				return v, nil
			}
		}
	}
	if v, ok := tpl.Variables[name]; ok {
		return v, nil
	}
	return "", engine.NewError(engine.ErrCodeNotFound,
		fmt.Sprintf("variable %q is not defined", name)).WithPath(path)
}

// Remove deletes a variable. Built-ins are protected.
func (m *Manager) Remove(path, env, name string) error {
	if env == "" && IsBuiltin(name) {
		return engine.NewError(engine.ErrCodeValidation,
			fmt.Sprintf("variable %q is built-in and cannot be removed", name)).WithPath(path)
	}
	tpl, err := m.loader.LoadLocal(path)
	if err != nil {
		return err
	}
	if env != "" {
		e, ok := tpl.Environments[env]
		if !ok {
			return engine.NewError(engine.ErrCodeNotFound,
				fmt.Sprintf("environment %q is not defined in template", env)).WithPath(path)
		}
		if _, ok := e.Variables[name]; !ok {
			return engine.NewError(engine.ErrCodeNotFound,
				fmt.Sprintf("variable %q is not defined in environment %q", name, env)).WithPath(path)
		}
		delete(e.Variables, name)
		tpl.Environments[env] = e
	} else {
		if _, ok := tpl.Variables[name]; !ok {
			return engine.NewError(engine.ErrCodeNotFound,
				fmt.Sprintf("variable %q is not defined", name)).WithPath(path)
		}
		delete(tpl.Variables, name)
	}
	return template.Save(tpl, path)
}

// Entry is one row of a variable listing.
type Entry struct {
	Name  string
	Value string
	Scope string
}

// List returns all variables visible for env, global first, sorted by
// name within each scope.
func (m *Manager) List(path, env string) ([]Entry, error) {
	tpl, err := m.loader.Load(path)
	if err != nil {
		return nil, err
	}
	out := sortedEntries(tpl.Variables, "global")
	if env != "" {
		e, ok := tpl.Environments[env]
		if !ok {
			return nil, engine.NewError(engine.ErrCodeNotFound,
				fmt.Sprintf("environment %q is not defined in template", env)).WithPath(path)
		}
		out = append(out, sortedEntries(e.Variables, "environment:"+env)...)
	}
	return out, nil
}

func sortedEntries(vars map[string]string, scope string) []Entry {
	names := make([]string, 0, len(vars))
	for name := range vars {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]Entry, 0, len(names))
	for _, name := range names {
		out = append(out, Entry{Name: name, Value: vars[name], Scope: scope})
	}
	return out
}
