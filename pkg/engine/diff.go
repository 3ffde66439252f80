package engine

import (
	"fmt"
	"sort"
	"time"

	"github.com/zonecraft/zonecraft/pkg/provider"
)

// DesiredRecord pairs a desired provider record with the template
// metadata the executor needs for dependency ordering.
type DesiredRecord struct {
	Record     provider.Record
	TemplateID string
	DependsOn  []string
	Path       string
}

// Diff computes the change set that moves remote state to desired
// state. It is a pure function of its inputs: no I/O, deterministic
// output order.
//
// Records are grouped by (type, name). Within a group a desired record
// matches the first unused remote record with the same value; matched
// pairs become NOOP when ttl and priority agree, UPDATE otherwise.
// Unmatched desired records become CREATE; unmatched remote records
// become DELETE candidates, which the executor only materializes when
// deletion is permitted.
func Diff(domain, environment string, desired []DesiredRecord, remote []provider.Record) *ChangeSet {
	type group struct {
		desired []DesiredRecord
		remote  []provider.Record
	}

	groups := make(map[string]*group)
	var order []string
	get := func(key string) *group {
		g, ok := groups[key]
		if !ok {
			g = &group{}
			groups[key] = g
			order = append(order, key)
		}
		return g
	}

	for _, d := range desired {
		g := get(d.Record.Key())
		g.desired = append(g.desired, d)
	}
	for _, r := range remote {
		g := get(r.Key())
		g.remote = append(g.remote, r)
	}
	sort.Strings(order)

	cs := &ChangeSet{
		Domain:      domain,
		Environment: environment,
		CreatedAt:   time.Now().UTC(),
	}

	for _, key := range order {
		g := groups[key]
		used := make([]bool, len(g.remote))

		var creates []Change

		// Pair by value in desired encounter order; duplicates pair
		// greedily with the first unused remote record.
		for _, d := range g.desired {
			matched := -1
			for i, r := range g.remote {
				if !used[i] && r.Value == d.Record.Value {
					matched = i
					break
				}
			}
			if matched < 0 {
				creates = append(creates, Change{
					Action:    ActionCreate,
					Record:    d.Record,
					RecordID:  d.TemplateID,
					DependsOn: d.DependsOn,
					Path:      d.Path,
				})
				continue
			}
			used[matched] = true
			prev := g.remote[matched]
			action := ActionNoop
			if !recordsEqual(d.Record, prev) {
				action = ActionUpdate
			}
			cs.Changes = append(cs.Changes, Change{
				Action:    action,
				Record:    d.Record,
				Previous:  &prev,
				RecordID:  d.TemplateID,
				DependsOn: d.DependsOn,
				Path:      d.Path,
			})
		}

		cs.Changes = append(cs.Changes, creates...)

		for i, r := range g.remote {
			if used[i] {
				continue
			}
			rec := r
			cs.Changes = append(cs.Changes, Change{
				Action:   ActionDelete,
				Record:   rec,
				Previous: &rec,
			})
		}
	}

	return cs
}

// recordsEqual reports whether a matched pair needs no update. Value
// equality is the match key, so only ttl and priority can differ here.
func recordsEqual(a, b provider.Record) bool {
	if a.TTL != b.TTL {
		return false
	}
	return priorityEqual(a.Priority, b.Priority)
}

func priorityEqual(a, b *int) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// Describe renders a change in the one-line form used by plan output.
func Describe(c Change) string {
	switch c.Action {
	case ActionCreate:
		return fmt.Sprintf("+ %s", c.Record)
	case ActionUpdate:
		return fmt.Sprintf("~ %s (was ttl=%d)", c.Record, c.Previous.TTL)
	case ActionDelete:
		return fmt.Sprintf("- %s", c.Record)
	default:
		return fmt.Sprintf("= %s", c.Record)
	}
}
