package engine

import (
	"sort"
	"strings"
)

// DepNode is one node of the record dependency graph; ID is the
// template-local record id, DependsOn the ids it requires, Path the
// record's location for diagnostics.
type DepNode struct {
	ID        string
	DependsOn []string
	Path      string
}

// MissingRef is a depends_on target that resolves to no record.
type MissingRef struct {
	From   string
	Target string
	Path   string
}

// Graph is the directed dependency graph induced by depends_on. It is
// built once and consulted twice: by validation for reference and
// cycle checks, and by the executor for level partitioning.
type Graph struct {
	nodes map[string]DepNode

	// dependents maps a node to the nodes that depend on it.
	dependents map[string][]string
	inDegree   map[string]int
	missing    []MissingRef
}

// BuildGraph constructs the dependency graph. Edges whose target does
// not exist are recorded as missing references and excluded from the
// graph rather than failing the build; callers report them through
// validation.
func BuildGraph(nodes []DepNode) *Graph {
	g := &Graph{
		nodes:      make(map[string]DepNode, len(nodes)),
		dependents: make(map[string][]string),
		inDegree:   make(map[string]int),
	}
	for _, n := range nodes {
		g.nodes[n.ID] = n
		g.inDegree[n.ID] = 0
	}
	for _, n := range nodes {
		for _, target := range n.DependsOn {
			if _, ok := g.nodes[target]; !ok {
				g.missing = append(g.missing, MissingRef{From: n.ID, Target: target, Path: n.Path})
				continue
			}
			g.dependents[target] = append(g.dependents[target], n.ID)
			g.inDegree[n.ID]++
		}
	}
	return g
}

// MissingReferences returns depends_on targets that resolve to no node,
// ordered by source id.
func (g *Graph) MissingReferences() []MissingRef {
	out := append([]MissingRef(nil), g.missing...)
	sort.Slice(out, func(i, j int) bool {
		if out[i].From != out[j].From {
			return out[i].From < out[j].From
		}
		return out[i].Target < out[j].Target
	})
	return out
}

// Levels partitions the graph into execution levels via Kahn's
// algorithm. Nodes in the same level have no mutual dependency. Nodes
// left unordered after the algorithm terminates form a cycle; the
// second return value names them.
func (g *Graph) Levels() ([][]string, []string) {
	inDegree := make(map[string]int, len(g.inDegree))
	for id, d := range g.inDegree {
		inDegree[id] = d
	}

	var current []string
	for id, d := range inDegree {
		if d == 0 {
			current = append(current, id)
		}
	}

	var levels [][]string
	processed := 0
	for len(current) > 0 {
		sort.Strings(current)
		levels = append(levels, current)
		processed += len(current)

		var next []string
		for _, id := range current {
			for _, dep := range g.dependents[id] {
				inDegree[dep]--
				if inDegree[dep] == 0 {
					next = append(next, dep)
				}
			}
		}
		current = next
	}

	if processed == len(g.nodes) {
		return levels, nil
	}

	// Leftover nodes still carry incoming edges; they are the cycle
	// participants.
	var cycle []string
	for id, d := range inDegree {
		if d > 0 {
			cycle = append(cycle, id)
		}
	}
	sort.Strings(cycle)
	return levels, cycle
}

// CycleError builds the error reported when Levels finds a cycle.
func CycleError(ids []string) *Error {
	return NewError(ErrCodeDependencyCycle,
		"dependency cycle involving records: "+strings.Join(ids, ", "))
}
