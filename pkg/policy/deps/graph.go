// Package deps turns rule dependsOn edges into a deterministic execution
// order.
//
// An edge A → B means "A depends on B", so B is evaluated before A.
// Dependencies affect ordering only: a rule still evaluates when its
// dependency did not match. Among rules with no ordering constraint between
// them, higher priority runs first and rule ID breaks remaining ties.
//
// Edges to rules outside the graph (unknown or inactive rules) are ignored
// for ordering and reported as warnings by Validate.
package deps

import (
	"container/heap"
	"errors"
	"fmt"
	"sort"
	"strings"

	"mercator-hq/arbiter/pkg/rules"
)

// ErrDependencyCycle is wrapped by CycleError.
var ErrDependencyCycle = errors.New("dependency cycle")

// CycleError reports one or more dependency cycles.
type CycleError struct {
	Cycles [][]string
}

// Error returns the error message.
func (e *CycleError) Error() string {
	parts := make([]string, len(e.Cycles))
	for i, c := range e.Cycles {
		parts[i] = formatCycle(c)
	}
	return fmt.Sprintf("dependency cycle detected: %s", strings.Join(parts, "; "))
}

// Unwrap returns ErrDependencyCycle.
func (e *CycleError) Unwrap() error {
	return ErrDependencyCycle
}

// Graph is an immutable dependency graph over a set of rules.
type Graph struct {
	nodes      map[string]*rules.Rule
	ids        []string            // sorted rule ids
	deps       map[string][]string // id -> ids it depends on (in graph)
	dependents map[string][]string // id -> ids depending on it (in graph)
}

// NewGraph builds a graph over the given rules. Duplicate IDs keep the last
// rule. Dependencies that point outside the set are dropped.
func NewGraph(set []*rules.Rule) *Graph {
	g := &Graph{
		nodes:      make(map[string]*rules.Rule, len(set)),
		deps:       make(map[string][]string, len(set)),
		dependents: make(map[string][]string, len(set)),
	}
	for _, r := range set {
		if r != nil {
			g.nodes[r.ID] = r
		}
	}
	for id := range g.nodes {
		g.ids = append(g.ids, id)
	}
	sort.Strings(g.ids)

	for _, id := range g.ids {
		seen := make(map[string]bool)
		for _, dep := range g.nodes[id].DependsOn {
			if _, ok := g.nodes[dep]; !ok || seen[dep] {
				continue
			}
			seen[dep] = true
			g.deps[id] = append(g.deps[id], dep)
			g.dependents[dep] = append(g.dependents[dep], id)
		}
	}
	for id := range g.deps {
		sort.Strings(g.deps[id])
	}
	for id := range g.dependents {
		sort.Strings(g.dependents[id])
	}
	return g
}

// Len returns the number of rules in the graph.
func (g *Graph) Len() int {
	return len(g.ids)
}

// Dependencies returns the direct dependencies of a rule.
func (g *Graph) Dependencies(id string) []string {
	return append([]string(nil), g.deps[id]...)
}

// Dependents returns the rules that directly depend on id.
func (g *Graph) Dependents(id string) []string {
	return append([]string(nil), g.dependents[id]...)
}

// AffectedByDisable returns every rule that transitively depends on id and
// would lose a satisfied prerequisite if id were disabled.
func (g *Graph) AffectedByDisable(id string) []string {
	visited := map[string]bool{id: true}
	queue := []string{id}
	var out []string
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, dependent := range g.dependents[cur] {
			if visited[dependent] {
				continue
			}
			visited[dependent] = true
			out = append(out, dependent)
			queue = append(queue, dependent)
		}
	}
	sort.Strings(out)
	return out
}

// Cycles returns every strongly connected component that forms a cycle,
// including self loops. Each cycle is sorted, and cycles are ordered by
// their first member.
func (g *Graph) Cycles() [][]string {
	t := &tarjan{
		g:       g,
		index:   make(map[string]int, len(g.ids)),
		lowlink: make(map[string]int, len(g.ids)),
		onStack: make(map[string]bool, len(g.ids)),
	}
	for _, id := range g.ids {
		if _, ok := t.index[id]; !ok {
			t.strongConnect(id)
		}
	}

	var cycles [][]string
	for _, scc := range t.components {
		if len(scc) > 1 || g.hasSelfLoop(scc[0]) {
			sort.Strings(scc)
			cycles = append(cycles, scc)
		}
	}
	sort.Slice(cycles, func(i, j int) bool { return cycles[i][0] < cycles[j][0] })
	return cycles
}

func (g *Graph) hasSelfLoop(id string) bool {
	for _, dep := range g.deps[id] {
		if dep == id {
			return true
		}
	}
	return false
}

// Order returns rule IDs in execution order. With dependencyAware false the
// order is priority descending then ID ascending. With dependencyAware true
// dependencies come before dependents, ties broken the same way; a cycle
// yields a *CycleError and no order.
func (g *Graph) Order(dependencyAware bool) ([]string, error) {
	if !dependencyAware {
		return g.priorityOrder(), nil
	}

	if cycles := g.Cycles(); len(cycles) > 0 {
		return nil, &CycleError{Cycles: cycles}
	}

	inDegree := make(map[string]int, len(g.ids))
	ready := &readyQueue{g: g}
	for _, id := range g.ids {
		inDegree[id] = len(g.deps[id])
		if inDegree[id] == 0 {
			ready.ids = append(ready.ids, id)
		}
	}
	heap.Init(ready)

	order := make([]string, 0, len(g.ids))
	for ready.Len() > 0 {
		id := heap.Pop(ready).(string)
		order = append(order, id)
		for _, dependent := range g.dependents[id] {
			inDegree[dependent]--
			if inDegree[dependent] == 0 {
				heap.Push(ready, dependent)
			}
		}
	}

	if len(order) != len(g.ids) {
		// Unreachable after the cycle check; kept so a bug can never hang or drop rules.
		return nil, &CycleError{Cycles: g.Cycles()}
	}
	return order, nil
}

func (g *Graph) priorityOrder() []string {
	out := append([]string(nil), g.ids...)
	sort.SliceStable(out, func(i, j int) bool { return g.before(out[i], out[j]) })
	return out
}

// before reports whether a runs before b when no dependency constrains them.
func (g *Graph) before(a, b string) bool {
	pa, pb := g.nodes[a].Priority, g.nodes[b].Priority
	if pa != pb {
		return pa > pb
	}
	return a < b
}

// readyQueue is a heap of rule ids with no unsatisfied dependencies.
type readyQueue struct {
	g   *Graph
	ids []string
}

func (q *readyQueue) Len() int           { return len(q.ids) }
func (q *readyQueue) Less(i, j int) bool { return q.g.before(q.ids[i], q.ids[j]) }
func (q *readyQueue) Swap(i, j int)      { q.ids[i], q.ids[j] = q.ids[j], q.ids[i] }
func (q *readyQueue) Push(x interface{}) { q.ids = append(q.ids, x.(string)) }
func (q *readyQueue) Pop() interface{} {
	n := len(q.ids)
	id := q.ids[n-1]
	q.ids = q.ids[:n-1]
	return id
}

// tarjan holds the state of Tarjan's strongly connected components algorithm.
type tarjan struct {
	g          *Graph
	counter    int
	index      map[string]int
	lowlink    map[string]int
	stack      []string
	onStack    map[string]bool
	components [][]string
}

func (t *tarjan) strongConnect(v string) {
	t.index[v] = t.counter
	t.lowlink[v] = t.counter
	t.counter++
	t.stack = append(t.stack, v)
	t.onStack[v] = true

	for _, w := range t.g.deps[v] {
		if _, visited := t.index[w]; !visited {
			t.strongConnect(w)
			if t.lowlink[w] < t.lowlink[v] {
				t.lowlink[v] = t.lowlink[w]
			}
		} else if t.onStack[w] && t.index[w] < t.lowlink[v] {
			t.lowlink[v] = t.index[w]
		}
	}

	if t.lowlink[v] == t.index[v] {
		var scc []string
		for {
			n := len(t.stack) - 1
			w := t.stack[n]
			t.stack = t.stack[:n]
			t.onStack[w] = false
			scc = append(scc, w)
			if w == v {
				break
			}
		}
		t.components = append(t.components, scc)
	}
}
