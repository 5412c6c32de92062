package depgraph

import (
	"slices"

	"github.com/c360/servicekit/errors"
)

// node tracks a service's edges in both directions.
type node struct {
	dependencies []string // services this node requires
	dependents   []string // services that require this node
}

// Graph is an immutable dependency DAG with memoized orderings.
type Graph struct {
	nodes   map[string]*node
	startup []string // topological order, dependency-first
}

// Build constructs a graph from a service-name to dependency-names map.
// Edges pointing at services outside the set are dropped: whether an absent
// dependency is fatal is an instance-level decision, not an ordering one.
// Build fails with a DependencyError when the declared edges form a cycle.
func Build(deps map[string][]string) (*Graph, error) {
	g := &Graph{nodes: make(map[string]*node, len(deps))}

	for name := range deps {
		g.nodes[name] = &node{}
	}
	for name, targets := range deps {
		n := g.nodes[name]
		for _, target := range targets {
			if target == name {
				continue
			}
			peer, exists := g.nodes[target]
			if !exists {
				continue
			}
			if !slices.Contains(n.dependencies, target) {
				n.dependencies = append(n.dependencies, target)
				peer.dependents = append(peer.dependents, name)
			}
		}
	}

	order, err := g.topologicalSort()
	if err != nil {
		return nil, err
	}
	g.startup = order

	return g, nil
}

// topologicalSort produces a dependency-first ordering via depth-first
// search. A node revisited while still on the active stack signals a cycle.
func (g *Graph) topologicalSort() ([]string, error) {
	const (
		unvisited = iota
		visiting
		visited
	)

	marks := make(map[string]int, len(g.nodes))
	order := make([]string, 0, len(g.nodes))
	stack := make([]string, 0, len(g.nodes))

	var visit func(name string) error
	visit = func(name string) error {
		switch marks[name] {
		case visited:
			return nil
		case visiting:
			// Everything from the first stack occurrence of name onward
			// participates in the cycle.
			start := slices.Index(stack, name)
			cycle := slices.Clone(stack[start:])
			slices.Sort(cycle)
			return errors.NewDependency(name, cycle, errors.ErrDependencyCycle)
		}

		marks[name] = visiting
		stack = append(stack, name)

		deps := slices.Clone(g.nodes[name].dependencies)
		slices.Sort(deps)
		for _, dep := range deps {
			if err := visit(dep); err != nil {
				return err
			}
		}

		stack = stack[:len(stack)-1]
		marks[name] = visited
		order = append(order, name)
		return nil
	}

	names := make([]string, 0, len(g.nodes))
	for name := range g.nodes {
		names = append(names, name)
	}
	slices.Sort(names)

	for _, name := range names {
		if err := visit(name); err != nil {
			return nil, err
		}
	}

	return order, nil
}

// StartupOrder returns the dependency-first startup order.
func (g *Graph) StartupOrder() []string {
	return slices.Clone(g.startup)
}

// ShutdownOrder returns the exact reverse of the startup order.
func (g *Graph) ShutdownOrder() []string {
	out := slices.Clone(g.startup)
	slices.Reverse(out)
	return out
}

// Levels groups services into topological layers: every service in layer N
// depends only on services in layers < N, so the members of one layer can
// be started concurrently once the previous layers are up.
func (g *Graph) Levels() [][]string {
	depth := make(map[string]int, len(g.nodes))
	maxDepth := 0

	// startup order guarantees dependencies are assigned before dependents.
	for _, name := range g.startup {
		d := 0
		for _, dep := range g.nodes[name].dependencies {
			if depth[dep]+1 > d {
				d = depth[dep] + 1
			}
		}
		depth[name] = d
		if d > maxDepth {
			maxDepth = d
		}
	}

	if len(g.nodes) == 0 {
		return nil
	}

	levels := make([][]string, maxDepth+1)
	for _, name := range g.startup {
		levels[depth[name]] = append(levels[depth[name]], name)
	}
	return levels
}

// Dependencies returns the direct dependencies of the named service.
func (g *Graph) Dependencies(name string) []string {
	n, exists := g.nodes[name]
	if !exists {
		return nil
	}
	out := slices.Clone(n.dependencies)
	slices.Sort(out)
	return out
}

// Dependents returns the services that directly depend on the named one.
func (g *Graph) Dependents(name string) []string {
	n, exists := g.nodes[name]
	if !exists {
		return nil
	}
	out := slices.Clone(n.dependents)
	slices.Sort(out)
	return out
}

// Contains reports whether the named service is part of the graph.
func (g *Graph) Contains(name string) bool {
	_, exists := g.nodes[name]
	return exists
}

// Len returns the number of services in the graph.
func (g *Graph) Len() int {
	return len(g.nodes)
}
