package compiler

import (
	"fmt"
	"slices"
	"strings"
)

// CycleWarning represents a potential cycle in the rule graph.
//
// Cycles are warnings, not errors: the emitted-set stops any cycle whose
// effects repeat, and the step quota stops the rest.
type CycleWarning struct {
	Path    []string `json:"path"`    // Cycle path: ["rule-a", "rule-b", "rule-a"]
	Message string   `json:"message"` // Human-readable description
	Level   string   `json:"level"`   // "warning" or "info"
}

// AnalyzeCycles performs static cycle analysis on rule definitions.
//
// The algorithm:
//  1. Add an edge A -> B when an effect of A invokes an operation one of
//     B's when-patterns matches
//  2. Use Tarjan's algorithm to find strongly connected components
//  3. Report each SCC with size > 1 or self-loops as a potential cycle warning
//
// A DAG (no cycles) returns an empty warning list. Warnings are ordered by
// the position of their first rule in defs.
func AnalyzeCycles(defs []RuleDef) []CycleWarning {
	if len(defs) == 0 {
		return []CycleWarning{}
	}

	order := make([]string, len(defs))
	position := make(map[string]int, len(defs))
	for i, d := range defs {
		order[i] = d.Name
		position[d.Name] = i
	}
	byPosition := func(a, b string) int { return position[a] - position[b] }

	graph := buildDependencyGraph(defs)
	sccs := tarjanSCC(graph, order)
	for _, scc := range sccs {
		slices.SortFunc(scc, byPosition)
	}
	slices.SortFunc(sccs, func(a, b []string) int { return byPosition(a[0], b[0]) })

	warnings := []CycleWarning{}
	for _, scc := range sccs {
		if len(scc) > 1 || (len(scc) == 1 && hasSelfLoop(scc[0], graph)) {
			warnings = append(warnings, cycleSCCToWarning(scc, graph))
		}
	}
	return warnings
}

// dependencyGraph maps rule name -> rules its effects could trigger.
type dependencyGraph map[string][]string

type operationRef struct {
	provider, operation string
}

// buildDependencyGraph constructs the rule dependency graph.
func buildDependencyGraph(defs []RuleDef) dependencyGraph {
	graph := make(dependencyGraph)

	// Which rules react to each operation, in definition order.
	watchers := make(map[operationRef][]string)
	for _, d := range defs {
		seen := make(map[operationRef]bool)
		for _, w := range d.When {
			ref := operationRef{w.Provider, w.Operation}
			if !seen[ref] {
				seen[ref] = true
				watchers[ref] = append(watchers[ref], d.Name)
			}
		}
	}

	for _, d := range defs {
		// Initialize with empty slice (ensures node exists in graph)
		if graph[d.Name] == nil {
			graph[d.Name] = []string{}
		}
		for _, t := range d.Then {
			for _, target := range watchers[operationRef{t.Provider, t.Operation}] {
				if !slices.Contains(graph[d.Name], target) {
					graph[d.Name] = append(graph[d.Name], target)
				}
			}
		}
	}

	return graph
}

// hasSelfLoop checks if a node has an edge to itself.
func hasSelfLoop(node string, graph dependencyGraph) bool {
	return slices.Contains(graph[node], node)
}

// tarjanSCC finds strongly connected components using Tarjan's algorithm.
//
// Returns a list of SCCs, where each SCC is a list of rule names.
// Single-node SCCs without self-loops are NOT cycles.
func tarjanSCC(graph dependencyGraph, order []string) [][]string {
	var (
		index   = 0
		stack   []string
		indices = make(map[string]int)
		lowlink = make(map[string]int)
		onStack = make(map[string]bool)
		sccs    [][]string
	)

	var strongConnect func(string)
	strongConnect = func(v string) {
		// Set the depth index for v
		indices[v] = index
		lowlink[v] = index
		index++
		stack = append(stack, v)
		onStack[v] = true

		// Consider successors of v
		for _, w := range graph[v] {
			if _, visited := indices[w]; !visited {
				// Successor w has not yet been visited; recurse on it
				strongConnect(w)
				lowlink[v] = min(lowlink[v], lowlink[w])
			} else if onStack[w] {
				// Successor w is on stack and hence in the current SCC
				lowlink[v] = min(lowlink[v], indices[w])
			}
		}

		// If v is a root node, pop the stack and create an SCC
		if lowlink[v] == indices[v] {
			var scc []string
			for {
				w := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				onStack[w] = false
				scc = append(scc, w)
				if w == v {
					break
				}
			}
			sccs = append(sccs, scc)
		}
	}

	// Visit all nodes in definition order
	for _, node := range order {
		if _, visited := indices[node]; !visited {
			strongConnect(node)
		}
	}

	return sccs
}

// cycleSCCToWarning converts an SCC to a CycleWarning.
//
// The path shows the cycle sequence by reconstructing a path through the SCC.
// For self-loops, the path is [rule, rule].
// For multi-node cycles, the path shows a cycle traversal.
func cycleSCCToWarning(scc []string, graph dependencyGraph) CycleWarning {
	if len(scc) == 1 {
		name := scc[0]
		return CycleWarning{
			Path:    []string{name, name},
			Message: fmt.Sprintf("Self-triggering rule detected: %s -> %s", name, name),
			Level:   "warning",
		}
	}

	// Multi-node cycle - reconstruct a cycle path
	path := reconstructCyclePath(scc, graph)

	pathStr := strings.Join(path, " -> ")
	return CycleWarning{
		Path:    path,
		Message: fmt.Sprintf("Potential cycle detected: %s", pathStr),
		Level:   "warning",
	}
}

// reconstructCyclePath builds a cycle path from an SCC.
//
// Strategy: Start at first node in SCC, follow edges to other SCC members,
// continue until we return to start node.
func reconstructCyclePath(scc []string, graph dependencyGraph) []string {
	if len(scc) == 0 {
		return []string{}
	}

	// Build set of SCC members for fast lookup
	sccSet := make(map[string]bool)
	for _, node := range scc {
		sccSet[node] = true
	}

	// Start at first node
	start := scc[0]
	current := start
	path := []string{current}
	visited := make(map[string]bool)

	// Follow edges within SCC until we return to start
	for {
		visited[current] = true

		// Find next SCC member reachable from current
		var next string
		for _, neighbor := range graph[current] {
			if sccSet[neighbor] && (!visited[neighbor] || neighbor == start) {
				next = neighbor
				break
			}
		}

		if next == "" {
			// No more unvisited neighbors in SCC
			break
		}

		path = append(path, next)

		if next == start {
			// Completed the cycle
			break
		}

		current = next
	}

	return path
}
