package graph

import (
	"errors"
	"fmt"
	"sort"
)

// ValidationError is a typed error distinguishing the three ways a graph can
// fail validation. Validation errors are never swallowed.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return "graph validation failed: " + e.Reason }

var (
	// ErrNoSteps is returned when a graph has no steps at all.
	ErrNoSteps = &ValidationError{Reason: "graph has no steps"}
)

// Validate checks that the graph has at least one step, every edge endpoint
// names a real step, and the edge relation is acyclic.
func (g *Graph) Validate() error {
	if len(g.Steps) == 0 {
		return ErrNoSteps
	}

	ids := make(map[string]bool, len(g.Steps))
	for _, s := range g.Steps {
		ids[s.ID] = true
	}
	for from, tos := range g.DependsOn {
		if !ids[from] {
			return &ValidationError{Reason: fmt.Sprintf("edge source %q is not a step", from)}
		}
		for _, to := range tos {
			if !ids[to] {
				return &ValidationError{Reason: fmt.Sprintf("edge target %q is not a step", to)}
			}
		}
	}

	if _, err := g.topoSort(); err != nil {
		return err
	}
	return nil
}

// topoSort implements Kahn's algorithm: among zero-indegree nodes, the one
// with the smallest priority is dequeued next. Returns an acyclicity error
// if fewer nodes are emitted than exist.
func (g *Graph) topoSort() ([]Step, error) {
	indegree := make(map[string]int, len(g.Steps))
	byID := make(map[string]Step, len(g.Steps))
	for _, s := range g.Steps {
		indegree[s.ID] = 0
		byID[s.ID] = s
	}
	for _, tos := range g.DependsOn {
		for _, to := range tos {
			indegree[to]++
		}
	}

	ready := make([]string, 0)
	for id, d := range indegree {
		if d == 0 {
			ready = append(ready, id)
		}
	}

	var ordered []Step
	for len(ready) > 0 {
		sort.Slice(ready, func(i, j int) bool {
			pi, pj := byID[ready[i]].Priority, byID[ready[j]].Priority
			if pi != pj {
				return pi < pj
			}
			return ready[i] < ready[j] // deterministic tiebreak
		})
		next := ready[0]
		ready = ready[1:]
		ordered = append(ordered, byID[next])

		for _, to := range g.DependsOn[next] {
			indegree[to]--
			if indegree[to] == 0 {
				ready = append(ready, to)
			}
		}
	}

	if len(ordered) != len(g.Steps) {
		return nil, &ValidationError{Reason: "cycle detected in execution graph"}
	}
	return ordered, nil
}

// ExecutionOrder yields a topological order over the steps, breaking ties by
// ascending priority. Returns an error if the graph is invalid.
func (g *Graph) ExecutionOrder() ([]Step, error) {
	ordered, err := g.topoSort()
	if err != nil {
		return nil, err
	}
	if len(ordered) == 0 {
		return nil, errors.New("execution order: empty graph")
	}
	return ordered, nil
}
