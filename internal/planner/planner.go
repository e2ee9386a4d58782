package planner

import (
	"errors"
	"strings"

	"github.com/swarmguard/taskctl/internal/graph"
	"github.com/swarmguard/taskctl/internal/learning"
)

// ErrEmptyContent is returned when content is empty or whitespace-only.
var ErrEmptyContent = errors.New("planner: content is empty")

// HistoryLookup resolves learning-store history for a task type, the same
// contract the classifier consumes.
type HistoryLookup interface {
	Query(taskType string) (learning.Metrics, bool)
}

// Planner decomposes task content into a validated execution graph.
type Planner struct {
	history HistoryLookup
}

// New constructs a Planner. history may be nil, in which case the default
// one-minute-per-step estimate is always used.
func New(history HistoryLookup) *Planner {
	return &Planner{history: history}
}

// Decompose builds a Graph for content, inferring task type from keywords
// when taskType is empty.
func (p *Planner) Decompose(content, taskType, taskID string) (*graph.Graph, error) {
	if strings.TrimSpace(content) == "" {
		return nil, ErrEmptyContent
	}

	resolvedType := taskType
	if resolvedType == "" {
		resolvedType = detectType(content)
	}

	tmpl, ok := templates[resolvedType]
	if !ok {
		tmpl = templates["general"]
		resolvedType = "general"
	}

	estMinutes := 1.0
	if p.history != nil {
		if m, ok := p.history.Query(resolvedType); ok && m.Total >= 5 {
			estMinutes = m.Mean / 60000 / float64(len(tmpl))
		}
	}

	steps := stepsToGraphSteps(tmpl, estMinutes)
	edges := sequentialEdges(tmpl)

	g := graph.New(taskID, steps, edges)
	g.Parallelizable = parallelRoots(g)

	if err := g.Validate(); err != nil {
		return nil, err
	}
	return g, nil
}

// detectType scores content against each keyword set and returns the
// highest-scoring type, defaulting to "general" on a zero score.
func detectType(content string) string {
	folded := strings.ToLower(content)
	best := "general"
	bestScore := 0
	// deterministic iteration order so a tie always prefers the same type
	order := []string{"document", "email", "data", "code", "report"}
	for _, t := range order {
		score := 0
		for _, kw := range keywordSets[t] {
			score += strings.Count(folded, kw)
		}
		if score > bestScore {
			bestScore = score
			best = t
		}
	}
	return best
}

// parallelRoots identifies step sets with no incoming edges, when more than
// one such root exists. Sequential templates produce none.
func parallelRoots(g *graph.Graph) [][]string {
	hasIncoming := make(map[string]bool, len(g.Steps))
	for _, tos := range g.DependsOn {
		for _, to := range tos {
			hasIncoming[to] = true
		}
	}
	var roots []string
	for _, s := range g.Steps {
		if !hasIncoming[s.ID] {
			roots = append(roots, s.ID)
		}
	}
	if len(roots) > 1 {
		return [][]string{roots}
	}
	return nil
}
