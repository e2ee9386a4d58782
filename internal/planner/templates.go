// Package planner decomposes task content into a validated execution graph
// via keyword-driven task-type detection and a fixed step-template table.
package planner

import "github.com/swarmguard/taskctl/internal/graph"

// keywordSets maps a task type to the case-folded keywords that count toward
// its detection score. Immutable, owned by this package alone.
var keywordSets = map[string][]string{
	"document": {"document", "draft", "write", "report writing", "summary", "edit", "proofread"},
	"email":    {"email", "mail", "inbox", "send message", "reply", "recipient"},
	"data":     {"data", "dataset", "csv", "etl", "extract", "transform", "load", "pipeline"},
	"code":     {"code", "function", "bug", "refactor", "deploy", "implement", "script", "test"},
	"report":   {"report", "analysis", "summarize", "compile", "dashboard", "metrics"},
}

// stepTemplate is one step slot in a task-type's fixed template.
type stepTemplate struct {
	ID            string
	Name          string
	AlternativeID string
}

// templates maps a task type to its ordered step template. Every template
// has at least three steps.
var templates = map[string][]stepTemplate{
	"document": {
		{ID: "draft", Name: "Draft content"},
		{ID: "review", Name: "Review content", AlternativeID: "auto_review"},
		{ID: "finalize", Name: "Finalize document"},
	},
	"email": {
		{ID: "compose", Name: "Compose message"},
		{ID: "verify_recipients", Name: "Verify recipients"},
		{ID: "send", Name: "Send message", AlternativeID: "queue_for_retry"},
	},
	"data": {
		{ID: "extract", Name: "Extract source data"},
		{ID: "transform", Name: "Transform data"},
		{ID: "load", Name: "Load into destination"},
	},
	"code": {
		{ID: "implement", Name: "Implement change"},
		{ID: "test", Name: "Run tests", AlternativeID: "manual_verification"},
		{ID: "review", Name: "Review change"},
	},
	"report": {
		{ID: "gather_data", Name: "Gather source data"},
		{ID: "analyze", Name: "Analyze data"},
		{ID: "compile", Name: "Compile report"},
		{ID: "distribute", Name: "Distribute report"},
	},
	"general": {
		{ID: "analyze", Name: "Analyze request"},
		{ID: "execute", Name: "Execute request"},
		{ID: "verify", Name: "Verify outcome"},
	},
}

func stepsToGraphSteps(tmpl []stepTemplate, estMinutes float64) []graph.Step {
	steps := make([]graph.Step, 0, len(tmpl))
	for i, t := range tmpl {
		steps = append(steps, graph.Step{
			ID:                t.ID,
			Name:              t.Name,
			Priority:          i + 1,
			Status:            graph.StepPending,
			EstimatedMinutes:  estMinutes,
			AlternativeStepID: t.AlternativeID,
		})
	}
	return steps
}

func sequentialEdges(tmpl []stepTemplate) map[string][]string {
	edges := make(map[string][]string, len(tmpl))
	for i := 0; i < len(tmpl)-1; i++ {
		edges[tmpl[i].ID] = []string{tmpl[i+1].ID}
	}
	return edges
}
