// Package risk computes the composite risk score used to prioritize tasks
// for admission, and stably reorders a task list by descending score.
package risk

import (
	"sort"
	"time"
)

// Metadata is the statically-typed stand-in for the source system's
// dynamically-typed task metadata: named fields for values this package
// inspects, plus an open extension bag for everything else.
type Metadata struct {
	Priority       string // low|normal|high|critical
	Classification string // simple|complex|manual_review
	SLARisk        float64
	Override       bool
	Extra          map[string]any
}

// History is the failure-rate signal the risk scorer consults; a zero value
// (HasData false) means "no history", per fail-open semantics.
type History struct {
	FailureRate float64
	HasData     bool
}

// Weights are the composite-score weights, configuration in the caller.
type Weights struct {
	SLA        float64
	Complexity float64
	Impact     float64
	Failure    float64
}

// DefaultWeights matches the spec's configured defaults.
var DefaultWeights = Weights{SLA: 0.3, Complexity: 0.2, Impact: 0.3, Failure: 0.2}

var complexityScores = map[string]float64{
	"simple":         0.33,
	"complex":        0.67,
	"manual_review":  1.0,
}

var impactScores = map[string]float64{
	"low":      0.25,
	"normal":   0.50,
	"high":     0.75,
	"critical": 1.0,
}

// Score is the computed risk for one task.
type Score struct {
	TaskID      string
	SLARisk     float64
	Complexity  float64
	Impact      float64
	FailureRate float64
	Composite   float64
	ComputedAt  time.Time
}

// Scorer computes composite risk scores under a fixed weight configuration.
type Scorer struct {
	weights Weights
}

// New constructs a Scorer. A zero Weights value falls back to DefaultWeights.
func New(weights Weights) *Scorer {
	if weights == (Weights{}) {
		weights = DefaultWeights
	}
	return &Scorer{weights: weights}
}

// Score computes a RiskScore for taskID from its metadata and optional
// historical failure-rate signal.
func (s *Scorer) Score(taskID string, meta Metadata, hist History) Score {
	slaRisk := clamp01(meta.SLARisk)

	complexity, ok := complexityScores[meta.Classification]
	if !ok {
		complexity = 0.33
	}

	impact, ok := impactScores[meta.Priority]
	if !ok {
		impact = 0.50
	}

	failureRate := 0.0
	if hist.HasData {
		failureRate = clamp01(hist.FailureRate)
	}

	composite := s.weights.SLA*slaRisk +
		s.weights.Complexity*complexity +
		s.weights.Impact*impact +
		s.weights.Failure*failureRate

	return Score{
		TaskID:      taskID,
		SLARisk:     slaRisk,
		Complexity:  complexity,
		Impact:      impact,
		FailureRate: failureRate,
		Composite:   clamp01(composite),
		ComputedAt:  time.Now(),
	}
}

// Scored pairs a task identifier and metadata with its computed score, for
// Reorder's input/output.
type Scored struct {
	TaskID   string
	Metadata Metadata
	Score    Score
}

// Reorder stably sorts tasks by descending composite score: equal scores
// preserve input order.
func (s *Scorer) Reorder(tasks []Scored) []Scored {
	out := make([]Scored, len(tasks))
	copy(out, tasks)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Score.Composite > out[j].Score.Composite
	})
	return out
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
