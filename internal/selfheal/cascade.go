// Package selfheal implements the three-stage recovery cascade (retry,
// alternative step, partial preservation) that precedes rollback escalation.
package selfheal

import (
	"fmt"
	"time"

	"github.com/swarmguard/taskctl/internal/graph"
)

// Strategy is the cascade stage that produced a RecoveryAttempt.
type Strategy string

const (
	StrategyRetry       Strategy = "retry"
	StrategyAlternative Strategy = "alternative"
	StrategyPartial     Strategy = "partial"
)

// Outcome is the per-attempt result.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailed  Outcome = "failed"
)

// RecoveryAttempt records one cascade stage's outcome for the audit log.
type RecoveryAttempt struct {
	TaskID       string
	StepID       string
	Ordinal      int
	Strategy     Strategy
	Outcome      Outcome
	DurationMS   float64
	Timestamp    time.Time
	FailureDetail string
}

// ExecuteFn attempts to execute a step, returning whether it succeeded.
// A returned error is treated the same as a false result, with the error
// message captured as the attempt's failure detail.
type ExecuteFn func(stepID string) (bool, error)

// Engine runs the recovery cascade, bounded by maxAttempts (default 3).
type Engine struct {
	maxAttempts int
}

// New constructs an Engine. A zero maxAttempts falls back to 3.
func New(maxAttempts int) *Engine {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &Engine{maxAttempts: maxAttempts}
}

// Recover runs retry -> alternative -> partial against failedStep, stopping
// at the first success. The alternative stage is skipped (and does not
// consume an attempt ordinal) when failedStep has no alternative step
// present in graph.
func (e *Engine) Recover(taskID string, failedStep *graph.Step, g *graph.Graph, execute ExecuteFn) []RecoveryAttempt {
	var attempts []RecoveryAttempt
	ordinal := 0

	runStage := func(strategy Strategy, stepID string) RecoveryAttempt {
		ordinal++
		start := time.Now()
		ok, err := safeExecute(execute, stepID)
		duration := float64(time.Since(start).Milliseconds())

		attempt := RecoveryAttempt{
			TaskID:     taskID,
			StepID:     stepID,
			Ordinal:    ordinal,
			Strategy:   strategy,
			DurationMS: duration,
			Timestamp:  time.Now(),
		}
		if err != nil {
			attempt.Outcome = OutcomeFailed
			attempt.FailureDetail = err.Error()
		} else if ok {
			attempt.Outcome = OutcomeSuccess
		} else {
			attempt.Outcome = OutcomeFailed
		}
		return attempt
	}

	if ordinal < e.maxAttempts {
		attempt := runStage(StrategyRetry, failedStep.ID)
		attempts = append(attempts, attempt)
		if attempt.Outcome == OutcomeSuccess {
			return attempts
		}
	}

	if altStep, present := resolveAlternative(failedStep, g); present && ordinal < e.maxAttempts {
		attempt := runStage(StrategyAlternative, altStep.ID)
		attempts = append(attempts, attempt)
		if attempt.Outcome == OutcomeSuccess {
			return attempts
		}
	}

	if ordinal < e.maxAttempts {
		ordinal++
		attempt := RecoveryAttempt{
			TaskID:     taskID,
			StepID:     failedStep.ID,
			Ordinal:    ordinal,
			Strategy:   StrategyPartial,
			Timestamp:  time.Now(),
		}
		if g != nil && g.HasCompletedStep() {
			g.SetStatus(failedStep.ID, graph.StepFailed)
			attempt.Outcome = OutcomeSuccess
		} else {
			attempt.Outcome = OutcomeFailed
			attempt.FailureDetail = "no completed steps to preserve"
		}
		attempts = append(attempts, attempt)
	}

	return attempts
}

// resolveAlternative reports the alternative step for failedStep, if one is
// named and present in graph.
func resolveAlternative(failedStep *graph.Step, g *graph.Graph) (*graph.Step, bool) {
	if failedStep.AlternativeStepID == "" || g == nil {
		return nil, false
	}
	step, ok := g.StepByID(failedStep.AlternativeStepID)
	return step, ok
}

func safeExecute(execute ExecuteFn, stepID string) (ok bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
			err = fmt.Errorf("panic in execute_fn: %v", r)
		}
	}()
	return execute(stepID)
}
