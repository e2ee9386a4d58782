package selfheal

import (
	"errors"
	"testing"

	"github.com/swarmguard/taskctl/internal/graph"
)

func fiveStepGraph() *graph.Graph {
	steps := []graph.Step{
		{ID: "s0", Name: "s0", Priority: 1, Status: graph.StepCompleted},
		{ID: "s1", Name: "s1", Priority: 2, Status: graph.StepCompleted},
		{ID: "s2", Name: "s2", Priority: 3, Status: graph.StepFailed, AlternativeStepID: "alt2"},
		{ID: "alt2", Name: "alt2", Priority: 4, Status: graph.StepPending},
		{ID: "s3", Name: "s3", Priority: 5, Status: graph.StepPending},
	}
	return graph.New("task-1", steps, nil)
}

func TestRecoverStopsOnFirstSuccess(t *testing.T) {
	e := New(3)
	g := fiveStepGraph()
	step, _ := g.StepByID("s2")

	attempts := e.Recover("task-1", step, g, func(stepID string) (bool, error) {
		return true, nil
	})
	if len(attempts) != 1 {
		t.Fatalf("expected 1 attempt, got %d", len(attempts))
	}
	if attempts[0].Strategy != StrategyRetry || attempts[0].Outcome != OutcomeSuccess {
		t.Errorf("unexpected attempt: %+v", attempts[0])
	}
}

func TestRecoverExhaustsToPartialWithAlternative(t *testing.T) {
	e := New(3)
	g := fiveStepGraph()
	step, _ := g.StepByID("s2")

	attempts := e.Recover("task-1", step, g, func(stepID string) (bool, error) {
		return false, nil
	})
	if len(attempts) != 3 {
		t.Fatalf("expected 3 attempts (retry, alternative, partial), got %d: %+v", len(attempts), attempts)
	}
	want := []Strategy{StrategyRetry, StrategyAlternative, StrategyPartial}
	for i, s := range want {
		if attempts[i].Strategy != s {
			t.Errorf("attempt %d strategy = %s, want %s", i, attempts[i].Strategy, s)
		}
	}
	if attempts[2].Outcome != OutcomeSuccess {
		t.Errorf("expected partial stage to succeed (completed work preserved), got %+v", attempts[2])
	}
}

func TestAlternativeStageSkippedWhenAbsentAndNotCounted(t *testing.T) {
	e := New(3)
	steps := []graph.Step{
		{ID: "s0", Name: "s0", Priority: 1, Status: graph.StepCompleted},
		{ID: "s1", Name: "s1", Priority: 2, Status: graph.StepFailed},
	}
	g := graph.New("task-2", steps, nil)
	step, _ := g.StepByID("s1")

	attempts := e.Recover("task-2", step, g, func(stepID string) (bool, error) {
		return false, nil
	})
	if len(attempts) != 2 {
		t.Fatalf("expected 2 attempts (retry, partial) with no alternative consuming an ordinal, got %d: %+v", len(attempts), attempts)
	}
	if attempts[0].Strategy != StrategyRetry || attempts[1].Strategy != StrategyPartial {
		t.Errorf("unexpected strategies: %+v", attempts)
	}
	if attempts[1].Ordinal != 2 {
		t.Errorf("expected partial at ordinal 2 (alternative didn't consume one), got %d", attempts[1].Ordinal)
	}
}

func TestRecoverCapturesExecuteFnError(t *testing.T) {
	e := New(3)
	g := fiveStepGraph()
	step, _ := g.StepByID("s2")

	attempts := e.Recover("task-1", step, g, func(stepID string) (bool, error) {
		return false, errors.New("boom")
	})
	if attempts[0].FailureDetail != "boom" {
		t.Errorf("expected failure detail captured, got %+v", attempts[0])
	}
}

func TestPartialFailsWithoutCompletedSteps(t *testing.T) {
	e := New(3)
	steps := []graph.Step{
		{ID: "s0", Name: "s0", Priority: 1, Status: graph.StepFailed},
	}
	g := graph.New("task-3", steps, nil)
	step, _ := g.StepByID("s0")

	attempts := e.Recover("task-3", step, g, func(stepID string) (bool, error) {
		return false, nil
	})
	last := attempts[len(attempts)-1]
	if last.Strategy != StrategyPartial || last.Outcome != OutcomeFailed {
		t.Errorf("expected failed partial stage, got %+v", last)
	}
}

func TestRecoverNeverExceedsMaxAttempts(t *testing.T) {
	e := New(3)
	g := fiveStepGraph()
	step, _ := g.StepByID("s2")

	attempts := e.Recover("task-1", step, g, func(stepID string) (bool, error) {
		return false, nil
	})
	if len(attempts) > 3 {
		t.Fatalf("expected at most 3 attempts, got %d", len(attempts))
	}
}
