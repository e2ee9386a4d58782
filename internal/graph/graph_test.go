package graph

import (
	"path/filepath"
	"reflect"
	"testing"
)

func linearGraph() *Graph {
	steps := []Step{
		{ID: "a", Name: "A", Priority: 1, Status: StepPending},
		{ID: "b", Name: "B", Priority: 2, Status: StepPending},
		{ID: "c", Name: "C", Priority: 3, Status: StepPending},
	}
	deps := map[string][]string{
		"a": {"b"},
		"b": {"c"},
	}
	return New("task-1", steps, deps)
}

func TestExecutionOrderRespectsEdges(t *testing.T) {
	g := linearGraph()
	if err := g.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	order, err := g.ExecutionOrder()
	if err != nil {
		t.Fatalf("execution order: %v", err)
	}
	got := []string{order[0].ID, order[1].ID, order[2].ID}
	want := []string{"a", "b", "c"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("order = %v, want %v", got, want)
	}
}

func TestExecutionOrderBreaksTiesByPriority(t *testing.T) {
	steps := []Step{
		{ID: "x", Name: "X", Priority: 2, Status: StepPending},
		{ID: "y", Name: "Y", Priority: 1, Status: StepPending},
	}
	g := New("task-2", steps, nil)
	order, err := g.ExecutionOrder()
	if err != nil {
		t.Fatalf("execution order: %v", err)
	}
	if order[0].ID != "y" {
		t.Errorf("expected lower-priority step y first, got %s", order[0].ID)
	}
}

func TestCycleDetected(t *testing.T) {
	steps := []Step{
		{ID: "a", Name: "A", Priority: 1, Status: StepPending},
		{ID: "b", Name: "B", Priority: 2, Status: StepPending},
	}
	deps := map[string][]string{
		"a": {"b"},
		"b": {"a"},
	}
	g := New("task-3", steps, deps)
	if err := g.Validate(); err == nil {
		t.Fatalf("expected cycle validation error, got nil")
	}
}

func TestEdgeToUnknownStepRejected(t *testing.T) {
	steps := []Step{{ID: "a", Name: "A", Priority: 1, Status: StepPending}}
	deps := map[string][]string{"a": {"ghost"}}
	g := New("task-4", steps, deps)
	if err := g.Validate(); err == nil {
		t.Fatalf("expected validation error for unknown edge target")
	}
}

func TestNoStepsRejected(t *testing.T) {
	g := New("task-5", nil, nil)
	if err := g.Validate(); err != ErrNoSteps {
		t.Fatalf("expected ErrNoSteps, got %v", err)
	}
}

func TestSerializationRoundTrip(t *testing.T) {
	g := linearGraph()
	data, err := g.Marshal()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	got, err := Unmarshal(data)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.TaskID != g.TaskID || len(got.Steps) != len(g.Steps) {
		t.Errorf("round trip mismatch: %+v vs %+v", got, g)
	}
}

func TestSaveAndLoad(t *testing.T) {
	dir := t.TempDir()
	g := linearGraph()
	if err := g.Save(dir); err != nil {
		t.Fatalf("save: %v", err)
	}
	loaded, err := Load(dir, g.TaskID)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.TaskID != g.TaskID {
		t.Errorf("loaded task id = %s, want %s", loaded.TaskID, g.TaskID)
	}
	if _, err := Load(filepath.Join(dir, "nope"), "missing"); err == nil {
		t.Errorf("expected error loading missing plan")
	}
}
