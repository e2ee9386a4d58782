package planner

import "testing"

func TestDecomposeInfersDocumentType(t *testing.T) {
	p := New(nil)
	g, err := p.Decompose("Create summary report draft", "", "task-1")
	if err != nil {
		t.Fatalf("decompose: %v", err)
	}
	if len(g.Steps) < 3 {
		t.Fatalf("expected at least 3 steps, got %d", len(g.Steps))
	}
	if g.Steps[0].ID != "draft" {
		t.Errorf("expected document template, got first step %s", g.Steps[0].ID)
	}
	for i, s := range g.Steps {
		if s.Priority != i+1 {
			t.Errorf("step %d priority = %d, want %d", i, s.Priority, i+1)
		}
	}
}

func TestDecomposeEmptyContentFails(t *testing.T) {
	p := New(nil)
	if _, err := p.Decompose("   ", "", "task-2"); err != ErrEmptyContent {
		t.Fatalf("expected ErrEmptyContent, got %v", err)
	}
}

func TestDecomposeDefaultsToGeneralOnZeroScore(t *testing.T) {
	p := New(nil)
	g, err := p.Decompose("xyzzy plugh frotz", "", "task-3")
	if err != nil {
		t.Fatalf("decompose: %v", err)
	}
	if g.Steps[0].ID != "analyze" {
		t.Errorf("expected general template, got first step %s", g.Steps[0].ID)
	}
}

func TestDecomposeProducesValidGraph(t *testing.T) {
	p := New(nil)
	g, err := p.Decompose("Refactor this function and add a test", "", "task-4")
	if err != nil {
		t.Fatalf("decompose: %v", err)
	}
	if err := g.Validate(); err != nil {
		t.Fatalf("planner produced an invalid graph: %v", err)
	}
}

func TestDecomposeExplicitTaskType(t *testing.T) {
	p := New(nil)
	g, err := p.Decompose("irrelevant wording", "email", "task-5")
	if err != nil {
		t.Fatalf("decompose: %v", err)
	}
	if g.Steps[0].ID != "compose" {
		t.Errorf("expected email template honored, got %s", g.Steps[0].ID)
	}
}
