package orchestrator

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/swarmguard/taskctl/internal/audit"
	"github.com/swarmguard/taskctl/internal/learning"
)

func newTestLoop(t *testing.T, cfg Config, store *MemoryTaskStore, rollback RollbackSystem, execute StepExecutor) (*Loop, string) {
	t.Helper()
	dir := t.TempDir()
	auditPath := filepath.Join(dir, "audit.log")

	log, err := audit.Open(auditPath)
	if err != nil {
		t.Fatalf("open audit log: %v", err)
	}
	t.Cleanup(func() { log.Close() })

	learningStore, err := learning.Open(filepath.Join(dir, "learning.db"), cfg.LearningWindow)
	if err != nil {
		t.Fatalf("open learning store: %v", err)
	}
	t.Cleanup(func() { learningStore.Close() })

	cfg.PlansDir = filepath.Join(dir, "plans")
	cfg.RollbackDir = ""

	return New(cfg, log, learningStore, store, rollback, NoopNotifier{}, nil, execute), auditPath
}

func TestSimpleTaskAutoExecutes(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AutoExecuteSimple = true

	store := NewMemoryTaskStore()
	store.Put(&Task{ID: "t1", Type: "report", Content: "Create summary report", Status: StatusPending})

	loop, auditPath := newTestLoop(t, cfg, store, nil, func(taskID, stepID string) (bool, error) {
		return true, nil
	})

	loop.Tick()
	loop.Tick() // second tick is a no-op once the task has reached a terminal status

	task, ok := store.Get("t1")
	if !ok {
		t.Fatalf("task not found")
	}
	if task.Classification != "simple" {
		t.Fatalf("classification = %s, want simple", task.Classification)
	}
	if task.Status != StatusDone {
		t.Fatalf("status = %s, want done", task.Status)
	}

	entries := readAll(t, auditPath)
	assertOpCount(t, entries, "task_classified", 1)
	assertOpCount(t, entries, "task_executed", 1)
	assertOpCount(t, entries, "learning_update", 1)
}

func TestComplexTaskEscalatesToRollback(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AutoExecuteComplex = true

	store := NewMemoryTaskStore()
	store.Put(&Task{ID: "t2", Type: "general", Content: "Deploy to production via SSH and curl the api endpoint", Status: StatusPending})

	rollbackDir := t.TempDir()
	rollback, err := NewFileRollbackStore(rollbackDir, time.Hour)
	if err != nil {
		t.Fatalf("new rollback store: %v", err)
	}

	loop, auditPath := newTestLoop(t, cfg, store, rollback, func(taskID, stepID string) (bool, error) {
		return false, nil
	})

	loop.Tick()
	loop.Tick()

	task, ok := store.Get("t2")
	if !ok {
		t.Fatalf("task not found")
	}
	if task.Classification != "complex" {
		t.Fatalf("classification = %s, want complex", task.Classification)
	}
	if task.Status != StatusFailedRollback {
		t.Fatalf("status = %s, want failed_rollback", task.Status)
	}

	entries := readAll(t, auditPath)
	assertOpCount(t, entries, "rollback_triggered", 1)
}

func TestConcurrencySaturationQueuesOverflow(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxParallelTasks = 1
	cfg.AutoExecuteSimple = true

	store := NewMemoryTaskStore()
	store.Put(&Task{ID: "a", Type: "report", Content: "Create summary report A", Status: StatusPending})
	store.Put(&Task{ID: "b", Type: "report", Content: "Create summary report B", Status: StatusPending})

	blocked := make(chan struct{})
	release := make(chan struct{})
	first := true

	loop, auditPath := newTestLoop(t, cfg, store, nil, func(taskID, stepID string) (bool, error) {
		if first {
			first = false
			close(blocked)
			<-release
		}
		return true, nil
	})

	done := make(chan struct{})
	go func() {
		loop.Tick()
		close(done)
	}()

	<-blocked
	if loop.controller.ActiveCount() != 1 {
		t.Fatalf("active count = %d, want 1 while first task blocked", loop.controller.ActiveCount())
	}
	close(release)
	<-done

	assertOpCount(t, readAll(t, auditPath), "concurrency_queued", 1)
}

func readAll(t *testing.T, auditPath string) []audit.Entry {
	t.Helper()
	reader := audit.NewReader(auditPath)
	entries, err := reader.Tail(1000)
	if err != nil {
		t.Fatalf("tail: %v", err)
	}
	return entries
}

func assertOpCount(t *testing.T, entries []audit.Entry, op string, want int) {
	t.Helper()
	got := 0
	for _, e := range entries {
		if string(e.Op) == op {
			got++
		}
	}
	if got != want {
		t.Errorf("op %s count = %d, want %d", op, got, want)
	}
}
