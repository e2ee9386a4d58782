package concurrency

import (
	"testing"
	"time"
)

func TestAcquireRespectsBound(t *testing.T) {
	c := New(2, time.Minute)
	a := c.Acquire("A")
	b := c.Acquire("B")
	if a == nil || b == nil {
		t.Fatalf("expected both acquires to succeed")
	}
	if got := c.Acquire("C"); got != nil {
		t.Fatalf("expected acquire to return nil once saturated, got %+v", got)
	}
	if c.ActiveCount() != 2 {
		t.Errorf("active count = %d, want 2", c.ActiveCount())
	}
}

func TestSlotIDsMonotonicallyIncrease(t *testing.T) {
	c := New(5, time.Minute)
	prev := int64(0)
	for i := 0; i < 4; i++ {
		slot := c.Acquire("t")
		if slot.ID <= prev {
			t.Fatalf("slot id %d did not increase past %d", slot.ID, prev)
		}
		prev = slot.ID
	}
}

func TestQueueOrderedByDescendingRisk(t *testing.T) {
	c := New(1, time.Minute)
	c.Enqueue("low", 0.3)
	c.Enqueue("high", 0.9)
	c.Enqueue("mid", 0.6)

	queued := c.Queued()
	want := []string{"high", "mid", "low"}
	for i, w := range want {
		if queued[i] != w {
			t.Fatalf("queue = %v, want %v", queued, want)
		}
	}
}

func TestDequeueReturnsHighestRisk(t *testing.T) {
	c := New(2, time.Minute)
	c.Acquire("A")
	c.Acquire("B")
	if c.Acquire("C") != nil {
		t.Fatalf("expected saturation")
	}
	c.Enqueue("D", 0.3)
	c.Enqueue("E", 0.9)
	if got := c.Dequeue(); got != "E" {
		t.Fatalf("dequeue = %s, want E", got)
	}
}

func TestReleaseFreesCapacity(t *testing.T) {
	c := New(1, time.Minute)
	slot := c.Acquire("A")
	if slot == nil {
		t.Fatalf("expected acquire to succeed")
	}
	if c.Acquire("B") != nil {
		t.Fatalf("expected saturation before release")
	}
	if !c.Release(slot.ID) {
		t.Fatalf("expected release to succeed")
	}
	if c.Acquire("B") == nil {
		t.Fatalf("expected acquire to succeed after release")
	}
}

func TestCheckTimeoutsReleasesExpiredSlots(t *testing.T) {
	c := New(1, -time.Millisecond) // already expired on acquisition
	slot := c.Acquire("A")
	if slot == nil {
		t.Fatalf("expected acquire to succeed")
	}
	timedOut := c.CheckTimeouts()
	if len(timedOut) != 1 || timedOut[0] != "A" {
		t.Fatalf("expected A to time out, got %v", timedOut)
	}
	if c.ActiveCount() != 0 {
		t.Errorf("active count after timeout = %d, want 0", c.ActiveCount())
	}
}

func TestStableInsertionOrderForEqualRisk(t *testing.T) {
	c := New(1, time.Minute)
	c.Enqueue("first", 0.5)
	c.Enqueue("second", 0.5)
	c.Enqueue("third", 0.5)
	queued := c.Queued()
	want := []string{"first", "second", "third"}
	for i := range want {
		if queued[i] != want[i] {
			t.Fatalf("queue = %v, want %v", queued, want)
		}
	}
}
