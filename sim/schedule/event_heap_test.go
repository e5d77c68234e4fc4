package schedule

import (
	"testing"

	"github.com/lockstep-sim/lockstep/sim"
)

// TestEventHeap_TimestampOrdering tests that entries pop in timestamp order
func TestEventHeap_TimestampOrdering(t *testing.T) {
	h := NewEventHeap()

	h.Schedule(&ScheduledEvent{Name: "a", Timestamp: 100, seq: 1})
	h.Schedule(&ScheduledEvent{Name: "b", Timestamp: 50, seq: 2})
	h.Schedule(&ScheduledEvent{Name: "c", Timestamp: 150, seq: 3})

	for _, want := range []uint64{50, 100, 150} {
		got := h.PopNext()
		if got.Timestamp != want {
			t.Errorf("timestamp = %d, want %d", got.Timestamp, want)
		}
	}
	if h.Len() != 0 {
		t.Errorf("heap should be empty, len = %d", h.Len())
	}
	if h.PopNext() != nil || h.Peek() != nil {
		t.Error("empty heap should return nil")
	}
}

// TestEventHeap_PriorityOrdering tests same-timestamp entries pop high priority first
func TestEventHeap_PriorityOrdering(t *testing.T) {
	h := NewEventHeap()

	h.Schedule(&ScheduledEvent{Name: "low", Timestamp: 100, Priority: sim.PriorityLow, seq: 1})
	h.Schedule(&ScheduledEvent{Name: "normal", Timestamp: 100, Priority: sim.PriorityNormal, seq: 2})
	h.Schedule(&ScheduledEvent{Name: "high", Timestamp: 100, Priority: sim.PriorityHigh, seq: 3})

	for _, want := range []string{"high", "normal", "low"} {
		if got := h.PopNext().Name; got != want {
			t.Errorf("popped %s, want %s", got, want)
		}
	}
}

// TestEventHeap_SequenceOrdering tests full ties fall back to insertion sequence
func TestEventHeap_SequenceOrdering(t *testing.T) {
	h := NewEventHeap()

	h.Schedule(&ScheduledEvent{Name: "third", Timestamp: 100, seq: 3})
	h.Schedule(&ScheduledEvent{Name: "first", Timestamp: 100, seq: 1})
	h.Schedule(&ScheduledEvent{Name: "second", Timestamp: 100, seq: 2})

	for _, want := range []string{"first", "second", "third"} {
		if got := h.PopNext().Name; got != want {
			t.Errorf("popped %s, want %s", got, want)
		}
	}
}
