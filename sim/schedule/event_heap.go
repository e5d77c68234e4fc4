package schedule

import "container/heap"

// EventHeap is the scheduler's pending queue.
// Order: timestamp (earliest first) → priority (high first) → insertion sequence
type EventHeap struct {
	entries []*ScheduledEvent
}

// NewEventHeap creates a new event heap
func NewEventHeap() *EventHeap {
	h := &EventHeap{
		entries: make([]*ScheduledEvent, 0),
	}
	heap.Init(h)
	return h
}

// Len implements heap.Interface
func (h *EventHeap) Len() int {
	return len(h.entries)
}

// Less implements heap.Interface.
// Order: timestamp (earliest first) → priority (high first) → insertion sequence
func (h *EventHeap) Less(i, j int) bool {
	ei, ej := h.entries[i], h.entries[j]

	// Primary: timestamp (lower first)
	if ei.Timestamp != ej.Timestamp {
		return ei.Timestamp < ej.Timestamp
	}

	// Secondary: priority (higher first)
	if ei.Priority != ej.Priority {
		return ei.Priority > ej.Priority
	}

	// Tertiary: insertion sequence (earlier first, deterministic tie-breaker)
	return ei.seq < ej.seq
}

// Swap implements heap.Interface
func (h *EventHeap) Swap(i, j int) {
	h.entries[i], h.entries[j] = h.entries[j], h.entries[i]
}

// Push implements heap.Interface
func (h *EventHeap) Push(x interface{}) {
	h.entries = append(h.entries, x.(*ScheduledEvent))
}

// Pop implements heap.Interface
func (h *EventHeap) Pop() interface{} {
	old := h.entries
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	h.entries = old[0 : n-1]
	return item
}

// Schedule adds an entry to the heap
func (h *EventHeap) Schedule(e *ScheduledEvent) {
	heap.Push(h, e)
}

// PopNext removes and returns the next entry
func (h *EventHeap) PopNext() *ScheduledEvent {
	if h.Len() == 0 {
		return nil
	}
	return heap.Pop(h).(*ScheduledEvent)
}

// Peek returns the next entry without removing it
func (h *EventHeap) Peek() *ScheduledEvent {
	if h.Len() == 0 {
		return nil
	}
	return h.entries[0]
}
