// Package schedule turns declarative {time, period, repeat, priority}
// entries into events published at the right simulation time.
package schedule

import (
	"context"
	"fmt"
	"sort"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/lockstep-sim/lockstep/sim"
)

// RepeatForever marks an entry that never retires.
const RepeatForever = -1

// ScheduledEvent is one entry of a schedule. An entry fires once when it
// becomes due and then, while Repeat is RepeatForever or positive, is
// re-armed Period after the time it fired with a finite Repeat decremented.
// Repeat 0 retires the entry after its next firing.
type ScheduledEvent struct {
	Name      string       `yaml:"name"`
	Timestamp uint64       `yaml:"time"`
	Period    uint64       `yaml:"period,omitempty"`
	Repeat    int          `yaml:"repeat,omitempty"`
	Priority  sim.Priority `yaml:"priority"`
	Payload   sim.Payload  `yaml:"payload,omitempty"`

	seq uint64
}

// UnmarshalYAML defaults a missing priority to normal.
func (e *ScheduledEvent) UnmarshalYAML(value *yaml.Node) error {
	type plain ScheduledEvent
	p := plain{Priority: sim.PriorityNormal}
	if err := value.Decode(&p); err != nil {
		return err
	}
	*e = ScheduledEvent(p)
	return nil
}

// Validate checks an entry before it is scheduled.
func (e ScheduledEvent) Validate() error {
	if e.Name == "" {
		return fmt.Errorf("scheduled event without name")
	}
	if e.Repeat < RepeatForever {
		return fmt.Errorf("scheduled event %q: repeat %d (want >= 0, or %d for forever)", e.Name, e.Repeat, RepeatForever)
	}
	if e.Repeat != 0 && e.Period == 0 {
		return fmt.Errorf("scheduled event %q: repeating entry needs a positive period", e.Name)
	}
	if !e.Priority.Valid() {
		return fmt.Errorf("scheduled event %q: invalid priority %d", e.Name, e.Priority)
	}
	return nil
}

func (e ScheduledEvent) event(now uint64) sim.Event {
	return sim.NewEvent(e.Name, now).WithPriority(e.Priority).WithPayload(e.Payload)
}

// Scheduler holds the pending entries of one participant. It is driven from
// the participant's single goroutine and is not safe for concurrent use.
type Scheduler struct {
	heap    *EventHeap
	nextSeq uint64
}

// New returns an empty scheduler.
func New() *Scheduler {
	return &Scheduler{heap: NewEventHeap()}
}

// Schedule adds an entry. Entries that tie on time and priority fire in
// the order they were scheduled.
func (s *Scheduler) Schedule(e ScheduledEvent) error {
	if err := e.Validate(); err != nil {
		return err
	}
	e.seq = s.nextSeq
	s.nextSeq++
	s.heap.Schedule(&e)
	return nil
}

// Len is the number of pending entries.
func (s *Scheduler) Len() int { return s.heap.Len() }

// NextDue returns the earliest pending timestamp.
func (s *Scheduler) NextDue() (uint64, bool) {
	next := s.heap.Peek()
	if next == nil {
		return 0, false
	}
	return next.Timestamp, true
}

// Due removes every entry with Timestamp <= now and returns the events to
// publish, ordered by (timestamp, priority, insertion). Each event carries
// now as its timestamp. Repeating entries are re-armed at now+Period and
// keep their insertion position among equals.
func (s *Scheduler) Due(now uint64) []sim.Event {
	var (
		out   []sim.Event
		rearm []*ScheduledEvent
	)
	for {
		next := s.heap.Peek()
		if next == nil || next.Timestamp > now {
			break
		}
		entry := s.heap.PopNext()
		out = append(out, entry.event(now))

		switch {
		case entry.Repeat == RepeatForever:
		case entry.Repeat > 0:
			entry.Repeat--
		default:
			logrus.Debugf("schedule: %s retired at %d", entry.Name, now)
			continue
		}
		entry.Timestamp = now + entry.Period
		rearm = append(rearm, entry)
	}
	for _, entry := range rearm {
		s.heap.Schedule(entry)
	}
	return out
}

// Fire publishes every event due at now and returns how many were sent.
// Firing an empty schedule is a no-op.
func (s *Scheduler) Fire(ctx context.Context, now uint64, pub sim.Publisher) (int, error) {
	due := s.Due(now)
	for i, ev := range due {
		if err := pub.Publish(ctx, ev); err != nil {
			return i, fmt.Errorf("fire %s at %d: %w", ev.Name, now, err)
		}
	}
	return len(due), nil
}

// Entries returns a copy of the pending entries in firing order.
func (s *Scheduler) Entries() []ScheduledEvent {
	out := make([]ScheduledEvent, 0, s.heap.Len())
	for _, e := range s.heap.entries {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Timestamp != b.Timestamp {
			return a.Timestamp < b.Timestamp
		}
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		return a.seq < b.seq
	})
	return out
}

// Reset replaces the schedule with entries, numbering them in slice order.
func (s *Scheduler) Reset(entries []ScheduledEvent) error {
	fresh := New()
	for _, e := range entries {
		if err := fresh.Schedule(e); err != nil {
			return err
		}
	}
	*s = *fresh
	return nil
}
