package schedule

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/lockstep-sim/lockstep/sim"
)

// countFirings drives s from 0 to end in steps and counts events per name.
func countFirings(s *Scheduler, end, step uint64) map[string]int {
	counts := make(map[string]int)
	for now := uint64(0); now <= end; now += step {
		for _, ev := range s.Due(now) {
			counts[ev.Name]++
		}
	}
	return counts
}

func TestScheduler_RepeatCounts(t *testing.T) {
	// GIVEN entries with repeat 0, 3 and forever, period 10
	s := New()
	require.NoError(t, s.Schedule(ScheduledEvent{Name: "once", Timestamp: 0}))
	require.NoError(t, s.Schedule(ScheduledEvent{Name: "three", Timestamp: 0, Period: 10, Repeat: 3}))
	require.NoError(t, s.Schedule(ScheduledEvent{Name: "forever", Timestamp: 0, Period: 10, Repeat: RepeatForever}))

	// WHEN time advances 0..200 step 10
	counts := countFirings(s, 200, 10)

	// THEN repeat 0 fires once, repeat 3 fires 1+3 times, forever every step
	assert.Equal(t, 1, counts["once"])
	assert.Equal(t, 4, counts["three"])
	assert.Equal(t, 21, counts["forever"])

	// AND only the forever entry remains
	require.Equal(t, 1, s.Len())
	assert.Equal(t, "forever", s.Entries()[0].Name)
}

func TestScheduler_DueOrdering(t *testing.T) {
	// GIVEN several entries due by t=20 with ties on time and priority
	s := New()
	require.NoError(t, s.Schedule(ScheduledEvent{Name: "late", Timestamp: 20}))
	require.NoError(t, s.Schedule(ScheduledEvent{Name: "tieA", Timestamp: 10}))
	require.NoError(t, s.Schedule(ScheduledEvent{Name: "urgent", Timestamp: 10, Priority: sim.PriorityHigh}))
	require.NoError(t, s.Schedule(ScheduledEvent{Name: "tieB", Timestamp: 10}))
	require.NoError(t, s.Schedule(ScheduledEvent{Name: "future", Timestamp: 30}))

	// WHEN asking what is due at 20
	due := s.Due(20)

	// THEN (timestamp, priority desc, insertion) order, stamped with now
	names := make([]string, len(due))
	for i, ev := range due {
		names[i] = ev.Name
		assert.Equal(t, uint64(20), ev.Timestamp)
	}
	assert.Equal(t, []string{"urgent", "tieA", "tieB", "late"}, names)
	assert.Equal(t, 1, s.Len())
}

func TestScheduler_RearmedEntryKeepsInsertionPosition(t *testing.T) {
	s := New()
	require.NoError(t, s.Schedule(ScheduledEvent{Name: "first", Timestamp: 0, Period: 5, Repeat: RepeatForever}))
	require.NoError(t, s.Schedule(ScheduledEvent{Name: "second", Timestamp: 5}))

	s.Due(0)
	due := s.Due(5)

	require.Len(t, due, 2)
	assert.Equal(t, "first", due[0].Name)
	assert.Equal(t, "second", due[1].Name)
}

func TestScheduler_EmptyScheduleIsNoOp(t *testing.T) {
	s := New()
	pub := &recordingPublisher{}

	n, err := s.Fire(context.Background(), 100, pub)

	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, pub.events)
	_, ok := s.NextDue()
	assert.False(t, ok)
}

func TestScheduler_FirePublishesPayloadAndPriority(t *testing.T) {
	s := New()
	require.NoError(t, s.Schedule(ScheduledEvent{
		Name: "Alarm", Timestamp: 50, Priority: sim.PriorityHigh, Payload: sim.StringPayload("wake"),
	}))
	pub := &recordingPublisher{}

	n, err := s.Fire(context.Background(), 40, pub)
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = s.Fire(context.Background(), 60, pub)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	ev := pub.events[0]
	assert.Equal(t, "Alarm", ev.Name)
	assert.Equal(t, uint64(60), ev.Timestamp)
	assert.Equal(t, sim.PriorityHigh, ev.Priority)
	assert.True(t, sim.StringPayload("wake").Equal(ev.Payload))
}

func TestScheduler_FireStopsAtPublishError(t *testing.T) {
	s := New()
	require.NoError(t, s.Schedule(ScheduledEvent{Name: "a", Timestamp: 0}))
	require.NoError(t, s.Schedule(ScheduledEvent{Name: "b", Timestamp: 0}))
	boom := errors.New("boom")

	n, err := s.Fire(context.Background(), 0, &recordingPublisher{err: boom})

	assert.ErrorIs(t, err, boom)
	assert.Zero(t, n)
}

func TestScheduledEvent_Validate(t *testing.T) {
	tests := []struct {
		name string
		e    ScheduledEvent
	}{
		{"no name", ScheduledEvent{}},
		{"repeat below forever", ScheduledEvent{Name: "x", Period: 1, Repeat: -2}},
		{"repeat without period", ScheduledEvent{Name: "x", Repeat: 2}},
		{"forever without period", ScheduledEvent{Name: "x", Repeat: RepeatForever}},
		{"bad priority", ScheduledEvent{Name: "x", Priority: sim.Priority(9)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, New().Schedule(tt.e))
		})
	}
}

func TestScheduler_ResetAndEntries_RoundTripThroughYAML(t *testing.T) {
	// GIVEN a schedule part-way through a run
	s := New()
	require.NoError(t, s.Schedule(ScheduledEvent{Name: "tick", Timestamp: 0, Period: 100, Repeat: 2, Payload: sim.IntPayload(7)}))
	require.NoError(t, s.Schedule(ScheduledEvent{Name: "once", Timestamp: 500, Priority: sim.PriorityLow}))
	s.Due(0)

	// WHEN its entries are written out and loaded into a fresh scheduler
	data, err := yaml.Marshal(s.Entries())
	require.NoError(t, err)
	var entries []ScheduledEvent
	require.NoError(t, yaml.Unmarshal(data, &entries))
	restored := New()
	require.NoError(t, restored.Reset(entries))

	// THEN both schedules fire identically from here on
	assert.Equal(t, countFirings(s, 1000, 100), countFirings(restored, 1000, 100))
}

type recordingPublisher struct {
	events []sim.Event
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, ev sim.Event) error {
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, ev)
	return nil
}

func TestScheduledEvent_YAMLDefaultsToNormalPriority(t *testing.T) {
	var entries []ScheduledEvent
	src := "- {name: Tick, time: 0, period: 100, repeat: -1}\n- {name: Quiet, time: 5, priority: low}\n"
	require.NoError(t, yaml.Unmarshal([]byte(src), &entries))

	require.Len(t, entries, 2)
	assert.Equal(t, sim.PriorityNormal, entries[0].Priority)
	assert.Equal(t, RepeatForever, entries[0].Repeat)
	assert.Equal(t, sim.PriorityLow, entries[1].Priority)
}
