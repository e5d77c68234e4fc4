package model

import (
	"bytes"
	"context"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/lockstep-sim/lockstep/sim"
	"github.com/lockstep-sim/lockstep/sim/persist"
	"github.com/lockstep-sim/lockstep/sim/schedule"
)

// QueueKind is the registered kind of Queue.
const QueueKind = "queue"

func init() {
	Register(QueueKind, func(spec Spec) (sim.Participant, error) {
		var opts QueueOptions
		if err := spec.DecodeOptions(&opts); err != nil {
			return nil, err
		}
		return NewQueue(spec.Name, opts, spec.Store)
	})
}

// QueueOptions seeds a queue's schedule.
type QueueOptions struct {
	Events []schedule.ScheduledEvent `yaml:"events"`
}

// Queue publishes its scheduled events as simulation time passes. Its
// pending schedule survives checkpoints.
type Queue struct {
	name      string
	sched     *schedule.Scheduler
	persister *persist.Persister

	// persisted
	current uint64
	fired   int64
	entries []schedule.ScheduledEvent
}

// NewQueue creates a queue holding opts.Events.
func NewQueue(name string, opts QueueOptions, store persist.Store) (*Queue, error) {
	q := &Queue{name: name, sched: schedule.New()}
	if err := q.sched.Reset(opts.Events); err != nil {
		return nil, err
	}
	q.persister = &persist.Persister{
		Name:  name,
		Store: store,
		Schema: persist.NewSchema().
			Uint("current_sim_time", &q.current).
			Int("fired", &q.fired).
			Value("events", &q.entries),
		AfterLoad: func() error { return q.sched.Reset(q.entries) },
	}
	return q, nil
}

func (q *Queue) Name() string { return q.name }

func (q *Queue) Topics() []string { return []string{sim.TopicSimTimeChanged} }

// Init implements sim.Participant.
func (q *Queue) Init(context.Context) error {
	logrus.WithField("participant", q.name).Debugf("%d events pending", q.sched.Len())
	return nil
}

// HandleEvent fires everything due at the new simulation time.
func (q *Queue) HandleEvent(ctx context.Context, ev sim.Event, pub sim.Publisher) error {
	if ev.Name != sim.TopicSimTimeChanged {
		return nil
	}
	q.current = ev.Timestamp
	n, err := q.sched.Fire(ctx, ev.Timestamp, pub)
	q.fired += int64(n)
	return err
}

// Configure replaces the pending schedule with the events listed in the
// QueueOptions file at path. The current schedule is kept on any error.
func (q *Queue) Configure(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var opts QueueOptions
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&opts); err != nil {
		return fmt.Errorf("%s: parse %s: %w", q.name, path, err)
	}
	if err := q.sched.Reset(opts.Events); err != nil {
		return fmt.Errorf("%s: %w", q.name, err)
	}
	logrus.WithField("participant", q.name).Debugf("configured from %s: %d events pending", path, q.sched.Len())
	return nil
}

// SaveState implements sim.Persistable.
func (q *Queue) SaveState(path string) error {
	q.entries = q.sched.Entries()
	return q.persister.SaveState(path)
}

// LoadState implements sim.Persistable.
func (q *Queue) LoadState(path string) error { return q.persister.LoadState(path) }

// Pending returns the entries still to fire.
func (q *Queue) Pending() []schedule.ScheduledEvent { return q.sched.Entries() }

// Fired is the number of events published so far.
func (q *Queue) Fired() int64 { return q.fired }
