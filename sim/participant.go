package sim

import "context"

// Publisher sends events on the bus. Publishing is fire-and-forget: a nil
// error means the event was handed to the transport, not that anyone got it.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// Participant is the base capability of every model taking part in a run.
// The participant runtime subscribes to Topics, runs the startup barrier, and
// then feeds every decoded event to HandleEvent from a single goroutine.
type Participant interface {
	Name() string
	// Topics lists the model-specific topics to subscribe to. Reserved
	// topics are added by the runtime.
	Topics() []string
	// Init is called once after the subscription is in place and again after
	// every successful state restore.
	Init(ctx context.Context) error
	HandleEvent(ctx context.Context, ev Event, pub Publisher) error
}

// Persistable is the optional checkpoint capability. Both methods perform
// local blocking I/O; the runtime signals the barrier after they return,
// whether or not they failed.
type Persistable interface {
	SaveState(path string) error
	LoadState(path string) error
}

// Configurable participants accept a configuration file on the Configure topic.
type Configurable interface {
	Configure(path string) error
}

// Stopper lets a participant choose the terminal topic it exits on.
// Participants that do not implement it stop on End.
type Stopper interface {
	StopTopic() string
}
