package model

import (
	"context"
	"fmt"
	"sort"

	"github.com/lockstep-sim/lockstep/sim"
	"github.com/lockstep-sim/lockstep/sim/persist"
)

// RelayKind is the registered kind of Relay.
const RelayKind = "relay"

func init() {
	Register(RelayKind, func(spec Spec) (sim.Participant, error) {
		var opts RelayOptions
		if err := spec.DecodeOptions(&opts); err != nil {
			return nil, err
		}
		return NewRelay(spec.Name, opts, spec.Store)
	})
}

// RelayOptions map each input topic to the topic answered with.
type RelayOptions struct {
	Routes map[string]string `yaml:"routes"`
	// Log publishes a LogInfo line for every event received and sent.
	Log bool `yaml:"log"`
}

// Relay answers each routed event with another event at the same time,
// carrying the same payload. Two relays wired back to back give the
// request/response exchange used to check a deployment end to end.
type Relay struct {
	name      string
	routes    map[string]string
	log       bool
	persister *persist.Persister

	// persisted
	current   uint64
	received  int64
	published int64
}

// NewRelay creates a relay. Routes must not answer on reserved topics.
func NewRelay(name string, opts RelayOptions, store persist.Store) (*Relay, error) {
	if len(opts.Routes) == 0 {
		return nil, fmt.Errorf("relay %s: no routes", name)
	}
	routes := make(map[string]string, len(opts.Routes))
	for in, out := range opts.Routes {
		if in == "" || out == "" {
			return nil, fmt.Errorf("relay %s: empty topic in route %q -> %q", name, in, out)
		}
		if sim.IsReserved(in) || sim.IsReserved(out) {
			return nil, fmt.Errorf("relay %s: route %q -> %q uses a reserved topic", name, in, out)
		}
		routes[in] = out
	}
	r := &Relay{name: name, routes: routes, log: opts.Log}
	r.persister = &persist.Persister{
		Name:  name,
		Store: store,
		Schema: persist.NewSchema().
			Uint("current_sim_time", &r.current).
			Int("received", &r.received).
			Int("published", &r.published),
	}
	return r, nil
}

func (r *Relay) Name() string { return r.name }

// Topics returns the routed input topics.
func (r *Relay) Topics() []string {
	out := make([]string, 0, len(r.routes))
	for in := range r.routes {
		out = append(out, in)
	}
	sort.Strings(out)
	return out
}

func (r *Relay) Init(context.Context) error { return nil }

// HandleEvent answers a routed event.
func (r *Relay) HandleEvent(ctx context.Context, ev sim.Event, pub sim.Publisher) error {
	target, ok := r.routes[ev.Name]
	if !ok {
		return nil
	}
	r.current = ev.Timestamp
	r.received++
	r.logf(ctx, pub, "%s received %s", r.name, ev.Name)

	reply := sim.NewEvent(target, ev.Timestamp).WithPriority(ev.Priority).WithPayload(ev.Payload)
	if err := pub.Publish(ctx, reply); err != nil {
		return err
	}
	r.published++
	r.logf(ctx, pub, "%s published %s", r.name, target)
	return nil
}

func (r *Relay) logf(ctx context.Context, pub sim.Publisher, format string, args ...any) {
	if !r.log {
		return
	}
	ev := sim.NewEvent(sim.TopicLogInfo, r.current).WithPayload(sim.StringPayload(fmt.Sprintf(format, args...)))
	_ = pub.Publish(ctx, ev)
}

// SaveState implements sim.Persistable.
func (r *Relay) SaveState(path string) error { return r.persister.SaveState(path) }

// LoadState implements sim.Persistable.
func (r *Relay) LoadState(path string) error { return r.persister.LoadState(path) }

// Counts returns the received and published totals.
func (r *Relay) Counts() (received, published int64) { return r.received, r.published }
