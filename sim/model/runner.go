// Package model hosts participants: the Runner that connects any
// sim.Participant to a run, a factory registry keyed by model kind, and
// the stock models (queue, logger, relay).
package model

import (
	"context"
	"fmt"
	"io"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/lockstep-sim/lockstep/sim"
	"github.com/lockstep-sim/lockstep/sim/barrier"
	"github.com/lockstep-sim/lockstep/sim/bus"
	"github.com/lockstep-sim/lockstep/sim/metrics"
	"github.com/lockstep-sim/lockstep/sim/topology"
)

// Resolver is the part of the topology a participant needs.
type Resolver interface {
	Resolve(name string) (topology.Endpoint, error)
	DependenciesOf(name string) ([]string, error)
}

// Runner drives one participant: resolve, subscribe, Init, startup
// barrier, then a single-goroutine receive loop until the stop topic.
type Runner struct {
	participant sim.Participant
	resolver    Resolver
	bus         bus.Bus
	pub         sim.Publisher
	member      *barrier.Member
	log         *logrus.Entry

	endpoint topology.Endpoint
}

// NewRunner wires p to the bus b.
func NewRunner(p sim.Participant, resolver Resolver, b bus.Bus, cfg barrier.Config) *Runner {
	return &Runner{
		participant: p,
		resolver:    resolver,
		bus:         b,
		pub:         bus.EventPublisher{Bus: b},
		member:      barrier.NewMember(p.Name(), b, cfg),
		log:         logrus.WithField("participant", p.Name()),
	}
}

func (r *Runner) stopTopic() string {
	if s, ok := r.participant.(sim.Stopper); ok && s.StopTopic() != "" {
		return s.StopTopic()
	}
	return sim.TopicEnd
}

// joinsCheckpoints reports whether the initiator counts this participant
// in checkpoint rounds.
func (r *Runner) joinsCheckpoints() bool {
	return r.endpoint.Persistent && !r.endpoint.Auxiliary
}

func (r *Runner) topics() []string {
	set := map[string]struct{}{r.stopTopic(): {}}
	_, persistable := r.participant.(sim.Persistable)
	if persistable || r.joinsCheckpoints() {
		for _, t := range sim.CheckpointTopics {
			set[t] = struct{}{}
		}
	}
	if _, ok := r.participant.(sim.Configurable); ok {
		set[sim.TopicConfigure] = struct{}{}
	}
	for _, t := range r.participant.Topics() {
		set[t] = struct{}{}
	}
	out := make([]string, 0, len(set))
	for t := range set {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// prepare resolves the participant and its dependencies. Any unknown
// name is fatal.
func (r *Runner) prepare() error {
	name := r.participant.Name()
	ep, err := r.resolver.Resolve(name)
	if err != nil {
		return err
	}
	r.endpoint = ep
	deps, err := r.resolver.DependenciesOf(name)
	if err != nil {
		return err
	}
	for _, dep := range deps {
		if _, err := r.resolver.Resolve(dep); err != nil {
			return fmt.Errorf("%s: dependency: %w", name, err)
		}
	}
	return nil
}

// Run blocks until the stop topic arrives, ctx is cancelled or a barrier
// fails. Only fatal errors are returned; handler and persistence failures
// are logged and the loop continues.
func (r *Runner) Run(ctx context.Context) error {
	if c, ok := r.participant.(io.Closer); ok {
		defer func() {
			if err := c.Close(); err != nil {
				r.log.Warnf("close: %v", err)
			}
		}()
	}

	if err := r.prepare(); err != nil {
		return err
	}

	topics := r.topics()
	sub, err := r.bus.Subscribe(ctx, topics...)
	if err != nil {
		return &sim.ConnectionError{Endpoint: r.endpoint.Address(), Err: err}
	}
	defer sub.Close()

	if err := r.participant.Init(ctx); err != nil {
		return fmt.Errorf("%s: init: %w", r.participant.Name(), err)
	}

	if !r.endpoint.Auxiliary {
		if err := r.member.Arrive(ctx, barrier.StartupRound()); err != nil {
			return err
		}
	}
	r.log.Infof("running, subscribed to %v", topics)

	stop := r.stopTopic()
	for {
		select {
		case <-ctx.Done():
			r.log.Info("interrupted")
			return nil
		case msg, ok := <-sub.Messages():
			if !ok {
				r.log.Warn("bus closed")
				return nil
			}
			ev, err := sim.Decode(msg.Data)
			if err != nil {
				metrics.EventsDroppedTotal.WithLabelValues("malformed").Inc()
				r.log.Warnf("dropping message on %s: %v", msg.Topic, err)
				continue
			}
			if ev.Name == stop {
				r.log.Infof("%s at %d", stop, ev.Timestamp)
				return nil
			}
			if err := r.dispatch(ctx, ev); err != nil {
				return err
			}
		}
	}
}

func (r *Runner) dispatch(ctx context.Context, ev sim.Event) error {
	if req, ok := sim.CheckpointFromEvent(ev); ok {
		return r.checkpoint(ctx, req)
	}
	if ev.Name == sim.TopicConfigure {
		if c, ok := r.participant.(sim.Configurable); ok {
			if path, ok := ev.Payload.AsString(); ok {
				if err := c.Configure(path); err != nil {
					r.log.Errorf("configure %s: %v", path, err)
				}
			}
			return nil
		}
	}
	if err := r.participant.HandleEvent(ctx, ev, r.pub); err != nil {
		r.log.Warnf("handle %s: %v", ev, err)
	}
	return nil
}

// checkpoint saves or restores local state and then signals READY,
// whether or not the local step succeeded. Only the barrier can fail the run.
func (r *Runner) checkpoint(ctx context.Context, req sim.CheckpointRequest) error {
	if p, ok := r.participant.(sim.Persistable); ok {
		path := sim.StatePath(req.Path, r.participant.Name())
		var err error
		switch req.Kind {
		case sim.CheckpointSave:
			err = p.SaveState(path)
		case sim.CheckpointLoad:
			if err = p.LoadState(path); err == nil {
				err = r.participant.Init(ctx)
			}
		}
		result := "ok"
		if err != nil {
			result = "error"
			r.log.Errorf("%s: %v", req, err)
		} else {
			r.log.Debugf("%s done", req)
		}
		metrics.CheckpointsTotal.WithLabelValues(req.Kind.String(), result).Inc()
	}
	if !r.joinsCheckpoints() {
		return nil
	}
	return r.member.Arrive(ctx, barrier.CheckpointRound(req))
}
