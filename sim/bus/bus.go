// Package bus provides the topic-based publish/subscribe transports that
// carry encoded events between participants.
//
// Delivery is best effort: Publish never blocks on receivers, and only
// subscriptions that exist when a message is published receive it. There is
// no backlog and no durability. Callers that need "nobody misses the first
// real event" use sim/barrier on top of this.
package bus

import (
	"context"
	"errors"
	"fmt"

	"github.com/lockstep-sim/lockstep/sim"
	"github.com/lockstep-sim/lockstep/sim/metrics"
)

// ErrClosed is returned when publishing or subscribing on a closed bus.
var ErrClosed = errors.New("bus closed")

// Message is one payload received on a topic.
type Message struct {
	Topic string
	Data  []byte
}

// Subscription receives messages for the topics it was created with.
// The channel is closed after Close, or when the bus goes away.
type Subscription interface {
	Messages() <-chan Message
	Close() error
}

// Bus is a fire-and-forget multi-subscriber broadcast transport.
type Bus interface {
	// Publish hands data to every current subscriber of topic without blocking on them.
	Publish(ctx context.Context, topic string, data []byte) error
	// Subscribe returns once the subscription is in place: any message
	// published after Subscribe returns is delivered to it.
	Subscribe(ctx context.Context, topics ...string) (Subscription, error)
	Close() error
}

// EventPublisher adapts a Bus to sim.Publisher by encoding events with the
// envelope codec and using the event name as the topic.
type EventPublisher struct {
	Bus Bus
}

// Publish encodes ev and publishes it on the topic ev.Name.
func (p EventPublisher) Publish(ctx context.Context, ev sim.Event) error {
	data, err := sim.Encode(ev)
	if err != nil {
		return err
	}
	if err := p.Bus.Publish(ctx, ev.Name, data); err != nil {
		return fmt.Errorf("publish %s: %w", ev.Name, err)
	}
	metrics.EventsPublishedTotal.WithLabelValues(ev.Name).Inc()
	return nil
}
