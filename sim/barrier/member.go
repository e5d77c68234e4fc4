package barrier

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/lockstep-sim/lockstep/sim"
	"github.com/lockstep-sim/lockstep/sim/bus"
)

// Member is the participant side of a round.
type Member struct {
	name string
	bus  bus.Bus
	cfg  Config
}

// NewMember creates the member side for participant name.
func NewMember(name string, b bus.Bus, cfg Config) *Member {
	return &Member{name: name, bus: b, cfg: cfg.withDefaults()}
}

// Arrive announces READY for round and blocks until the matching GO.
// READY is repeated every RetransmitInterval, so an initiator that
// subscribes late still sees it. Expiry or cancellation returns an error
// wrapping sim.ErrSyncTimeout.
func (m *Member) Arrive(ctx context.Context, round Round) error {
	sub, err := m.bus.Subscribe(ctx, TopicGo)
	if err != nil {
		return fmt.Errorf("%w: %s round %s: subscribe: %v", sim.ErrSyncTimeout, m.name, round, err)
	}
	defer sub.Close()

	ready, err := encodeSignal(TopicReady, round, m.name)
	if err != nil {
		return err
	}

	waitCtx, cancel := context.WithTimeout(ctx, m.cfg.Timeout)
	defer cancel()

	send := func() {
		if err := m.bus.Publish(waitCtx, TopicReady, ready); err != nil {
			logrus.Debugf("barrier %s: %s READY: %v", round, m.name, err)
		}
	}
	send()

	ticker := time.NewTicker(m.cfg.RetransmitInterval)
	defer ticker.Stop()

	for {
		select {
		case <-waitCtx.Done():
			return fmt.Errorf("%w: %s waiting for GO in round %s (%v)", sim.ErrSyncTimeout, m.name, round, waitCtx.Err())
		case <-ticker.C:
			send()
		case msg, ok := <-sub.Messages():
			if !ok {
				return fmt.Errorf("%w: %s round %s: bus closed", sim.ErrSyncTimeout, m.name, round)
			}
			r, _, err := decodeSignal(msg.Data)
			if err != nil {
				logrus.Warnf("barrier %s: dropping GO: %v", round, err)
				continue
			}
			if r == round {
				logrus.Debugf("barrier %s: %s released", round, m.name)
				return nil
			}
		}
	}
}
