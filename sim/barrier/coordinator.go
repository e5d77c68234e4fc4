package barrier

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/lockstep-sim/lockstep/sim"
	"github.com/lockstep-sim/lockstep/sim/bus"
	"github.com/lockstep-sim/lockstep/sim/metrics"
)

// Coordinator is the initiator side of a round, run by the clock driver.
type Coordinator struct {
	name string
	bus  bus.Bus
	cfg  Config
}

// NewCoordinator creates the initiator for participant name.
func NewCoordinator(name string, b bus.Bus, cfg Config) *Coordinator {
	return &Coordinator{name: name, bus: b, cfg: cfg.withDefaults()}
}

// Await opens a session for round, collects READY from expected distinct
// senders and broadcasts GO. It returns the finished session in every case.
// If the timeout expires or ctx is cancelled first the session is Failed and
// the error wraps sim.ErrSyncTimeout.
func (c *Coordinator) Await(ctx context.Context, round Round, expected int) (*Session, error) {
	sess := NewSession(round, expected)
	kind := metrics.RoundKind(round.Name)

	sub, err := c.bus.Subscribe(ctx, TopicReady)
	if err != nil {
		sess.Fail(time.Now())
		c.observe(sess, kind)
		return sess, fmt.Errorf("%w: round %s: subscribe: %v", sim.ErrSyncTimeout, round, err)
	}
	defer sub.Close()

	sess.Open(time.Now())
	logrus.Debugf("barrier %s: waiting for %d READY", round, expected)

	waitCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	for !sess.Satisfied() {
		select {
		case <-waitCtx.Done():
			sess.Fail(time.Now())
			c.observe(sess, kind)
			return sess, fmt.Errorf("%w: round %s: %d of %d READY (%v)",
				sim.ErrSyncTimeout, round, sess.Received(), sess.Expected(), waitCtx.Err())
		case msg, ok := <-sub.Messages():
			if !ok {
				sess.Fail(time.Now())
				c.observe(sess, kind)
				return sess, fmt.Errorf("%w: round %s: bus closed", sim.ErrSyncTimeout, round)
			}
			r, sender, err := decodeSignal(msg.Data)
			if err != nil {
				metrics.EventsDroppedTotal.WithLabelValues("malformed").Inc()
				logrus.Warnf("barrier %s: dropping READY: %v", round, err)
				continue
			}
			if r != round {
				continue
			}
			if sess.Mark(sender, time.Now()) {
				logrus.Debugf("barrier %s: READY from %s (%d/%d)", round, sender, sess.Received(), sess.Expected())
			} else {
				metrics.ReadyDuplicatesTotal.Inc()
			}
		}
	}

	c.observe(sess, kind)
	data, err := encodeSignal(TopicGo, round, c.name)
	if err != nil {
		return sess, err
	}
	if err := c.bus.Publish(ctx, TopicGo, data); err != nil {
		return sess, fmt.Errorf("%w: round %s: publish GO: %v", sim.ErrSyncTimeout, round, err)
	}
	logrus.Infof("barrier %s: GO after %v (%d participants)", round, sess.Wait(), sess.Expected())
	return sess, nil
}

func (c *Coordinator) observe(sess *Session, kind string) {
	outcome := "satisfied"
	if sess.Phase() == PhaseFailed {
		outcome = "failed"
	}
	metrics.BarrierRoundsTotal.WithLabelValues(kind, outcome).Inc()
	metrics.BarrierWaitSeconds.WithLabelValues(kind).Observe(sess.Wait().Seconds())
}
