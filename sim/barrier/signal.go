package barrier

import (
	"fmt"
	"time"

	"github.com/lockstep-sim/lockstep/sim"
)

const (
	// DefaultTimeout bounds every wait on either side of a round.
	DefaultTimeout = 30 * time.Second
	// DefaultRetransmitInterval is how often a member repeats READY.
	DefaultRetransmitInterval = 200 * time.Millisecond
)

// Config bounds the waits of a Coordinator or Member. Zero fields take defaults.
type Config struct {
	Timeout            time.Duration `yaml:"timeout"`
	RetransmitInterval time.Duration `yaml:"retransmit_interval"`
}

func (c Config) withDefaults() Config {
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.RetransmitInterval <= 0 {
		c.RetransmitInterval = DefaultRetransmitInterval
	}
	return c
}

// READY and GO travel as ordinary envelopes on the reserved topics, with the
// round name, sequence and sender in a map payload and the round's time as
// timestamp.
func encodeSignal(topic string, round Round, sender string) ([]byte, error) {
	ev := sim.NewEvent(topic, round.SimTime).
		WithPriority(sim.PriorityHigh).
		WithPayload(sim.MustMapPayload(map[string]any{
			"round":  round.Name,
			"seq":    int64(round.Seq),
			"sender": sender,
		}))
	return sim.Encode(ev)
}

func decodeSignal(data []byte) (Round, string, error) {
	ev, err := sim.Decode(data)
	if err != nil {
		return Round{}, "", err
	}
	name, ok := lookupString(ev.Payload, "round")
	if !ok {
		return Round{}, "", fmt.Errorf("%w: %s without round", sim.ErrMalformedEvent, ev.Name)
	}
	sender, ok := lookupString(ev.Payload, "sender")
	if !ok {
		return Round{}, "", fmt.Errorf("%w: %s without sender", sim.ErrMalformedEvent, ev.Name)
	}
	round := Round{Name: name, SimTime: ev.Timestamp}
	if v, ok := ev.Payload.Lookup("seq"); ok {
		seq, ok := v.(int64)
		if !ok || seq < 0 {
			return Round{}, "", fmt.Errorf("%w: %s with bad seq %v", sim.ErrMalformedEvent, ev.Name, v)
		}
		round.Seq = uint64(seq)
	}
	return round, sender, nil
}

func lookupString(p sim.Payload, key string) (string, bool) {
	v, ok := p.Lookup(key)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}
