package bus

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/lockstep-sim/lockstep/sim/metrics"
)

// DefaultBufferSize is the per-subscription queue length of the in-memory bus.
const DefaultBufferSize = 1024

// MemoryBus is an in-process Bus. It is used when every participant of a
// run lives in one process, and in tests.
type MemoryBus struct {
	mu     sync.RWMutex
	subs   map[*memorySub]struct{}
	buffer int
	closed bool
}

// NewMemoryBus creates an in-process bus. bufferSize <= 0 selects DefaultBufferSize.
// A subscriber whose queue is full loses the message, as it would on a
// network transport with a slow reader.
func NewMemoryBus(bufferSize int) *MemoryBus {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	return &MemoryBus{
		subs:   make(map[*memorySub]struct{}),
		buffer: bufferSize,
	}
}

// Publish implements Bus.
func (b *MemoryBus) Publish(_ context.Context, topic string, data []byte) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrClosed
	}
	for s := range b.subs {
		if _, ok := s.topics[topic]; !ok {
			continue
		}
		cp := make([]byte, len(data))
		copy(cp, data)
		s.deliver(Message{Topic: topic, Data: cp})
	}
	return nil
}

// Subscribe implements Bus. The subscription is active when it returns.
func (b *MemoryBus) Subscribe(_ context.Context, topics ...string) (Subscription, error) {
	s := &memorySub{
		bus:    b,
		topics: make(map[string]struct{}, len(topics)),
		ch:     make(chan Message, b.buffer),
	}
	for _, t := range topics {
		s.topics[t] = struct{}{}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}
	b.subs[s] = struct{}{}
	return s, nil
}

// Close closes every subscription and rejects further use.
func (b *MemoryBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for s := range b.subs {
		s.shutdown()
		delete(b.subs, s)
	}
	return nil
}

// Subscribers returns the number of live subscriptions.
func (b *MemoryBus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

type memorySub struct {
	bus    *MemoryBus
	topics map[string]struct{}

	mu     sync.Mutex
	ch     chan Message
	closed bool
}

func (s *memorySub) Messages() <-chan Message { return s.ch }

func (s *memorySub) deliver(m Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- m:
	default:
		metrics.EventsDroppedTotal.WithLabelValues("backpressure").Inc()
		logrus.Warnf("memory bus: subscriber queue full, dropping message on %s", m.Topic)
	}
}

func (s *memorySub) shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

func (s *memorySub) Close() error {
	s.bus.mu.Lock()
	delete(s.bus.subs, s)
	s.bus.mu.Unlock()
	s.shutdown()
	return nil
}
