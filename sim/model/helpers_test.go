package model

import (
	"bytes"
	"context"
	"sync"

	"github.com/lockstep-sim/lockstep/sim"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []sim.Event
}

func (p *recordingPublisher) Publish(_ context.Context, ev sim.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *recordingPublisher) names() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.events))
	for i, ev := range p.events {
		out[i] = ev.Name
	}
	return out
}

// syncBuffer is a bytes.Buffer safe to read while a writer goroutine runs.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
