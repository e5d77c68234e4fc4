// Package barrier implements the READY/GO rendezvous that gates the first
// real event of a run and every checkpoint.
//
// A Member subscribes to GO before it announces READY, and keeps
// retransmitting READY until GO arrives. The Coordinator counts distinct
// senders and broadcasts GO once every expected participant has been seen.
// Because the bus has no backlog, this ordering is what guarantees that no
// participant can miss the GO of a round it has joined.
package barrier

import (
	"fmt"
	"sort"
	"time"

	"github.com/lockstep-sim/lockstep/sim"
)

// Reserved sync topics. They never carry model events.
const (
	TopicReady = "_sync.ready"
	TopicGo    = "_sync.go"
)

// Round identifies one barrier. Startup is a round of its own; each
// checkpoint is a round named after its topic and keyed by simulation time
// and by the driver's checkpoint sequence, so two checkpoints on the same
// topic at the same time stay distinct.
type Round struct {
	Name    string
	SimTime uint64
	Seq     uint64
}

// StartupRound is the round every non-auxiliary participant joins before
// the first real event.
func StartupRound() Round { return Round{Name: "startup"} }

// CheckpointRound is the round that follows req.
func CheckpointRound(req sim.CheckpointRequest) Round {
	return Round{Name: req.EventTopic(), SimTime: req.SimTime, Seq: req.Seq}
}

func (r Round) String() string {
	if r.Seq == 0 {
		return fmt.Sprintf("%s@%d", r.Name, r.SimTime)
	}
	return fmt.Sprintf("%s@%d#%d", r.Name, r.SimTime, r.Seq)
}

// Phase is a session's lifecycle state. It only moves forward:
// Idle → AwaitingReady → Satisfied or Failed.
type Phase uint8

const (
	PhaseIdle Phase = iota
	PhaseAwaitingReady
	PhaseSatisfied
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseAwaitingReady:
		return "awaiting_ready"
	case PhaseSatisfied:
		return "satisfied"
	case PhaseFailed:
		return "failed"
	}
	return "idle"
}

// Session is the initiator's view of one round. It is not safe for
// concurrent use; the Coordinator drives it from a single goroutine.
type Session struct {
	round    Round
	expected int
	received map[string]struct{}
	phase    Phase
	opened   time.Time
	finished time.Time
}

// NewSession creates an idle session expecting READY from expected distinct senders.
func NewSession(round Round, expected int) *Session {
	if expected < 0 {
		expected = 0
	}
	return &Session{
		round:    round,
		expected: expected,
		received: make(map[string]struct{}, expected),
	}
}

// Open starts waiting. A session that expects nobody is satisfied at once.
func (s *Session) Open(now time.Time) {
	if s.phase != PhaseIdle {
		return
	}
	s.opened = now
	s.phase = PhaseAwaitingReady
	if s.expected == 0 {
		s.phase = PhaseSatisfied
		s.finished = now
	}
}

// Mark records a READY from sender and reports whether it was counted.
// Duplicates, and signals arriving outside AwaitingReady, are ignored.
func (s *Session) Mark(sender string, now time.Time) bool {
	if s.phase != PhaseAwaitingReady {
		return false
	}
	if _, dup := s.received[sender]; dup {
		return false
	}
	s.received[sender] = struct{}{}
	if len(s.received) == s.expected {
		s.phase = PhaseSatisfied
		s.finished = now
	}
	return true
}

// Fail ends a session that has not been satisfied.
func (s *Session) Fail(now time.Time) {
	if s.phase == PhaseSatisfied || s.phase == PhaseFailed {
		return
	}
	s.phase = PhaseFailed
	s.finished = now
}

// Round returns the round this session belongs to.
func (s *Session) Round() Round { return s.round }

// Phase returns the current lifecycle state.
func (s *Session) Phase() Phase { return s.phase }

// Expected is the number of distinct READY senders required.
func (s *Session) Expected() int { return s.expected }

// Received is the number of distinct READY senders seen.
func (s *Session) Received() int { return len(s.received) }

// Satisfied reports whether GO may be broadcast.
func (s *Session) Satisfied() bool { return s.phase == PhaseSatisfied }

// Senders returns the distinct READY senders seen so far, sorted.
func (s *Session) Senders() []string {
	out := make([]string, 0, len(s.received))
	for n := range s.received {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Wait is the time between Open and the terminal phase, or zero while pending.
func (s *Session) Wait() time.Duration {
	if s.finished.IsZero() {
		return 0
	}
	return s.finished.Sub(s.opened)
}
