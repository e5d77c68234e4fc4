// Package trace records the barrier rounds and checkpoints of a run for
// post-run analysis.
// It stores plain data and imports nothing from the rest of sim.
package trace

import "time"

// RoundRecord captures one barrier round as seen by its initiator.
type RoundRecord struct {
	Round    string
	SimTime  uint64
	Seq      uint64 // checkpoint sequence; zero for startup
	Expected int
	Received int
	Phase    string        // "satisfied" or "failed"
	Wait     time.Duration // wall time from open to the terminal phase
}

// Satisfied reports whether the round released its participants.
func (r RoundRecord) Satisfied() bool { return r.Phase == "satisfied" }

// CheckpointRecord captures one save or load performed by the driver.
type CheckpointRecord struct {
	Kind    string // "save" or "load"
	Topic   string
	Path    string
	SimTime uint64
	Err     string // empty on success
}
