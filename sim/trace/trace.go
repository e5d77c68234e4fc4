package trace

// TraceLevel controls the verbosity of run tracing.
type TraceLevel string

const (
	// TraceLevelNone disables tracing (zero overhead).
	TraceLevelNone TraceLevel = "none"
	// TraceLevelRounds captures every barrier round and checkpoint.
	TraceLevelRounds TraceLevel = "rounds"
)

// validTraceLevels maps accepted trace level strings.
var validTraceLevels = map[TraceLevel]bool{
	TraceLevelNone:   true,
	TraceLevelRounds: true,
	"":               true, // empty defaults to none
}

// IsValidTraceLevel returns true if the given level string is a recognized trace level.
func IsValidTraceLevel(level string) bool {
	return validTraceLevels[TraceLevel(level)]
}

// TraceConfig controls trace collection behavior.
type TraceConfig struct {
	Level TraceLevel
}

// SimulationTrace collects round and checkpoint records during a run.
// It is written by the clock driver's goroutine only.
type SimulationTrace struct {
	Config      TraceConfig
	Rounds      []RoundRecord
	Checkpoints []CheckpointRecord
}

// NewSimulationTrace creates a SimulationTrace ready for recording.
func NewSimulationTrace(config TraceConfig) *SimulationTrace {
	return &SimulationTrace{
		Config:      config,
		Rounds:      make([]RoundRecord, 0),
		Checkpoints: make([]CheckpointRecord, 0),
	}
}

// Enabled reports whether records are kept. Safe on a nil trace.
func (st *SimulationTrace) Enabled() bool {
	return st != nil && st.Config.Level == TraceLevelRounds
}

// RecordRound appends a barrier round record.
func (st *SimulationTrace) RecordRound(record RoundRecord) {
	if !st.Enabled() {
		return
	}
	st.Rounds = append(st.Rounds, record)
}

// RecordCheckpoint appends a checkpoint record.
func (st *SimulationTrace) RecordCheckpoint(record CheckpointRecord) {
	if !st.Enabled() {
		return
	}
	st.Checkpoints = append(st.Checkpoints, record)
}
