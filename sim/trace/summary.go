package trace

import "time"

// TraceSummary aggregates statistics from a SimulationTrace.
type TraceSummary struct {
	TotalRounds     int
	SatisfiedRounds int
	FailedRounds    int
	MeanWait        time.Duration
	MaxWait         time.Duration
	Saves           int
	Loads           int
	CheckpointFails int
	RoundsByName    map[string]int // round name → count
}

// Summarize computes aggregate statistics from a SimulationTrace.
// Safe for nil or empty traces (returns zero-value fields).
func Summarize(st *SimulationTrace) *TraceSummary {
	summary := &TraceSummary{
		RoundsByName: make(map[string]int),
	}
	if st == nil {
		return summary
	}

	summary.TotalRounds = len(st.Rounds)
	var total time.Duration
	for _, r := range st.Rounds {
		if r.Satisfied() {
			summary.SatisfiedRounds++
		} else {
			summary.FailedRounds++
		}
		summary.RoundsByName[r.Round]++
		total += r.Wait
		if r.Wait > summary.MaxWait {
			summary.MaxWait = r.Wait
		}
	}
	if len(st.Rounds) > 0 {
		summary.MeanWait = total / time.Duration(len(st.Rounds))
	}

	for _, c := range st.Checkpoints {
		switch c.Kind {
		case "load":
			summary.Loads++
		default:
			summary.Saves++
		}
		if c.Err != "" {
			summary.CheckpointFails++
		}
	}

	return summary
}
