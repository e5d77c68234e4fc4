// Package metrics provides Prometheus metrics for lockstep runs.
// Labels are limited to topics, rounds and outcomes; no per-participant
// or per-event identifiers.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// EventsPublishedTotal counts events handed to the bus, by topic.
	EventsPublishedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lockstep_events_published_total",
		Help: "Total number of events published on the bus, by topic.",
	}, []string{"topic"})

	// EventsDroppedTotal counts messages that never reached a handler, by reason.
	EventsDroppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lockstep_events_dropped_total",
		Help: "Total number of bus messages dropped, by reason (malformed, backpressure).",
	}, []string{"reason"})

	// BarrierRoundsTotal counts finished barrier rounds by kind and outcome.
	BarrierRoundsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lockstep_barrier_rounds_total",
		Help: "Total number of barrier rounds, by round kind and outcome (satisfied, failed).",
	}, []string{"round", "outcome"})

	// BarrierWaitSeconds observes how long the initiator waited for READY signals.
	BarrierWaitSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "lockstep_barrier_wait_seconds",
		Help:    "Wall time from opening a barrier session until it is satisfied or failed.",
		Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
	}, []string{"round"})

	// ReadyDuplicatesTotal counts retransmitted READY signals ignored by the initiator.
	ReadyDuplicatesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lockstep_barrier_ready_duplicates_total",
		Help: "Total number of duplicate READY signals ignored by barrier initiators.",
	})

	// SimTime tracks the driver's current simulation time.
	SimTime = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "lockstep_sim_time",
		Help: "Current simulation time published by the clock driver.",
	})

	// CycleOverrunsTotal counts cycles whose processing took longer than the cycle budget.
	CycleOverrunsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lockstep_clock_cycle_overruns_total",
		Help: "Total number of clock cycles whose processing exceeded the wall-clock budget.",
	})

	// CheckpointsTotal counts checkpoint requests by kind and local result.
	CheckpointsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lockstep_checkpoints_total",
		Help: "Total number of local checkpoint operations, by kind (save, load) and result (ok, error).",
	}, []string{"kind", "result"})
)

// RoundKind maps a round name to a bounded label value.
func RoundKind(name string) string {
	switch name {
	case "startup", "SaveState", "LoadState", "Store", "Restore", "CreateDefaultConfigFiles":
		return name
	}
	return "other"
}
