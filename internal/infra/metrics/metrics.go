// Package metrics provides Prometheus metrics for the control engine:
// tick execution, command writes, safety trips, lead-lag transitions, and
// time-series store calls.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ─── Ticks ──────────────────────────────────────────────────────────────────

// TickDuration tracks one equipment-task tick in seconds.
var TickDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "atlas",
	Name:      "tick_duration_seconds",
	Help:      "Equipment task tick duration in seconds.",
	Buckets:   prometheus.DefBuckets,
}, []string{"location", "type"})

// TicksTotal counts completed ticks.
var TicksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "atlas",
	Name:      "ticks_total",
	Help:      "Total completed equipment task ticks.",
}, []string{"location", "type"})

// TickErrors counts ticks that ended in an error path.
var TickErrors = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "atlas",
	Name:      "tick_errors_total",
	Help:      "Total ticks that failed.",
}, []string{"location", "type", "reason"})

// TicksSkipped counts ticks skipped because the previous run was still in
// flight.
var TicksSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "atlas",
	Name:      "ticks_skipped_total",
	Help:      "Total ticks skipped due to an overrunning previous tick.",
}, []string{"location", "type"})

// ─── Commands ───────────────────────────────────────────────────────────────

// CommandsWritten counts commands written to the command store.
var CommandsWritten = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "atlas",
	Name:      "commands_written_total",
	Help:      "Total command values written.",
}, []string{"location", "type"})

// CommandWriteErrors counts failed command writes.
var CommandWriteErrors = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "atlas",
	Name:      "command_write_errors_total",
	Help:      "Total command writes that failed after retries.",
}, []string{"location", "type"})

// ─── Safety & Lead-Lag ──────────────────────────────────────────────────────

// SafetyTrips counts safety interlock activations.
var SafetyTrips = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "atlas",
	Name:      "safety_trips_total",
	Help:      "Total safety interlock activations.",
}, []string{"location", "type"})

// LeadLagTransitions counts failovers and rotations.
var LeadLagTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "atlas",
	Name:      "leadlag_transitions_total",
	Help:      "Total lead-lag leader transitions.",
}, []string{"group", "kind"})

// ─── Time-Series Store ──────────────────────────────────────────────────────

// TSDBRequestDuration tracks gateway request latency.
var TSDBRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "atlas",
	Name:      "tsdb_request_duration_seconds",
	Help:      "Time-series store request duration in seconds.",
	Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
}, []string{"op"})

// TSDBErrors counts gateway requests that exhausted retries.
var TSDBErrors = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "atlas",
	Name:      "tsdb_errors_total",
	Help:      "Total time-series store requests that failed after retries.",
}, []string{"op"})
