// Package metrics exposes Prometheus metrics for the worker.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// CyclesTotal counts finished work cycles by outcome status.
var CyclesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "flowai",
	Name:      "cycles_total",
	Help:      "Total work cycles by outcome status.",
}, []string{"status"})

// CycleDuration tracks wall time of one work cycle.
var CycleDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "flowai",
	Name:      "cycle_duration_seconds",
	Help:      "Work cycle duration in seconds.",
	Buckets:   []float64{0.05, 0.25, 1, 5, 15, 30, 60, 120, 300},
}, []string{"status"})

// StageDuration tracks time spent per cycle stage.
var StageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "flowai",
	Name:      "stage_duration_seconds",
	Help:      "Time spent in each work cycle stage.",
	Buckets:   prometheus.DefBuckets,
}, []string{"stage"})

// ClaimsTotal counts claim attempts by result (won, refused, error).
var ClaimsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "flowai",
	Name:      "claims_total",
	Help:      "Task claim attempts by result.",
}, []string{"result"})

// RewardEther accumulates ether earned through successful submissions.
var RewardEther = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "flowai",
	Name:      "reward_ether_total",
	Help:      "Ether earned by completed tasks.",
})

// GenerationLatency tracks generator calls by category.
var GenerationLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "flowai",
	Name:      "generation_latency_seconds",
	Help:      "Result generation duration in seconds.",
	Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
}, []string{"category"})

// CycleInFlight is 1 while a cycle is running.
var CycleInFlight = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "flowai",
	Name:      "cycle_in_flight",
	Help:      "Whether a work cycle is currently running.",
})

// PendingResumes tracks claimed tasks waiting to be executed or resubmitted.
var PendingResumes = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "flowai",
	Name:      "pending_resumes",
	Help:      "Claimed tasks carried into the next cycle.",
})
