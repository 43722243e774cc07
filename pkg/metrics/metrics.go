package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// SwapsTotal counts swaps by terminal status (completed, failed, rolled-back)
var SwapsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "swapengine_swaps_total",
		Help: "Total number of swaps that reached a terminal status",
	},
	[]string{"status"},
)

// SwapLatency records end-to-end swap latency
var SwapLatency = prometheus.NewHistogram(
	prometheus.HistogramOpts{
		Name:    "swapengine_swap_latency_seconds",
		Help:    "Latency in seconds from submission to terminal status",
		Buckets: []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
	},
)

// LegResults counts leg outcomes by role and status
var LegResults = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "swapengine_leg_results_total",
		Help: "Total number of dispatched legs by role and final status",
	},
	[]string{"role", "status"},
)

// Coordination metrics
var (
	LockFailovers = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "swapengine_lock_failovers_total",
			Help: "Swaps that proceeded without the coordination lock",
		},
	)

	RollbackAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "swapengine_rollback_attempts_total",
			Help: "Compensating leg submissions by result",
		},
		[]string{"result"},
	)

	ActiveSwaps = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "swapengine_active_swaps",
			Help: "Number of swaps currently executing",
		},
	)

	IdleWorkers = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "swapengine_idle_workers",
			Help: "Number of idle workers by role",
		},
		[]string{"role"},
	)

	EventsDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "swapengine_events_dropped_total",
			Help: "Events not delivered to a subscriber or sink",
		},
		[]string{"reason"},
	)
)

func init() {
	prometheus.MustRegister(SwapsTotal, SwapLatency, LegResults)
	prometheus.MustRegister(LockFailovers, RollbackAttempts, ActiveSwaps, IdleWorkers, EventsDropped)
}
