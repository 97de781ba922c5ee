package planner

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RunsTotal counts optimization runs by kind and result
	RunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "smartheat",
		Name:      "runs_total",
		Help:      "Optimization runs by kind and result.",
	}, []string{"kind", "result"})

	// RunDuration observes how long a run takes end to end
	RunDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "smartheat",
		Name:      "run_duration_seconds",
		Help:      "Duration of optimization runs including feed fetches.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"kind"})

	// SinkErrorsTotal counts failed publications per sink
	SinkErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "smartheat",
		Name:      "sink_errors_total",
		Help:      "Failed schedule publications by sink.",
	}, []string{"sink"})

	// CacheHitsTotal counts feed cache lookups by feed and outcome
	CacheHitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "smartheat",
		Name:      "cache_lookups_total",
		Help:      "Feed cache lookups by feed and outcome.",
	}, []string{"feed", "outcome"})

	// OnHours is the number of allowed heating hours of the latest run per device
	OnHours = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "smartheat",
		Name:      "schedule_on_hours",
		Help:      "Allowed heating hours of the latest schedule.",
	}, []string{"device"})

	// EstimatedCost is the estimated cost of the latest run per device
	EstimatedCost = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "smartheat",
		Name:      "schedule_estimated_cost",
		Help:      "Estimated cost of the latest schedule in price units.",
	}, []string{"device"})
)
