package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TasksByState tracks the number of tasks currently in each state.
	TasksByState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "dingpiao_tasks",
			Help: "Number of tasks per lifecycle state",
		},
		[]string{"state"},
	)

	// AttemptsTotal counts pipeline attempts per outcome.
	AttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dingpiao_attempts_total",
			Help: "Total acquisition pipeline attempts",
		},
		[]string{"outcome"},
	)

	// FailuresTotal counts classified failures per category.
	FailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dingpiao_failures_total",
			Help: "Total classified stage failures",
		},
		[]string{"category"},
	)

	// FireOvershoot tracks how late firing began relative to release time.
	FireOvershoot = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "dingpiao_fire_overshoot_seconds",
			Help:    "Delay between release time and the first firing attempt",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
	)

	// AgentCallDuration tracks agent stage latency.
	AgentCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dingpiao_agent_call_seconds",
			Help:    "Acquisition agent call latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"stage"},
	)

	// JournalWritesTotal counts task journal appends per result.
	JournalWritesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dingpiao_journal_writes_total",
			Help: "Total task journal writes",
		},
		[]string{"result"},
	)
)
