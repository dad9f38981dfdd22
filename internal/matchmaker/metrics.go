package matchmaker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	runsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stakearena_matchmaker_runs_total",
		Help: "Total number of queue processing runs by outcome",
	}, []string{"outcome"})

	matchesCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stakearena_matchmaker_matches_created_total",
		Help: "Total number of matches created from the queue",
	})

	entriesProcessed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stakearena_matchmaker_entries_processed_total",
		Help: "Total number of queue entries consumed by pairing",
	})

	claimConflicts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stakearena_matchmaker_claim_conflicts_total",
		Help: "Total number of pairs skipped because an entry was claimed by another run",
	})

	runDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "stakearena_matchmaker_run_duration_seconds",
		Help:    "Duration of queue processing runs",
		Buckets: prometheus.DefBuckets,
	})

	queueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "stakearena_matchmaker_queue_depth",
		Help: "Unprocessed queue entries seen at the start of the last run",
	})
)
