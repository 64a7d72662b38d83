// Package metrics exposes Prometheus instrumentation for the pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RunsTotal counts orchestrator runs by outcome ("ok", "error").
	RunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bungebits_runs_total",
		Help: "Total number of scheduled pipeline runs by outcome",
	}, []string{"outcome"})

	// RunDuration tracks the wall-clock duration of a full run.
	RunDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "bungebits_run_duration_seconds",
		Help:    "Duration of a full scheduled run, from scrape to persist",
		Buckets: prometheus.ExponentialBuckets(1, 2, 12), // 1s to ~34min
	})

	// StreamsProcessedTotal counts individual streams by house and outcome.
	StreamsProcessedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bungebits_streams_processed_total",
		Help: "Total number of streams processed by house and outcome",
	}, []string{"house", "outcome"})

	// StageDuration tracks per-stage processing time for a single stream.
	StageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "bungebits_stage_duration_seconds",
		Help:    "Duration of a single pipeline stage for one stream",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 14), // 100ms to ~14min
	}, []string{"stage"})

	// StageErrorsTotal counts stage failures by stage and error type.
	StageErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bungebits_stage_errors_total",
		Help: "Total stage failures by stage and error type",
	}, []string{"stage", "error_type"})

	// ChunksPerStream tracks how many chunks a transcript was split into.
	ChunksPerStream = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "bungebits_chunks_per_stream",
		Help:    "Number of summarization chunks produced per stream",
		Buckets: prometheus.LinearBuckets(1, 2, 10),
	})

	// SummarizeTokensTotal counts tokens sent to the summarization model.
	SummarizeTokensTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bungebits_summarize_tokens_total",
		Help: "Total tokens sent to the summarization model by role",
	}, []string{"role"})

	// SchedulerSkippedTotal counts ticks skipped because a run was already in flight.
	SchedulerSkippedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bungebits_scheduler_skipped_total",
		Help: "Total scheduler ticks skipped because a run was already in progress",
	})
)

// RecordStageOutcome records a stage's duration and, on failure, its error type.
func RecordStageOutcome(stage string, seconds float64, errType string) {
	StageDuration.WithLabelValues(stage).Observe(seconds)
	if errType != "" {
		StageErrorsTotal.WithLabelValues(stage, errType).Inc()
	}
}

// RecordRun records the outcome and duration of one scheduled run.
func RecordRun(outcome string, seconds float64) {
	RunsTotal.WithLabelValues(outcome).Inc()
	RunDuration.Observe(seconds)
}

// RecordStream records the terminal outcome of processing a single stream.
func RecordStream(house, outcome string) {
	StreamsProcessedTotal.WithLabelValues(house, outcome).Inc()
}
