// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package metrics defines the Prometheus instrumentation for the daemon.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	JobsProcessedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "callaudit_jobs_processed_total",
		Help: "Total number of pipeline jobs that reached a terminal state",
	}, []string{"outcome"})

	StageDurationSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "callaudit_stage_duration_seconds",
		Help:    "Wall-clock duration of each pipeline stage",
		Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
	}, []string{"stage"})

	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "callaudit_queue_depth",
		Help: "Number of jobs waiting in the processing queue",
	})

	UploadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "callaudit_uploads_total",
		Help: "Total uploaded blobs by ingestion result",
	}, []string{"result"})

	BusDroppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "callaudit_bus_dropped_total",
		Help: "Total progress frames dropped by the in-memory bus, by reason",
	}, []string{"reason"})

	WSConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "callaudit_ws_connections",
		Help: "Currently open WebSocket connections",
	})

	AnalysisAttemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "callaudit_analysis_attempts_total",
		Help: "Scoring engine attempts by outcome",
	}, []string{"outcome"})
)

// RecordJobOutcome counts a finished job. Outcome is "done" or "failed".
func RecordJobOutcome(outcome string) {
	if outcome == "" {
		outcome = "unknown"
	}
	JobsProcessedTotal.WithLabelValues(outcome).Inc()
}

// ObserveStage records the duration of a completed stage by name.
func ObserveStage(stage string, d time.Duration) {
	StageDurationSeconds.WithLabelValues(stage).Observe(d.Seconds())
}

// RecordAnalysisAttempt counts one scoring outcome: "ok", "unavailable" or
// "save_failed".
func RecordAnalysisAttempt(outcome string) {
	if outcome == "" {
		outcome = "unknown"
	}
	AnalysisAttemptsTotal.WithLabelValues(outcome).Inc()
}

// IncBusDrop records a dropped progress frame with a concrete reason.
func IncBusDrop(reason string) {
	if reason == "" {
		reason = "unknown"
	}
	BusDroppedTotal.WithLabelValues(reason).Inc()
}

// RecordUpload counts one ingested blob. Result is "accepted", "duplicate" or "rejected".
func RecordUpload(result string) {
	if result == "" {
		result = "unknown"
	}
	UploadsTotal.WithLabelValues(result).Inc()
}
