// Snapkeep - Scheduled Database Backup Service
// Copyright 2026 Snapkeep Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/snapkeep/snapkeep

// Package metrics exposes Prometheus instrumentation for backup runs,
// retention sweeps, and the source connection breaker.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BackupRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "snapkeep_backup_runs_total",
			Help: "Total number of backup runs by kind, trigger, and outcome",
		},
		[]string{"kind", "trigger", "status"},
	)

	BackupDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "snapkeep_backup_duration_seconds",
			Help:    "Duration of backup runs in seconds",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12), // 0.1s .. ~3.4min
		},
		[]string{"kind"},
	)

	LastSuccess = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "snapkeep_last_success_timestamp_seconds",
			Help: "Unix time of the last successful backup by kind",
		},
		[]string{"kind"},
	)

	ArtifactSize = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "snapkeep_last_artifact_size_bytes",
			Help: "Size of the most recent artifact by kind",
		},
		[]string{"kind"},
	)

	ArtifactsIndexed = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "snapkeep_artifacts_indexed",
			Help: "Number of artifacts currently tracked in the index",
		},
	)

	RetentionDeleted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "snapkeep_retention_deleted_total",
			Help: "Total number of daily artifacts deleted by retention",
		},
	)

	RetentionErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "snapkeep_retention_errors_total",
			Help: "Total number of artifact deletions that failed",
		},
	)

	BreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "snapkeep_source_breaker_state",
			Help: "Source circuit breaker state by database (0=closed, 1=half-open, 2=open)",
		},
		[]string{"database"},
	)

	NotificationsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "snapkeep_notifications_sent_total",
			Help: "Total webhook notifications by topic and outcome",
		},
		[]string{"topic", "status"},
	)
)

// RecordRun records one finished backup run.
func RecordRun(kind, trigger, status string, elapsed time.Duration) {
	BackupRuns.WithLabelValues(kind, trigger, status).Inc()
	BackupDuration.WithLabelValues(kind).Observe(elapsed.Seconds())
}

// RecordSuccess updates the freshness and size gauges for a successful run.
func RecordSuccess(kind string, finishedAt time.Time, sizeBytes int64) {
	LastSuccess.WithLabelValues(kind).Set(float64(finishedAt.Unix()))
	ArtifactSize.WithLabelValues(kind).Set(float64(sizeBytes))
}

// RecordRetention records the outcome of one retention sweep.
func RecordRetention(deleted, failed int) {
	RetentionDeleted.Add(float64(deleted))
	RetentionErrors.Add(float64(failed))
}

// SetBreakerState maps a gobreaker state string onto the state gauge for
// one database.
func SetBreakerState(database, state string) {
	var v float64
	switch state {
	case "half-open":
		v = 1
	case "open":
		v = 2
	}
	BreakerState.WithLabelValues(database).Set(v)
}
