/*
Copyright (C) 2026 Podo Labs

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// JobsScheduledTotal counts installed triggers by purpose.
	JobsScheduledTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "signaged_jobs_scheduled_total",
		Help: "Scheduled triggers by purpose.",
	}, []string{"purpose"})

	// JobsReplacedTotal counts boundary jobs superseded by an equal fire instant.
	JobsReplacedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "signaged_jobs_replaced_total",
		Help: "Boundary jobs replaced due to coinciding fire instants.",
	}, []string{"purpose"})

	// JobsFiredTotal counts fired triggers by purpose.
	JobsFiredTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "signaged_jobs_fired_total",
		Help: "Fired triggers by purpose.",
	}, []string{"purpose"})

	// CacheFetchesTotal counts cache fetch attempts by outcome.
	CacheFetchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "signaged_cache_fetches_total",
		Help: "Cache fetch attempts by outcome.",
	}, []string{"outcome"})

	// CacheEvictionsTotal counts evicted cache entries.
	CacheEvictionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "signaged_cache_evictions_total",
		Help: "Cache entries evicted because no playlist references them.",
	})

	// CacheFetchDuration observes individual fetch durations.
	CacheFetchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "signaged_cache_fetch_duration_seconds",
		Help:    "Duration of individual cache fetches.",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
	})

	// ResolveAttemptsTotal counts ad tag resolution attempts by outcome.
	ResolveAttemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "signaged_resolve_attempts_total",
		Help: "Ad tag resolution attempts by outcome.",
	}, []string{"outcome"})

	// ReportsFlushedTotal counts flushed playback reports.
	ReportsFlushedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "signaged_reports_flushed_total",
		Help: "Playback reports delivered to the server.",
	})

	// ReportFlushFailuresTotal counts failed batch submissions.
	ReportFlushFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "signaged_report_flush_failures_total",
		Help: "Failed playback report batch submissions.",
	})

	// PlayerTransitionsTotal counts state machine transitions by state.
	PlayerTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "signaged_player_transitions_total",
		Help: "Playlist state machine transitions by resulting state.",
	}, []string{"state"})

	// LiveUpdatesTotal counts consumed live update messages by event type.
	LiveUpdatesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "signaged_live_updates_total",
		Help: "Consumed live update messages by event type.",
	}, []string{"event"})
)

// Handler exposes the metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
