// attackmap - Real-Time Attack Telemetry Map
// Copyright 2026 O. Weller
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/oweller/attackmap

// Package metrics provides Prometheus instrumentation for the pipeline:
// ingest throughput, bus fan-out and drops, websocket sessions and mode
// transitions, enrichment cache efficiency, and snapshot latency.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Ingest metrics
	IngestAccepted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "attackmap_ingest_accepted_total",
			Help: "Total number of accepted ingest items",
		},
		[]string{"attack_type"},
	)

	IngestRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "attackmap_ingest_rejected_total",
			Help: "Total number of rejected ingest items",
		},
		[]string{"reason"},
	)

	DedupMerges = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "attackmap_dedup_merges_total",
			Help: "Total number of events coalesced into an existing stable identity",
		},
	)

	// Bus metrics
	EventsPublished = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "attackmap_events_published_total",
			Help: "Total number of events published to the bus",
		},
	)

	SubscriberDrops = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "attackmap_subscriber_drops_total",
			Help: "Total deliveries dropped because a subscriber mailbox was full",
		},
	)

	BusSubscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "attackmap_bus_subscribers",
			Help: "Current number of bus subscribers",
		},
	)

	ReplayBufferSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "attackmap_replay_buffer_entries",
			Help: "Current number of events in the replay buffer",
		},
	)

	// Streaming session metrics
	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "attackmap_ws_sessions",
			Help: "Current number of live websocket sessions",
		},
	)

	ModeTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "attackmap_mode_transitions_total",
			Help: "Total backpressure mode transitions across all sessions",
		},
		[]string{"mode"},
	)

	SessionSendDrops = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "attackmap_session_send_drops_total",
			Help: "Total outbound messages dropped because a session's send queue was full",
		},
	)

	// Enrichment metrics
	GeoCacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "attackmap_geo_cache_hits_total",
			Help: "Total geo enrichment cache hits",
		},
	)

	GeoCacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "attackmap_geo_cache_misses_total",
			Help: "Total geo enrichment cache misses",
		},
	)

	GeoLookupErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "attackmap_geo_lookup_errors_total",
			Help: "Total geo database lookup failures (treated as absent enrichment)",
		},
	)

	// Aggregator metrics
	SnapshotDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "attackmap_snapshot_duration_seconds",
			Help:    "Duration of aggregate snapshot computation",
			Buckets: prometheus.DefBuckets,
		},
	)

	AggregatorHistorySize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "attackmap_aggregator_history_entries",
			Help: "Current number of events in the aggregator history",
		},
	)

	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "attackmap_http_requests_total",
			Help: "Total HTTP requests by endpoint, method and status",
		},
		[]string{"endpoint", "method", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "attackmap_http_request_duration_seconds",
			Help:    "HTTP request latency by endpoint",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"endpoint"},
	)
)
