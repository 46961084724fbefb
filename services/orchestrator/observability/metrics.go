// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability provides metrics for chat sessions.
//
// # Description
//
// This package implements Prometheus metrics for monitoring WebSocket chat
// sessions. Metrics include:
//   - Session gauges and counters (active, opened, rejected)
//   - Request cycle counters by outcome, and error frames by code
//   - Latency histograms (time to first fragment, cycle duration)
//   - Retrieval and embedding cache counters
//
// # Integration
//
// Metrics are exposed via the /metrics endpoint.
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal locking.
// Every method is safe to call on a nil *SessionMetrics, which records
// nothing; tests and tools can run sessions without a registry.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// Metric Definitions
// =============================================================================

// Namespace for all metrics
const metricsNamespace = "ragstream"

// Subsystem for session metrics
const sessionSubsystem = "session"

// CycleStatus labels the outcome of one request cycle.
type CycleStatus string

const (
	CycleSuccess       CycleStatus = "success"
	CycleUpstreamError CycleStatus = "upstream_error"
	CycleAborted       CycleStatus = "aborted"
)

// SessionMetrics holds all Prometheus metrics for chat sessions.
//
// # Fields
//
//   - ActiveSessions: Gauge of open WebSocket sessions.
//   - SessionsTotal: Counter of sessions opened.
//   - RejectedConnectionsTotal: Connections refused before upgrade, by reason.
//   - CyclesTotal: Request cycles by status.
//   - FragmentsTotal: Generation fragments written to clients.
//   - KeepalivesTotal: Ping control frames sent.
//   - ErrorFramesTotal: Error frames sent, by code.
//   - UpstreamErrorsTotal: Upstream failures, by kind.
//   - PassagesSkippedTotal: Retrieved passages without a text field.
//   - EmbeddingCacheTotal: Embedding cache lookups, by result.
//   - TimeToFirstFragmentSeconds: Latency from question to first fragment.
//   - CycleDurationSeconds: Total cycle duration, by status.
type SessionMetrics struct {
	ActiveSessions             prometheus.Gauge
	SessionsTotal              prometheus.Counter
	RejectedConnectionsTotal   *prometheus.CounterVec
	CyclesTotal                *prometheus.CounterVec
	FragmentsTotal             prometheus.Counter
	KeepalivesTotal            prometheus.Counter
	ErrorFramesTotal           *prometheus.CounterVec
	UpstreamErrorsTotal        *prometheus.CounterVec
	PassagesSkippedTotal       prometheus.Counter
	EmbeddingCacheTotal        *prometheus.CounterVec
	TimeToFirstFragmentSeconds prometheus.Histogram
	CycleDurationSeconds       *prometheus.HistogramVec
}

// NewSessionMetrics creates and registers all metrics on reg.
//
// # Inputs
//
//   - reg: Registry to register on. prometheus.DefaultRegisterer in
//     production, prometheus.NewRegistry() in tests.
//
// # Limitations
//
//   - Panics if called twice with the same registry (duplicate registration).
func NewSessionMetrics(reg prometheus.Registerer) *SessionMetrics {
	factory := promauto.With(reg)
	return &SessionMetrics{
		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: sessionSubsystem,
			Name:      "active",
			Help:      "Number of currently open chat sessions",
		}),
		SessionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: sessionSubsystem,
			Name:      "opened_total",
			Help:      "Total chat sessions opened",
		}),
		RejectedConnectionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: sessionSubsystem,
			Name:      "rejected_connections_total",
			Help:      "Connections refused before the WebSocket upgrade, by reason",
		}, []string{"reason"}),
		CyclesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: sessionSubsystem,
			Name:      "cycles_total",
			Help:      "Request cycles by outcome",
		}, []string{"status"}),
		FragmentsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: sessionSubsystem,
			Name:      "fragments_total",
			Help:      "Generation fragments written to clients",
		}),
		KeepalivesTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: sessionSubsystem,
			Name:      "keepalives_total",
			Help:      "Total keepalive pings sent",
		}),
		ErrorFramesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: sessionSubsystem,
			Name:      "error_frames_total",
			Help:      "Error frames sent to clients, by code",
		}, []string{"code"}),
		UpstreamErrorsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: sessionSubsystem,
			Name:      "upstream_errors_total",
			Help:      "Failed upstream calls, by stage",
		}, []string{"kind"}),
		PassagesSkippedTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "context_passages_skipped_total",
			Help:      "Retrieved passages skipped for a missing text field",
		}),
		EmbeddingCacheTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "embedding_cache_lookups_total",
			Help:      "Embedding cache lookups, by result",
		}, []string{"result"}),
		TimeToFirstFragmentSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: sessionSubsystem,
			Name:      "time_to_first_fragment_seconds",
			Help:      "Time from question receipt to first generation fragment in seconds",
			Buckets:   []float64{0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0},
		}),
		CycleDurationSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: sessionSubsystem,
			Name:      "cycle_duration_seconds",
			Help:      "Total request cycle duration in seconds",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300},
		}, []string{"status"}),
	}
}

// SessionOpened records a new session.
func (m *SessionMetrics) SessionOpened() {
	if m == nil {
		return
	}
	m.SessionsTotal.Inc()
	m.ActiveSessions.Inc()
}

// SessionClosed records a session ending.
func (m *SessionMetrics) SessionClosed() {
	if m == nil {
		return
	}
	m.ActiveSessions.Dec()
}

// ConnectionRejected records a connection refused before upgrade.
func (m *SessionMetrics) ConnectionRejected(reason string) {
	if m == nil {
		return
	}
	m.RejectedConnectionsTotal.WithLabelValues(reason).Inc()
}

// CycleFinished records a request cycle outcome and duration.
func (m *SessionMetrics) CycleFinished(status CycleStatus, d time.Duration) {
	if m == nil {
		return
	}
	m.CyclesTotal.WithLabelValues(string(status)).Inc()
	m.CycleDurationSeconds.WithLabelValues(string(status)).Observe(d.Seconds())
}

// FirstFragment records the latency to the first fragment of a cycle.
func (m *SessionMetrics) FirstFragment(d time.Duration) {
	if m == nil {
		return
	}
	m.TimeToFirstFragmentSeconds.Observe(d.Seconds())
}

// FragmentWritten records one fragment sent to a client.
func (m *SessionMetrics) FragmentWritten() {
	if m == nil {
		return
	}
	m.FragmentsTotal.Inc()
}

// Keepalive records one ping.
func (m *SessionMetrics) Keepalive() {
	if m == nil {
		return
	}
	m.KeepalivesTotal.Inc()
}

// ErrorFrame records an error frame by its wire code.
func (m *SessionMetrics) ErrorFrame(code string) {
	if m == nil {
		return
	}
	m.ErrorFramesTotal.WithLabelValues(code).Inc()
}

// UpstreamError records a failed upstream stage.
func (m *SessionMetrics) UpstreamError(kind string) {
	if m == nil {
		return
	}
	m.UpstreamErrorsTotal.WithLabelValues(kind).Inc()
}

// PassagesSkipped records passages left out of a context block.
func (m *SessionMetrics) PassagesSkipped(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.PassagesSkippedTotal.Add(float64(n))
}

// EmbeddingCacheLookup records a cache hit or miss. Its signature matches
// llm.EmbedCacheConfig.OnLookup.
func (m *SessionMetrics) EmbeddingCacheLookup(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.EmbeddingCacheTotal.WithLabelValues(result).Inc()
}
