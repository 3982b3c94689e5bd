// Copyright (C) 2025 Whisperboard (dev@whisperboard.net)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package observability provides Prometheus metrics for the ritual
// engine.
//
// # Description
//
// Metrics cover the engine's moving parts:
//   - anomaly generation counters (by type and severity)
//   - trigger activation counters
//   - content corruption counters
//   - queue depth and drop counters
//   - live websocket connection gauge
//
// # Integration
//
// Metrics are exposed via the /metrics endpoint. All operations are
// thread-safe via Prometheus's internal locking.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Namespace for all metrics.
const metricsNamespace = "ritual"

const engineSubsystem = "engine"

// EngineMetrics holds the Prometheus metrics for the ritual engine.
// Initialize once at startup via InitMetrics().
type EngineMetrics struct {
	// AnomaliesTotal counts generated anomalies.
	// Labels: type (whisper, glitch, ...), severity (subtle...extreme)
	AnomaliesTotal *prometheus.CounterVec

	// TriggersTotal counts trigger activations.
	// Labels: trigger (first_visit, witching_hour, ...)
	TriggersTotal *prometheus.CounterVec

	// CorruptionsTotal counts corruption applications.
	// Labels: kind (post, thread, overlay)
	CorruptionsTotal *prometheus.CounterVec

	// QueueDropsTotal counts events evicted from full queues.
	QueueDropsTotal prometheus.Counter

	// QueuePushesTotal counts events pushed to visitor queues.
	QueuePushesTotal prometheus.Counter

	// ActiveConnections tracks live websocket connections.
	ActiveConnections prometheus.Gauge

	// RequestsTotal counts behavior-tracked requests.
	// Labels: outcome (ok, degraded)
	RequestsTotal *prometheus.CounterVec
}

// DefaultMetrics is the singleton instance of EngineMetrics.
// Initialized by InitMetrics().
var DefaultMetrics *EngineMetrics

// InitMetrics creates and registers all metrics with the default
// Prometheus registry. Call once at startup; calling twice panics on
// duplicate registration.
func InitMetrics() *EngineMetrics {
	DefaultMetrics = &EngineMetrics{
		AnomaliesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: engineSubsystem,
				Name:      "anomalies_generated_total",
				Help:      "Total anomalies generated by type and severity",
			},
			[]string{"type", "severity"},
		),

		TriggersTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: engineSubsystem,
				Name:      "triggers_fired_total",
				Help:      "Total trigger activations by trigger name",
			},
			[]string{"trigger"},
		),

		CorruptionsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: engineSubsystem,
				Name:      "corruptions_applied_total",
				Help:      "Total content corruptions by kind",
			},
			[]string{"kind"},
		),

		QueueDropsTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: engineSubsystem,
				Name:      "queue_drops_total",
				Help:      "Total events evicted from full visitor queues",
			},
		),

		QueuePushesTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: engineSubsystem,
				Name:      "queue_pushes_total",
				Help:      "Total events pushed to visitor queues",
			},
		),

		ActiveConnections: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: engineSubsystem,
				Name:      "active_connections",
				Help:      "Number of live websocket connections",
			},
		),

		RequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: engineSubsystem,
				Name:      "requests_total",
				Help:      "Total behavior-tracked requests by outcome",
			},
			[]string{"outcome"},
		),
	}
	return DefaultMetrics
}

// RecordAnomaly counts one generated anomaly.
func (m *EngineMetrics) RecordAnomaly(anomalyType, severity string) {
	m.AnomaliesTotal.WithLabelValues(anomalyType, severity).Inc()
}

// RecordTrigger counts one trigger activation.
func (m *EngineMetrics) RecordTrigger(trigger string) {
	m.TriggersTotal.WithLabelValues(trigger).Inc()
}

// RecordCorruption counts one corruption application.
func (m *EngineMetrics) RecordCorruption(kind string) {
	m.CorruptionsTotal.WithLabelValues(kind).Inc()
}

// RecordPush counts a queue push and, when the queue was already full,
// the drop it caused.
func (m *EngineMetrics) RecordPush(dropped bool) {
	m.QueuePushesTotal.Inc()
	if dropped {
		m.QueueDropsTotal.Inc()
	}
}

// RecordRequest counts one tracked request.
func (m *EngineMetrics) RecordRequest(degraded bool) {
	outcome := "ok"
	if degraded {
		outcome = "degraded"
	}
	m.RequestsTotal.WithLabelValues(outcome).Inc()
}

// ConnectionOpened increments the live connection gauge.
func (m *EngineMetrics) ConnectionOpened() {
	m.ActiveConnections.Inc()
}

// ConnectionClosed decrements the live connection gauge.
func (m *EngineMetrics) ConnectionClosed() {
	m.ActiveConnections.Dec()
}
