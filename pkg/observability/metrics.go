// Copyright (C) 2025 IncentiveGrid (dev@incentivegrid.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package observability provides metrics and instrumentation for the
// eligibility service.
//
// # Description
//
// This package implements Prometheus metrics for monitoring evaluation
// traffic at the HTTP boundary, plus the OpenTelemetry meter provider
// bootstrap that bridges the engine's instrument metrics onto the same
// /metrics endpoint. Metrics include:
//   - Request counters (by endpoint, status)
//   - Request latency histograms
//   - Result cache hit/miss counters
//   - Catalog reload counters and program gauge
//
// # Integration
//
// Metrics are exposed via the /metrics endpoint. Use with Prometheus +
// Grafana for dashboards and alerting.
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal locking.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Namespace for all metrics
const metricsNamespace = "incentivegrid"

// Subsystem for API boundary metrics
const apiSubsystem = "api"

// APIMetrics holds the Prometheus metrics for the HTTP boundary.
//
// # Description
//
// Provides counters, histograms, and gauges for monitoring request
// traffic and catalog state. Initialize once at startup via InitMetrics().
//
// # Thread Safety
//
// All operations are thread-safe.
type APIMetrics struct {
	// RequestsTotal counts requests by endpoint and status.
	// Labels: endpoint (evaluate, health), status (success, error)
	RequestsTotal *prometheus.CounterVec

	// RequestDurationSeconds measures end-to-end request latency.
	// Labels: endpoint
	RequestDurationSeconds *prometheus.HistogramVec

	// CacheLookupsTotal counts result cache lookups.
	// Labels: outcome (hit, miss, error)
	CacheLookupsTotal *prometheus.CounterVec

	// CatalogReloadsTotal counts catalog reloads by outcome.
	// Labels: outcome (success, failure)
	CatalogReloadsTotal *prometheus.CounterVec

	// CatalogPrograms tracks the number of programs in the loaded catalog.
	CatalogPrograms prometheus.Gauge
}

// DefaultMetrics is the singleton instance of APIMetrics.
// Initialized by InitMetrics().
var DefaultMetrics *APIMetrics

// InitMetrics initializes the default metrics instance.
//
// # Description
//
// Creates and registers all Prometheus metrics. Should be called once
// at application startup.
//
// # Outputs
//
//   - *APIMetrics: The initialized metrics instance.
//
// # Limitations
//
//   - Panics if called twice (duplicate registration).
func InitMetrics() *APIMetrics {
	DefaultMetrics = &APIMetrics{
		RequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: apiSubsystem,
				Name:      "requests_total",
				Help:      "Total requests by endpoint and status",
			},
			[]string{"endpoint", "status"},
		),

		RequestDurationSeconds: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: apiSubsystem,
				Name:      "request_duration_seconds",
				Help:      "End-to-end request latency in seconds",
				Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
			},
			[]string{"endpoint"},
		),

		CacheLookupsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: apiSubsystem,
				Name:      "cache_lookups_total",
				Help:      "Result cache lookups by outcome",
			},
			[]string{"outcome"},
		),

		CatalogReloadsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: apiSubsystem,
				Name:      "catalog_reloads_total",
				Help:      "Catalog reloads by outcome",
			},
			[]string{"outcome"},
		),

		CatalogPrograms: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: apiSubsystem,
				Name:      "catalog_programs",
				Help:      "Programs in the currently loaded catalog",
			},
		),
	}

	return DefaultMetrics
}

// CacheOutcome labels a result cache lookup for metrics.
type CacheOutcome string

const (
	// CacheHit indicates the lookup found a valid entry.
	CacheHit CacheOutcome = "hit"

	// CacheMiss indicates no entry existed for the key.
	CacheMiss CacheOutcome = "miss"

	// CacheError indicates a storage failure during lookup.
	CacheError CacheOutcome = "error"
)

// RecordRequest records a completed request.
//
// # Inputs
//
//   - endpoint: The endpoint that handled the request.
//   - success: Whether the request completed successfully.
//   - seconds: End-to-end latency in seconds.
func (m *APIMetrics) RecordRequest(endpoint string, success bool, seconds float64) {
	status := "success"
	if !success {
		status = "error"
	}
	m.RequestsTotal.WithLabelValues(endpoint, status).Inc()
	m.RequestDurationSeconds.WithLabelValues(endpoint).Observe(seconds)
}

// RecordCacheLookup records a result cache lookup.
func (m *APIMetrics) RecordCacheLookup(outcome CacheOutcome) {
	m.CacheLookupsTotal.WithLabelValues(string(outcome)).Inc()
}

// RecordCatalogReload records a catalog reload and, on success, the new
// program count.
func (m *APIMetrics) RecordCatalogReload(success bool, programs int) {
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	m.CatalogReloadsTotal.WithLabelValues(outcome).Inc()
	if success {
		m.CatalogPrograms.Set(float64(programs))
	}
}
