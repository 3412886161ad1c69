// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability provides Prometheus metrics for the archivist
// service: request counters, retrieval latency, ingestion volume, LLM
// token/cost accounting, and sync-pipeline outcomes. Exposed on /metrics.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "recall"

// Metrics holds the archivist's Prometheus instruments. Initialize once at
// startup via NewMetrics; all operations are thread-safe.
type Metrics struct {
	RequestsTotal      *prometheus.CounterVec
	RetrievalSeconds   prometheus.Histogram
	IngestedPoints     *prometheus.CounterVec
	IngestSkipped      *prometheus.CounterVec
	LLMTokensTotal     *prometheus.CounterVec
	LLMCostUSDTotal    prometheus.Counter
	SyncRunsTotal      *prometheus.CounterVec
	ScheduledRunsTotal *prometheus.CounterVec
}

// NewMetrics registers all instruments on the default registry.
func NewMetrics() *Metrics {
	return &Metrics{
		RequestsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "requests_total",
			Help:      "HTTP requests by endpoint and status.",
		}, []string{"endpoint", "status"}),
		RetrievalSeconds: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "retrieval_duration_seconds",
			Help:      "End-to-end retrieval latency.",
			Buckets:   prometheus.DefBuckets,
		}),
		IngestedPoints: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "ingested_points_total",
			Help:      "Vector points ingested by source.",
		}, []string{"source"}),
		IngestSkipped: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "ingest_skipped_total",
			Help:      "Documents skipped by the dedup predicate, by source.",
		}, []string{"source"}),
		LLMTokensTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "llm_tokens_total",
			Help:      "LLM tokens by direction (prompt/completion).",
		}, []string{"direction"}),
		LLMCostUSDTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "llm_cost_usd_total",
			Help:      "Accumulated LLM spend in USD.",
		}),
		SyncRunsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "sync_runs_total",
			Help:      "Sync pipeline runs by plugin and status.",
		}, []string{"plugin", "status"}),
		ScheduledRunsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "scheduled_runs_total",
			Help:      "Scheduler dispatches by status.",
		}, []string{"status"}),
	}
}
