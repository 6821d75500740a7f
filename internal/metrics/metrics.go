// Copyright 2026 The Peer Authors
// SPDX-License-Identifier: Apache-2.0

// Package metrics exposes the Prometheus counters and histograms the
// pipeline's components increment as they run (spec §0 ambient stack:
// "observability counters for retries/provider failures are emitted via
// github.com/prometheus/client_golang").
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// JobsProcessed counts queue.Pool handler invocations by queue name and
	// outcome ("ack" or "nack"), spec §4.1/§5 queue contracts.
	JobsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "peer_jobs_processed_total",
		Help: "Queue jobs processed, by queue and outcome.",
	}, []string{"queue", "outcome"})

	// AnalyzerFailures counts analyzer invocations that errored or panicked
	// and therefore contributed no findings (spec §4.3 "an analyzer failure
	// yields [] and a warn log, never propagating").
	AnalyzerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "peer_analyzer_failures_total",
		Help: "Analyzer invocations that failed or panicked, by analyzer name.",
	}, []string{"analyzer"})

	// ProviderCalls counts LLM provider call outcomes by provider and
	// outcome ("success", "error", "cache_hit"), spec §4.4 router.
	ProviderCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "peer_llm_provider_calls_total",
		Help: "LLM provider calls, by provider and outcome.",
	}, []string{"provider", "outcome"})

	// ProviderLatency observes provider call duration, by provider.
	ProviderLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "peer_llm_provider_call_seconds",
		Help:    "LLM provider call latency in seconds, by provider.",
		Buckets: prometheus.DefBuckets,
	}, []string{"provider"})

	// PatchRequestOutcomes counts terminal PatchRequest states, by reason
	// (empty for success), spec §4.5.4-§4.5.6.
	PatchRequestOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "peer_patch_requests_total",
		Help: "Completed or failed patch requests, by status and reason.",
	}, []string{"status", "reason"})

	// RunsProcessed counts PRRun terminal outcomes, by status.
	RunsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "peer_runs_total",
		Help: "PRRun terminal outcomes, by status.",
	}, []string{"status"})
)

// Handler returns the Prometheus scrape endpoint handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
