// Copyright (C) 2026 Verdant Labs (dev@verdantlabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package observability provides Prometheus metrics for the progress
// subsystem.
//
// # Description
//
// Metrics cover the cache tiers (hits/misses/stale serves), the
// authoritative reload path (reload counts by trigger, coalesced
// debounce requests), mutations, and the mismatch monitor (repairs,
// exhaustions, suppressed self-echoes).
//
// # Integration
//
// Metrics are exposed via the daemon's /metrics endpoint. All methods
// on Metrics are nil-safe so library users can run without a registry.
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal
// locking.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Namespace for all metrics.
const metricsNamespace = "verdant"

// Subsystem for progress-cache metrics.
const progressSubsystem = "progress"

// Metrics holds the Prometheus instruments for the progress subsystem.
type Metrics struct {
	// CacheHits counts tier hits. Labels: tier (fast, durable).
	CacheHits *prometheus.CounterVec

	// CacheMisses counts tier misses. Labels: tier (fast, durable).
	CacheMisses *prometheus.CounterVec

	// StaleServes counts reads answered with a stale entry while a
	// revalidation ran in the background.
	StaleServes prometheus.Counter

	// Reloads counts authoritative reloads. Labels: trigger
	// (scheduled, forced, initial).
	Reloads *prometheus.CounterVec

	// ReloadsCoalesced counts ScheduleReload calls absorbed by an
	// already-pending reload.
	ReloadsCoalesced prometheus.Counter

	// Mutations counts authoritative increments. Labels: status
	// (ok, failed).
	Mutations *prometheus.CounterVec

	// Repairs counts mismatch repair attempts.
	Repairs prometheus.Counter

	// RepairsExhausted counts times the monitor hit its retry cap.
	RepairsExhausted prometheus.Counter

	// SelfEchoesDropped counts broadcasts suppressed because the local
	// client caused them.
	SelfEchoesDropped prometheus.Counter

	// FetchSeconds measures authoritative aggregate fetch latency.
	FetchSeconds prometheus.Histogram
}

// NewMetrics creates and registers the progress metrics on reg. Pass
// prometheus.DefaultRegisterer in the daemon; tests pass a fresh
// registry to avoid duplicate registration.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		CacheHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: progressSubsystem,
				Name:      "cache_hits_total",
				Help:      "Total cache tier hits by tier",
			},
			[]string{"tier"},
		),
		CacheMisses: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: progressSubsystem,
				Name:      "cache_misses_total",
				Help:      "Total cache tier misses by tier",
			},
			[]string{"tier"},
		),
		StaleServes: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: progressSubsystem,
				Name:      "stale_serves_total",
				Help:      "Reads served from a stale entry while revalidating",
			},
		),
		Reloads: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: progressSubsystem,
				Name:      "reloads_total",
				Help:      "Authoritative occurrence reloads by trigger",
			},
			[]string{"trigger"},
		),
		ReloadsCoalesced: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: progressSubsystem,
				Name:      "reloads_coalesced_total",
				Help:      "Reload requests absorbed by a pending reload",
			},
		),
		Mutations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: progressSubsystem,
				Name:      "mutations_total",
				Help:      "Authoritative occurrence increments by status",
			},
			[]string{"status"},
		),
		Repairs: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: progressSubsystem,
				Name:      "repairs_total",
				Help:      "Mismatch repair attempts",
			},
		),
		RepairsExhausted: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: progressSubsystem,
				Name:      "repairs_exhausted_total",
				Help:      "Times the mismatch monitor hit its retry cap",
			},
		),
		SelfEchoesDropped: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: progressSubsystem,
				Name:      "self_echoes_dropped_total",
				Help:      "Broadcasts suppressed as self-echoes",
			},
		),
		FetchSeconds: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: progressSubsystem,
				Name:      "fetch_duration_seconds",
				Help:      "Authoritative aggregate fetch latency",
				Buckets:   prometheus.DefBuckets,
			},
		),
	}
}

// IncCacheHit records a tier hit. Nil-safe.
func (m *Metrics) IncCacheHit(tier string) {
	if m == nil {
		return
	}
	m.CacheHits.WithLabelValues(tier).Inc()
}

// IncCacheMiss records a tier miss. Nil-safe.
func (m *Metrics) IncCacheMiss(tier string) {
	if m == nil {
		return
	}
	m.CacheMisses.WithLabelValues(tier).Inc()
}

// IncStaleServe records a stale-while-revalidate serve. Nil-safe.
func (m *Metrics) IncStaleServe() {
	if m == nil {
		return
	}
	m.StaleServes.Inc()
}

// IncReload records an authoritative reload. Nil-safe.
func (m *Metrics) IncReload(trigger string) {
	if m == nil {
		return
	}
	m.Reloads.WithLabelValues(trigger).Inc()
}

// IncReloadCoalesced records an absorbed reload request. Nil-safe.
func (m *Metrics) IncReloadCoalesced() {
	if m == nil {
		return
	}
	m.ReloadsCoalesced.Inc()
}

// IncMutation records an increment outcome. Nil-safe.
func (m *Metrics) IncMutation(status string) {
	if m == nil {
		return
	}
	m.Mutations.WithLabelValues(status).Inc()
}

// IncRepair records a repair attempt. Nil-safe.
func (m *Metrics) IncRepair() {
	if m == nil {
		return
	}
	m.Repairs.Inc()
}

// IncRepairExhausted records a retry-cap hit. Nil-safe.
func (m *Metrics) IncRepairExhausted() {
	if m == nil {
		return
	}
	m.RepairsExhausted.Inc()
}

// IncSelfEchoDropped records a suppressed self-echo. Nil-safe.
func (m *Metrics) IncSelfEchoDropped() {
	if m == nil {
		return
	}
	m.SelfEchoesDropped.Inc()
}

// ObserveFetch records an authoritative fetch duration. Nil-safe.
func (m *Metrics) ObserveFetch(seconds float64) {
	if m == nil {
		return
	}
	m.FetchSeconds.Observe(seconds)
}
