// Copyright (C) 2026 The MerkleKV Authors.
// All rights reserved. This file is part of merklekv.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package metrics bundles the counters and gauges every other component
// reports against: one process-local registry of client_golang collectors,
// exposed for scraping rather than querying an external server.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/merklekv/merklekv/internal/storage"
)

// Registry bundles every collector the core emits. Constructed once at
// startup and injected into the processor and the replication pipeline
// rather than reached for as a package-level singleton; cmd/merklekv feeds
// broker state events into it.
type Registry struct {
	reg *prometheus.Registry

	mutationsTotal        *prometheus.CounterVec
	replicationPublished  prometheus.Counter
	replicationDropped    *prometheus.CounterVec
	replicationApplied    *prometheus.CounterVec
	replicationSkewReject prometheus.Counter
	idempotencyHits       prometheus.Counter
	idempotencyMisses     prometheus.Counter
	connectionState       *prometheus.GaugeVec
	correlatorTimeouts    prometheus.Counter
	correlatorPending     prometheus.Gauge
	gcTombstonesRemoved   prometheus.Counter
}

// New constructs a Registry with every collector registered against a
// fresh prometheus.Registry (never the global DefaultRegisterer, so tests
// can build independent instances without collisions).
func New() *Registry {
	reg := prometheus.NewRegistry()

	r := &Registry{
		reg: reg,
		mutationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "merklekv",
			Name:      "commands_dispatched_total",
			Help:      "Count of commands dispatched past validation, by op.",
		}, []string{"op"}),
		replicationPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "merklekv",
			Name:      "replication_published_total",
			Help:      "Count of replication events successfully published.",
		}),
		replicationDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "merklekv",
			Name:      "replication_dropped_total",
			Help:      "Count of replication events dropped, by reason.",
		}, []string{"reason"}),
		replicationApplied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "merklekv",
			Name:      "replication_applied_total",
			Help:      "Count of inbound replication events applied, by decision.",
		}, []string{"decision"}),
		replicationSkewReject: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "merklekv",
			Name:      "replication_skew_rejected_total",
			Help:      "Count of inbound replication events rejected by the future-skew guard.",
		}),
		idempotencyHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "merklekv",
			Name:      "idempotency_cache_hits_total",
			Help:      "Count of commands served from the idempotency cache.",
		}),
		idempotencyMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "merklekv",
			Name:      "idempotency_cache_misses_total",
			Help:      "Count of commands that missed the idempotency cache.",
		}),
		connectionState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "merklekv",
			Name:      "broker_connection_state",
			Help:      "1 for the current broker connection state, 0 otherwise.",
		}, []string{"state"}),
		correlatorTimeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "merklekv",
			Name:      "correlator_timeouts_total",
			Help:      "Count of pending requests resolved by deadline rather than response.",
		}),
		correlatorPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "merklekv",
			Name:      "correlator_pending",
			Help:      "Number of requests currently awaiting a response.",
		}),
		gcTombstonesRemoved: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "merklekv",
			Name:      "gc_tombstones_removed_total",
			Help:      "Count of tombstones removed by GC sweeps.",
		}),
	}

	reg.MustRegister(
		r.mutationsTotal,
		r.replicationPublished,
		r.replicationDropped,
		r.replicationApplied,
		r.replicationSkewReject,
		r.idempotencyHits,
		r.idempotencyMisses,
		r.connectionState,
		r.correlatorTimeouts,
		r.correlatorPending,
		r.gcTombstonesRemoved,
	)
	return r
}

// Gatherer exposes the underlying prometheus.Gatherer for the admin HTTP
// server's /metrics handler.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.reg
}

// MutationDispatched records a command dispatched past validation by op
// name; the processor calls it for reads as well as mutations.
func (r *Registry) MutationDispatched(op string) {
	r.mutationsTotal.WithLabelValues(op).Inc()
}

// ReplicationPublished implements replication.Metrics.
func (r *Registry) ReplicationPublished() {
	r.replicationPublished.Inc()
}

// ReplicationDropped implements replication.Metrics.
func (r *Registry) ReplicationDropped(reason string) {
	r.replicationDropped.WithLabelValues(reason).Inc()
}

// ReplicationApplied implements replication.Metrics.
func (r *Registry) ReplicationApplied(decision storage.AppliedDecision) {
	r.replicationApplied.WithLabelValues(decision.String()).Inc()
}

// ReplicationSkewRejected implements replication.Metrics.
func (r *Registry) ReplicationSkewRejected() {
	r.replicationSkewReject.Inc()
}

// IdempotencyHit records a command served from the idempotency cache.
func (r *Registry) IdempotencyHit() {
	r.idempotencyHits.Inc()
}

// IdempotencyMiss records a command that missed the idempotency cache.
func (r *Registry) IdempotencyMiss() {
	r.idempotencyMisses.Inc()
}

// SetConnectionState zeroes every known state gauge and sets state to 1,
// so the current state is always the unique 1-valued series.
func (r *Registry) SetConnectionState(state string, knownStates []string) {
	for _, s := range knownStates {
		r.connectionState.WithLabelValues(s).Set(0)
	}
	r.connectionState.WithLabelValues(state).Set(1)
}

// CorrelatorTimeout records a pending request resolved by deadline.
func (r *Registry) CorrelatorTimeout() {
	r.correlatorTimeouts.Inc()
}

// SetCorrelatorPending reports the current pending-request count.
func (r *Registry) SetCorrelatorPending(n int) {
	r.correlatorPending.Set(float64(n))
}

// TombstonesRemoved records a GC sweep's removal count.
func (r *Registry) TombstonesRemoved(n int) {
	r.gcTombstonesRemoved.Add(float64(n))
}
