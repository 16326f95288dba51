// Package metrics defines Prometheus collectors for pool state and acquire
// outcomes. All metrics are registered eagerly via promauto so the rest of
// the codebase can reference the package-level vars without a separate
// registration step, the same shape the teacher's own metrics package uses.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ConnectionsActive tracks the number of in-use connections per data source.
	ConnectionsActive = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "sqlpool_connections_active",
		Help: "Number of connections currently acquired, per data source",
	}, []string{"data_source"})

	// ConnectionsIdle tracks the number of idle connections per data source.
	ConnectionsIdle = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "sqlpool_connections_idle",
		Help: "Number of idle connections in the pool, per data source",
	}, []string{"data_source"})

	// ConnectionsSize tracks the total pool size (idle+active) per data source.
	ConnectionsSize = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "sqlpool_connections_size",
		Help: "Total connections held by the pool (idle+active), per data source",
	}, []string{"data_source"})

	// AcquireTotal counts acquire outcomes.
	AcquireTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sqlpool_acquire_total",
		Help: "Total Pool.Acquire calls by outcome",
	}, []string{"data_source", "outcome"}) // outcome: acquired, pool_full, driver_open_error, api_misuse

	// AcquireDuration tracks acquire latency (dominated by ping/open, never
	// includes queueing since acquire never blocks).
	AcquireDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "sqlpool_acquire_duration_seconds",
		Help:    "Time spent inside Pool.Acquire",
		Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
	}, []string{"data_source"})

	// ReapEvictionsTotal counts connections evicted by the reaper.
	ReapEvictionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sqlpool_reap_evictions_total",
		Help: "Total connections evicted by the reaper",
	}, []string{"data_source", "reason"}) // reason: idle_timeout, ping_failed

	// RollbackFailuresTotal counts swallowed auto-rollback failures on release.
	RollbackFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sqlpool_rollback_failures_total",
		Help: "Total auto-rollback failures swallowed during Release",
	}, []string{"data_source"})

	// CoordinatorReservationsTotal counts distributed capacity outcomes.
	CoordinatorReservationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sqlpool_coordinator_reservations_total",
		Help: "Total distributed capacity reservation attempts by outcome",
	}, []string{"data_source", "outcome"}) // outcome: reserved, denied, fallback
)
