package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HoldsCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "holds_created_total",
		Help: "Total number of holds created",
	})

	AllocationsCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "allocations_created_total",
		Help: "Total number of direct allocations created",
	})

	HoldsConvertedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "holds_converted_total",
		Help: "Total number of holds converted to allocations",
	})

	HoldsReleasedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "holds_released_total",
		Help: "Total number of holds released",
	})

	ReservationsFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reservations_failed_total",
		Help: "Total number of failed reservation operations",
	}, []string{"reason"})

	IdempotentReplaysTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "idempotent_replays_total",
		Help: "Total number of requests answered from an existing reservation",
	})

	OptimisticRetriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "optimistic_retries_total",
		Help: "Total number of optimistic batch retries after a version conflict",
	})

	LockTimeoutsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pessimistic_lock_timeouts_total",
		Help: "Total number of pessimistic lock acquisition timeouts",
	})

	StrategyApplyLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "strategy_apply_latency_seconds",
		Help:    "Latency of ledger batch application per strategy",
		Buckets: prometheus.DefBuckets,
	}, []string{"strategy"})

	SweepExpiredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sweep_expired_total",
		Help: "Total number of reservations expired by the sweeper",
	})

	SweepFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sweep_failures_total",
		Help: "Total number of per-reservation failures during sweeps",
	})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
)
