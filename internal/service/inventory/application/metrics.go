package application

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	reservationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stockpile_reservations_total",
		Help: "Reservation attempts by outcome.",
	}, []string{"result"})

	lockAcquireFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stockpile_lock_acquire_failures_total",
		Help: "Lock acquisitions that timed out.",
	})

	conflictRetriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stockpile_conflict_retries_total",
		Help: "Optimistic-concurrency conflicts that triggered a retry.",
	})

	compensationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stockpile_bundle_compensations_total",
		Help: "Reservations rolled back by bundle compensation.",
	})

	sweptReservationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stockpile_swept_reservations_total",
		Help: "Expired reservations released by the sweeper.",
	})
)

// RecordCompensation 暴露给 saga 包计数补偿次数。
func RecordCompensation() { compensationsTotal.Inc() }

// RecordLockAcquireFailure 锁等待超时计数。
func RecordLockAcquireFailure() { lockAcquireFailuresTotal.Inc() }
