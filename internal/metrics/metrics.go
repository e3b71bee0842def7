package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "seasonbook"

var (
	once sync.Once

	bookingsCreated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bookings_created_total",
			Help:      "Bookings created by booking type.",
		},
		[]string{"type"},
	)

	statusTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "status_transitions_total",
			Help:      "Applied booking status transitions.",
		},
		[]string{"from", "to"},
	)

	availabilityConflicts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "availability_conflicts_total",
			Help:      "Availability conflicts by conflict type.",
		},
		[]string{"type"},
	)

	postActionFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "post_action_failures_total",
			Help:      "Post-transition actions that failed and were queued for retry.",
		},
		[]string{"action"},
	)

	postActionsProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "post_actions_processed_total",
			Help:      "Queued post-transition actions handled by the worker.",
		},
		[]string{"action", "result"},
	)

	sweepItems = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweep_items_total",
			Help:      "Bookings touched by scheduled sweeps.",
		},
		[]string{"sweep", "result"},
	)

	priceDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "price_calculation_seconds",
			Help:      "Time spent calculating a price.",
			Buckets:   prometheus.DefBuckets,
		},
	)

	lockWait = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "lock_wait_seconds",
			Help:      "Time spent waiting for resource locks.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		},
	)
)

// Register registers Prometheus metrics. Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(
			bookingsCreated,
			statusTransitions,
			availabilityConflicts,
			postActionFailures,
			postActionsProcessed,
			sweepItems,
			priceDuration,
			lockWait,
		)
	})
}

func IncBookingCreated(bookingType string) {
	bookingsCreated.WithLabelValues(bookingType).Inc()
}

func IncStatusTransition(from, to string) {
	statusTransitions.WithLabelValues(from, to).Inc()
}

func IncAvailabilityConflict(conflictType string) {
	availabilityConflicts.WithLabelValues(conflictType).Inc()
}

func IncPostActionFailure(action string) {
	postActionFailures.WithLabelValues(action).Inc()
}

// IncPostActionProcessed counts a worker attempt; result is completed, retry or failed.
func IncPostActionProcessed(action, result string) {
	postActionsProcessed.WithLabelValues(action, result).Inc()
}

// AddSweep adds processed and failed counts for one sweep run.
func AddSweep(sweep string, processed, failed int) {
	sweepItems.WithLabelValues(sweep, "processed").Add(float64(processed))
	sweepItems.WithLabelValues(sweep, "failed").Add(float64(failed))
}

func ObservePriceDuration(d time.Duration) {
	priceDuration.Observe(d.Seconds())
}

func ObserveLockWait(d time.Duration) {
	lockWait.Observe(d.Seconds())
}
