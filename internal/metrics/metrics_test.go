package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics(t *testing.T) {
	// Register should be safe to call multiple times
	Register()
	Register()

	assert.NotPanics(t, func() {
		ObservePriceDuration(10 * time.Millisecond)
		ObserveLockWait(time.Millisecond)
	})
}

func TestCounters(t *testing.T) {
	before := testutil.ToFloat64(bookingsCreated.WithLabelValues("course"))
	IncBookingCreated("course")
	assert.Equal(t, before+1, testutil.ToFloat64(bookingsCreated.WithLabelValues("course")))

	before = testutil.ToFloat64(statusTransitions.WithLabelValues("pending", "confirmed"))
	IncStatusTransition("pending", "confirmed")
	assert.Equal(t, before+1, testutil.ToFloat64(statusTransitions.WithLabelValues("pending", "confirmed")))

	before = testutil.ToFloat64(sweepItems.WithLabelValues("auto_confirm", "failed"))
	AddSweep("auto_confirm", 3, 1)
	assert.Equal(t, before+1, testutil.ToFloat64(sweepItems.WithLabelValues("auto_confirm", "failed")))

	before = testutil.ToFloat64(postActionsProcessed.WithLabelValues("notify", "retry"))
	IncPostActionProcessed("notify", "retry")
	assert.Equal(t, before+1, testutil.ToFloat64(postActionsProcessed.WithLabelValues("notify", "retry")))
}
