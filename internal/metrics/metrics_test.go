package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics(t *testing.T) {
	// safe to call more than once
	Register()
	Register()

	assert.NotPanics(t, func() {
		IncHTTP("GET /api/v1/bookings/{id}")
		IncReservation("reserved")
		IncSettlement("ok")
		IncRefund("full")
		IncStageTransition("overdue")
	})
}

func TestCounters(t *testing.T) {
	before := testutil.ToFloat64(reservationConflicts)
	IncReservationConflict()
	IncReservationConflict()
	assert.Equal(t, before+2, testutil.ToFloat64(reservationConflicts))

	hookBefore := testutil.ToFloat64(hookTasks.WithLabelValues("release_car", "completed"))
	IncHookTask("release_car", "completed")
	assert.Equal(t, hookBefore+1, testutil.ToFloat64(hookTasks.WithLabelValues("release_car", "completed")))
}
