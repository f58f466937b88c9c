package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "rentalcore"

var (
	once sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by endpoint.",
		},
		[]string{"endpoint"},
	)

	reservations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reservations_total",
			Help:      "Subscription hour reservations by result.",
		},
		[]string{"result"},
	)

	reservationConflicts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reservation_conflicts_total",
			Help:      "Lost compare-and-swap rounds while reserving subscription hours.",
		},
	)

	settlements = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "settlements_total",
			Help:      "Settlement attempts by result.",
		},
		[]string{"result"},
	)

	refunds = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refunds_total",
			Help:      "Processed refunds by type, plus rejections.",
		},
		[]string{"type"},
	)

	stageTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stage_transitions_total",
			Help:      "Persisted rental stage transitions by target stage.",
		},
		[]string{"stage"},
	)

	hookTasks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "hook_tasks_total",
			Help:      "Post-commit hook tasks by type and result.",
		},
		[]string{"type", "result"},
	)
)

// Register registers Prometheus metrics. Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(
			httpRequests,
			reservations,
			reservationConflicts,
			settlements,
			refunds,
			stageTransitions,
			hookTasks,
		)
	})
}

func IncHTTP(endpoint string) {
	httpRequests.WithLabelValues(endpoint).Inc()
}

// IncReservation counts a reservation outcome: reserved, skipped, conflict or rejected.
func IncReservation(result string) {
	reservations.WithLabelValues(result).Inc()
}

func IncReservationConflict() {
	reservationConflicts.Inc()
}

func IncSettlement(result string) {
	settlements.WithLabelValues(result).Inc()
}

func IncRefund(kind string) {
	refunds.WithLabelValues(kind).Inc()
}

func IncStageTransition(stage string) {
	stageTransitions.WithLabelValues(stage).Inc()
}

func IncHookTask(taskType, result string) {
	hookTasks.WithLabelValues(taskType, result).Inc()
}
