package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "ride_dispatch"

var (
	AssignmentsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "assignments_total", Help: "Assignment attempts by outcome"},
		[]string{"outcome"},
	)

	MatchLatency = promauto.NewHistogram(prometheus.HistogramOpts{Namespace: namespace, Name: "match_latency_seconds", Help: "Driver search and scoring latency"})

	CandidatesScored = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "candidates_scored",
		Help:      "Drivers considered per matching attempt",
		Buckets:   []float64{0, 1, 2, 5, 10, 25, 50, 100, 200},
	})

	DriversOnline = promauto.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: "drivers_online", Help: "Number of online drivers"})

	TransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "booking_transitions_total", Help: "Committed booking status transitions"},
		[]string{"from", "to"},
	)

	TransitionConflicts = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "booking_transition_conflicts_total", Help: "Conditional updates that lost a race"})

	SideEffectFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "side_effect_failures_total", Help: "Best-effort side effects that failed after commit"},
		[]string{"effect"},
	)
	RefundsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "refunds_total", Help: "Refund attempts by outcome"},
		[]string{"status"},
	)
	NotificationsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "notifications_published_total", Help: "Notifications fanned out by event"},
		[]string{"event"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
