package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BookingsTotal        = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_dispatch", Name: "bookings_total", Help: "Total ride bookings accepted for dispatch"})
	DispatchesTotal      = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_dispatch", Name: "dispatches_total", Help: "Total ride request broadcasts"})
	DispatchesSuppressed = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_dispatch", Name: "dispatches_suppressed_total", Help: "Broadcasts suppressed by the dedup window"})
	AcceptWins           = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_dispatch", Name: "accept_wins_total", Help: "Acceptance races won"})
	AcceptConflicts      = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_dispatch", Name: "accept_conflicts_total", Help: "Acceptance attempts that lost the race"})
	RidesCompleted       = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_dispatch", Name: "rides_completed_total", Help: "Rides settled"})
	PushFailures         = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_dispatch", Name: "push_failures_total", Help: "Non-fatal push notification failures"})
	DriversOnline        = promauto.NewGauge(prometheus.GaugeOpts{Namespace: "ride_dispatch", Name: "drivers_online", Help: "Drivers currently online"})

	SettlementAmount = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "ride_dispatch",
		Name:      "settlement_fare_units",
		Help:      "Settled fares in currency units",
		Buckets:   prometheus.ExponentialBuckets(50, 2, 8),
	})

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "ride_dispatch", Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ride_dispatch",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
