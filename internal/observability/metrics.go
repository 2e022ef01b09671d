package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	DispatchRequestsTotal = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_dispatch", Name: "requests_total", Help: "Total ride requests entering dispatch"})
	BookingsTotal         = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_dispatch", Name: "bookings_total", Help: "Total confirmed bookings"})
	OffersTotal           = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_dispatch", Name: "offers_total", Help: "Total offers pushed to drivers"})
	RejectionsTotal       = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_dispatch", Name: "rejections_total", Help: "Total driver rejections including silent timeouts"})
	ExhaustedTotal        = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_dispatch", Name: "exhausted_total", Help: "Total requests terminated with no driver available"})
	CancellationsTotal    = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_dispatch", Name: "cancellations_total", Help: "Total pending rides cancelled by the customer"})
	PendingRides          = promauto.NewGauge(prometheus.GaugeOpts{Namespace: "ride_dispatch", Name: "pending_rides", Help: "Pending rides currently in flight"})
	DriversOnline         = promauto.NewGauge(prometheus.GaugeOpts{Namespace: "ride_dispatch", Name: "drivers_online", Help: "Number of online drivers"})

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
