package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	OffersBroadcast = promauto.NewCounter(prometheus.CounterOpts{Namespace: "quicktrash", Name: "offers_broadcast_total", Help: "Offer sessions opened"})
	OffersExpired   = promauto.NewCounter(prometheus.CounterOpts{Namespace: "quicktrash", Name: "offers_expired_total", Help: "Offer sessions that timed out"})
	OffersDeclined  = promauto.NewCounter(prometheus.CounterOpts{Namespace: "quicktrash", Name: "offers_declined_total", Help: "Offer sessions declined"})

	AcceptWins      = promauto.NewCounter(prometheus.CounterOpts{Namespace: "quicktrash", Name: "accept_wins_total", Help: "Acceptance races won"})
	AcceptConflicts = promauto.NewCounter(prometheus.CounterOpts{Namespace: "quicktrash", Name: "accept_conflicts_total", Help: "Acceptance attempts that lost the race"})

	ArrivalsConfirmed  = promauto.NewCounter(prometheus.CounterOpts{Namespace: "quicktrash", Name: "arrivals_confirmed_total", Help: "Arrivals confirmed in range"})
	ArrivalsOutOfRange = promauto.NewCounter(prometheus.CounterOpts{Namespace: "quicktrash", Name: "arrivals_out_of_range_total", Help: "Arrival attempts outside the threshold"})

	JobsCompleted  = promauto.NewCounter(prometheus.CounterOpts{Namespace: "quicktrash", Name: "jobs_completed_total", Help: "Jobs completed"})
	JobsRejected   = promauto.NewCounter(prometheus.CounterOpts{Namespace: "quicktrash", Name: "jobs_rejected_total", Help: "Jobs rejected after exhausting candidates"})
	PayoutsTotal   = promauto.NewCounter(prometheus.CounterOpts{Namespace: "quicktrash", Name: "payouts_total", Help: "Worker payouts issued"})
	PayoutFailures = promauto.NewCounter(prometheus.CounterOpts{Namespace: "quicktrash", Name: "payout_failures_total", Help: "Payouts parked for manual settlement"})

	WorkersOnline = promauto.NewGauge(prometheus.GaugeOpts{Namespace: "quicktrash", Name: "workers_online", Help: "Workers currently online"})

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "quicktrash", Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "quicktrash",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
