package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Ingest metrics
	EventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conversion_events_total",
			Help: "Total number of conversion events received, by route and outcome",
		},
		[]string{"route", "outcome"},
	)

	DedupDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conversion_dedup_decisions_total",
			Help: "Dedup ledger verdicts",
		},
		[]string{"verdict", "reason"},
	)

	// Forwarding metrics
	ForwardTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conversion_forward_total",
			Help: "Outbound S2S reports by final status",
		},
		[]string{"status"},
	)

	ForwardDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "conversion_forward_duration_seconds",
			Help:    "Duration of outbound S2S reports in seconds",
			Buckets: []float64{.05, .1, .25, .5, 1, 2, 3, 5, 10},
		},
	)

	// Token metrics
	TokenRefreshTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "token_refresh_total",
			Help: "Token refresh attempts by result",
		},
		[]string{"result"},
	)

	TokenLastRefresh = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "token_last_refresh_timestamp_seconds",
			Help: "Unix time of the last successful token swap",
		},
	)

	TokenConsecutiveFailures = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "token_refresh_consecutive_failures",
			Help: "Refresh failures since the last successful swap",
		},
	)

	// HTTP metrics
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)

	RateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rate_limit_hits_total",
			Help: "Total number of requests rejected by a rate limiter",
		},
		[]string{"scope"},
	)
)
