package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mockchat_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mockchat_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.005, .01, .05, .1, .5, 1, 2, 3, 5},
		},
		[]string{"method", "path"},
	)

	// Business metrics
	RepliesGenerated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mockchat_replies_generated_total",
			Help: "Total replies returned to clients",
		},
	)

	RepliesFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mockchat_replies_failed_total",
			Help: "Total reply attempts answered with an error",
		},
		[]string{"reason"}, // "injected", "model", "canceled"
	)

	ReplyLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "mockchat_reply_latency_seconds",
			Help:    "Simulated reply latency",
			Buckets: []float64{.25, .5, 1, 1.5, 2, 2.5, 3, 5},
		},
	)

	HistoryCleared = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mockchat_history_cleared_total",
			Help: "Total transcript clears",
		},
	)

	StatusSocketsOpen = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "mockchat_status_sockets_open",
			Help: "Connection status sockets currently open",
		},
	)

	StatusTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mockchat_status_transitions_total",
			Help: "Simulated connection state changes pushed to clients",
		},
		[]string{"state"},
	)

	// Rate limit metrics
	RateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mockchat_rate_limit_hits_total",
			Help: "Total rate limit hits",
		},
		[]string{"endpoint"},
	)
)
