package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "threadline_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "threadline_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	// Business metrics
	EmailsIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "threadline_emails_ingested_total",
			Help: "Total emails ingested",
		},
		[]string{"direction"}, // "incoming" or "outgoing"
	)

	EmailsDeduplicated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "threadline_emails_deduplicated_total",
			Help: "Total duplicate emails skipped during ingest",
		},
	)

	ThreadsCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "threadline_threads_created_total",
			Help: "Total threads created",
		},
	)

	ThreadingDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "threadline_threading_decisions_total",
			Help: "Total threading decisions by resolution method",
		},
		[]string{"method"},
	)

	DecisionConfidence = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "threadline_decision_confidence",
			Help:    "Confidence score of threading decisions",
			Buckets: []float64{0, .5, .7, .85, .9, .95, .99, 1},
		},
	)

	// Rate limit metrics
	RateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "threadline_rate_limit_hits_total",
			Help: "Total rate limit hits",
		},
		[]string{"endpoint"},
	)
)
