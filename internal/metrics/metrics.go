package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "teamgrid_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "teamgrid_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	// Chat metrics
	MessagesSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "teamgrid_messages_sent_total",
			Help: "Total messages sent",
		},
		[]string{"chat_kind"}, // "private" or "group"
	)

	StatusTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "teamgrid_status_transitions_total",
			Help: "Total message status transitions",
		},
		[]string{"to"},
	)

	AttachmentBytes = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "teamgrid_attachment_bytes_total",
			Help: "Total attachment bytes accepted",
		},
	)

	// Realtime metrics
	RealtimeSubscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "teamgrid_realtime_subscribers",
			Help: "Currently connected chat subscribers",
		},
	)

	PublishFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "teamgrid_publish_failures_total",
			Help: "Total chat event publish failures",
		},
	)

	DroppedSubscribers = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "teamgrid_dropped_subscribers_total",
			Help: "Subscribers disconnected for falling behind",
		},
	)

	// Rate limit metrics
	RateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "teamgrid_rate_limit_hits_total",
			Help: "Total rate limit hits",
		},
		[]string{"endpoint"},
	)
)
