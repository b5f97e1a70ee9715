package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	Operations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "facegate",
		Name:      "operations_total",
		Help:      "Total number of face authentication operations by result code",
	}, []string{"operation", "code"})

	Recognitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "facegate",
		Name:      "recognitions_total",
		Help:      "Total number of recognition attempts by decision",
	}, []string{"decision"})

	ReferencesSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "facegate",
		Name:      "references_skipped_total",
		Help:      "Reference images skipped during matching because they were unusable",
	})

	InferenceDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "facegate",
		Name:      "inference_duration_seconds",
		Help:      "Duration of ML inference and matching stages",
		Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
	}, []string{"stage"})

	EnrolledMembers = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "facegate",
		Name:      "enrolled_members",
		Help:      "Number of enrolled team members",
	})

	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "facegate",
		Name:      "dispatch_queue_depth",
		Help:      "Number of pending jobs in the dispatch queue",
	})

	EventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "facegate",
		Name:      "events_published_total",
		Help:      "Member events handed to publishers by outcome",
	}, []string{"type", "outcome"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "facegate",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	WSConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "facegate",
		Name:      "ws_connections",
		Help:      "Number of active WebSocket connections",
	})
)
