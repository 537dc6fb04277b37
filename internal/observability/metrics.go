package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	Enrollments = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "facedoor",
		Name:      "enrollments_total",
		Help:      "Enrollment calls by outcome",
	}, []string{"outcome"})

	Recognitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "facedoor",
		Name:      "recognitions_total",
		Help:      "Recognition calls by outcome",
	}, []string{"outcome"})

	ExtractionAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "facedoor",
		Name:      "extraction_attempts_total",
		Help:      "Embedding extraction attempts per detector and outcome",
	}, []string{"detector", "outcome"})

	InferenceDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "facedoor",
		Name:      "inference_duration_seconds",
		Help:      "Duration of recognition pipeline stages",
		Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
	}, []string{"stage"})

	MatchDistance = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "facedoor",
		Name:      "match_distance",
		Help:      "Best-match distance of recognition queries",
		Buckets:   prometheus.LinearBuckets(0, 0.1, 15),
	}, []string{"metric"})

	StoreIdentities = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "facedoor",
		Name:      "store_identities",
		Help:      "Number of enrolled identities",
	})

	StoreVariations = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "facedoor",
		Name:      "store_variations",
		Help:      "Number of enrolled variations across all identities",
	})

	StoreWriteDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "facedoor",
		Name:      "store_write_duration_seconds",
		Help:      "Duration of identity store persistence",
		Buckets:   prometheus.DefBuckets,
	}, []string{"backend", "outcome"})

	DoorCommands = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "facedoor",
		Name:      "door_commands_total",
		Help:      "Door commands published by outcome",
	}, []string{"outcome"})

	DoorActions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "facedoor",
		Name:      "door_actions_total",
		Help:      "Door commands handled by a door agent, by status.",
	}, []string{"status"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "facedoor",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	WSConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "facedoor",
		Name:      "ws_connections",
		Help:      "Number of active WebSocket connections",
	})
)
