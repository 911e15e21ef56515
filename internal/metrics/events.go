package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Event stream metrics
var (
	// EventsPublishedTotal counts producer writes by event type and status
	EventsPublishedTotal = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_published_total",
			Help:      "Total number of password events published",
		},
		[]string{"type", "status"}, // status: success|error
	)

	// EventsIngestedTotal counts consumer outcomes
	EventsIngestedTotal = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_ingested_total",
			Help:      "Total number of consumed password events by outcome",
		},
		[]string{"outcome"}, // outcome: ingested|duplicate|dead_lettered|aborted
	)

	// EventIngestDuration records per-message processing time
	EventIngestDuration = promauto.With(Registry).NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "event_ingest_duration_seconds",
			Help:      "Time spent persisting a consumed event",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
	)
)
