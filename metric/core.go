package metric

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "webvis"

// Metrics holds the pipeline-level instruments shared across components.
// Domain components receive the whole struct and touch only their series.
type Metrics struct {
	// Ingestion metrics
	EventsReceived   *prometheus.CounterVec
	EventsPersisted  *prometheus.CounterVec
	EventsRejected   *prometheus.CounterVec
	IngestDuration   *prometheus.HistogramVec
	SlowIngestsTotal *prometheus.CounterVec

	// Live bus metrics
	Subscribers      prometheus.Gauge
	FramesPublished  *prometheus.CounterVec
	FramesDropped    *prometheus.CounterVec
	SubscriberEvicts *prometheus.CounterVec

	// Store metrics
	AppendDuration *prometheus.HistogramVec
	StoreErrors    *prometheus.CounterVec
}

// NewMetrics creates every pipeline instrument. Series materialize lazily on
// first use, so unused label combinations cost nothing.
func NewMetrics() *Metrics {
	return &Metrics{
		EventsReceived: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "ingest",
				Name:      "events_received_total",
				Help:      "Total events received, before normalization",
			},
			[]string{"variant"},
		),

		EventsPersisted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "ingest",
				Name:      "events_persisted_total",
				Help:      "Total events durably stored",
			},
			[]string{"variant"},
		),

		EventsRejected: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "ingest",
				Name:      "events_rejected_total",
				Help:      "Total events rejected, by reason",
			},
			[]string{"variant", "reason"},
		),

		IngestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "ingest",
				Name:      "duration_seconds",
				Help:      "End-to-end ingestion latency",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"variant"},
		),

		SlowIngestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "ingest",
				Name:      "slow_total",
				Help:      "Ingestions that exceeded the slow-request threshold",
			},
			[]string{"variant"},
		),

		Subscribers: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "bus",
				Name:      "subscribers",
				Help:      "Currently connected live subscribers",
			},
		),

		FramesPublished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "bus",
				Name:      "frames_published_total",
				Help:      "Frames offered to subscriber queues",
			},
			[]string{"variant"},
		),

		FramesDropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "bus",
				Name:      "frames_dropped_total",
				Help:      "Frames dropped because a subscriber queue was full",
			},
			[]string{"variant"},
		),

		SubscriberEvicts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "bus",
				Name:      "subscriber_evictions_total",
				Help:      "Subscribers evicted, by reason",
			},
			[]string{"reason"},
		),

		AppendDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "store",
				Name:      "append_duration_seconds",
				Help:      "Durable append latency",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"variant"},
		),

		StoreErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "store",
				Name:      "errors_total",
				Help:      "Store operation failures, by operation",
			},
			[]string{"operation"},
		),
	}
}

// collectors returns every instrument for bulk registration.
func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.EventsReceived,
		m.EventsPersisted,
		m.EventsRejected,
		m.IngestDuration,
		m.SlowIngestsTotal,
		m.Subscribers,
		m.FramesPublished,
		m.FramesDropped,
		m.SubscriberEvicts,
		m.AppendDuration,
		m.StoreErrors,
	}
}
