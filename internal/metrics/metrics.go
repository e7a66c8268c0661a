package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors of the watcher. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	pollsTotal         *prometheus.CounterVec
	pollDuration       *prometheus.HistogramVec
	consecutiveErrors  *prometheus.GaugeVec
	eventsFetchedTotal *prometheus.CounterVec
	eventsSkippedTotal *prometheus.CounterVec
	eventsTotal        *prometheus.CounterVec
	anchorMissesTotal  *prometheus.CounterVec
	notificationsTotal *prometheus.CounterVec
	persistErrorsTotal *prometheus.CounterVec
	seenHashes         *prometheus.GaugeVec
}

// NewMetrics registers all collectors on registry, or on
// prometheus.DefaultRegisterer when registry is nil.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registry)

	return &Metrics{
		pollsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nftwatch_polls_total",
				Help: "Total number of stream polls by outcome",
			},
			[]string{"stream", "status"},
		),
		pollDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "nftwatch_poll_duration_seconds",
				Help:    "Duration of a stream fetch in seconds",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
			[]string{"stream"},
		),
		consecutiveErrors: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "nftwatch_consecutive_errors",
				Help: "Consecutive failed polls per stream",
			},
			[]string{"stream"},
		),
		eventsFetchedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nftwatch_events_fetched_total",
				Help: "Total number of events returned by upstream APIs",
			},
			[]string{"stream"},
		),
		eventsSkippedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nftwatch_records_skipped_total",
				Help: "Total number of malformed upstream records skipped",
			},
			[]string{"stream"},
		),
		eventsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nftwatch_events_total",
				Help: "Total number of events handled by outcome (emitted, suppressed, duplicate, seeded)",
			},
			[]string{"stream", "outcome"},
		),
		anchorMissesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nftwatch_anchor_misses_total",
				Help: "Total number of batches that did not contain the anchor",
			},
			[]string{"stream"},
		),
		notificationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nftwatch_notifications_total",
				Help: "Total number of notifications by sink and status",
			},
			[]string{"sink", "status"},
		),
		persistErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nftwatch_persist_errors_total",
				Help: "Total number of failed state writes",
			},
			[]string{"stream"},
		),
		seenHashes: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "nftwatch_seen_hashes",
				Help: "Number of hashes held by the dedup store",
			},
			[]string{"stream"},
		),
	}
}

func (m *Metrics) RecordPoll(stream, status string, seconds float64) {
	if m == nil {
		return
	}
	m.pollsTotal.WithLabelValues(stream, status).Inc()
	m.pollDuration.WithLabelValues(stream).Observe(seconds)
}

func (m *Metrics) SetConsecutiveErrors(stream string, n int) {
	if m == nil {
		return
	}
	m.consecutiveErrors.WithLabelValues(stream).Set(float64(n))
}

func (m *Metrics) RecordFetched(stream string, fetched, skipped int) {
	if m == nil {
		return
	}
	m.eventsFetchedTotal.WithLabelValues(stream).Add(float64(fetched))
	m.eventsSkippedTotal.WithLabelValues(stream).Add(float64(skipped))
}

func (m *Metrics) RecordEvents(stream, outcome string, count int) {
	if m == nil || count == 0 {
		return
	}
	m.eventsTotal.WithLabelValues(stream, outcome).Add(float64(count))
}

func (m *Metrics) RecordAnchorMiss(stream string) {
	if m == nil {
		return
	}
	m.anchorMissesTotal.WithLabelValues(stream).Inc()
}

func (m *Metrics) RecordNotification(sink, status string) {
	if m == nil {
		return
	}
	m.notificationsTotal.WithLabelValues(sink, status).Inc()
}

func (m *Metrics) RecordPersistError(stream string) {
	if m == nil {
		return
	}
	m.persistErrorsTotal.WithLabelValues(stream).Inc()
}

func (m *Metrics) SetSeenHashes(stream string, n int) {
	if m == nil {
		return
	}
	m.seenHashes.WithLabelValues(stream).Set(float64(n))
}
