package events

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus metrics for the EventBus
type Metrics struct {
	SubscribersTotal   prometheus.Gauge
	SubscribersByType  *prometheus.GaugeVec
	PublishChannelSize prometheus.Gauge

	EventsPublishedTotal *prometheus.CounterVec
	EventsDeliveredTotal *prometheus.CounterVec
	EventsDroppedTotal   *prometheus.CounterVec
	EventsCoalesced      *prometheus.CounterVec
	SubscriptionsTotal   prometheus.Counter
	UnsubscriptionsTotal prometheus.Counter

	BroadcastDuration prometheus.Histogram
}

// NewMetrics creates the EventBus metrics and registers them with reg.
// A nil reg uses the default registerer.
func NewMetrics(reg prometheus.Registerer, namespace, subsystem string) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if namespace == "" {
		namespace = "chainwatch"
	}
	if subsystem == "" {
		subsystem = "eventbus"
	}
	factory := promauto.With(reg)

	return &Metrics{
		SubscribersTotal: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "subscribers_total",
			Help:      "Current number of active subscribers",
		}),
		SubscribersByType: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "subscribers_by_type",
			Help:      "Current number of subscribers by event type",
		}, []string{"event_type"}),
		PublishChannelSize: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "publish_channel_size",
			Help:      "Current size of the publish channel buffer",
		}),
		EventsPublishedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "events_published_total",
			Help:      "Total number of events published",
		}, []string{"event_type"}),
		EventsDeliveredTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "events_delivered_total",
			Help:      "Total number of events delivered to subscribers",
		}, []string{"event_type"}),
		EventsDroppedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "events_dropped_total",
			Help:      "Total number of events dropped due to full channels",
		}, []string{"event_type"}),
		EventsCoalesced: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "events_coalesced_total",
			Help:      "Total number of snapshots superseded by a newer snapshot of the same view before broadcast",
		}, []string{"event_type"}),
		SubscriptionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "subscriptions_total",
			Help:      "Total number of subscription requests",
		}),
		UnsubscriptionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "unsubscriptions_total",
			Help:      "Total number of unsubscription requests",
		}),
		BroadcastDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "broadcast_duration_seconds",
			Help:      "Event broadcast duration in seconds",
			Buckets:   []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1},
		}),
	}
}

// ObserveBroadcast records the time taken to broadcast an event to all subscribers
func (m *Metrics) ObserveBroadcast(duration time.Duration) {
	m.BroadcastDuration.Observe(duration.Seconds())
}

// RecordEventPublished increments the published events counter
func (m *Metrics) RecordEventPublished(eventType EventType) {
	m.EventsPublishedTotal.WithLabelValues(string(eventType)).Inc()
}

// RecordEventDelivered increments the delivered events counter
func (m *Metrics) RecordEventDelivered(eventType EventType) {
	m.EventsDeliveredTotal.WithLabelValues(string(eventType)).Inc()
}

// RecordEventDropped increments the dropped events counter
func (m *Metrics) RecordEventDropped(eventType EventType) {
	m.EventsDroppedTotal.WithLabelValues(string(eventType)).Inc()
}

// RecordEventCoalesced records a snapshot superseded before broadcast
func (m *Metrics) RecordEventCoalesced(eventType EventType) {
	m.EventsCoalesced.WithLabelValues(string(eventType)).Inc()
}

// UpdateSubscriberCount updates the total subscribers gauge
func (m *Metrics) UpdateSubscriberCount(count int) {
	m.SubscribersTotal.Set(float64(count))
}

// UpdateSubscribersByType updates the subscribers by type gauge
func (m *Metrics) UpdateSubscribersByType(eventType EventType, count int) {
	m.SubscribersByType.WithLabelValues(string(eventType)).Set(float64(count))
}

// UpdatePublishChannelSize updates the publish channel size gauge
func (m *Metrics) UpdatePublishChannelSize(size int) {
	m.PublishChannelSize.Set(float64(size))
}

// RecordSubscription increments the subscription counter
func (m *Metrics) RecordSubscription() {
	m.SubscriptionsTotal.Inc()
}

// RecordUnsubscription increments the unsubscription counter
func (m *Metrics) RecordUnsubscription() {
	m.UnsubscriptionsTotal.Inc()
}

// Transfer ingestion paths
const (
	PathBackfill = "backfill"
	PathLive     = "live"
)

// IngestMetrics holds Prometheus metrics for the transfers reconciler
type IngestMetrics struct {
	AcceptedTotal    *prometheus.CounterVec
	DuplicatesTotal  *prometheus.CounterVec
	FailuresTotal    *prometheus.CounterVec
	StaleTotal       prometheus.Counter
	BackfillDuration prometheus.Histogram
	SessionsTotal    prometheus.Counter
}

// NewIngestMetrics creates the reconciler metrics and registers them with reg
func NewIngestMetrics(reg prometheus.Registerer, namespace string) *IngestMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if namespace == "" {
		namespace = "chainwatch"
	}
	factory := promauto.With(reg)
	const subsystem = "transfers"

	return &IngestMetrics{
		AcceptedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "accepted_total",
			Help:      "Transfer events accepted into the view",
		}, []string{"path"}),
		DuplicatesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "duplicates_total",
			Help:      "Transfer events skipped because their transaction hash was already accepted",
		}, []string{"path"}),
		FailuresTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "failures_total",
			Help:      "Transfer events dropped because they could not be normalized",
		}, []string{"path", "reason"}),
		StaleTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "stale_total",
			Help:      "Results discarded because their session was torn down",
		}),
		BackfillDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "backfill_duration_seconds",
			Help:      "Duration of the historical backfill",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
		}),
		SessionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "sessions_total",
			Help:      "Reconciler sessions started",
		}),
	}
}
