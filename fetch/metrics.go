package fetch

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	cwtypes "github.com/0xmhha/chainwatch/types"
)

// Metrics holds Prometheus metrics for the block fan-out fetcher
type Metrics struct {
	BlocksTotal        prometheus.Counter
	BlockFailuresTotal prometheus.Counter
	ResolvedTotal      *prometheus.CounterVec
	ResolveFailures    *prometheus.CounterVec
	StaleTotal         prometheus.Counter
	InFlight           prometheus.Gauge
	BlockDuration      prometheus.Histogram
}

// NewMetrics creates the fetcher metrics and registers them with reg.
// A nil reg uses the default registerer.
func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if namespace == "" {
		namespace = "chainwatch"
	}
	factory := promauto.With(reg)
	const subsystem = "transactions"

	return &Metrics{
		BlocksTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "blocks_total",
			Help:      "Block notifications processed",
		}),
		BlockFailuresTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "block_failures_total",
			Help:      "Block notifications dropped because the block could not be fetched",
		}),
		ResolvedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "resolved_total",
			Help:      "Transactions resolved by status",
		}, []string{"status"}),
		ResolveFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "resolve_failures_total",
			Help:      "Transactions dropped during resolution",
		}, []string{"reason"}),
		StaleTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "stale_total",
			Help:      "Block results discarded because the fetcher was stopped",
		}),
		InFlight: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "blocks_in_flight",
			Help:      "Block notifications currently being processed",
		}),
		BlockDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "block_duration_seconds",
			Help:      "Time to resolve every transaction of a block",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
	}
}

func (m *Metrics) recordResolved(status cwtypes.TxStatus) {
	if m == nil {
		return
	}
	m.ResolvedTotal.WithLabelValues(string(status)).Inc()
}

func (m *Metrics) recordResolveFailure(reason string) {
	if m == nil {
		return
	}
	m.ResolveFailures.WithLabelValues(reason).Inc()
}

func (m *Metrics) recordBlock(duration time.Duration, failed bool) {
	if m == nil {
		return
	}
	if failed {
		m.BlockFailuresTotal.Inc()
		return
	}
	m.BlocksTotal.Inc()
	m.BlockDuration.Observe(duration.Seconds())
}

func (m *Metrics) recordStale() {
	if m == nil {
		return
	}
	m.StaleTotal.Inc()
}

func (m *Metrics) addInFlight(delta float64) {
	if m == nil {
		return
	}
	m.InFlight.Add(delta)
}
