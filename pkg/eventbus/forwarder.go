package eventbus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/0xmhha/chainwatch/events"
)

// Sink is an external destination for bus events
type Sink interface {
	Name() string
	Publish(ctx context.Context, event events.Event, payload []byte) error
	Close() error
}

// ForwarderID is the bus subscription used by the forwarder
const ForwarderID events.SubscriptionID = "sink-forwarder"

// Metrics counts forwarded events per sink
type Metrics struct {
	PublishedTotal *prometheus.CounterVec
	ErrorsTotal    *prometheus.CounterVec
}

// NewMetrics registers the sink metrics with reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &Metrics{
		PublishedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chainwatch",
			Subsystem: "sink",
			Name:      "published_total",
			Help:      "Events written to external sinks",
		}, []string{"sink", "event_type"}),
		ErrorsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chainwatch",
			Subsystem: "sink",
			Name:      "errors_total",
			Help:      "Failed writes to external sinks",
		}, []string{"sink", "event_type"}),
	}
}

// Forwarder copies every bus event to the configured sinks. A failing sink
// is logged and skipped; it never holds up the others.
type Forwarder struct {
	bus     *events.EventBus
	sinks   []Sink
	timeout time.Duration
	logger  *zap.Logger
	metrics *Metrics

	sub    *events.Subscription
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewForwarder creates a forwarder. timeout bounds each sink write.
func NewForwarder(bus *events.EventBus, sinks []Sink, timeout time.Duration, logger *zap.Logger) *Forwarder {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Forwarder{
		bus:     bus,
		sinks:   sinks,
		timeout: timeout,
		logger:  logger,
	}
}

// SetMetrics enables Prometheus metrics
func (f *Forwarder) SetMetrics(metrics *Metrics) {
	f.metrics = metrics
}

// Start subscribes to the bus and forwards until Stop
func (f *Forwarder) Start(ctx context.Context, bufferSize int) error {
	if len(f.sinks) == 0 {
		return fmt.Errorf("%w: no sinks", ErrInvalidConfiguration)
	}
	sub, err := f.bus.Subscribe(ForwarderID, events.AllEventTypes, bufferSize)
	if err != nil {
		return fmt.Errorf("failed to subscribe forwarder: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	f.sub = sub
	f.cancel = cancel

	f.wg.Add(1)
	go f.run(ctx)
	return nil
}

func (f *Forwarder) run(ctx context.Context) {
	defer f.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-f.sub.Channel:
			if !ok {
				return
			}
			f.Forward(ctx, event)
		}
	}
}

// Forward writes one event to every sink
func (f *Forwarder) Forward(ctx context.Context, event events.Event) {
	payload, err := Serialize(event)
	if err != nil {
		f.logger.Error("failed to serialize event", zap.Error(err))
		return
	}

	eventType := string(event.Type())
	for _, sink := range f.sinks {
		writeCtx, cancel := context.WithTimeout(ctx, f.timeout)
		err := sink.Publish(writeCtx, event, payload)
		cancel()

		if err != nil {
			if !errors.Is(err, context.Canceled) {
				f.logger.Warn("sink write failed",
					zap.String("sink", sink.Name()),
					zap.String("event_type", eventType),
					zap.Error(err),
				)
			}
			if f.metrics != nil {
				f.metrics.ErrorsTotal.WithLabelValues(sink.Name(), eventType).Inc()
			}
			continue
		}
		if f.metrics != nil {
			f.metrics.PublishedTotal.WithLabelValues(sink.Name(), eventType).Inc()
		}
	}
}

// Stop unsubscribes, waits for the loop and closes every sink
func (f *Forwarder) Stop() {
	if f.cancel == nil {
		return
	}
	f.cancel()
	f.bus.Unsubscribe(ForwarderID)
	f.wg.Wait()
	f.cancel = nil

	for _, sink := range f.sinks {
		if err := sink.Close(); err != nil {
			f.logger.Warn("failed to close sink", zap.String("sink", sink.Name()), zap.Error(err))
		}
	}
}
