package events

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// SubscriptionID is a unique identifier for a subscription
type SubscriptionID string

// SubscriptionStats tracks statistics for a subscription
type SubscriptionStats struct {
	EventsReceived atomic.Uint64
	EventsDropped  atomic.Uint64

	// LastEventTime is the unix time in nanoseconds of the last delivery
	LastEventTime atomic.Int64

	CreatedAt time.Time
}

// Subscription is a consumer of snapshot events.
// Channel is closed when the subscription is removed or the bus stops.
type Subscription struct {
	ID         SubscriptionID
	EventTypes map[EventType]bool
	Channel    chan Event
	CancelFunc context.CancelFunc
	Stats      SubscriptionStats
}

// EventBus fans snapshot events out to presentation subscribers.
//
// Publishing never blocks the producers: a full publish buffer or a full
// subscriber channel drops the event and counts it. Snapshots queued behind a
// newer snapshot of the same view are coalesced away before broadcast, so a
// slow consumer sees the latest view instead of a backlog. Feed status events
// are always delivered in order.
type EventBus struct {
	subscribers map[SubscriptionID]*Subscription
	mu          sync.RWMutex

	publishCh     chan Event
	subscribeCh   chan *Subscription
	unsubscribeCh chan SubscriptionID

	done   chan struct{}
	ctx    context.Context
	cancel context.CancelFunc

	stats struct {
		totalEvents     atomic.Uint64
		totalDeliveries atomic.Uint64
		droppedEvents   atomic.Uint64
		coalesced       atomic.Uint64
	}

	metrics *Metrics
}

// NewEventBus creates a new EventBus with the given buffer sizes
func NewEventBus(publishBufferSize, subscribeBufferSize int) *EventBus {
	ctx, cancel := context.WithCancel(context.Background())

	return &EventBus{
		subscribers:   make(map[SubscriptionID]*Subscription),
		publishCh:     make(chan Event, publishBufferSize),
		subscribeCh:   make(chan *Subscription, subscribeBufferSize),
		unsubscribeCh: make(chan SubscriptionID, subscribeBufferSize),
		done:          make(chan struct{}),
		ctx:           ctx,
		cancel:        cancel,
	}
}

// SetMetrics enables Prometheus metrics for the EventBus
func (eb *EventBus) SetMetrics(metrics *Metrics) {
	eb.metrics = metrics
}

// Run starts the event bus main loop.
// This should be called in a goroutine
func (eb *EventBus) Run() {
	defer close(eb.done)

	for {
		select {
		case <-eb.ctx.Done():
			eb.closeAllSubscriptions()
			return

		case sub := <-eb.subscribeCh:
			eb.mu.Lock()
			if old, exists := eb.subscribers[sub.ID]; exists {
				close(old.Channel)
			}
			eb.subscribers[sub.ID] = sub
			eb.mu.Unlock()

			if eb.metrics != nil {
				eb.metrics.RecordSubscription()
				eb.updateSubscriberMetrics()
			}

		case subID := <-eb.unsubscribeCh:
			eb.mu.Lock()
			if sub, exists := eb.subscribers[subID]; exists {
				close(sub.Channel)
				delete(eb.subscribers, subID)
			}
			eb.mu.Unlock()

			if eb.metrics != nil {
				eb.metrics.RecordUnsubscription()
				eb.updateSubscriberMetrics()
			}

		case event := <-eb.publishCh:
			for _, e := range eb.coalesce(event) {
				eb.broadcastEvent(e)
			}
		}
	}
}

// coalesce takes first together with every event already queued behind it
// and keeps only the newest snapshot of each view, at the position it was
// published. Only Run receives from publishCh, so the queued events are
// available without blocking.
func (eb *EventBus) coalesce(first Event) []Event {
	batch := make([]Event, 0, 1+len(eb.publishCh))
	batch = append(batch, first)
	for n := len(eb.publishCh); n > 0; n-- {
		batch = append(batch, <-eb.publishCh)
	}

	newest := make(map[EventType]int, 2)
	for i, e := range batch {
		eb.stats.totalEvents.Add(1)
		if eb.metrics != nil {
			eb.metrics.RecordEventPublished(e.Type())
		}
		if e.Type().Snapshot() {
			newest[e.Type()] = i
		}
	}
	if len(batch) == 1 {
		return batch
	}

	out := batch[:0]
	for i, e := range batch {
		if e.Type().Snapshot() && newest[e.Type()] != i {
			eb.stats.coalesced.Add(1)
			if eb.metrics != nil {
				eb.metrics.RecordEventCoalesced(e.Type())
			}
			continue
		}
		out = append(out, e)
	}
	return out
}

// broadcastEvent sends an event to all interested subscribers
func (eb *EventBus) broadcastEvent(event Event) {
	startTime := time.Now()
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	eventType := event.Type()

	for _, sub := range eb.subscribers {
		if !sub.EventTypes[eventType] {
			continue
		}

		select {
		case sub.Channel <- event:
			eb.stats.totalDeliveries.Add(1)
			sub.Stats.EventsReceived.Add(1)
			sub.Stats.LastEventTime.Store(time.Now().UnixNano())
			if eb.metrics != nil {
				eb.metrics.RecordEventDelivered(eventType)
			}
		default:
			eb.stats.droppedEvents.Add(1)
			sub.Stats.EventsDropped.Add(1)
			if eb.metrics != nil {
				eb.metrics.RecordEventDropped(eventType)
			}
		}
	}

	if eb.metrics != nil {
		eb.metrics.ObserveBroadcast(time.Since(startTime))
	}
}

// closeAllSubscriptions closes all active subscriptions
func (eb *EventBus) closeAllSubscriptions() {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	for _, sub := range eb.subscribers {
		close(sub.Channel)
		if sub.CancelFunc != nil {
			sub.CancelFunc()
		}
	}

	eb.subscribers = make(map[SubscriptionID]*Subscription)
}

// Stop gracefully stops the event bus
func (eb *EventBus) Stop() {
	eb.cancel()
	<-eb.done
}

// SubscriberCount returns the current number of active subscribers
func (eb *EventBus) SubscriberCount() int {
	eb.mu.RLock()
	defer eb.mu.RUnlock()
	return len(eb.subscribers)
}

// Stats returns the current statistics
func (eb *EventBus) Stats() (totalEvents, totalDeliveries, droppedEvents uint64) {
	return eb.stats.totalEvents.Load(),
		eb.stats.totalDeliveries.Load(),
		eb.stats.droppedEvents.Load()
}

// Coalesced returns the number of snapshots superseded before broadcast
func (eb *EventBus) Coalesced() uint64 {
	return eb.stats.coalesced.Load()
}

// Publish publishes an event to all interested subscribers.
// It returns false when the bus is stopped or the publish buffer is full.
func (eb *EventBus) Publish(event Event) bool {
	select {
	case <-eb.ctx.Done():
		return false
	default:
	}

	select {
	case eb.publishCh <- event:
		return true
	default:
		return false
	}
}

// Subscribe registers a subscription for the given event types.
// An empty list subscribes to every event type.
func (eb *EventBus) Subscribe(id SubscriptionID, eventTypes []EventType, channelSize int) (*Subscription, error) {
	if len(eventTypes) == 0 {
		eventTypes = AllEventTypes
	}

	eventTypeMap := make(map[EventType]bool, len(eventTypes))
	for _, et := range eventTypes {
		if !et.IsValid() {
			return nil, fmt.Errorf("unknown event type %q", et)
		}
		eventTypeMap[et] = true
	}

	ctx, cancel := context.WithCancel(eb.ctx)

	sub := &Subscription{
		ID:         id,
		EventTypes: eventTypeMap,
		Channel:    make(chan Event, channelSize),
		CancelFunc: cancel,
		Stats: SubscriptionStats{
			CreatedAt: time.Now(),
		},
	}

	select {
	case eb.subscribeCh <- sub:
		return sub, nil
	case <-ctx.Done():
		close(sub.Channel)
		return nil, fmt.Errorf("event bus stopped")
	}
}

// Unsubscribe removes a subscription
func (eb *EventBus) Unsubscribe(id SubscriptionID) {
	select {
	case eb.unsubscribeCh <- id:
	case <-eb.ctx.Done():
	}
}

// updateSubscriberMetrics updates subscriber count metrics.
// Called from within Run()
func (eb *EventBus) updateSubscriberMetrics() {
	eb.mu.RLock()
	totalCount := len(eb.subscribers)
	typeCount := make(map[EventType]int)
	for _, sub := range eb.subscribers {
		for eventType := range sub.EventTypes {
			typeCount[eventType]++
		}
	}
	eb.mu.RUnlock()

	eb.metrics.UpdateSubscriberCount(totalCount)
	for eventType, count := range typeCount {
		eb.metrics.UpdateSubscribersByType(eventType, count)
	}
	eb.metrics.UpdatePublishChannelSize(len(eb.publishCh))
}

// SubscriberInfo contains information about a subscriber
type SubscriberInfo struct {
	ID             SubscriptionID `json:"id"`
	EventTypes     []EventType    `json:"eventTypes"`
	EventsReceived uint64         `json:"eventsReceived"`
	EventsDropped  uint64         `json:"eventsDropped"`
	LastEventTime  time.Time      `json:"lastEventTime"`
	CreatedAt      time.Time      `json:"createdAt"`
	Uptime         time.Duration  `json:"uptime"`
}

func newSubscriberInfo(sub *Subscription) SubscriberInfo {
	eventTypes := make([]EventType, 0, len(sub.EventTypes))
	for et := range sub.EventTypes {
		eventTypes = append(eventTypes, et)
	}

	var lastEventTime time.Time
	if nanos := sub.Stats.LastEventTime.Load(); nanos > 0 {
		lastEventTime = time.Unix(0, nanos)
	}

	return SubscriberInfo{
		ID:             sub.ID,
		EventTypes:     eventTypes,
		EventsReceived: sub.Stats.EventsReceived.Load(),
		EventsDropped:  sub.Stats.EventsDropped.Load(),
		LastEventTime:  lastEventTime,
		CreatedAt:      sub.Stats.CreatedAt,
		Uptime:         time.Since(sub.Stats.CreatedAt),
	}
}

// GetSubscriberInfo returns information about a specific subscriber
func (eb *EventBus) GetSubscriberInfo(id SubscriptionID) *SubscriberInfo {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	sub, exists := eb.subscribers[id]
	if !exists {
		return nil
	}
	info := newSubscriberInfo(sub)
	return &info
}

// GetAllSubscriberInfo returns information about all subscribers
func (eb *EventBus) GetAllSubscriberInfo() []SubscriberInfo {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	infos := make([]SubscriberInfo, 0, len(eb.subscribers))
	for _, sub := range eb.subscribers {
		infos = append(infos, newSubscriberInfo(sub))
	}
	return infos
}
