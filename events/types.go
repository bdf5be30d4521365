package events

import (
	"time"

	cwtypes "github.com/0xmhha/chainwatch/types"
)

// EventType represents the type of a presentation event
type EventType string

const (
	// EventTypeTransactions is published when the transactions view changes
	EventTypeTransactions EventType = "transactions"

	// EventTypeTransfers is published when the transfers view changes
	EventTypeTransfers EventType = "transfers"

	// EventTypeFeedStatus is published when a feed connects or fails
	EventTypeFeedStatus EventType = "feed_status"
)

// AllEventTypes lists every event type published on the bus
var AllEventTypes = []EventType{EventTypeTransactions, EventTypeTransfers, EventTypeFeedStatus}

// IsValid reports whether t is a known event type
func (t EventType) IsValid() bool {
	for _, known := range AllEventTypes {
		if t == known {
			return true
		}
	}
	return false
}

// Snapshot reports whether events of type t carry a whole view. A newer
// snapshot of the same view supersedes an older one that was not yet delivered.
func (t EventType) Snapshot() bool {
	return t == EventTypeTransactions || t == EventTypeTransfers
}

// Event is the base interface for all events on the bus
type Event interface {
	// Type returns the event type
	Type() EventType

	// Timestamp returns when the event was created
	Timestamp() time.Time
}

// TransactionsEvent carries the transactions view after a block was applied
type TransactionsEvent struct {
	// Block is the block number whose notification produced the change
	Block uint64

	// Records is the newest-first snapshot
	Records []cwtypes.TransactionRecord

	CreatedAt time.Time
}

// Type implements Event interface
func (e *TransactionsEvent) Type() EventType {
	return EventTypeTransactions
}

// Timestamp implements Event interface
func (e *TransactionsEvent) Timestamp() time.Time {
	return e.CreatedAt
}

// NewTransactionsEvent creates a TransactionsEvent
func NewTransactionsEvent(block uint64, records []cwtypes.TransactionRecord) *TransactionsEvent {
	return &TransactionsEvent{
		Block:     block,
		Records:   records,
		CreatedAt: time.Now(),
	}
}

// TransfersEvent carries the transfers view after a backfill or a live delivery
type TransfersEvent struct {
	// Backfill is true when the snapshot was produced by the historical query
	Backfill bool

	// Events is the newest-first snapshot
	Events []cwtypes.TransferEvent

	CreatedAt time.Time
}

// Type implements Event interface
func (e *TransfersEvent) Type() EventType {
	return EventTypeTransfers
}

// Timestamp implements Event interface
func (e *TransfersEvent) Timestamp() time.Time {
	return e.CreatedAt
}

// NewTransfersEvent creates a TransfersEvent
func NewTransfersEvent(backfill bool, transfers []cwtypes.TransferEvent) *TransfersEvent {
	return &TransfersEvent{
		Backfill:  backfill,
		Events:    transfers,
		CreatedAt: time.Now(),
	}
}

// FeedStatusEvent reports the connectivity of one feed
type FeedStatusEvent struct {
	Feed      string
	Connected bool
	LastError string
	CreatedAt time.Time
}

// Type implements Event interface
func (e *FeedStatusEvent) Type() EventType {
	return EventTypeFeedStatus
}

// Timestamp implements Event interface
func (e *FeedStatusEvent) Timestamp() time.Time {
	return e.CreatedAt
}

// NewFeedStatusEvent creates a FeedStatusEvent
func NewFeedStatusEvent(feed string, connected bool, lastErr error) *FeedStatusEvent {
	e := &FeedStatusEvent{
		Feed:      feed,
		Connected: connected,
		CreatedAt: time.Now(),
	}
	if lastErr != nil {
		e.LastError = lastErr.Error()
	}
	return e
}
