package websocket

import (
	"encoding/json"

	"github.com/0xmhha/chainwatch/events"
	cwtypes "github.com/0xmhha/chainwatch/types"
)

// SubscriptionType names a stream a client can follow
type SubscriptionType = events.EventType

const (
	// SubscribeTransactions streams transactions view snapshots
	SubscribeTransactions = events.EventTypeTransactions

	// SubscribeTransfers streams transfers view snapshots
	SubscribeTransfers = events.EventTypeTransfers

	// SubscribeFeedStatus streams feed connectivity changes
	SubscribeFeedStatus = events.EventTypeFeedStatus
)

// Message is the envelope of every frame in both directions
type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// SubscribeRequest is the payload of subscribe and unsubscribe messages
type SubscribeRequest struct {
	Type SubscriptionType `json:"type"`
}

// Event is the payload of an "event" message
type Event struct {
	Type SubscriptionType `json:"type"`
	Data interface{}      `json:"data"`
}

// TransactionsData is pushed for SubscribeTransactions
type TransactionsData struct {
	Block        uint64                      `json:"block"`
	Transactions []cwtypes.TransactionRecord `json:"transactions"`
}

// TransfersData is pushed for SubscribeTransfers
type TransfersData struct {
	Backfill  bool                    `json:"backfill"`
	Transfers []cwtypes.TransferEvent `json:"transfers"`
}

// FeedStatusData is pushed for SubscribeFeedStatus
type FeedStatusData struct {
	Feed      string `json:"feed"`
	Connected bool   `json:"connected"`
	LastError string `json:"lastError,omitempty"`
}

// ErrorMessage is the payload of an "error" message
type ErrorMessage struct {
	Error string `json:"error"`
}

// SuccessMessage is the payload of a "success" message
type SuccessMessage struct {
	Message string `json:"message"`
}

// eventFromBus converts a bus event into the frame pushed to clients
func eventFromBus(ev events.Event) (*Event, bool) {
	switch e := ev.(type) {
	case *events.TransactionsEvent:
		return &Event{Type: SubscribeTransactions, Data: TransactionsData{Block: e.Block, Transactions: e.Records}}, true
	case *events.TransfersEvent:
		return &Event{Type: SubscribeTransfers, Data: TransfersData{Backfill: e.Backfill, Transfers: e.Events}}, true
	case *events.FeedStatusEvent:
		return &Event{Type: SubscribeFeedStatus, Data: FeedStatusData{Feed: e.Feed, Connected: e.Connected, LastError: e.LastError}}, true
	default:
		return nil, false
	}
}
