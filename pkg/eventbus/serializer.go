package eventbus

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/0xmhha/chainwatch/events"
	cwtypes "github.com/0xmhha/chainwatch/types"
)

// envelope wraps an event with its type so consumers can decode the data
type envelope struct {
	Type      events.EventType `json:"type"`
	Timestamp time.Time        `json:"timestamp"`
	Data      json.RawMessage  `json:"data"`
}

type transactionsData struct {
	Block        uint64                      `json:"block"`
	Transactions []cwtypes.TransactionRecord `json:"transactions"`
}

type transfersData struct {
	Backfill  bool                    `json:"backfill"`
	Transfers []cwtypes.TransferEvent `json:"transfers"`
}

type feedStatusData struct {
	Feed      string `json:"feed"`
	Connected bool   `json:"connected"`
	LastError string `json:"last_error,omitempty"`
}

// Serialize encodes a bus event as a JSON envelope
func Serialize(event events.Event) ([]byte, error) {
	if event == nil {
		return nil, ErrSerializationFailed
	}

	var payload interface{}
	switch e := event.(type) {
	case *events.TransactionsEvent:
		payload = transactionsData{Block: e.Block, Transactions: e.Records}
	case *events.TransfersEvent:
		payload = transfersData{Backfill: e.Backfill, Transfers: e.Events}
	case *events.FeedStatusEvent:
		payload = feedStatusData{Feed: e.Feed, Connected: e.Connected, LastError: e.LastError}
	default:
		return nil, fmt.Errorf("%w: unknown event type %T", ErrSerializationFailed, event)
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSerializationFailed, err)
	}

	out, err := json.Marshal(envelope{
		Type:      event.Type(),
		Timestamp: event.Timestamp(),
		Data:      data,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSerializationFailed, err)
	}
	return out, nil
}

// partitionKey keeps each feed's snapshots on one partition, in order
func partitionKey(event events.Event) string {
	if e, ok := event.(*events.FeedStatusEvent); ok {
		return fmt.Sprintf("%s:%s", event.Type(), e.Feed)
	}
	return string(event.Type())
}
