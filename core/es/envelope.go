package es

import (
	"encoding/json"
	"fmt"
	"time"
)

// Envelope wraps an event with metadata for persistence and routing.
// It is the unit of storage in the EventStore and the wire format shipped
// to the broker, so it contains everything needed to reconstruct and route
// events during replay or cross-service consumption.
type Envelope struct {
	// ID is the unique identifier of this event envelope.
	ID string `json:"id"`
	// Seq is the global sequence number assigned by the store.
	// It provides total ordering across all events in one store.
	Seq uint64 `json:"seq"`
	// Version is the per-aggregate stream version (1, 2, 3, ...).
	// Used for optimistic concurrency control.
	Version Version `json:"version"`
	// AggregateType identifies the type of aggregate this event belongs to.
	AggregateType string `json:"aggregate"`
	// AggregateID identifies the specific aggregate instance.
	AggregateID string `json:"aggregate_id"`
	// Type is the stable event type string, e.g. "inventory.StockReserved.v1".
	// It is the cross-service contract: consumers register decoders keyed
	// by this string.
	Type string `json:"type"`
	// OccurredAt is when the event was created.
	OccurredAt time.Time `json:"occurred_at"`
	// Data contains the JSON-encoded event payload.
	Data json.RawMessage `json:"data"`
}

func (e Envelope) Validate() error {
	if e.ID == "" {
		return fmt.Errorf("envelope id is empty")
	}
	if e.OccurredAt.IsZero() {
		return fmt.Errorf("envelope occurred at is zero")
	}
	if e.AggregateID == "" {
		return fmt.Errorf("envelope aggregate id is empty")
	}
	if e.AggregateType == "" {
		return fmt.Errorf("envelope aggregate type is empty")
	}
	if e.Type == "" {
		return fmt.Errorf("envelope type is empty")
	}
	return nil
}

// StreamCategory returns the stream name for the envelope's aggregate type
// within the given service, e.g. "inventory::inventory_item". It is used
// both for local replay grouping and for broker topic routing.
func (e Envelope) StreamCategory(service string) string {
	return StreamCategory(service, e.AggregateType)
}

// StreamCategory builds the "<service>::<aggregate_type>" stream name.
func StreamCategory(service, aggType string) string {
	return fmt.Sprintf("%s::%s", service, aggType)
}

// Decoder turns a persisted envelope back into a typed event.
type Decoder interface{ Decode(e Envelope) (any, error) }
