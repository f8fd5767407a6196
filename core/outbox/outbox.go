// Package outbox implements the transactional outbox: events are staged in
// the same atomic unit as the event store append and a background
// publisher ships them to the broker afterwards. Delivery is at-least-once
// in commit order; consumers handle duplicates.
package outbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/proteanhq/shopstream-sub002/core/es"
)

var (
	// ErrDeliveryFailure classifies broker publish failures. The publisher
	// keeps the entry unpublished and retries with backoff.
	ErrDeliveryFailure = errors.New("delivery failed")
)

// Entry is one staged event awaiting publication.
type Entry struct {
	// ID equals the envelope ID, which brokers use for dedup.
	ID string `json:"id"`
	// Seq is the envelope's global sequence. Entries are published in
	// ascending Seq, which is commit order.
	Seq       uint64      `json:"seq"`
	Subject   string      `json:"subject"`
	Envelope  es.Envelope `json:"envelope"`
	CreatedAt time.Time   `json:"created_at"`
}

// Store provides access to staged entries. Implementations must stage
// entries atomically with the event append they belong to.
type Store interface {
	// Unpublished returns up to limit entries in commit order.
	Unpublished(ctx context.Context, limit int) ([]Entry, error)
	// MarkPublished flags entries as shipped. Only called after the broker
	// acknowledged them.
	MarkPublished(ctx context.Context, ids ...string) error
}

// Broker ships envelopes to the outside world.
type Broker interface {
	Publish(ctx context.Context, subject string, env es.Envelope) error
}

// SubjectFunc derives the broker subject for an envelope.
type SubjectFunc func(env es.Envelope) string

// CategorySubject routes by service and aggregate type, e.g.
// "events.inventory.inventory_item".
func CategorySubject(service string) SubjectFunc {
	return func(env es.Envelope) string {
		return fmt.Sprintf("events.%s.%s", service, env.AggregateType)
	}
}

// TypeSubject routes by the full event type, e.g.
// "events.inventory.StockReserved.v1".
func TypeSubject() SubjectFunc {
	return func(env es.Envelope) string {
		return fmt.Sprintf("events.%s", env.Type)
	}
}
