package es

import (
	"context"
	"encoding/json"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

type (
	StoreAppendResult struct {
		LastSeq uint64
	}

	// EventStore stores and loads envelopes per aggregate stream.
	//
	// Append is the concurrency gate: it atomically checks that the current
	// stream length equals expectedVersion and fails with
	// ErrConcurrencyConflict without writing anything on mismatch.
	// Implementations that stage outbox rows must write them in the same
	// atomic unit as the events.
	EventStore interface {
		Stream
		Load(ctx context.Context, aggType string, aggID string, opts ...StoreLoadOption) ([]Envelope, error)
		Append(ctx context.Context, aggType string, aggID string, expectedVersion Version, events []Envelope) (*StoreAppendResult, error)
	}
)

// StoreLoadOptions restrict which part of a stream Load returns.
// Zero values mean "from the beginning".
type StoreLoadOptions struct {
	StartVersion Version
	StartSeq     uint64
}

type StoreLoadOption func(*StoreLoadOptions)

// WithStartAtVersion skips events below the given stream version.
func WithStartAtVersion(startVersion Version) StoreLoadOption {
	return func(o *StoreLoadOptions) { o.StartVersion = startVersion }
}

// WithStartAtSeq skips events below the given global sequence.
func WithStartAtSeq(startSeq uint64) StoreLoadOption {
	return func(o *StoreLoadOptions) { o.StartSeq = startSeq }
}

// NewStoreLoadOptions evaluates load options; store implementations use it.
func NewStoreLoadOptions(opts ...StoreLoadOption) StoreLoadOptions {
	var options StoreLoadOptions
	for _, opt := range opts {
		opt(&options)
	}
	return options
}

// WrapEvents turns raw events into envelopes versioned after expect.
func WrapEvents(aggType string, aggID string, expect Version, events ...any) ([]Envelope, error) {
	envelopes := make([]Envelope, 0, len(events))
	for i, ev := range events {
		data, err := json.Marshal(ev)
		if err != nil {
			return nil, err
		}
		envelopes = append(envelopes, Envelope{
			ID:            gonanoid.Must(),
			Type:          EventTypeOf(ev),
			AggregateID:   aggID,
			AggregateType: aggType,
			Data:          data,
			OccurredAt:    time.Now(),
			Version:       expect + Version(i+1),
		})
	}
	return envelopes, nil
}

// AppendEvents is a convenience for appending raw events without going
// through an aggregate, mostly used by tests and seeding code.
func AppendEvents(
	ctx context.Context,
	store EventStore,
	aggType string,
	aggID string,
	expect Version,
	events ...any,
) (*StoreAppendResult, error) {
	if len(events) == 0 {
		return nil, ErrStoreNoEvents
	}
	envelopes, err := WrapEvents(aggType, aggID, expect, events...)
	if err != nil {
		return nil, err
	}
	return store.Append(ctx, aggType, aggID, expect, envelopes)
}
