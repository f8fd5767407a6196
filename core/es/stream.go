package es

import (
	"context"
)

type DeliverPolicy string

const (
	// DeliverAllPolicy replays the retained history before going live.
	DeliverAllPolicy DeliverPolicy = "all"
	// DeliverNewPolicy delivers only events appended after subscribing.
	DeliverNewPolicy DeliverPolicy = "new"
)

// SubscribeFilter narrows a subscription. Empty fields match everything.
type SubscribeFilter struct {
	AggregateType string
	AggregateID   string
	EventType     string
}

type SubscribeOpts struct {
	DeliverPolicy DeliverPolicy
	Filters       []SubscribeFilter
	StartSeq      uint64
}

type SubscribeOption func(opts *SubscribeOpts)

func NewSubscribeOpts(opts ...SubscribeOption) SubscribeOpts {
	options := SubscribeOpts{
		DeliverPolicy: DeliverNewPolicy,
	}
	for _, opt := range opts {
		opt(&options)
	}
	return options
}

func WithDeliverPolicy(policy DeliverPolicy) SubscribeOption {
	return func(opts *SubscribeOpts) {
		opts.DeliverPolicy = policy
	}
}

func WithFilters(filters ...SubscribeFilter) SubscribeOption {
	return func(opts *SubscribeOpts) {
		opts.Filters = filters
	}
}

func WithStartSequence(startSeq uint64) SubscribeOption {
	return func(opts *SubscribeOpts) {
		opts.StartSeq = startSeq
	}
}

type Subscription interface {
	Cancel()
	Chan() <-chan Envelope
	// MaxSequence reports the highest sequence the store had assigned at
	// subscribe time. Consumers use it to detect when they have caught up
	// with history and become live.
	MaxSequence() uint64
}

type Stream interface {
	Subscribe(ctx context.Context, opts ...SubscribeOption) (Subscription, error)
}

// MatchFilters reports whether env passes all filters. Store
// implementations share it.
func MatchFilters(env Envelope, filters []SubscribeFilter) bool {
	for _, f := range filters {
		if !matchFilter(env, f) {
			return false
		}
	}
	return true
}

func matchFilter(env Envelope, filter SubscribeFilter) bool {
	if filter.AggregateType != "" && env.AggregateType != filter.AggregateType {
		return false
	}
	if filter.AggregateID != "" && env.AggregateID != filter.AggregateID {
		return false
	}
	if filter.EventType != "" && env.Type != filter.EventType {
		return false
	}
	return true
}
