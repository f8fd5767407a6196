package es

import (
	"context"
	"fmt"
	"log/slog"
)

type (
	envOpts struct {
		ctx         context.Context
		log         *slog.Logger
		snapshotter Snapshotter
		store       EventStore
		events      []func() any
		aggregates  []EventRegistrar
		consumers   []EnvConsumerOption
		repoOptions []RepositoryOption
		metrics     ESMetrics
	}

	EnvOption interface {
		applyToEnv(*envOpts)
	}
)

func newEnvOptions(opts ...EnvOption) envOpts {
	options := envOpts{
		ctx:   context.Background(),
		store: NewInMemoryStore(),
	}
	for _, opt := range opts {
		opt.applyToEnv(&options)
	}
	if options.metrics == nil {
		options.metrics = NopESMetrics()
	}
	return options
}

// EventRegistrar is implemented by aggregates that register the event types
// of their stream.
type EventRegistrar interface {
	Register(r Registrar)
}

type (
	EnvCtxOption struct{ ctx context.Context }

	EnvStoreOption valueOption[EventStore]

	EventRegisterOption struct{ ctor func() any }

	EnvAggregatesOption struct{ aggs []EventRegistrar }

	EnvConsumerOption struct {
		handler      Handler
		consumerOpts []ConsumerOption
	}

	EnvRepoOptions struct{ opts []RepositoryOption }

	EnvOptions struct{ opts []EnvOption }
)

func WithCtx(ctx context.Context) EnvCtxOption { return EnvCtxOption{ctx: ctx} }

func WithStore(store EventStore) EnvStoreOption { return EnvStoreOption{v: store} }

// WithEvent registers event type T with the environment's registry.
func WithEvent[T any]() EventRegisterOption {
	return EventRegisterOption{ctor: Event[T]()}
}

// WithAggregates registers the event types of each aggregate.
func WithAggregates(aggs ...EventRegistrar) EnvAggregatesOption {
	return EnvAggregatesOption{aggs: aggs}
}

func WithConsumer(handler Handler, opts ...ConsumerOption) EnvConsumerOption {
	return EnvConsumerOption{
		handler:      handler,
		consumerOpts: opts,
	}
}

func WithProjection(projection Projection, opts ...ConsumerOption) EnvConsumerOption {
	return EnvConsumerOption{
		handler:      projection,
		consumerOpts: append(opts, WithConsumerName(fmt.Sprintf("projection/%s", projection.Name()))),
	}
}

func WithRepoOptions(opts ...RepositoryOption) EnvRepoOptions {
	return EnvRepoOptions{opts: opts}
}

func WithEnvOpts(opts ...EnvOption) EnvOptions { return EnvOptions{opts: opts} }

func (o EnvCtxOption) applyToEnv(opts *envOpts)   { opts.ctx = o.ctx }
func (o EnvStoreOption) applyToEnv(opts *envOpts) { opts.store = o.v }
func (o EventRegisterOption) applyToEnv(opts *envOpts) {
	opts.events = append(opts.events, o.ctor)
}
func (o EnvAggregatesOption) applyToEnv(opts *envOpts) {
	opts.aggregates = append(opts.aggregates, o.aggs...)
}
func (o EnvConsumerOption) applyToEnv(opts *envOpts) {
	opts.consumers = append(opts.consumers, o)
}
func (o EnvRepoOptions) applyToEnv(opts *envOpts) {
	opts.repoOptions = append(opts.repoOptions, o.opts...)
}
func (o EnvOptions) applyToEnv(opts *envOpts) {
	for _, opt := range o.opts {
		opt.applyToEnv(opts)
	}
}
func (o LogOption) applyToEnv(opts *envOpts)         { opts.log = o.l }
func (o SnapshotterOption) applyToEnv(opts *envOpts) { opts.snapshotter = o.v }
