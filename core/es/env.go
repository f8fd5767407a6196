package es

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

// Env wires a store, an event registry, a repository and a set of
// consumers into one shutdown-able unit. It is the composition root for
// both services and tests.
type Env struct {
	ctx          context.Context
	id           string
	done         chan struct{}
	shutdownOnce sync.Once
	cancelCtx    context.CancelFunc
	log          *slog.Logger
	store        EventStore
	snapshotter  Snapshotter
	registry     *EventRegistry
	repo         Repository
	metrics      ESMetrics
	consumers    []*Consumer
}

func (e *Env) Repository() Repository   { return e.repo }
func (e *Env) Store() EventStore        { return e.store }
func (e *Env) Snapshotter() Snapshotter { return e.snapshotter }
func (e *Env) Registry() *EventRegistry { return e.registry }
func (e *Env) Context() context.Context { return e.ctx }

func NewEnv(opts ...EnvOption) (e *Env, err error) {
	var (
		id      = gonanoid.Must(6)
		options = newEnvOptions(opts...)
	)

	log := options.log
	if log == nil {
		log = slog.Default()
	}
	log = log.With(slog.String("env", id))

	e = &Env{
		id:          id,
		log:         log,
		store:       options.store,
		snapshotter: options.snapshotter,
		registry:    NewRegistry(),
		metrics:     options.metrics,
		done:        make(chan struct{}),
		consumers:   make([]*Consumer, 0),
	}
	e.ctx, e.cancelCtx = context.WithCancel(options.ctx)

	RegisterEventFor[AggregateCreated](e.registry)
	for _, agg := range options.aggregates {
		agg.Register(e.registry)
		e.log.Debug("registered aggregate", slog.String("type", fmt.Sprintf("%T", agg)))
	}
	RegisterEvents(e.registry, options.events...)

	repoOptions := append(
		[]RepositoryOption{WithMetrics(e.metrics)},
		options.repoOptions...,
	)
	if e.snapshotter != nil {
		repoOptions = append(repoOptions, WithSnapshotter(e.snapshotter))
	}
	e.repo = NewRepository(e.log, e.store, e.registry, repoOptions...)

	for _, c := range options.consumers {
		consumer := e.NewConsumer(c.handler, WithConsumerOpts(c.consumerOpts...))
		if err := consumer.Start(e.ctx); err != nil {
			return nil, fmt.Errorf("failed to start consumer: %w", err)
		}
		e.consumers = append(e.consumers, consumer)
	}

	context.AfterFunc(e.ctx, func() {
		e.log.Info("shutting down")

		e.log.Debug("stopping consumers", slog.Int("count", len(e.consumers)))
		for _, c := range e.consumers {
			c.Stop()
		}

		e.log.Info("env shutdown")
		close(e.done)
	})

	return e, nil
}

func (e *Env) Shutdown() {
	e.shutdownOnce.Do(func() {
		e.cancelCtx()
		<-e.done
	})
}

func (e *Env) NewConsumer(handler Handler, opts ...ConsumerOption) *Consumer {
	return NewConsumer(
		e.store,
		e.registry,
		handler,
		WithLog(e.log),
		WithMetrics(e.metrics),
		WithConsumerOpts(opts...),
	)
}

// Append writes raw events to a stream, bypassing any aggregate. Intended
// for tests and for replicating foreign streams.
func (e *Env) Append(ctx context.Context, expect Version, aggType string, aggID string, events ...any) error {
	_, err := e.AppendWithResult(ctx, expect, aggType, aggID, events...)
	return err
}

func (e *Env) AppendWithResult(
	ctx context.Context,
	expect Version,
	aggType string,
	aggID string,
	events ...any,
) (*StoreAppendResult, error) {
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
	return e.store.Append(ctx, aggType, aggID, expect, envelopes)
}
