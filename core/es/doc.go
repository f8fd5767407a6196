// Package es provides the event sourcing runtime: aggregates, an
// append-only event store, repositories with optimistic concurrency, and
// consumers for building projections.
//
// # Aggregates
//
// An aggregate derives all of its state by folding events through Apply.
// Embed [BaseAggregate] and raise events from command methods:
//
//	type Item struct {
//	    es.BaseAggregate
//	    OnHand int
//	}
//
//	func (i *Item) Receive(qty int) error {
//	    return es.RaiseAndApply(i, &StockReceived{Quantity: qty})
//	}
//
// Replaying the same stream always yields the same state, so any aggregate
// can be rebuilt from scratch at any time.
//
// # Store and Repository
//
// [EventStore] persists envelopes per stream with [EventStore.Append]
// taking the expected stream version. A concurrent writer makes Append
// fail with [ErrConcurrencyConflict]; the caller reloads and re-runs the
// whole command. [NewInMemoryStore] serves tests, adapters/sqlite serves
// production.
//
// [TypedRepository] is the type-safe front:
//
//	repo := es.NewTypedRepository[*Item](log, store, registry)
//	err := repo.WithTransaction(ctx, "sku-1", func(i *Item) error {
//	    return i.Receive(10)
//	})
//
// WithTransaction serializes same-process commands per aggregate ID and
// retries the whole command after a conflict.
//
// # Consumers
//
// [Consumer] subscribes to the store and dispatches events to a [Handler].
// It replays history first, flips to live once caught up, and resumes from
// a checkpoint when the handler carries one:
//
//	consumer := es.NewConsumer(store, registry, handler,
//	    es.WithConsumerName("stock-levels"),
//	    es.WithMiddlewares(es.NewCheckpointMiddleware(cpStore)),
//	)
//
// Delivery is at-least-once; handlers must be idempotent.
//
// # Environment
//
// [Env] wires store, registry, repository and consumers into one unit:
//
//	env, err := es.NewEnv(
//	    es.WithStore(store),
//	    es.WithAggregates(&Item{}),
//	    es.WithProjection(stockLevels),
//	)
package es
