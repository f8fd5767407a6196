package es

import "errors"

// Error taxonomy. Business-rule failures wrap ErrValidation and surface
// synchronously to the caller; they are never retried automatically.
// ErrConcurrencyConflict means the caller raced another writer and must
// reload and re-run the whole command. Infrastructure failures are retried
// with backoff at the infrastructure layer and stay invisible to the
// business layer.
var (
	// ErrValidation classifies bad command input and business invariant
	// violations. Domain packages derive their named failures from it so
	// callers can match either the class or the specific rule.
	ErrValidation = errors.New("validation failed")

	// ErrAggregateNotFound is returned when an aggregate's stream is empty.
	ErrAggregateNotFound = errors.New("aggregate not found")

	// ErrConcurrencyConflict is returned by Append when the expected version
	// does not match the current stream length. Nothing is written.
	ErrConcurrencyConflict = errors.New("concurrency conflict")

	// ErrUnknownEventType is returned when decoding an envelope whose type
	// has not been registered.
	ErrUnknownEventType = errors.New("unknown event type")

	// ErrStoreNoEvents is returned by Append when called without events.
	ErrStoreNoEvents = errors.New("no events to store")

	// ErrExternalDependency classifies gateway/carrier/channel failures.
	// Ports return it so callers can record the failure as aggregate state
	// instead of letting it escape the aggregate boundary.
	ErrExternalDependency = errors.New("external dependency failed")
)
