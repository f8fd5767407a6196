package es

import (
	"fmt"
	"log/slog"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

type (
	consumerOpts struct {
		mws             []HandlerMiddleware
		log             *slog.Logger
		name            string
		shutdownTimeout time.Duration
		metrics         ESMetrics
		retryAttempts   int
		retryBackoff    time.Duration
	}

	ConsumerOption interface {
		applyToConsumerOpts(*consumerOpts)
	}

	ConsumerNameOption    valueOption[string]
	MiddlewareOption      valueOption[[]HandlerMiddleware]
	ShutdownTimeoutOption valueOption[time.Duration]
	ConsumerOptions       struct{ opts []ConsumerOption }

	HandlerRetryOption struct {
		attempts int
		backoff  time.Duration
	}
)

func (o ConsumerNameOption) applyToConsumerOpts(opts *consumerOpts) { opts.name = o.v }
func (o MiddlewareOption) applyToConsumerOpts(opts *consumerOpts) {
	opts.mws = append(opts.mws, o.v...)
}
func (o ShutdownTimeoutOption) applyToConsumerOpts(opts *consumerOpts) { opts.shutdownTimeout = o.v }
func (o LogOption) applyToConsumerOpts(opts *consumerOpts)             { opts.log = o.l }
func (o ConsumerOptions) applyToConsumerOpts(opts *consumerOpts) {
	for _, opt := range o.opts {
		opt.applyToConsumerOpts(opts)
	}
}
func (o HandlerRetryOption) applyToConsumerOpts(opts *consumerOpts) {
	opts.retryAttempts = o.attempts
	opts.retryBackoff = o.backoff
}

func WithMiddlewares(mws ...HandlerMiddleware) MiddlewareOption {
	return MiddlewareOption{v: mws}
}
func WithConsumerOpts(opts ...ConsumerOption) ConsumerOptions { return ConsumerOptions{opts: opts} }
func WithConsumerName(name string) ConsumerNameOption         { return ConsumerNameOption{name} }
func WithShutdownTimeout(d time.Duration) ShutdownTimeoutOption {
	return ShutdownTimeoutOption{v: d}
}

// WithHandlerRetry sets how many times a failed event is attempted and
// the initial delay between attempts. The delay doubles per attempt.
func WithHandlerRetry(attempts int, backoff time.Duration) HandlerRetryOption {
	return HandlerRetryOption{attempts: attempts, backoff: backoff}
}

func newConsumerOpts(opts ...ConsumerOption) consumerOpts {
	options := consumerOpts{
		log:             slog.Default(),
		name:            fmt.Sprintf("consumer-%s", gonanoid.Must(6)),
		shutdownTimeout: 5 * time.Second,
		retryAttempts:   5,
		retryBackoff:    100 * time.Millisecond,
	}
	for _, opt := range opts {
		opt.applyToConsumerOpts(&options)
	}
	return options
}
