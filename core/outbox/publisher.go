package outbox

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

type publisherOpts struct {
	interval   time.Duration
	maxBackoff time.Duration
	batchSize  int
}

type PublisherOption func(*publisherOpts)

// WithInterval sets how often the publisher polls for staged entries.
func WithInterval(d time.Duration) PublisherOption {
	return func(o *publisherOpts) { o.interval = d }
}

// WithMaxBackoff caps the retry delay after publish failures.
func WithMaxBackoff(d time.Duration) PublisherOption {
	return func(o *publisherOpts) { o.maxBackoff = d }
}

// WithBatchSize sets how many entries one drain pass ships at most.
func WithBatchSize(n int) PublisherOption {
	return func(o *publisherOpts) { o.batchSize = n }
}

// Publisher drains the outbox store in commit order and ships each entry
// to the broker. An entry is marked published only after the broker
// acknowledged it, so a crash between publish and mark re-delivers.
// A failed publish aborts the pass before later entries, keeping per-
// aggregate order intact, and the next pass retries with backoff.
type Publisher struct {
	log        *slog.Logger
	store      Store
	broker     Broker
	interval   time.Duration
	maxBackoff time.Duration
	batchSize  int

	started   atomic.Bool
	closeOnce sync.Once
	closeChan chan struct{}
	done      chan struct{}
}

func NewPublisher(log *slog.Logger, store Store, broker Broker, opts ...PublisherOption) *Publisher {
	options := publisherOpts{
		interval:   100 * time.Millisecond,
		maxBackoff: 5 * time.Second,
		batchSize:  256,
	}
	for _, opt := range opts {
		opt(&options)
	}
	return &Publisher{
		log:        log.With(slog.String("component", "outbox_publisher")),
		store:      store,
		broker:     broker,
		interval:   options.interval,
		maxBackoff: options.maxBackoff,
		batchSize:  options.batchSize,
		closeChan:  make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// Drain runs one pass: fetch staged entries and publish them in commit
// order. It returns how many entries were acknowledged. The first failure
// stops the pass; the acknowledged prefix is still marked published.
func (p *Publisher) Drain(ctx context.Context) (int, error) {
	entries, err := p.store.Unpublished(ctx, p.batchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to read outbox: %w", err)
	}
	if len(entries) == 0 {
		return 0, nil
	}

	acked := make([]string, 0, len(entries))
	var pubErr error
	for _, e := range entries {
		if err := p.broker.Publish(ctx, e.Subject, e.Envelope); err != nil {
			pubErr = fmt.Errorf("%w: subject=%s event_id=%s: %w", ErrDeliveryFailure, e.Subject, e.ID, err)
			break
		}
		acked = append(acked, e.ID)
	}

	if len(acked) > 0 {
		if err := p.store.MarkPublished(ctx, acked...); err != nil {
			return len(acked), fmt.Errorf("failed to mark published: %w", err)
		}
	}
	return len(acked), pubErr
}

// Start runs the drain loop in the background until Stop or ctx is done.
func (p *Publisher) Start(ctx context.Context) {
	p.started.Store(true)
	go func() {
		defer close(p.done)

		backoff := p.interval
		timer := time.NewTimer(p.interval)
		defer timer.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-p.closeChan:
				return
			case <-timer.C:
			}

			n, err := p.Drain(ctx)
			if err != nil {
				p.log.Error(
					"outbox drain failed",
					slog.Any("error", err),
					slog.Int("published", n),
					slog.Duration("backoff", backoff),
				)
				timer.Reset(backoff)
				backoff = min(backoff*2, p.maxBackoff)
				continue
			}
			if n > 0 {
				p.log.Debug("outbox drained", slog.Int("published", n))
			}
			backoff = p.interval
			timer.Reset(p.interval)
		}
	}()
}

// Stop signals the loop and waits for it to exit. Stopping a publisher
// that was never started returns immediately.
func (p *Publisher) Stop() {
	p.closeOnce.Do(func() {
		close(p.closeChan)
		if p.started.Load() {
			<-p.done
		}
	})
}
