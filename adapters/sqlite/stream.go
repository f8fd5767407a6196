package sqlite

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/proteanhq/shopstream-sub002/core/es"
)

// pollInterval bounds how stale a subscription can get when the append
// notification is missed (e.g. a writer in another process).
const pollInterval = 250 * time.Millisecond

func (s *Store) Subscribe(ctx context.Context, opts ...es.SubscribeOption) (es.Subscription, error) {
	options := es.NewSubscribeOpts(opts...)

	var maxSeq uint64
	err := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) FROM events`).Scan(&maxSeq)
	if err != nil {
		return nil, fmt.Errorf("read max seq: %w", err)
	}

	// lastSeq is the highest sequence already consumed; the poll loop
	// resumes right after it
	lastSeq := maxSeq
	if options.DeliverPolicy == es.DeliverAllPolicy {
		lastSeq = 0
		if options.StartSeq > 0 {
			lastSeq = options.StartSeq - 1
		}
	}

	s.mu.Lock()
	s.nextSub++
	subID := s.nextSub
	sub := &subscription{
		store:   s,
		log:     s.log.With(slog.Int("sub", subID)),
		filters: options.Filters,
		lastSeq: lastSeq,
		maxSeq:  maxSeq,
		ch:      make(chan es.Envelope),
		notify:  make(chan struct{}, 1),
		done:    make(chan struct{}),
		unregister: func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			delete(s.subs, subID)
		},
	}
	s.subs[subID] = sub
	s.mu.Unlock()

	go sub.run()

	context.AfterFunc(ctx, func() {
		sub.Cancel()
	})

	return sub, nil
}

func (s *Store) notifySubscribers() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sub := range s.subs {
		select {
		case sub.notify <- struct{}{}:
		default:
		}
	}
}

type subscription struct {
	store      *Store
	log        *slog.Logger
	filters    []es.SubscribeFilter
	lastSeq    uint64
	maxSeq     uint64
	ch         chan es.Envelope
	notify     chan struct{}
	done       chan struct{}
	cancelOnce sync.Once
	unregister func()
}

func (sub *subscription) run() {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		delivered, err := sub.poll()
		if err != nil {
			sub.log.Error("poll failed", slog.Any("error", err))
		}
		if delivered {
			// drain the backlog before waiting again
			continue
		}

		select {
		case <-sub.notify:
		case <-ticker.C:
		case <-sub.done:
			return
		}
	}
}

// poll delivers the next batch past lastSeq and reports whether anything
// was read.
func (sub *subscription) poll() (bool, error) {
	rows, err := sub.store.db.Query(`
		SELECT seq, id, aggregate_type, aggregate_id, version, type, occurred_at, data
		FROM events
		WHERE seq > ?
		ORDER BY seq ASC
		LIMIT 256`,
		sub.lastSeq,
	)
	if err != nil {
		return false, err
	}

	batch := make([]es.Envelope, 0)
	for rows.Next() {
		env, err := scanEnvelope(rows)
		if err != nil {
			rows.Close()
			return false, err
		}
		batch = append(batch, env)
	}
	err = rows.Err()
	rows.Close()
	if err != nil {
		return false, err
	}

	for _, env := range batch {
		sub.lastSeq = env.Seq
		if !es.MatchFilters(env, sub.filters) {
			continue
		}
		select {
		case sub.ch <- env:
		case <-sub.done:
			return false, nil
		}
	}
	return len(batch) > 0, nil
}

func (sub *subscription) Chan() <-chan es.Envelope { return sub.ch }
func (sub *subscription) MaxSequence() uint64      { return sub.maxSeq }
func (sub *subscription) Cancel() {
	sub.cancelOnce.Do(func() {
		close(sub.done)
		sub.unregister()
	})
}

var _ es.Subscription = (*subscription)(nil)
