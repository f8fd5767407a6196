package es

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// InMemoryStore is a simple, correct (optimistic) store for tests and
// development. All mutations happen under one mutex, so the version check,
// the append and the dispatch to subscribers form one atomic unit.
type InMemoryStore struct {
	mu      sync.Mutex
	log     *slog.Logger
	seq     uint64
	streams map[string][]Envelope
	global  []Envelope
	subs    map[string]*inMemorySubscription
	nextSub int
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		log:     slog.Default().With(slog.String("store", "memory")),
		streams: map[string][]Envelope{},
		subs:    map[string]*inMemorySubscription{},
	}
}

func (s *InMemoryStore) streamKey(aggType, aggID string) string {
	return fmt.Sprintf("%s-%s", aggType, aggID)
}

func (s *InMemoryStore) Load(
	_ context.Context,
	aggType,
	aggID string,
	opts ...StoreLoadOption,
) ([]Envelope, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	loadOpts := NewStoreLoadOptions(opts...)

	sk := s.streamKey(aggType, aggID)
	events, ok := s.streams[sk]
	if !ok {
		return nil, ErrAggregateNotFound
	}

	out := make([]Envelope, 0)
	for _, e := range events {
		if e.Version < loadOpts.StartVersion {
			continue
		}
		if e.Seq < loadOpts.StartSeq {
			continue
		}
		out = append(out, e)
	}

	return out, nil
}

func (s *InMemoryStore) Append(
	_ context.Context,
	aggType string,
	aggID string,
	expectedVersion Version,
	events []Envelope,
) (*StoreAppendResult, error) {
	if len(events) == 0 {
		return nil, ErrStoreNoEvents
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		sk         = s.streamKey(aggType, aggID)
		curStream  = s.streams[sk]
		curVersion = Version(len(curStream))
	)

	if curVersion != expectedVersion {
		return nil, fmt.Errorf(
			"%w: stream %s at version %d, expected %d",
			ErrConcurrencyConflict, sk, curVersion, expectedVersion,
		)
	}

	var (
		lastSeq   uint64
		appended  = make([]Envelope, 0, len(events))
		wantVer   = expectedVersion
		newStream = curStream
	)
	for _, e := range events {
		if err := e.Validate(); err != nil {
			return nil, err
		}
		wantVer++
		if e.Version != wantVer {
			return nil, fmt.Errorf("envelope version %d, expected %d", e.Version, wantVer)
		}

		s.seq++
		lastSeq = s.seq
		e.Seq = lastSeq
		appended = append(appended, e)
		newStream = append(newStream, e)
	}
	s.streams[sk] = newStream
	s.global = append(s.global, appended...)

	s.log.Debug(
		"append",
		slog.String("stream", sk),
		slog.Uint64("last_seq", lastSeq),
		slog.Int("num_events", len(appended)),
	)

	s.dispatch(appended)

	return &StoreAppendResult{LastSeq: lastSeq}, nil
}

// dispatch pushes events to matching subscriptions. Called with s.mu held,
// which keeps per-subscription delivery in global sequence order.
func (s *InMemoryStore) dispatch(events []Envelope) {
	if len(s.subs) == 0 {
		return
	}
	for _, e := range events {
		for _, sub := range s.subs {
			sub.push(e)
		}
	}
}

func (s *InMemoryStore) Subscribe(ctx context.Context, opts ...SubscribeOption) (Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	options := NewSubscribeOpts(opts...)

	s.nextSub++
	subID := fmt.Sprintf("sub-%d", s.nextSub)
	sub := newInMemorySubscription(options.Filters, s.seq, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subs, subID)
	})

	if options.DeliverPolicy == DeliverAllPolicy {
		for _, e := range s.global {
			if e.Seq < options.StartSeq {
				continue
			}
			sub.push(e)
		}
	}

	s.subs[subID] = sub

	context.AfterFunc(ctx, func() {
		sub.Cancel()
	})

	return sub, nil
}

var _ EventStore = (*InMemoryStore)(nil)

// === Subscription ===

type inMemorySubscription struct {
	mu         sync.Mutex
	filters    []SubscribeFilter
	queue      []Envelope
	notify     chan struct{}
	ch         chan Envelope
	done       chan struct{}
	cancelOnce sync.Once
	unregister func()
	maxSeq     uint64
}

func newInMemorySubscription(filters []SubscribeFilter, maxSeq uint64, unregister func()) *inMemorySubscription {
	sub := &inMemorySubscription{
		filters:    filters,
		notify:     make(chan struct{}, 1),
		ch:         make(chan Envelope),
		done:       make(chan struct{}),
		unregister: unregister,
		maxSeq:     maxSeq,
	}
	go sub.pump()
	return sub
}

func (i *inMemorySubscription) push(e Envelope) {
	if !MatchFilters(e, i.filters) {
		return
	}
	i.mu.Lock()
	i.queue = append(i.queue, e)
	i.mu.Unlock()
	select {
	case i.notify <- struct{}{}:
	default:
	}
}

func (i *inMemorySubscription) pump() {
	for {
		i.mu.Lock()
		var (
			e   Envelope
			has bool
		)
		if len(i.queue) > 0 {
			e, has = i.queue[0], true
			i.queue = i.queue[1:]
		}
		i.mu.Unlock()

		if !has {
			select {
			case <-i.notify:
				continue
			case <-i.done:
				return
			}
		}

		select {
		case i.ch <- e:
		case <-i.done:
			return
		}
	}
}

func (i *inMemorySubscription) Chan() <-chan Envelope { return i.ch }
func (i *inMemorySubscription) MaxSequence() uint64   { return i.maxSeq }
func (i *inMemorySubscription) Cancel() {
	i.cancelOnce.Do(func() {
		close(i.done)
		i.unregister()
	})
}

var _ Subscription = (*inMemorySubscription)(nil)
