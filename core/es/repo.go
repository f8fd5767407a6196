package es

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"time"

	"github.com/proteanhq/shopstream-sub002/core/cache"
	"github.com/proteanhq/shopstream-sub002/core/perkey"
	"github.com/proteanhq/shopstream-sub002/core/sf"
)

type Repository interface {
	// Load rehydrates agg by replaying its stream. Fails with
	// ErrAggregateNotFound when the stream is empty.
	Load(ctx context.Context, agg Aggregate, opts ...LoadOption) error
	// Save persists the aggregate's uncommitted events using the version at
	// load time as expectedVersion. A racing writer makes Save fail with
	// ErrConcurrencyConflict; the caller must reload and re-run the whole
	// command, not just retry the append.
	Save(ctx context.Context, agg Aggregate, opts ...SaveOption) error
	CreateSnapshot(ctx context.Context, agg Aggregate) (*Snapshot, error)
}

type repository struct {
	log         *slog.Logger
	store       EventStore
	registry    *EventRegistry
	snapshotter Snapshotter
	cache       cache.Cache
	idGenerator IDGenerator
	metrics     ESMetrics
	txRetries   int
}

func NewRepository(
	log *slog.Logger,
	store EventStore,
	registry *EventRegistry,
	opts ...RepositoryOption,
) Repository {
	options := newRepoOpts(opts...)

	return &repository{
		log:         log.With(slog.String("repo", fmt.Sprintf("%T", store))),
		store:       store,
		registry:    registry,
		snapshotter: options.snapshotter,
		cache:       options.cache,
		idGenerator: options.idGenerator,
		metrics:     options.metrics,
		txRetries:   options.txRetries,
	}
}

func aggCacheKey(aggType, aggID string) string { return aggType + "/" + aggID }

func (r *repository) Load(ctx context.Context, agg Aggregate, opts ...LoadOption) (err error) {
	aggType := agg.GetAggType()
	if aggType == "" {
		return errors.New("aggregate type is empty")
	}
	aggID := agg.GetID()
	if aggID == "" {
		return errors.New("aggregate id is empty")
	}
	if len(agg.Uncommitted()) != 0 {
		return errors.New("aggregate has uncommitted events")
	}

	defer r.metrics.RepoLoadDuration(aggType).ObserveDuration()

	loadOptions := newLoadOptions(opts...)

	log := r.log.With(
		slog.Group(
			"agg",
			slog.String("type", aggType),
			slog.String("id", aggID),
		),
	)

	// fast-forward from cached state before replaying the tail
	restored := false
	if r.cache != nil {
		if v, ok := r.cache.Get(aggCacheKey(aggType, aggID)); ok {
			if ss, isSnapshot := v.(*Snapshot); isSnapshot {
				if err := restoreFromSnapshot(agg, ss); err != nil {
					return err
				}
				restored = true
				r.metrics.CacheHit(aggType)
			}
		} else {
			r.metrics.CacheMiss(aggType)
		}
	}
	if !restored && loadOptions.snapshot {
		if r.snapshotter == nil {
			return ErrSnapshotterUnconfigured
		}
		err = ApplySnapshot(ctx, r.snapshotter, agg)
		if err != nil {
			if !errors.Is(err, ErrSnapshotNotFound) {
				return fmt.Errorf("failed to apply snapshot: %w", err)
			}
		} else {
			log.Debug(
				"snapshot applied",
				slog.Uint64("seq", agg.GetSeq()),
				agg.GetVersion().SlogAttr(),
			)
		}
	}

	var (
		curVersion = agg.GetVersion()
		curSeq     = agg.GetSeq()
	)

	loaded, err := r.store.Load(
		ctx,
		aggType,
		aggID,
		WithStartAtVersion(curVersion+1),
		WithStartAtSeq(curSeq+1),
	)
	if err != nil {
		// a snapshot may cover the whole stream
		if errors.Is(err, ErrAggregateNotFound) && curVersion > 0 {
			loaded = nil
		} else {
			return err
		}
	}

	for _, e := range loaded {
		expectVersion := agg.GetVersion() + 1
		if e.Version != expectVersion {
			return fmt.Errorf("expect version %d, got %d", expectVersion, e.Version)
		}

		evt, err := r.registry.Decode(e)
		if err != nil {
			return err
		}
		if err := agg.Apply(evt); err != nil {
			return err
		}

		agg.setVersion(e.Version)
		agg.setSeq(e.Seq)
	}

	if agg.GetVersion() == 0 {
		return ErrAggregateNotFound
	}

	r.cachePut(agg)

	log.Debug("loaded", slog.Uint64("seq", agg.GetSeq()), agg.GetVersion().SlogAttr())

	return nil
}

func (r *repository) Save(ctx context.Context, agg Aggregate, saveOpts ...SaveOption) error {
	uncommitted := agg.Uncommitted()
	if len(uncommitted) == 0 {
		return nil
	}
	aggType := agg.GetAggType()
	if aggType == "" {
		return errors.New("aggregate type is empty")
	}
	aggID := agg.GetID()
	if aggID == "" {
		return errors.New("aggregate id is empty")
	}

	defer r.metrics.RepoSaveDuration(aggType).ObserveDuration()

	saveOptions := newSaveOptions(saveOpts...)

	expectVersion := agg.GetVersion()
	newEnvs := make([]Envelope, 0, len(uncommitted))
	v := expectVersion

	for _, ev := range uncommitted {
		data, err := json.Marshal(ev)
		if err != nil {
			return err
		}

		v++

		env := Envelope{
			ID:            r.idGenerator(),
			Type:          EventTypeOf(ev),
			AggregateID:   aggID,
			AggregateType: aggType,
			Version:       v,
			OccurredAt:    time.Now(),
			Data:          data,
		}

		if err := env.Validate(); err != nil {
			return err
		}

		newEnvs = append(newEnvs, env)
	}

	res, err := r.store.Append(ctx, aggType, aggID, expectVersion, newEnvs)
	if err != nil {
		if errors.Is(err, ErrConcurrencyConflict) {
			r.metrics.ConcurrencyConflict(aggType)
			if r.cache != nil {
				r.cache.Delete(aggCacheKey(aggType, aggID))
			}
		}
		return fmt.Errorf("failed to save agg_type=%s agg_id=%s: %w", aggType, aggID, err)
	}
	if res == nil {
		return errors.New("append returned nil result")
	}

	agg.setSeq(res.LastSeq)
	agg.setVersion(v)
	agg.ClearUncommitted()
	r.metrics.EventsAppended(aggType, len(newEnvs))

	if saveOptions.snapshot {
		if _, snapshotErr := r.CreateSnapshot(ctx, agg); snapshotErr != nil {
			return snapshotErr
		}
	}

	r.cachePut(agg)

	r.log.Debug(
		"saved",
		slog.Group(
			"agg",
			slog.String("id", aggID),
			slog.String("type", aggType),
			slog.Uint64("seq", agg.GetSeq()),
			agg.GetVersion().SlogAttr(),
		),
		slog.Int("num_events", len(newEnvs)),
	)

	return nil
}

func (r *repository) CreateSnapshot(ctx context.Context, agg Aggregate) (ss *Snapshot, err error) {
	if r.snapshotter == nil {
		return nil, ErrSnapshotterUnconfigured
	}
	ss, err = CreateSnapshot(agg)
	if err != nil {
		return nil, err
	}
	defer r.metrics.SnapshotSaveDuration(agg.GetAggType()).ObserveDuration()
	err = r.snapshotter.SaveSnapshot(ctx, ss)
	if err != nil {
		return nil, fmt.Errorf("failed to save snapshot: %w", err)
	}
	r.log.Debug("snapshot saved", ss.logAttrs())
	return
}

func (r *repository) cachePut(agg Aggregate) {
	if r.cache == nil {
		return
	}
	ss, err := CreateSnapshot(agg)
	if err != nil {
		// cache is best effort only
		r.log.Debug("cache put skipped", slog.Any("error", err))
		return
	}
	r.cache.Put(aggCacheKey(agg.GetAggType(), agg.GetID()), ss)
}

func restoreFromSnapshot(agg Aggregate, ss *Snapshot) error {
	var err error
	if s, ok := any(agg).(Snapshottable); ok {
		err = s.RestoreSnapshot(ss.Data)
	} else {
		err = json.Unmarshal(ss.Data, agg)
	}
	if err != nil {
		return fmt.Errorf("failed to restore snapshot: %w", err)
	}
	agg.setVersion(ss.ObjVersion)
	agg.setSeq(ss.StreamSeq)
	return nil
}

var _ Repository = (*repository)(nil)

// === TypedRepository ===

// TypedRepository is the type-safe front for working with one aggregate
// type. WithTransaction is the recommended write path: it serializes
// same-process commands per aggregate ID and re-runs the whole command
// after a concurrency conflict.
type TypedRepository[T Aggregate] interface {
	GetAggType() string
	New() T
	NewWithID(id string) T
	Create(ctx context.Context, aggID string) (T, error)
	Load(ctx context.Context, a T, opts ...LoadOption) error
	GetOrCreate(ctx context.Context, aggID string, opts ...LoadOption) (T, error)
	GetByID(ctx context.Context, aggID string, opts ...LoadOption) (T, error)
	Save(ctx context.Context, agg T, opts ...SaveOption) error
	WithTransaction(ctx context.Context, aggID string, fn func(T) error, opts ...WithTransactionOption) error
}

type typedRepo[T Aggregate] struct {
	r         Repository
	log       *slog.Logger
	sched     *perkey.Scheduler[string]
	loads     *sf.Singleflight[Snapshot]
	txRetries int
}

func NewTypedRepository[T Aggregate](log *slog.Logger, s EventStore, reg *EventRegistry, opts ...RepositoryOption) TypedRepository[T] {
	options := newRepoOpts(opts...)
	return newTypedRepo[T](log, NewRepository(log, s, reg, opts...), options.txRetries)
}

func NewTypedRepositoryFrom[T Aggregate](log *slog.Logger, r Repository) TypedRepository[T] {
	txRetries := 5
	if inner, ok := r.(*repository); ok {
		txRetries = inner.txRetries
	}
	return newTypedRepo[T](log, r, txRetries)
}

func newTypedRepo[T Aggregate](log *slog.Logger, r Repository, txRetries int) TypedRepository[T] {
	return &typedRepo[T]{
		r:         r,
		log:       log.With(slog.String("repo", fmt.Sprintf("%T", *new(T)))),
		sched:     perkey.New[string](),
		loads:     sf.New[Snapshot](),
		txRetries: txRetries,
	}
}

func (t *typedRepo[T]) New() T { return t.NewWithID("") }

func (t *typedRepo[T]) NewWithID(id string) T {
	var a T
	rt := reflect.TypeOf((*T)(nil)).Elem()
	if rt.Kind() == reflect.Pointer {
		a = reflect.New(rt.Elem()).Interface().(T)
	} else {
		a = *new(T)
	}
	a.SetID(id)
	return a
}

func (t *typedRepo[T]) GetAggType() string {
	return t.New().GetAggType()
}

func (t *typedRepo[T]) Load(ctx context.Context, a T, opts ...LoadOption) error {
	return t.r.Load(ctx, a, opts...)
}

func (t *typedRepo[T]) Create(ctx context.Context, aggID string) (a T, err error) {
	if aggID == "" {
		return a, errors.New("aggregate id is empty")
	}
	a = t.NewWithID(aggID)
	if err = a.Create(aggID); err != nil {
		return a, err
	}
	if err = t.Save(ctx, a); err != nil {
		return a, err
	}
	t.log.Debug("created", slog.String("id", aggID))
	return a, nil
}

// GetByID loads the aggregate. Concurrent loads for the same ID are
// coalesced: one caller replays the stream, the result is serialized once
// and every caller restores its own instance from it.
func (t *typedRepo[T]) GetByID(ctx context.Context, aggID string, opts ...LoadOption) (a T, err error) {
	if aggID == "" {
		return a, errors.New("aggregate id is empty")
	}
	a = t.NewWithID(aggID)

	ss, err := t.loads.Do(t.GetAggType()+"/"+aggID, func() (*Snapshot, error) {
		fresh := t.NewWithID(aggID)
		if err := t.r.Load(ctx, fresh, opts...); err != nil {
			return nil, err
		}
		return CreateSnapshot(fresh)
	})
	if err != nil {
		return a, err
	}
	if err := restoreFromSnapshot(a, ss); err != nil {
		return a, err
	}
	return a, nil
}

func (t *typedRepo[T]) GetOrCreate(ctx context.Context, aggID string, opts ...LoadOption) (a T, err error) {
	a, err = t.GetByID(ctx, aggID, opts...)
	if err == nil {
		return a, nil
	}
	if !errors.Is(err, ErrAggregateNotFound) {
		return a, err
	}
	return t.Create(ctx, aggID)
}

func (t *typedRepo[T]) Save(ctx context.Context, agg T, opts ...SaveOption) error {
	return t.r.Save(ctx, agg, opts...)
}

func (t *typedRepo[T]) WithTransaction(ctx context.Context, aggID string, fn func(T) error, opts ...WithTransactionOption) error {
	if aggID == "" {
		return errors.New("aggregate id is empty")
	}
	options := newTxOptions(opts...)

	return t.sched.DoContext(ctx, aggID, func() error {
		var lastErr error
		for attempt := 0; attempt < t.txRetries; attempt++ {
			a, err := t.GetByID(ctx, aggID)
			if err != nil {
				if errors.Is(err, ErrAggregateNotFound) && options.create {
					a = t.NewWithID(aggID)
					if err := a.Create(aggID); err != nil {
						return err
					}
				} else {
					return err
				}
			}

			if err := fn(a); err != nil {
				return err
			}

			err = t.Save(ctx, a)
			if err == nil {
				return nil
			}
			if !errors.Is(err, ErrConcurrencyConflict) {
				return err
			}
			// lost the race: reload and re-run the whole command
			lastErr = err
			t.log.Debug(
				"concurrency conflict, retrying",
				slog.String("id", aggID),
				slog.Int("attempt", attempt+1),
			)
		}
		return lastErr
	})
}

var _ TypedRepository[Aggregate] = (*typedRepo[Aggregate])(nil)
