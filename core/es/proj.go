package es

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

// Projection consumes persisted events to build read models. Handlers must
// be idempotent: delivery is at-least-once, so the same event may arrive
// again after a crash or a publisher retry.
type Projection interface {
	Name() string
	Handler
}

type ProjectionFunc struct {
	ProjName string
	Fn       HandleFunc
}

func (p ProjectionFunc) Name() string            { return p.ProjName }
func (p ProjectionFunc) Handle(ctx MsgCtx) error { return p.Fn(ctx) }

// NewProjection wraps a handler func as a named projection.
func NewProjection(name string, fn HandleFunc) Projection {
	return ProjectionFunc{ProjName: name, Fn: fn}
}

// SnapshottableProjection is a projection whose full state can be captured
// and restored, allowing it to skip re-reading history on startup.
type SnapshottableProjection interface {
	Projection
	Snapshottable
}

// SnapshotProjection wraps a snapshottable projection and periodically
// persists its state while live. On start it restores the latest snapshot
// and reports the covered sequence as its checkpoint.
type SnapshotProjection[T SnapshottableProjection] struct {
	log                        *slog.Logger
	inner                      T
	snapshotter                Snapshotter
	persistedLastSeq           uint64
	persistedProjectionVersion Version
}

func NewSnapshotProjection[T SnapshottableProjection](
	log *slog.Logger,
	inner T,
	snapshotter Snapshotter,
) (*SnapshotProjection[T], error) {
	if any(inner) == nil {
		return nil, errors.New("inner projection is required")
	}
	if snapshotter == nil {
		return nil, errors.New("snapshotter is required")
	}
	return &SnapshotProjection[T]{
		snapshotter: snapshotter,
		inner:       inner,
		log:         log.With(slog.String("projection", inner.Name())),
	}, nil
}

func (p *SnapshotProjection[T]) Start(ctx context.Context) error    { return p.restore(ctx) }
func (p *SnapshotProjection[T]) Shutdown(ctx context.Context) error { return nil }
func (p *SnapshotProjection[T]) Projection() T                      { return p.inner }
func (p *SnapshotProjection[T]) Name() string                       { return p.inner.Name() }
func (p *SnapshotProjection[T]) GetLastSeq() (uint64, error)        { return p.persistedLastSeq, nil }

func (p *SnapshotProjection[T]) Handle(msgCtx MsgCtx) error {
	seq := msgCtx.Seq()

	if err := p.inner.Handle(msgCtx); err != nil {
		return err
	}

	if msgCtx.Live() && seq%10 == 0 {
		if err := p.snapshot(msgCtx); err != nil {
			return err
		}
	}

	return nil
}

func (p *SnapshotProjection[T]) snapshot(msgCtx MsgCtx) error {
	ctx, env := msgCtx.Context(), msgCtx.Envelope()

	data, err := p.inner.Snapshot()
	if err != nil {
		return err
	}
	nextVersion := p.persistedProjectionVersion + 1
	err = p.snapshotter.SaveSnapshot(ctx, &Snapshot{
		SnapshotID:    gonanoid.Must(),
		ObjID:         p.Name(),
		ObjType:       "projection",
		ObjVersion:    nextVersion,
		StreamSeq:     env.Seq,
		CreatedAt:     time.Now(),
		SchemaVersion: 1,
		Encoding:      "json",
		Data:          data,
	})
	if err != nil {
		return fmt.Errorf("failed to create snapshot: %w", err)
	}
	p.persistedLastSeq = env.Seq
	p.persistedProjectionVersion = nextVersion
	msgCtx.Log().Debug(
		"snapshot created",
		p.persistedProjectionVersion.SlogAttrWithKey("snapshot_version"),
		slog.Uint64("seq", p.persistedLastSeq),
	)
	return nil
}

func (p *SnapshotProjection[T]) restore(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	s, err := p.snapshotter.LoadSnapshot(ctx, "projection", p.Name())
	if err != nil {
		if errors.Is(err, ErrSnapshotNotFound) {
			return nil
		}
		return fmt.Errorf("failed to restore projection snapshot: %w", err)
	}

	if err := p.inner.RestoreSnapshot(s.Data); err != nil {
		return fmt.Errorf("failed to restore: %w", err)
	}
	p.persistedProjectionVersion = s.ObjVersion
	p.persistedLastSeq = s.StreamSeq
	p.log.Debug(
		"restored projection state",
		slog.Uint64("seq", p.persistedLastSeq),
		s.ObjVersion.SlogAttrWithKey("snapshot_version"),
	)
	return nil
}

var _ Projection = (*SnapshotProjection[SnapshottableProjection])(nil)
var _ Checkpoint = (*SnapshotProjection[SnapshottableProjection])(nil)
