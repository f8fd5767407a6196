package es

import "log/slog"

type valueOption[T any] struct{ v T }

// LogOption injects a logger. Applies to repositories, consumers and
// environments.
type LogOption struct{ l *slog.Logger }

func WithLog(l *slog.Logger) LogOption { return LogOption{l: l} }

// SnapshotterOption injects a Snapshotter. Applies to repositories and
// environments.
type SnapshotterOption valueOption[Snapshotter]

func WithSnapshotter(s Snapshotter) SnapshotterOption { return SnapshotterOption{v: s} }

// SnapshotOption toggles snapshot use for a single Load/Save call.
type SnapshotOption struct{ v bool }

func WithSnapshot(v bool) SnapshotOption { return SnapshotOption{v: v} }
