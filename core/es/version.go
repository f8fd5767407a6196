package es

import "log/slog"

// Version is the per-stream version of an aggregate: a monotonically
// increasing value starting at 1 for the first event. The stream length of
// an aggregate equals its version. When saving, the expected version must
// match the current stream length in the store, which is how optimistic
// concurrency conflicts are detected.
type Version uint64

func (v Version) Uint64() uint64                         { return uint64(v) }
func (v Version) SlogAttr() slog.Attr                    { return newSlogVersionAttr("version", v) }
func (v Version) SlogAttrWithKey(key string) slog.Attr   { return newSlogVersionAttr(key, v) }
func newSlogVersionAttr(key string, v Version) slog.Attr { return slog.Uint64(key, uint64(v)) }
