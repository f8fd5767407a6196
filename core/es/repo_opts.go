package es

import (
	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/proteanhq/shopstream-sub002/core/cache"
)

// IDGenerator produces unique IDs for event envelopes.
type IDGenerator func() string

// DefaultIDGenerator returns the default ID generator using nanoid.
func DefaultIDGenerator() IDGenerator {
	return func() string { return gonanoid.Must() }
}

type (
	repoOpts struct {
		snapshotter Snapshotter
		cache       cache.Cache
		idGenerator IDGenerator
		metrics     ESMetrics
		txRetries   int
	}

	repoSaveOptions struct {
		snapshot bool
	}

	repoLoadOptions struct {
		snapshot bool
	}

	repoTxOptions struct {
		create bool
	}
)

type (
	RepositoryOption      interface{ applyToRepository(*repoOpts) }
	SaveOption            interface{ applyToSaveOptions(*repoSaveOptions) }
	LoadOption            interface{ applyToLoadOptions(*repoLoadOptions) }
	WithTransactionOption interface{ applyToTxOptions(*repoTxOptions) }
)

type (
	RepoCacheOption     valueOption[cache.Cache]
	RepoCreateOption    valueOption[bool]
	RepoIDGenOption     valueOption[IDGenerator]
	RepoTxRetriesOption valueOption[int]
)

// WithRepoCache caches aggregate state between loads so that long streams
// are not replayed from scratch on every command.
func WithRepoCache(c cache.Cache) RepoCacheOption { return RepoCacheOption{v: c} }

// WithRepoCacheLRU is WithRepoCache with a fixed-size LRU.
func WithRepoCacheLRU(size int) RepoCacheOption {
	return WithRepoCache(cache.NewLRU(cache.LRUOpts{Size: size}))
}

// WithIDGenerator sets a custom ID generator for event envelope IDs.
func WithIDGenerator(gen IDGenerator) RepoIDGenOption { return RepoIDGenOption{v: gen} }

// WithTxRetries sets how often WithTransaction re-runs the whole command
// after a concurrency conflict (default 5).
func WithTxRetries(n int) RepoTxRetriesOption { return RepoTxRetriesOption{v: n} }

// WithCreate makes WithTransaction create the aggregate when its stream is
// empty instead of failing with ErrAggregateNotFound.
func WithCreate() RepoCreateOption { return RepoCreateOption{v: true} }

func (o SnapshotterOption) applyToRepository(opts *repoOpts)   { opts.snapshotter = o.v }
func (o RepoCacheOption) applyToRepository(opts *repoOpts)     { opts.cache = o.v }
func (o RepoIDGenOption) applyToRepository(opts *repoOpts)     { opts.idGenerator = o.v }
func (o RepoTxRetriesOption) applyToRepository(opts *repoOpts) { opts.txRetries = o.v }

func (o SnapshotOption) applyToSaveOptions(opts *repoSaveOptions) { opts.snapshot = o.v }
func (o SnapshotOption) applyToLoadOptions(opts *repoLoadOptions) { opts.snapshot = o.v }

func (o RepoCreateOption) applyToTxOptions(opts *repoTxOptions) { opts.create = o.v }

func newRepoOpts(opts ...RepositoryOption) repoOpts {
	options := repoOpts{
		idGenerator: DefaultIDGenerator(),
		txRetries:   5,
	}
	for _, opt := range opts {
		opt.applyToRepository(&options)
	}
	if options.metrics == nil {
		options.metrics = NopESMetrics()
	}
	return options
}

func newSaveOptions(opts ...SaveOption) repoSaveOptions {
	var options repoSaveOptions
	for _, opt := range opts {
		opt.applyToSaveOptions(&options)
	}
	return options
}

func newLoadOptions(opts ...LoadOption) repoLoadOptions {
	var options repoLoadOptions
	for _, opt := range opts {
		opt.applyToLoadOptions(&options)
	}
	return options
}

func newTxOptions(opts ...WithTransactionOption) repoTxOptions {
	var options repoTxOptions
	for _, opt := range opts {
		opt.applyToTxOptions(&options)
	}
	return options
}
