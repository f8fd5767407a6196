package es

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestingEnv is an Env with test helpers. It runs on the in-memory store
// and snapshotter unless the caller overrides them.
type TestingEnv struct {
	*Env
	t *testing.T
}

func StartTestEnv(t *testing.T, opts ...EnvOption) *TestingEnv {
	t.Helper()

	e, err := NewEnv(
		WithSnapshotter(NewInMemorySnapshotter()),
		WithStore(NewInMemoryStore()),
		WithEnvOpts(opts...),
	)
	require.NoError(t, err)
	t.Cleanup(e.Shutdown)

	return &TestingEnv{
		t:   t,
		Env: e,
	}
}

func (e *TestingEnv) Assert() *TestingEnvAssert {
	return &TestingEnvAssert{env: e}
}

type TestingEnvAssert struct {
	env *TestingEnv
}

func (t *TestingEnvAssert) Append(
	ctx context.Context,
	expect Version,
	aggType string,
	aggID string,
	events ...any,
) {
	t.env.t.Helper()
	require.NoError(t.env.t, t.env.Append(ctx, expect, aggType, aggID, events...))
}
