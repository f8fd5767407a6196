package sqlite_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/proteanhq/shopstream-sub002/adapters/sqlite"
	"github.com/proteanhq/shopstream-sub002/core/es"
)

func TestCpStore(t *testing.T) {
	s := openStore(t)
	cp := sqlite.NewCpStore(s.DB(), "projection/stock_levels")

	_, err := cp.Get()
	require.ErrorIs(t, err, es.ErrCheckpointNotFound)

	require.NoError(t, cp.Set(7))
	got, err := cp.Get()
	require.NoError(t, err)
	require.EqualValues(t, 7, got)

	require.NoError(t, cp.Set(12))
	got, err = cp.Get()
	require.NoError(t, err)
	require.EqualValues(t, 12, got)
}

func TestCpStore_NamesAreIndependent(t *testing.T) {
	s := openStore(t)
	a := sqlite.NewCpStore(s.DB(), "consumer/a")
	b := sqlite.NewCpStore(s.DB(), "consumer/b")

	require.NoError(t, a.Set(3))

	_, err := b.Get()
	require.ErrorIs(t, err, es.ErrCheckpointNotFound)
}
