package assert

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTrueFalse(t *testing.T) {
	require.NoError(t, True(true, "ok").Check())
	require.Error(t, True(false, "nope").Check())
	require.NoError(t, False(false, "ok").Check())
	require.Error(t, False(true, "nope").Check())
}

func TestNot(t *testing.T) {
	require.NoError(t, Not(True(false, "inner")).Check())
	require.Error(t, Not(True(true, "inner")).Check())
}

func TestAll(t *testing.T) {
	require.NoError(t, All(True(true, "a"), True(true, "b")).Check())

	err := All(True(true, "a"), True(false, "b")).Check()
	require.Error(t, err)
	require.Contains(t, err.Error(), "b")
}

func TestFailing(t *testing.T) {
	named := errors.New("insufficient stock")
	require.ErrorIs(t, Failing(True(false, "available"), named).Check(), named)
	require.NoError(t, Failing(True(true, "available"), named).Check())
}
