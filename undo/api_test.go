package undo

import (
	"testing"

	"github.com/stretchr/testify/require"

	internal "github.com/kolkov/undotx/internal/undo/api"
)

func resetRuntime(t *testing.T, cfg internal.Config) {
	t.Helper()
	internal.InitWith(cfg)
	t.Cleanup(func() { internal.InitWith(internal.Config{}) })
}

func TestTrackSlice(t *testing.T) {
	resetRuntime(t, internal.Config{})

	s := []float64{1.5, 2.5, 3.5}
	require.NoError(t, BeginEpoch())
	require.NoError(t, TrackSlice(s))
	s[0], s[2] = 0, 0
	require.NoError(t, Abort())
	require.Equal(t, []float64{1.5, 2.5, 3.5}, s)

	require.NoError(t, BeginEpoch())
	require.ErrorIs(t, TrackSlice([]int(nil)), ErrInvalidRange)
	require.NoError(t, Commit())
}

func TestTrackStruct(t *testing.T) {
	resetRuntime(t, internal.Config{})

	type account struct {
		ID      int64
		Balance int64
		Frozen  bool
	}
	acct := account{ID: 1, Balance: 100}

	require.NoError(t, BeginEpoch())
	require.NoError(t, TrackPointer(&acct))
	acct.Balance = -5
	acct.Frozen = true
	require.NoError(t, Abort())
	require.Equal(t, account{ID: 1, Balance: 100}, acct)
}

func TestStrictRegister(t *testing.T) {
	resetRuntime(t, internal.Config{Strict: true})

	buf := make([]uint32, 16)
	other := make([]uint32, 4)
	require.NoError(t, RegisterSlice("buf", buf))

	require.NoError(t, BeginEpoch())
	require.NoError(t, TrackPointer(&buf[15]))

	err := TrackSlice(other)
	require.ErrorIs(t, err, ErrInvalidRange)
	re, ok := AsRangeError(err)
	require.True(t, ok)
	require.Equal(t, uint64(16), re.Len)
	require.NoError(t, Commit())

	require.True(t, Unregister(AddrOf(&buf[0])))
	require.NoError(t, BeginEpoch())
	require.ErrorIs(t, TrackPointer(&buf[0]), ErrInvalidRange)
	require.NoError(t, Abort())
}

func TestCheckPointer(t *testing.T) {
	resetRuntime(t, internal.Config{Violation: PolicySilent})

	arr := make([]int64, 4)
	require.NoError(t, BeginEpoch())
	require.NoError(t, TrackPointer(&arr[1]))
	require.NoError(t, CheckPointer(&arr[1]))
	require.ErrorIs(t, CheckPointer(&arr[2]), ErrUndeclaredWrite)
	require.NoError(t, Commit())
}

func TestGetInfo(t *testing.T) {
	resetRuntime(t, internal.Config{Shared: true})

	info := GetInfo()
	require.Equal(t, Version, info.Version)
	require.Equal(t, "byte", info.Granularity)
	require.Contains(t, info.Options, "shared=1")
	require.True(t, info.Enabled)

	Disable()
	require.False(t, GetInfo().Enabled)
	Enable()
}

func TestGetStats(t *testing.T) {
	resetRuntime(t, internal.Config{})

	x := 1
	require.NoError(t, BeginEpoch())
	require.NoError(t, TrackPointer(&x))
	require.NoError(t, TrackPointer(&x))
	require.NoError(t, Commit())

	st := GetStats()
	require.Equal(t, uint64(1), st.Epochs)
	require.Equal(t, uint64(2), st.Declarations)
	require.Equal(t, uint64(1), st.FullyCovered)
	require.Equal(t, uint64(SizeOf[int]()), st.BytesLogged)
}
