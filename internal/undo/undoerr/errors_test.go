package undoerr

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
)

// TestRangeErrorIs verifies RangeError matches ErrInvalidRange through wrapping.
func TestRangeErrorIs(t *testing.T) {
	err := NewRangeError(0x1000, 0, ReasonZeroLength)
	require.ErrorIs(t, err, ErrInvalidRange)
	require.NotErrorIs(t, err, ErrNoActiveEpoch)

	wrapped := errors.Wrapf(err, "tracking %s", "buf")
	require.ErrorIs(t, wrapped, ErrInvalidRange)

	re, ok := AsRangeError(wrapped)
	require.True(t, ok)
	require.Equal(t, uintptr(0x1000), re.Addr)
	require.Equal(t, ReasonZeroLength, re.Reason)
}

// TestRangeErrorMessage verifies the error message format.
func TestRangeErrorMessage(t *testing.T) {
	tests := []struct {
		reason RangeReason
		want   string
	}{
		{ReasonZeroLength, "undo: invalid range 0x10+0: zero length"},
		{ReasonWraps, "undo: invalid range 0x10+0: wraps the address space"},
		{ReasonUnknownAllocation, "undo: invalid range 0x10+0: outside every known allocation"},
		{RangeReason(99), "undo: invalid range 0x10+0: unknown reason"},
	}

	for _, tt := range tests {
		t.Run(tt.reason.String(), func(t *testing.T) {
			require.Equal(t, tt.want, NewRangeError(0x10, 0, tt.reason).Error())
		})
	}
}

// TestAsRangeErrorMiss verifies AsRangeError on unrelated errors.
func TestAsRangeErrorMiss(t *testing.T) {
	_, ok := AsRangeError(ErrEpochAlreadyOpen)
	require.False(t, ok)
	_, ok = AsRangeError(nil)
	require.False(t, ok)
}
