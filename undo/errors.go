package undo

import "github.com/kolkov/undotx/internal/undo/undoerr"

// Errors returned by the package. Test for them with errors.Is.
var (
	// ErrEpochAlreadyOpen is returned by BeginEpoch when the caller's epoch
	// is already open.
	ErrEpochAlreadyOpen = undoerr.ErrEpochAlreadyOpen

	// ErrNoActiveEpoch is returned by Track, Commit, Abort and CheckWrite
	// outside an epoch.
	ErrNoActiveEpoch = undoerr.ErrNoActiveEpoch

	// ErrInvalidRange is returned by Track for zero-length or wrapping
	// ranges, and in strict mode for ranges outside registered allocations.
	ErrInvalidRange = undoerr.ErrInvalidRange

	// ErrUndeclaredWrite is returned by CheckWrite for writes that touch
	// undeclared bytes.
	ErrUndeclaredWrite = undoerr.ErrUndeclaredWrite
)

// RangeError describes a rejected declaration. It matches ErrInvalidRange.
type RangeError = undoerr.RangeError

// AsRangeError returns the RangeError in err's chain, if any.
func AsRangeError(err error) (*RangeError, bool) {
	return undoerr.AsRangeError(err)
}
