// Package undoerr defines the error taxonomy of the undo engine.
//
// Every error returned by the engine is a caller-contract violation reported
// synchronously by the call that caused it. Callers test for a class with
// errors.Is against one of the sentinels below; wrapped variants produced by
// the engine always keep the sentinel in their chain.
//
// Example:
//
//	if err := ctrl.Track(addr, 0); errors.Is(err, undoerr.ErrInvalidRange) {
//	    // zero-length declaration
//	}
package undoerr

import (
	"fmt"

	"github.com/cockroachdb/errors"
)

var (
	// ErrEpochAlreadyOpen is returned by Begin when an epoch is already open
	// in the same context.
	ErrEpochAlreadyOpen = errors.New("undo: epoch already open")

	// ErrNoActiveEpoch is returned by Track, Commit, Abort and CheckWrite when
	// no epoch is open.
	ErrNoActiveEpoch = errors.New("undo: no active epoch")

	// ErrInvalidRange is returned by Track for zero-length ranges, ranges
	// that wrap the address space, and (in strict mode) ranges outside every
	// known allocation.
	ErrInvalidRange = errors.New("undo: invalid range")

	// ErrUndeclaredWrite is returned by CheckWrite when the checked write
	// touches bytes that were never declared in the open epoch.
	ErrUndeclaredWrite = errors.New("undo: write to undeclared memory")
)

// RangeReason classifies why a range was rejected.
type RangeReason int

const (
	// ReasonZeroLength marks a declaration of zero bytes.
	ReasonZeroLength RangeReason = iota + 1
	// ReasonWraps marks a range whose end overflows the address space.
	ReasonWraps
	// ReasonUnknownAllocation marks a range that is not inside any allocation
	// registered with a strict-mode controller.
	ReasonUnknownAllocation
)

// String returns a short description of the reason.
func (r RangeReason) String() string {
	switch r {
	case ReasonZeroLength:
		return "zero length"
	case ReasonWraps:
		return "wraps the address space"
	case ReasonUnknownAllocation:
		return "outside every known allocation"
	default:
		return "unknown reason"
	}
}

// RangeError describes a rejected declaration.
//
// RangeError is always reported with ErrInvalidRange in its chain:
//
//	errors.Is(err, ErrInvalidRange) == true
//
// Immutable after creation, safe for concurrent use.
type RangeError struct {
	Addr   uintptr     // First byte of the rejected range
	Len    uint64      // Declared length in bytes
	Reason RangeReason // Why the range was rejected
}

// Error implements the error interface.
//
// Format: "undo: invalid range 0xaddr+len: reason".
func (e *RangeError) Error() string {
	return fmt.Sprintf("%s 0x%x+%d: %s", ErrInvalidRange, e.Addr, e.Len, e.Reason)
}

// Is lets errors.Is match the RangeError against ErrInvalidRange.
func (e *RangeError) Is(target error) bool {
	return target == ErrInvalidRange
}

// NewRangeError creates a RangeError.
func NewRangeError(addr uintptr, n uint64, reason RangeReason) error {
	return &RangeError{Addr: addr, Len: n, Reason: reason}
}

// AsRangeError extracts the RangeError from err's chain, if any.
func AsRangeError(err error) (*RangeError, bool) {
	var re *RangeError
	if errors.As(err, &re) {
		return re, true
	}
	return nil, false
}
