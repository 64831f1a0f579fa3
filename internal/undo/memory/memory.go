// Package memory provides the accessors the undo engine uses to read
// pre-images from, and restore them into, caller-owned memory.
//
// The engine never owns application buffers. It only borrows them through a
// Memory for the duration of a capture (Read) or a rollback (Write):
//
//   - Raw accesses the process address space directly. It trusts the caller's
//     address arithmetic, exactly like an instrumented store would.
//   - Arena is a bounds-checked, slice-backed region with real addresses,
//     used by the workload harness and by tests that need to observe
//     out-of-bounds behavior without faulting.
//
// A Registry records the true extents of known allocations. Strict-mode
// controllers consult it to reject declarations outside every allocation.
package memory

import "github.com/kolkov/undotx/internal/undo/span"

// Memory reads and writes caller-owned bytes by address.
//
// Read fills dst with len(dst) bytes starting at start. Write copies src to
// start. Neither may retain the slices passed to it.
type Memory interface {
	Read(start uintptr, dst []byte)
	Write(start uintptr, src []byte)
}

// Checker is implemented by accessors that know which addresses they can
// reach. Rollback validates every entry with Check before writing anything.
type Checker interface {
	Check(r span.Range) bool
}
