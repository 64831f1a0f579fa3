package memory

import (
	"fmt"
	"unsafe"

	"github.com/kolkov/undotx/internal/undo/span"
)

// Arena is a contiguous, bounds-checked block of memory with real addresses.
//
// Addresses handed out by an Arena are ordinary process addresses, so the
// same declarations work with Raw. Accessing an Arena through its own Read and
// Write methods panics on out-of-bounds addresses instead of corrupting
// neighbouring memory.
//
// The backing words are uint64 so that every element offset used by the
// workloads is 8-byte aligned.
type Arena struct {
	words []uint64
	bytes []byte
	base  uintptr
}

// NewArena allocates an arena of at least size bytes (rounded up to a whole
// number of 8-byte words).
func NewArena(size int) *Arena {
	if size <= 0 {
		panic(fmt.Sprintf("memory: invalid arena size %d", size))
	}
	words := make([]uint64, (size+7)/8)
	bytes := unsafe.Slice((*byte)(unsafe.Pointer(&words[0])), len(words)*8)
	return &Arena{
		words: words,
		bytes: bytes,
		base:  uintptr(unsafe.Pointer(&words[0])),
	}
}

// Base returns the address of the first byte.
func (a *Arena) Base() uintptr {
	return a.base
}

// Size returns the arena size in bytes.
func (a *Arena) Size() int {
	return len(a.bytes)
}

// Range returns the address range of the whole arena.
func (a *Arena) Range() span.Range {
	return span.New(a.base, uint64(len(a.bytes)))
}

// Bytes returns the arena contents as a byte slice.
func (a *Arena) Bytes() []byte {
	return a.bytes
}

// Words returns the arena contents as 8-byte words.
func (a *Arena) Words() []uint64 {
	return a.words
}

// Addr returns the address of byte offset off.
func (a *Arena) Addr(off int) uintptr {
	return a.base + uintptr(off)
}

// WordAddr returns the address of word i.
func (a *Arena) WordAddr(i int) uintptr {
	return a.base + uintptr(i)*8
}

// Check implements Checker.
func (a *Arena) Check(r span.Range) bool {
	return r.Valid() && a.Range().Covers(r)
}

// Read implements Memory. It panics if the range is outside the arena.
func (a *Arena) Read(start uintptr, dst []byte) {
	copy(dst, a.slice(start, len(dst)))
}

// Write implements Memory. It panics if the range is outside the arena.
func (a *Arena) Write(start uintptr, src []byte) {
	copy(a.slice(start, len(src)), src)
}

// Snapshot returns a copy of the arena contents.
func (a *Arena) Snapshot() []byte {
	out := make([]byte, len(a.bytes))
	copy(out, a.bytes)
	return out
}

func (a *Arena) slice(start uintptr, n int) []byte {
	if n == 0 {
		return nil
	}
	r := span.New(start, uint64(n))
	if !a.Check(r) {
		panic(fmt.Sprintf("memory: access %s outside arena %s", r, a.Range()))
	}
	off := int(start - a.base)
	return a.bytes[off : off+n]
}
