// Package undolog implements the append-only log of pre-images captured
// during an epoch.
//
// Each Entry holds an exact copy of the bytes of one newly declared sub-range,
// taken before the caller is allowed to write to it. Entries are appended in
// declaration order and never modified. The range index guarantees that no two
// entries cover the same byte, so the log always holds the true pre-epoch
// image of every declared byte rather than an intermediate value.
//
// Pre-image bytes are carved out of chunked slabs, so an epoch that declares
// thousands of 8-byte cells does not pay one heap allocation per cell.
//
// Thread Safety: NOT safe for concurrent use.
package undolog

import (
	"github.com/kolkov/undotx/internal/undo/memory"
	"github.com/kolkov/undotx/internal/undo/span"
)

const (
	minSlabSize = 256
	maxSlabSize = 1 << 20
)

// Entry is one captured pre-image.
type Entry struct {
	// Range is the sub-range the pre-image was captured from.
	Range span.Range

	// Preimage holds exactly Range.Len bytes. Callers must not modify it.
	Preimage []byte

	// Seq is the entry's position in the log, starting at 1.
	Seq uint64

	// Site identifies the stack that declared the range (0 when declaration
	// sites are not recorded).
	Site uint64
}

// Log is the ordered sequence of entries of one epoch.
type Log struct {
	entries []Entry
	bytes   uint64
	seq     uint64
	slab    []byte
}

// New creates an empty log.
func New() *Log {
	return &Log{}
}

// Capture reads the current bytes of every range through mem and appends one
// entry per range, in the given order. The ranges must not overlap each other
// or any range already in the log.
func (l *Log) Capture(mem memory.Memory, ranges []span.Range, site uint64) {
	for _, r := range ranges {
		buf := l.alloc(r.Len)
		mem.Read(r.Start, buf)

		l.seq++
		l.entries = append(l.entries, Entry{
			Range:    r,
			Preimage: buf,
			Seq:      l.seq,
			Site:     site,
		})
		l.bytes += r.Len
	}
}

// Len returns the number of entries.
func (l *Log) Len() int {
	return len(l.entries)
}

// Bytes returns the total number of captured bytes.
func (l *Log) Bytes() uint64 {
	return l.bytes
}

// Entries returns the entries in sequence order. The slice is owned by the
// log and is only valid until the next Capture or Reset.
func (l *Log) Entries() []Entry {
	return l.entries
}

// Reverse calls fn for every entry from the newest to the oldest until fn
// returns false.
func (l *Log) Reverse(fn func(*Entry) bool) {
	for i := len(l.entries) - 1; i >= 0; i-- {
		if !fn(&l.entries[i]) {
			return
		}
	}
}

// Find returns the entry whose range contains addr.
func (l *Log) Find(addr uintptr) (*Entry, bool) {
	for i := range l.entries {
		if l.entries[i].Range.Contains(addr) {
			return &l.entries[i], true
		}
	}
	return nil, false
}

// Reset discards every entry. Sequence numbers restart at 1.
func (l *Log) Reset() {
	for i := range l.entries {
		l.entries[i] = Entry{} // for GC
	}
	l.entries = l.entries[:0]
	l.bytes = 0
	l.seq = 0
	l.slab = nil
}

// alloc returns n bytes of pre-image storage.
func (l *Log) alloc(n uint64) []byte {
	if n > maxSlabSize/4 {
		// Large captures (whole arrays) get their own buffer.
		return make([]byte, n)
	}
	if uint64(cap(l.slab)-len(l.slab)) < n {
		size := max(2*cap(l.slab), minSlabSize)
		size = min(size, maxSlabSize)
		size = max(size, int(n))
		l.slab = make([]byte, 0, size)
	}
	start := len(l.slab)
	l.slab = l.slab[:start+int(n)]
	return l.slab[start : start+int(n) : start+int(n)]
}
