// Package span defines the half-open byte interval used by every layer of the
// undo engine.
//
// A Range names Len bytes of the caller's address space starting at Start:
//
//	[Start, Start+Len)
//
// Ranges are plain values. They are ordered by Start, two ranges "touch" when
// one ends exactly where the other begins, and a valid Range never wraps past
// the top of the address space.
package span

import "strconv"

// Range is a half-open interval [Start, Start+Len) of addresses.
//
// The zero Range is empty and invalid: every declared range must have Len > 0.
type Range struct {
	// Start is the first byte covered by the range.
	Start uintptr

	// Len is the number of bytes covered.
	Len uint64
}

// New creates a Range from an address and a byte count.
func New(start uintptr, n uint64) Range {
	return Range{Start: start, Len: n}
}

// FromBounds creates the Range [start, end). end must be greater than start.
func FromBounds(start, end uintptr) Range {
	return Range{Start: start, Len: uint64(end - start)}
}

// End returns the first address past the range.
//
// End is only meaningful for ranges that satisfy Valid.
func (r Range) End() uintptr {
	return r.Start + uintptr(r.Len)
}

// Valid reports whether the range is non-empty and does not wrap the address
// space.
func (r Range) Valid() bool {
	if r.Len == 0 {
		return false
	}
	return r.Len <= uint64(^uintptr(0)-r.Start)
}

// Empty reports whether the range covers no bytes.
func (r Range) Empty() bool {
	return r.Len == 0
}

// Contains reports whether addr lies inside the range.
func (r Range) Contains(addr uintptr) bool {
	return addr >= r.Start && addr < r.End()
}

// Covers reports whether other lies entirely inside r.
func (r Range) Covers(other Range) bool {
	return other.Start >= r.Start && other.End() <= r.End()
}

// Overlaps reports whether the two ranges share at least one byte.
func (r Range) Overlaps(other Range) bool {
	return r.Start < other.End() && other.Start < r.End()
}

// Touches reports whether the two ranges overlap or are adjacent, i.e.
// whether their union is a single contiguous range.
func (r Range) Touches(other Range) bool {
	return r.Start <= other.End() && other.Start <= r.End()
}

// Union returns the smallest range covering both r and other.
//
// The result only equals the set union when r.Touches(other).
func (r Range) Union(other Range) Range {
	start := min(r.Start, other.Start)
	end := max(r.End(), other.End())
	return FromBounds(start, end)
}

// Intersect returns the overlap of the two ranges and whether it is non-empty.
func (r Range) Intersect(other Range) (Range, bool) {
	start := max(r.Start, other.Start)
	end := min(r.End(), other.End())
	if start >= end {
		return Range{}, false
	}
	return FromBounds(start, end), true
}

// Less orders ranges by Start, breaking ties by Len.
func (r Range) Less(other Range) bool {
	if r.Start != other.Start {
		return r.Start < other.Start
	}
	return r.Len < other.Len
}

// String formats the range as "[0xstart,0xend)".
func (r Range) String() string {
	return "[0x" + strconv.FormatUint(uint64(r.Start), 16) +
		",0x" + strconv.FormatUint(uint64(r.End()), 16) + ")"
}

// TotalLen sums the lengths of the given ranges.
func TotalLen(ranges []Range) uint64 {
	var n uint64
	for _, r := range ranges {
		n += r.Len
	}
	return n
}
