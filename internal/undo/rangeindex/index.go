// Package rangeindex implements the ordered set of address ranges declared in
// the current epoch.
//
// The index answers one question on the hot path: which bytes of a candidate
// range have not been declared yet? Declare computes that set difference and
// then folds the candidate into the index, merging it with every indexed range
// it overlaps or touches. The index therefore never holds two ranges that
// overlap or are adjacent, and N adjacent declarations over one contiguous
// region collapse into a single entry.
//
// # Complexity
//
// Ranges are kept in a B-tree ordered by start address. Given k indexed
// ranges:
//
//   - re-declaring an already covered range: O(log k), no allocation
//   - declaring a range that spans m indexed ranges: O(m + log k)
//
// Per-element declarations inside hot loops (a matrix multiply declaring the
// same accumulator cell on every inner iteration) hit the O(log k) fast path.
//
// # Thread Safety
//
// An Index is NOT safe for concurrent use. The epoch controller serializes
// access when a context is shared between goroutines.
package rangeindex

import (
	"github.com/google/btree"

	"github.com/kolkov/undotx/internal/undo/span"
	"github.com/kolkov/undotx/internal/undo/undoerr"
)

// degree is the B-tree degree. The index is usually small (one entry per
// contiguous region the epoch touched), so a low degree keeps nodes compact.
const degree = 16

// item is a B-tree element covering [start, end).
type item struct {
	start, end uintptr
}

// Less implements the btree.Item interface.
func (a *item) Less(b btree.Item) bool {
	return a.start < b.(*item).start
}

func (a *item) rng() span.Range {
	return span.FromBounds(a.start, a.end)
}

// Stats counts index activity since creation or the last Reset.
type Stats struct {
	Declarations uint64 // Calls to Declare that passed validation.
	FullyCovered uint64 // Declarations that found nothing new.
	Merges       uint64 // Indexed ranges absorbed into a wider range.
}

// Index is an ordered set of non-overlapping, non-adjacent ranges.
type Index struct {
	t     *btree.BTree
	bytes uint64
	stats Stats

	// Avoids allocs.
	pivot   item
	scratch []*item
}

// New creates an empty index.
func New() *Index {
	return &Index{t: btree.New(degree)}
}

// Validate checks that r can be declared.
//
// It returns a *undoerr.RangeError (matching undoerr.ErrInvalidRange) for
// zero-length ranges and ranges that wrap the address space.
func Validate(r span.Range) error {
	if r.Len == 0 {
		return undoerr.NewRangeError(r.Start, r.Len, undoerr.ReasonZeroLength)
	}
	if !r.Valid() {
		return undoerr.NewRangeError(r.Start, r.Len, undoerr.ReasonWraps)
	}
	return nil
}

// Declare returns the sub-ranges of r that were not covered by the index, in
// ascending address order, and then adds r to the index.
//
// A range that is already fully covered yields a nil result and leaves the
// index untouched, so repeated declarations of the same bytes are idempotent.
func (x *Index) Declare(r span.Range) ([]span.Range, error) {
	if err := Validate(r); err != nil {
		return nil, err
	}
	x.stats.Declarations++

	// Fast path: one indexed range already covers r.
	if p := x.floor(r.Start); p != nil && p.end >= r.End() {
		x.stats.FullyCovered++
		return nil, nil
	}

	merged := item{start: r.Start, end: r.End()}
	x.scratch = x.scratch[:0]
	uncovered := x.diff(r, func(it *item) {
		merged.start = min(merged.start, it.start)
		merged.end = max(merged.end, it.end)
		x.scratch = append(x.scratch, it)
	})

	if len(uncovered) == 0 {
		// Covered by several ranges that only touch each other. Cannot happen
		// while the merge invariant holds, but keep the index consistent.
		x.stats.FullyCovered++
	}

	for i, it := range x.scratch {
		x.t.Delete(it)
		x.scratch[i] = nil // for GC
	}
	x.stats.Merges += uint64(len(x.scratch))
	x.scratch = x.scratch[:0]

	x.t.ReplaceOrInsert(&merged)
	x.bytes += span.TotalLen(uncovered)
	return uncovered, nil
}

// Uncovered returns the sub-ranges of r that are not covered by the index,
// without modifying it. An invalid r yields nil.
func (x *Index) Uncovered(r span.Range) []span.Range {
	if !r.Valid() {
		return nil
	}
	if p := x.floor(r.Start); p != nil && p.end >= r.End() {
		return nil
	}
	return x.diff(r, func(*item) {})
}

// Covers reports whether every byte of r has been declared.
func (x *Index) Covers(r span.Range) bool {
	if !r.Valid() {
		return false
	}
	// Indexed ranges never touch, so a covered range lies inside one item.
	p := x.floor(r.Start)
	return p != nil && p.end >= r.End()
}

// Contains reports whether addr has been declared.
func (x *Index) Contains(addr uintptr) bool {
	p := x.floor(addr)
	return p != nil && p.end > addr
}

// Nearest returns the indexed range closest to addr: the range containing it,
// or otherwise whichever neighbour is nearer. ok is false when the index is
// empty.
func (x *Index) Nearest(addr uintptr) (r span.Range, ok bool) {
	below := x.floor(addr)
	if below != nil && below.end > addr {
		return below.rng(), true
	}

	var above *item
	x.pivot.start = addr
	x.t.AscendGreaterOrEqual(&x.pivot, func(i btree.Item) bool {
		above = i.(*item)
		return false
	})

	switch {
	case below == nil && above == nil:
		return span.Range{}, false
	case below == nil:
		return above.rng(), true
	case above == nil:
		return below.rng(), true
	case addr-below.end+1 <= above.start-addr:
		// below.end is exclusive; its last byte is below.end-1.
		return below.rng(), true
	default:
		return above.rng(), true
	}
}

// Len returns the number of disjoint ranges in the index.
func (x *Index) Len() int {
	return x.t.Len()
}

// Bytes returns the total number of declared bytes.
func (x *Index) Bytes() uint64 {
	return x.bytes
}

// Stats returns a copy of the activity counters.
func (x *Index) Stats() Stats {
	return x.stats
}

// Ascend calls fn for every indexed range in ascending order until fn
// returns false.
func (x *Index) Ascend(fn func(span.Range) bool) {
	x.t.Ascend(func(i btree.Item) bool {
		return fn(i.(*item).rng())
	})
}

// Ranges returns the indexed ranges in ascending order.
func (x *Index) Ranges() []span.Range {
	out := make([]span.Range, 0, x.t.Len())
	x.Ascend(func(r span.Range) bool {
		out = append(out, r)
		return true
	})
	return out
}

// Reset empties the index so it can be reused by the next epoch.
func (x *Index) Reset() {
	x.t.Clear(true /* addNodesToFreelist */)
	x.bytes = 0
	x.stats = Stats{}
}

// floor returns the indexed range with the greatest start <= addr.
func (x *Index) floor(addr uintptr) *item {
	if x.t.Len() == 0 {
		return nil
	}
	var out *item
	x.pivot.start = addr
	x.t.DescendLessOrEqual(&x.pivot, func(i btree.Item) bool {
		out = i.(*item)
		return false
	})
	return out
}

// diff walks every indexed range that overlaps or touches r, passing each to
// visit in ascending order, and returns the gaps of r they leave uncovered.
func (x *Index) diff(r span.Range, visit func(*item)) []span.Range {
	start, end := r.Start, r.End()
	cursor := start

	var uncovered []span.Range
	step := func(it *item) {
		if it.start > cursor {
			uncovered = append(uncovered, span.FromBounds(cursor, min(it.start, end)))
		}
		cursor = max(cursor, it.end)
		visit(it)
	}

	pred := x.floor(start)
	if pred != nil && pred.end >= start {
		step(pred)
	}

	x.pivot.start = start
	x.t.AscendGreaterOrEqual(&x.pivot, func(i btree.Item) bool {
		it := i.(*item)
		if it.start > end {
			return false
		}
		if it != pred {
			step(it)
		}
		return true
	})

	if cursor < end {
		uncovered = append(uncovered, span.FromBounds(cursor, end))
	}
	return uncovered
}
