package memory

import (
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/google/btree"

	"github.com/kolkov/undotx/internal/undo/span"
	"github.com/kolkov/undotx/internal/undo/undoerr"
)

// allocation is a registered extent, ordered by start address.
type allocation struct {
	span.Range
	name string
}

// Less implements the btree.Item interface.
func (a *allocation) Less(b btree.Item) bool {
	return a.Start < b.(*allocation).Start
}

// Registry records the true extents of known allocations.
//
// A strict-mode controller rejects any declaration that is not entirely
// inside one registered allocation. This is the collaborator that knows real
// extents; the engine itself only sees address/length pairs.
//
// Thread Safety: Safe for concurrent use.
type Registry struct {
	mu sync.RWMutex
	t  *btree.BTree
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{t: btree.New(8)}
}

// Register records an allocation. Allocations must not overlap.
func (g *Registry) Register(name string, r span.Range) error {
	if err := validRange(r); err != nil {
		return err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if prev := g.floorLocked(r.End() - 1); prev != nil && prev.Overlaps(r) {
		return errors.Newf("memory: allocation %q %s overlaps %q %s", name, r, prev.name, prev.Range)
	}
	g.t.ReplaceOrInsert(&allocation{Range: r, name: name})
	return nil
}

// RegisterArena records the extent of an arena.
func (g *Registry) RegisterArena(name string, a *Arena) error {
	return g.Register(name, a.Range())
}

// Unregister forgets the allocation starting at start. It reports whether an
// allocation was removed.
func (g *Registry) Unregister(start uintptr) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.t.Delete(&allocation{Range: span.Range{Start: start}}) != nil
}

// Lookup returns the allocation containing addr.
func (g *Registry) Lookup(addr uintptr) (name string, r span.Range, ok bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	a := g.floorLocked(addr)
	if a == nil || !a.Contains(addr) {
		return "", span.Range{}, false
	}
	return a.name, a.Range, true
}

// Covers reports whether r lies entirely inside one registered allocation.
func (g *Registry) Covers(r span.Range) bool {
	if !r.Valid() {
		return false
	}
	g.mu.RLock()
	defer g.mu.RUnlock()

	a := g.floorLocked(r.Start)
	return a != nil && a.Covers(r)
}

// Len returns the number of registered allocations.
func (g *Registry) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.t.Len()
}

func (g *Registry) floorLocked(addr uintptr) *allocation {
	var out *allocation
	g.t.DescendLessOrEqual(&allocation{Range: span.Range{Start: addr}}, func(i btree.Item) bool {
		out = i.(*allocation)
		return false
	})
	return out
}

func validRange(r span.Range) error {
	switch {
	case r.Len == 0:
		return undoerr.NewRangeError(r.Start, r.Len, undoerr.ReasonZeroLength)
	case !r.Valid():
		return undoerr.NewRangeError(r.Start, r.Len, undoerr.ReasonWraps)
	}
	return nil
}
