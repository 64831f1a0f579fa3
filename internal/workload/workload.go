// Package workload implements the benchmark kernels used to measure the undo
// engine: each kernel mutates arena-backed buffers in place, declaring what
// it writes through a Tracker.
//
// Every kernel runs unchanged with the Nop tracker (the uninstrumented
// baseline) and with an epoch controller. Kernels differ in how they
// declare:
//
//	bubble   one whole-array declaration, then O(n²) swaps
//	matmul   one declaration per element access in the inner loop
//	fill     one whole-array declaration, random fill, then a sum
//	scatter  one whole-array declaration, random-index stores
//	subset   one declaration per dynamic-programming row
package workload

import (
	"sort"

	"github.com/cockroachdb/errors"

	"github.com/kolkov/undotx/internal/undo/memory"
)

// Tracker receives declarations. *epoch.Controller implements it.
type Tracker interface {
	Track(addr uintptr, n uint64) error
}

// Nop is a Tracker that declares nothing.
type Nop struct{}

// Track implements Tracker.
func (Nop) Track(uintptr, uint64) error { return nil }

// Workload is one benchmark kernel together with the memory it mutates.
type Workload interface {
	// Name returns the kernel name.
	Name() string

	// Reset fills the inputs deterministically from seed.
	Reset(seed uint64)

	// Run executes the kernel once, declaring writes to tr, and returns a
	// checksum of its output.
	Run(tr Tracker) (uint64, error)

	// Arenas returns the memory the kernel mutates.
	Arenas() []*memory.Arena
}

// Factory creates a workload of the given size.
type Factory func(size int) Workload

var factories = map[string]struct {
	fn          Factory
	defaultSize int
}{
	"bubble":  {func(n int) Workload { return NewBubbleSort(n) }, 2000},
	"matmul":  {func(n int) Workload { return NewMatrixMul(n) }, 100},
	"fill":    {func(n int) Workload { return NewFill(n) }, 1 << 20},
	"scatter": {func(n int) Workload { return NewScatter(n) }, 1 << 20},
	"subset":  {func(n int) Workload { return NewSubsetSum(n) }, 100},
}

// Names returns the registered kernel names in order.
func Names() []string {
	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// New creates the named workload. A size <= 0 selects the kernel's default.
func New(name string, size int) (Workload, error) {
	f, ok := factories[name]
	if !ok {
		return nil, errors.Newf("workload: unknown kernel %q (have %v)", name, Names())
	}
	if size <= 0 {
		size = f.defaultSize
	}
	return f.fn(size), nil
}

// DefaultSize returns the default size of the named kernel, or 0.
func DefaultSize(name string) int {
	return factories[name].defaultSize
}

func words(a *memory.Arena, n int) []uint64 {
	return a.Words()[:n]
}

func sum(ws []uint64) uint64 {
	var s uint64
	for _, w := range ws {
		s += w
	}
	return s
}
