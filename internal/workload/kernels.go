package workload

import (
	"math/rand/v2"

	"github.com/kolkov/undotx/internal/undo/memory"
)

func newRand(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

// BubbleSort sorts n words in place.
type BubbleSort struct {
	n    int
	data *memory.Arena
}

// NewBubbleSort creates a bubble sort over n words.
func NewBubbleSort(n int) *BubbleSort {
	return &BubbleSort{n: n, data: memory.NewArena(n * 8)}
}

func (w *BubbleSort) Name() string { return "bubble" }
func (w *BubbleSort) Arenas() []*memory.Arena { return []*memory.Arena{w.data} }

// Reset fills the array with values in [0, n).
func (w *BubbleSort) Reset(seed uint64) {
	r := newRand(seed)
	for i, ws := 0, words(w.data, w.n); i < len(ws); i++ {
		ws[i] = r.Uint64N(uint64(w.n))
	}
}

// Run declares the whole array and sorts it. The checksum is the sum of the
// elements, which sorting preserves.
func (w *BubbleSort) Run(tr Tracker) (uint64, error) {
	ws := words(w.data, w.n)
	if err := tr.Track(w.data.Base(), uint64(w.n)*8); err != nil {
		return 0, err
	}
	for i := 0; i < len(ws); i++ {
		for j := 0; j < len(ws)-1; j++ {
			if ws[j] > ws[j+1] {
				ws[j], ws[j+1] = ws[j+1], ws[j]
			}
		}
	}
	return sum(ws), nil
}

// Sorted reports whether the array is in ascending order.
func (w *BubbleSort) Sorted() bool {
	ws := words(w.data, w.n)
	for i := 1; i < len(ws); i++ {
		if ws[i-1] > ws[i] {
			return false
		}
	}
	return true
}

// MatrixMul computes C = A·B for n×n word matrices, declaring every element
// it touches on every inner iteration.
type MatrixMul struct {
	n       int
	a, b, c *memory.Arena
}

// NewMatrixMul creates an n×n matrix multiply.
func NewMatrixMul(n int) *MatrixMul {
	return &MatrixMul{
		n: n,
		a: memory.NewArena(n * n * 8),
		b: memory.NewArena(n * n * 8),
		c: memory.NewArena(n * n * 8),
	}
}

func (w *MatrixMul) Name() string { return "matmul" }

func (w *MatrixMul) Arenas() []*memory.Arena {
	return []*memory.Arena{w.a, w.b, w.c}
}

// Reset fills A and B with values in [0, n) and clears C.
func (w *MatrixMul) Reset(seed uint64) {
	r := newRand(seed)
	a, b, c := w.a.Words(), w.b.Words(), w.c.Words()
	for i := range a {
		a[i] = r.Uint64N(uint64(w.n))
		b[i] = r.Uint64N(uint64(w.n))
		c[i] = 0
	}
}

// Run multiplies the matrices. The checksum is the sum of C.
func (w *MatrixMul) Run(tr Tracker) (uint64, error) {
	n := w.n
	a, b, c := w.a.Words(), w.b.Words(), w.c.Words()
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			cij := w.c.WordAddr(i*n + j)
			if err := tr.Track(cij, 8); err != nil {
				return 0, err
			}
			c[i*n+j] = 0
			for k := 0; k < n; k++ {
				if err := tr.Track(w.a.WordAddr(i*n+k), 8); err != nil {
					return 0, err
				}
				v0 := a[i*n+k]
				if err := tr.Track(w.b.WordAddr(k*n+j), 8); err != nil {
					return 0, err
				}
				v1 := b[k*n+j]
				if err := tr.Track(cij, 8); err != nil {
					return 0, err
				}
				c[i*n+j] += v0 * v1
			}
		}
	}
	return sum(c), nil
}

// Fill writes n random values below 100 and sums them.
type Fill struct {
	n    int
	seed uint64
	data *memory.Arena
}

// NewFill creates a fill over n words.
func NewFill(n int) *Fill {
	return &Fill{n: n, data: memory.NewArena(n * 8)}
}

func (w *Fill) Name() string { return "fill" }
func (w *Fill) Arenas() []*memory.Arena { return []*memory.Arena{w.data} }

// Reset clears the array and remembers seed for the next Run.
func (w *Fill) Reset(seed uint64) {
	w.seed = seed
	clear(w.data.Words())
}

// Run declares the whole array, fills it and returns the sum.
func (w *Fill) Run(tr Tracker) (uint64, error) {
	ws := words(w.data, w.n)
	if err := tr.Track(w.data.Base(), uint64(w.n)*8); err != nil {
		return 0, err
	}
	r := newRand(w.seed)
	for i := range ws {
		ws[i] = r.Uint64N(100)
	}
	return sum(ws), nil
}

// Scatter performs n stores of random values at random indexes.
type Scatter struct {
	n    int
	seed uint64
	data *memory.Arena
}

// NewScatter creates a scatter over n words.
func NewScatter(n int) *Scatter {
	return &Scatter{n: n, data: memory.NewArena(n * 8)}
}

func (w *Scatter) Name() string { return "scatter" }
func (w *Scatter) Arenas() []*memory.Arena { return []*memory.Arena{w.data} }

// Reset fills the array with its indexes.
func (w *Scatter) Reset(seed uint64) {
	w.seed = seed
	for i, ws := 0, words(w.data, w.n); i < len(ws); i++ {
		ws[i] = uint64(i)
	}
}

// Run declares the whole array and scatters n stores into it.
func (w *Scatter) Run(tr Tracker) (uint64, error) {
	ws := words(w.data, w.n)
	if err := tr.Track(w.data.Base(), uint64(w.n)*8); err != nil {
		return 0, err
	}
	r := newRand(w.seed)
	for i := 0; i < len(ws); i++ {
		ws[r.IntN(len(ws))] = r.Uint64()
	}
	return sum(ws), nil
}

// SubsetSum decides whether a subset of {1..n} sums to n(n+1)/2 with a
// (n+1)×(target+1) boolean table, declaring each row before filling it.
type SubsetSum struct {
	n      int
	target int
	set    []uint64
	table  *memory.Arena
}

// NewSubsetSum creates a subset-sum instance over {1..n}.
func NewSubsetSum(n int) *SubsetSum {
	target := n * (n + 1) / 2
	return &SubsetSum{
		n:      n,
		target: target,
		set:    make([]uint64, n),
		table:  memory.NewArena((n + 1) * (target + 1)),
	}
}

func (w *SubsetSum) Name() string { return "subset" }
func (w *SubsetSum) Arenas() []*memory.Arena { return []*memory.Arena{w.table} }

// Reset sets the input to 1..n in an order chosen by seed and clears the
// table.
func (w *SubsetSum) Reset(seed uint64) {
	for i := range w.set {
		w.set[i] = uint64(i + 1)
	}
	r := newRand(seed)
	r.Shuffle(len(w.set), func(i, j int) { w.set[i], w.set[j] = w.set[j], w.set[i] })
	clear(w.table.Bytes())
}

// Run fills the table. The checksum is 1 when the target is reachable.
func (w *SubsetSum) Run(tr Tracker) (uint64, error) {
	cols := w.target + 1
	t := w.table.Bytes()

	if err := tr.Track(w.table.Addr(0), uint64(cols)); err != nil {
		return 0, err
	}
	t[0] = 1
	for j := 1; j < cols; j++ {
		t[j] = 0
	}

	for i := 1; i <= w.n; i++ {
		row := t[i*cols : (i+1)*cols]
		prev := t[(i-1)*cols : i*cols]
		if err := tr.Track(w.table.Addr(i*cols), uint64(cols)); err != nil {
			return 0, err
		}
		v := int(w.set[i-1])
		row[0] = 1
		for j := 1; j < cols; j++ {
			row[j] = prev[j]
			if j >= v && prev[j-v] == 1 {
				row[j] = 1
			}
		}
	}
	return uint64(t[w.n*cols+w.target]), nil
}
