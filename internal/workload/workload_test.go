package workload

import (
	"context"
	"fmt"
	"io"
	log "log/slog"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"

	"github.com/kolkov/undotx/internal/undo/epoch"
	"github.com/kolkov/undotx/internal/undo/memory"
	"github.com/kolkov/undotx/internal/undo/span"
)

func quiet() *log.Logger {
	return log.New(log.NewTextHandler(io.Discard, nil))
}

// small sizes keep the O(n²) and O(n³) kernels fast.
var testSizes = map[string]int{
	"bubble":  200,
	"matmul":  16,
	"fill":    4096,
	"scatter": 4096,
	"subset":  30,
}

func TestNames(t *testing.T) {
	require.Equal(t, []string{"bubble", "fill", "matmul", "scatter", "subset"}, Names())
	require.Equal(t, 100, DefaultSize("matmul"))
	require.Zero(t, DefaultSize("nope"))

	_, err := New("nope", 1)
	require.ErrorContains(t, err, "unknown kernel")
}

// TestTrackedMatchesPlain verifies every kernel computes the same result with
// and without declarations.
func TestTrackedMatchesPlain(t *testing.T) {
	for _, name := range Names() {
		t.Run(name, func(t *testing.T) {
			plain, err := New(name, testSizes[name])
			require.NoError(t, err)
			plain.Reset(7)
			want, err := plain.Run(Nop{})
			require.NoError(t, err)

			tracked, err := New(name, testSizes[name])
			require.NoError(t, err)
			tracked.Reset(7)
			c := epoch.New(epoch.Options{Logger: quiet()})
			require.NoError(t, c.Begin())
			got, err := tracked.Run(c)
			require.NoError(t, err)
			require.NoError(t, c.Commit())

			require.Equal(t, want, got)
		})
	}
}

// TestAbortRestoresKernels verifies Abort undoes each kernel completely.
func TestAbortRestoresKernels(t *testing.T) {
	for _, name := range Names() {
		t.Run(name, func(t *testing.T) {
			wl, err := New(name, testSizes[name])
			require.NoError(t, err)
			wl.Reset(11)

			var before [][]byte
			for _, a := range wl.Arenas() {
				before = append(before, a.Snapshot())
			}

			c := epoch.New(epoch.Options{Logger: quiet(), Memory: memory.Raw{}})
			require.NoError(t, c.Begin())
			_, err = wl.Run(c)
			require.NoError(t, err)
			require.NoError(t, c.Abort())

			for i, a := range wl.Arenas() {
				require.Equal(t, before[i], a.Bytes(), "arena %d", i)
			}
		})
	}
}

func TestBubbleSortSorts(t *testing.T) {
	w := NewBubbleSort(100)
	w.Reset(3)
	_, err := w.Run(Nop{})
	require.NoError(t, err)
	require.True(t, w.Sorted())
}

func TestSubsetSumReachable(t *testing.T) {
	w := NewSubsetSum(20)
	w.Reset(5)
	got, err := w.Run(Nop{})
	require.NoError(t, err)
	require.Equal(t, uint64(1), got, "the whole set always sums to the target")
}

// TestMatrixMulDeclaresPerElement verifies the per-element pattern
// collapses into one range per matrix.
func TestMatrixMulDeclaresPerElement(t *testing.T) {
	w := NewMatrixMul(8)
	w.Reset(1)
	c := epoch.New(epoch.Options{Logger: quiet()})
	require.NoError(t, c.Begin())
	_, err := w.Run(c)
	require.NoError(t, err)

	// Separately allocated matrices may happen to be adjacent and merge.
	require.LessOrEqual(t, len(c.Declared()), 3)
	require.Equal(t, uint64(3*8*8*8), span.TotalLen(c.Declared()))
	st := c.Stats()
	require.Equal(t, uint64(8*8+3*8*8*8), st.Declarations)
	require.Equal(t, uint64(3*8*8*8), st.BytesLogged)
	require.NoError(t, c.Commit())
}

func TestRun(t *testing.T) {
	rep, err := Run(context.Background(), Config{
		Workload:    "scatter",
		Size:        1024,
		Iterations:  3,
		Parallelism: 4,
		Tracked:     true,
		Abort:       true,
		Strict:      true,
		Seed:        1,
		Logger:      quiet(),
	})
	require.NoError(t, err)
	require.Len(t, rep.Runs, 12)
	for _, r := range rep.Runs {
		require.True(t, r.Restored)
	}
	require.Equal(t, uint64(12), rep.Stats.Aborts)
	require.Equal(t, uint64(12*1024*8), rep.Stats.BytesRestored)
	require.Positive(t, rep.Mean())
}

func TestRunPlain(t *testing.T) {
	rep, err := Run(context.Background(), Config{Workload: "fill", Size: 512, Logger: quiet()})
	require.NoError(t, err)
	require.Len(t, rep.Runs, 1)
	require.Zero(t, rep.Stats.Epochs)
	require.False(t, rep.Runs[0].Restored)
}

func TestRunCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Run(ctx, Config{Workload: "fill", Size: 64, Iterations: 5, Logger: quiet()})
	require.ErrorIs(t, err, context.Canceled)
}

func TestRunUnknown(t *testing.T) {
	_, err := Run(context.Background(), Config{Workload: "quicksort"})
	require.Error(t, err)
}

func benchmarkKernel(b *testing.B, name string, size int, tracked bool) {
	wl, err := New(name, size)
	if err != nil {
		b.Fatal(err)
	}
	c := epoch.New(epoch.Options{Logger: quiet()})

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		b.StopTimer()
		wl.Reset(uint64(i))
		b.StartTimer()

		if !tracked {
			_, _ = wl.Run(Nop{})
			continue
		}
		_ = c.Begin()
		_, _ = wl.Run(c)
		_ = c.Commit()
	}
}

func BenchmarkBubble_Plain(b *testing.B) { benchmarkKernel(b, "bubble", 1000, false) }
func BenchmarkBubble_Tracked(b *testing.B) { benchmarkKernel(b, "bubble", 1000, true) }
func BenchmarkMatMul_Plain(b *testing.B) { benchmarkKernel(b, "matmul", 64, false) }
func BenchmarkMatMul_Tracked(b *testing.B) { benchmarkKernel(b, "matmul", 64, true) }
func BenchmarkFill_Plain(b *testing.B) { benchmarkKernel(b, "fill", 1<<16, false) }
func BenchmarkFill_Tracked(b *testing.B) { benchmarkKernel(b, "fill", 1<<16, true) }
func BenchmarkScatter_Plain(b *testing.B) { benchmarkKernel(b, "scatter", 1<<16, false) }
func BenchmarkScatter_Tracked(b *testing.B) { benchmarkKernel(b, "scatter", 1<<16, true) }
func BenchmarkSubset_Plain(b *testing.B) { benchmarkKernel(b, "subset", 60, false) }
func BenchmarkSubset_Tracked(b *testing.B) { benchmarkKernel(b, "subset", 60, true) }

var errKernel = errors.New("kernel failed")

// failingKernel declares its arena, scribbles over it and fails.
type failingKernel struct {
	arena *memory.Arena
}

func (*failingKernel) Name() string { return "failing" }
func (*failingKernel) Reset(uint64) {}
func (k *failingKernel) Arenas() []*memory.Arena { return []*memory.Arena{k.arena} }

func (k *failingKernel) Run(tr Tracker) (uint64, error) {
	if err := tr.Track(k.arena.WordAddr(0), 8); err != nil {
		return 0, err
	}
	k.arena.Words()[0] = 42
	return 0, errKernel
}

// unwritableArena refuses every rollback.
type unwritableArena struct {
	*memory.Arena
}

func (*unwritableArena) Check(span.Range) bool { return false }

// TestKernelErrorRollsBack verifies a failing kernel's epoch is aborted and
// that a failed rollback is reported along with the kernel's error.
func TestKernelErrorRollsBack(t *testing.T) {
	t.Run("restored", func(t *testing.T) {
		k := &failingKernel{arena: memory.NewArena(8)}
		k.arena.Words()[0] = 7
		c := epoch.New(epoch.Options{Memory: k.arena, Logger: quiet()})

		_, err := runOnce(k, c, false)
		require.ErrorIs(t, err, errKernel)
		require.Equal(t, uint64(7), k.arena.Words()[0])
		require.Equal(t, epoch.Aborted, c.Last())
	})

	t.Run("rollback fails", func(t *testing.T) {
		k := &failingKernel{arena: memory.NewArena(8)}
		c := epoch.New(epoch.Options{Memory: &unwritableArena{Arena: k.arena}, Logger: quiet()})

		_, err := runOnce(k, c, false)
		require.ErrorIs(t, err, errKernel)
		require.Contains(t, fmt.Sprintf("%+v", err), "abort epoch")
		require.Equal(t, epoch.Closed, c.State())
	})
}
