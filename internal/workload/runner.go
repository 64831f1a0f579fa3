package workload

import (
	"bytes"
	"context"
	"fmt"
	log "log/slog"
	"time"

	"github.com/cockroachdb/errors"
	"golang.org/x/sync/errgroup"

	"github.com/kolkov/undotx/internal/undo/epoch"
	"github.com/kolkov/undotx/internal/undo/guard"
	"github.com/kolkov/undotx/internal/undo/memory"
)

// ErrNotRestored is returned when an aborted run did not leave its memory
// bit-for-bit identical to the state before the epoch.
var ErrNotRestored = errors.New("workload: memory not restored by abort")

// Config describes a benchmark run.
type Config struct {
	// Workload is the kernel name.
	Workload string

	// Size is the kernel size (0 selects its default).
	Size int

	// Iterations is the number of epochs each worker runs (minimum 1).
	Iterations int

	// Parallelism is the number of concurrent workers (minimum 1). Each
	// worker owns a private workload instance and controller.
	Parallelism int

	// Tracked runs the kernel under an epoch controller. When false the
	// kernel runs with the Nop tracker.
	Tracked bool

	// Abort ends every epoch with Abort and verifies the memory was
	// restored. Only meaningful when Tracked.
	Abort bool

	// Strict registers every kernel arena and rejects other declarations.
	Strict bool

	// Seed seeds the inputs. Worker w uses Seed+w.
	Seed uint64

	// Logger is passed to the controllers.
	Logger *log.Logger
}

// RunResult is the outcome of one epoch.
type RunResult struct {
	Worker    int
	Iteration int
	Duration  time.Duration
	Checksum  uint64
	Restored  bool
}

// Report aggregates a benchmark run.
type Report struct {
	Config  Config
	Runs    []RunResult
	Stats   epoch.Stats
	Elapsed time.Duration
}

// Mean returns the mean epoch duration.
func (r *Report) Mean() time.Duration {
	if len(r.Runs) == 0 {
		return 0
	}
	var total time.Duration
	for _, run := range r.Runs {
		total += run.Duration
	}
	return total / time.Duration(len(r.Runs))
}

// Run executes cfg. It stops at the first error or when ctx is done.
func Run(ctx context.Context, cfg Config) (*Report, error) {
	if _, err := New(cfg.Workload, 1); err != nil {
		return nil, err
	}
	cfg.Iterations = max(cfg.Iterations, 1)
	cfg.Parallelism = max(cfg.Parallelism, 1)
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}

	results := make([][]RunResult, cfg.Parallelism)
	stats := make([]epoch.Stats, cfg.Parallelism)

	start := time.Now()
	g, ctx := errgroup.WithContext(ctx)
	for w := 0; w < cfg.Parallelism; w++ {
		g.Go(func() error {
			var err error
			results[w], stats[w], err = runWorker(ctx, cfg, w)
			return errors.Wrapf(err, "worker %d", w)
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	rep := &Report{Config: cfg, Elapsed: time.Since(start)}
	for w := range results {
		rep.Runs = append(rep.Runs, results[w]...)
		rep.Stats = rep.Stats.Add(stats[w])
	}
	return rep, nil
}

func runWorker(ctx context.Context, cfg Config, worker int) ([]RunResult, epoch.Stats, error) {
	wl, err := New(cfg.Workload, cfg.Size)
	if err != nil {
		return nil, epoch.Stats{}, err
	}

	var ctrl *epoch.Controller
	if cfg.Tracked {
		opts := epoch.Options{
			Strict:    cfg.Strict,
			Logger:    cfg.Logger.With("worker", worker, "workload", wl.Name()),
			Memory:    memory.Raw{},
			Violation: guard.PolicySilent,
		}
		if cfg.Strict {
			opts.Registry = memory.NewRegistry()
			for i, a := range wl.Arenas() {
				if err := opts.Registry.RegisterArena(fmt.Sprintf("%s/%d", wl.Name(), i), a); err != nil {
					return nil, epoch.Stats{}, err
				}
			}
		}
		ctrl = epoch.New(opts)
	}

	seed := cfg.Seed + uint64(worker)
	out := make([]RunResult, 0, cfg.Iterations)
	for it := 0; it < cfg.Iterations; it++ {
		if err := ctx.Err(); err != nil {
			return out, statsOf(ctrl), err
		}
		wl.Reset(seed + uint64(it))

		res, err := runOnce(wl, ctrl, cfg.Abort)
		if err != nil {
			return out, statsOf(ctrl), errors.Wrapf(err, "iteration %d", it)
		}
		res.Worker, res.Iteration = worker, it
		out = append(out, res)
	}
	return out, statsOf(ctrl), nil
}

func runOnce(wl Workload, ctrl *epoch.Controller, abort bool) (RunResult, error) {
	if ctrl == nil {
		t0 := time.Now()
		sum, err := wl.Run(Nop{})
		return RunResult{Duration: time.Since(t0), Checksum: sum}, err
	}

	var before [][]byte
	if abort {
		for _, a := range wl.Arenas() {
			before = append(before, a.Snapshot())
		}
	}

	t0 := time.Now()
	if err := ctrl.Begin(); err != nil {
		return RunResult{}, err
	}
	sum, err := wl.Run(ctrl)
	if err != nil {
		if rbErr := ctrl.Abort(); rbErr != nil {
			return RunResult{}, errors.CombineErrors(err, rbErr)
		}
		return RunResult{}, err
	}
	if abort {
		err = ctrl.Abort()
	} else {
		err = ctrl.Commit()
	}
	res := RunResult{Duration: time.Since(t0), Checksum: sum}
	if err != nil {
		return res, err
	}

	if abort {
		for i, a := range wl.Arenas() {
			if !bytes.Equal(before[i], a.Bytes()) {
				return res, errors.Wrapf(ErrNotRestored, "%s arena %d", wl.Name(), i)
			}
		}
		res.Restored = true
	}
	return res, nil
}

func statsOf(c *epoch.Controller) epoch.Stats {
	if c == nil {
		return epoch.Stats{}
	}
	return c.Stats()
}
