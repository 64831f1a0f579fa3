package main

import (
	"context"
	"fmt"
	"io"
	log "log/slog"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"github.com/kolkov/undotx/internal/workload"
)

type benchFlags struct {
	workload   string
	size       int
	iterations int
	parallel   int
	tracked    bool
	abort      bool
	strict     bool
	compare    bool
	verbose    bool
	seed       uint64
	logLevel   string
}

func newBenchCmd() *cobra.Command {
	var f benchFlags
	cmd := &cobra.Command{
		Use:   "bench [--workload=<name>|all] [flags]",
		Short: "run benchmark kernels under the undo runtime",
		Long: `
Run a benchmark kernel for a number of epochs and report per-run timings and
engine statistics.

Kernels: ` + strings.Join(workload.Names(), ", ") + `.

With --abort every epoch is rolled back and the kernel memory is compared
bit-for-bit with its state before the epoch. With --compare the same runs are
repeated without tracking and the overhead is reported.
`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBench(cmd.Context(), cmd.OutOrStdout(), cmd.ErrOrStderr(), f)
		},
	}

	fl := cmd.Flags()
	fl.StringVarP(&f.workload, "workload", "w", "bubble", "kernel to run, or \"all\"")
	fl.IntVar(&f.size, "size", 0, "kernel size (0 selects the kernel's default)")
	fl.IntVarP(&f.iterations, "iterations", "n", 5, "epochs per worker")
	fl.IntVarP(&f.parallel, "parallel", "p", 1, "concurrent workers, each with its own controller")
	fl.BoolVar(&f.tracked, "tracked", true, "run under an epoch controller")
	fl.BoolVar(&f.abort, "abort", false, "abort every epoch and verify the memory was restored")
	fl.BoolVar(&f.strict, "strict", false, "reject declarations outside the kernel's arenas")
	fl.BoolVar(&f.compare, "compare", false, "also run untracked and report the overhead")
	fl.BoolVarP(&f.verbose, "verbose", "v", false, "print every run")
	fl.Uint64Var(&f.seed, "seed", 1, "input seed")
	fl.StringVar(&f.logLevel, "log-level", "warn", "engine log level (debug, info, warn, error)")
	return cmd
}

func runBench(ctx context.Context, out, errOut io.Writer, f benchFlags) error {
	var level log.Level
	if err := level.UnmarshalText([]byte(f.logLevel)); err != nil {
		return errors.Wrap(err, "--log-level")
	}
	if f.abort && !f.tracked {
		return errors.New("--abort requires --tracked")
	}
	logger := log.New(log.NewTextHandler(errOut, &log.HandlerOptions{Level: level}))

	names := []string{f.workload}
	if f.workload == "all" {
		names = workload.Names()
	}

	for i, name := range names {
		if i > 0 {
			fmt.Fprintln(out)
		}
		cfg := workload.Config{
			Workload:    name,
			Size:        f.size,
			Iterations:  f.iterations,
			Parallelism: f.parallel,
			Tracked:     f.tracked,
			Abort:       f.abort,
			Strict:      f.strict,
			Seed:        f.seed,
			Logger:      logger,
		}
		rep, err := workload.Run(ctx, cfg)
		if err != nil {
			return errors.Wrapf(err, "bench %s", name)
		}
		printReport(out, rep, f.verbose)

		if f.compare && f.tracked {
			cfg.Tracked, cfg.Abort, cfg.Strict = false, false, false
			base, err := workload.Run(ctx, cfg)
			if err != nil {
				return errors.Wrapf(err, "bench %s untracked", name)
			}
			fmt.Fprintf(out, "untracked: mean %v\n", base.Mean())
			if base.Mean() > 0 {
				fmt.Fprintf(out, "overhead:  %.2fx\n", float64(rep.Mean())/float64(base.Mean()))
			}
		}
	}
	return nil
}

func printReport(out io.Writer, rep *workload.Report, verbose bool) {
	cfg := rep.Config
	size := cfg.Size
	if size == 0 {
		size = workload.DefaultSize(cfg.Workload)
	}
	mode := "untracked"
	switch {
	case cfg.Tracked && cfg.Abort:
		mode = "abort"
	case cfg.Tracked:
		mode = "commit"
	}
	fmt.Fprintf(out, "%s size=%d mode=%s workers=%d runs=%d\n",
		cfg.Workload, size, mode, cfg.Parallelism, len(rep.Runs))

	if verbose {
		tw := tabwriter.NewWriter(out, 0, 8, 2, ' ', 0)
		fmt.Fprintln(tw, "worker\titeration\tduration\tchecksum\trestored")
		for _, r := range rep.Runs {
			fmt.Fprintf(tw, "%d\t%d\t%v\t%#x\t%v\n", r.Worker, r.Iteration, r.Duration, r.Checksum, r.Restored)
		}
		_ = tw.Flush()
	}

	fmt.Fprintf(out, "mean %v  min %v  max %v  elapsed %v\n",
		rep.Mean(), minRun(rep), maxRun(rep), rep.Elapsed.Round(time.Microsecond))
	if !cfg.Tracked {
		return
	}
	s := rep.Stats
	fmt.Fprintf(out, "epochs %d  commits %d  aborts %d\n", s.Epochs, s.Commits, s.Aborts)
	fmt.Fprintf(out, "declarations %d  fully covered %d  rejected %d\n", s.Declarations, s.FullyCovered, s.Rejected)
	fmt.Fprintf(out, "entries %d  bytes logged %d  bytes restored %d\n", s.Entries, s.BytesLogged, s.BytesRestored)
}

func minRun(rep *workload.Report) time.Duration {
	var d time.Duration
	for i, r := range rep.Runs {
		if i == 0 || r.Duration < d {
			d = r.Duration
		}
	}
	return d
}

func maxRun(rep *workload.Report) time.Duration {
	var d time.Duration
	for _, r := range rep.Runs {
		d = max(d, r.Duration)
	}
	return d
}
