// Package api implements the process-wide undo runtime behind the public
// undo package.
//
// Every goroutine that calls BeginEpoch gets its own context (goroutine ID
// to context, kept in a sync.Map), so epochs on different goroutines are
// independent and need no locking. With shared=1 all goroutines use one
// locked controller instead.
//
// The runtime is configured once by Init from UNDOTX_OPTIONS and prints a
// summary on Fini. Idle contexts of goroutines that have exited are
// reclaimed periodically.
package api

import (
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"

	"github.com/kolkov/undotx/internal/undo/epoch"
	"github.com/kolkov/undotx/internal/undo/goroutine"
	"github.com/kolkov/undotx/internal/undo/guard"
	"github.com/kolkov/undotx/internal/undo/memory"
	"github.com/kolkov/undotx/internal/undo/span"
	"github.com/kolkov/undotx/internal/undo/stackdepot"
)

// cleanupInterval is the number of context allocations between scans for
// exited goroutines.
const cleanupInterval = 1000

// runtimeState is the state built by Init.
type runtimeState struct {
	cfg      Config
	opts     epoch.Options
	registry *memory.Registry
	reporter *guard.Reporter
	depot    *stackdepot.Depot

	// shared is the single context used when cfg.Shared is set.
	shared *goroutine.UndoContext

	// contexts maps goroutine ID to *goroutine.UndoContext.
	contexts sync.Map

	// retired accumulates the stats of reclaimed contexts.
	retiredMu sync.Mutex
	retired   epoch.Stats
}

var (
	enabled atomic.Bool

	// rt is replaced wholesale by Init and Reset.
	rt atomic.Pointer[runtimeState]

	allocCounter atomic.Uint32

	// output receives the Fini summary and violation reports.
	output io.Writer = os.Stderr
)

func init() {
	rt.Store(newRuntime(Config{}))
	enabled.Store(true)
}

func newRuntime(cfg Config) *runtimeState {
	s := &runtimeState{
		cfg:      cfg,
		registry: memory.NewRegistry(),
		reporter: guard.NewReporter(output),
		depot:    stackdepot.Default,
	}
	s.opts = epoch.Options{
		Strict:      cfg.Strict,
		Shared:      cfg.Shared,
		RecordSites: cfg.RecordSites,
		Violation:   cfg.Violation,
		Logger:      cfg.logger(),
		Memory:      memory.Raw{},
		Registry:    s.registry,
		Reporter:    s.reporter,
		Depot:       s.depot,
	}
	if cfg.Shared {
		s.shared = goroutine.Alloc(0, s.opts)
	}
	return s
}

// Init (re)initializes the runtime from UNDOTX_OPTIONS. A malformed value is
// reported on stderr and the defaults are used.
func Init() {
	cfg, err := ParseConfig(os.Getenv(EnvOptions))
	if err != nil {
		fmt.Fprintf(output, "undotx: %v (using defaults)\n", err)
		cfg = Config{}
	}
	InitWith(cfg)
}

// InitWith (re)initializes the runtime with cfg, dropping every context.
func InitWith(cfg Config) {
	allocCounter.Store(0)
	rt.Store(newRuntime(cfg))
	enabled.Store(true)
}

// Reset drops every context and violation record, keeping the current
// configuration.
func Reset() {
	InitWith(rt.Load().cfg)
}

// Enable turns the runtime on.
func Enable() {
	enabled.Store(true)
}

// Disable turns the runtime off. While disabled every operation is a no-op
// that returns nil.
func Disable() {
	enabled.Store(false)
}

// Enabled reports whether the runtime is on.
func Enabled() bool {
	return enabled.Load()
}

// CurrentConfig returns the active configuration.
func CurrentConfig() Config {
	return rt.Load().cfg
}

// Registry returns the allocation registry consulted in strict mode.
func Registry() *memory.Registry {
	return rt.Load().registry
}

// Current returns the calling goroutine's controller, creating it on first
// use.
func Current() *epoch.Controller {
	return currentContext().Ctrl
}

func currentContext() *goroutine.UndoContext {
	s := rt.Load()
	if s.shared != nil {
		return s.shared
	}

	gid := getGoroutineID()
	if v, ok := s.contexts.Load(gid); ok {
		return v.(*goroutine.UndoContext)
	}

	v, loaded := s.contexts.LoadOrStore(gid, goroutine.Alloc(gid, s.opts))
	if !loaded {
		maybeCleanup(s)
	}
	return v.(*goroutine.UndoContext)
}

// BeginEpoch opens an epoch on the calling goroutine.
func BeginEpoch() error {
	if !enabled.Load() {
		return nil
	}
	return currentContext().Ctrl.Begin()
}

// Track declares n bytes at addr in the calling goroutine's epoch.
func Track(addr, n uintptr) error {
	if !enabled.Load() {
		return nil
	}
	return currentContext().Ctrl.TrackRange(span.New(addr, uint64(n)))
}

// Commit ends the calling goroutine's epoch keeping its mutations.
func Commit() error {
	if !enabled.Load() {
		return nil
	}
	return currentContext().Ctrl.Commit()
}

// Abort ends the calling goroutine's epoch restoring every declared byte.
func Abort() error {
	if !enabled.Load() {
		return nil
	}
	return currentContext().Ctrl.Abort()
}

// CheckWrite verifies that n bytes at addr were declared in the calling
// goroutine's epoch.
func CheckWrite(addr, n uintptr) error {
	if !enabled.Load() {
		return nil
	}
	return currentContext().Ctrl.CheckWrite(addr, uint64(n))
}

// Release drops the calling goroutine's context if it has no open epoch.
// It reports whether a context was dropped.
func Release() bool {
	s := rt.Load()
	if s.shared != nil {
		return false
	}
	gid := getGoroutineID()
	v, ok := s.contexts.Load(gid)
	if !ok || !v.(*goroutine.UndoContext).Idle() {
		return false
	}
	s.retire(gid, v.(*goroutine.UndoContext))
	return true
}

// Stats sums the counters of every context, including reclaimed ones.
// Per-goroutine counters are taken as of each goroutine's most recent
// BeginEpoch, Commit or Abort, so Stats may run while other goroutines are
// inside an epoch.
func Stats() epoch.Stats {
	s := rt.Load()
	s.retiredMu.Lock()
	total := s.retired
	s.retiredMu.Unlock()

	if s.shared != nil {
		return total.Add(s.shared.Ctrl.Stats())
	}
	s.contexts.Range(func(_, v any) bool {
		total = total.Add(v.(*goroutine.UndoContext).Ctrl.Published())
		return true
	})
	return total
}

// Contexts returns the number of live per-goroutine contexts.
func Contexts() int {
	n := 0
	rt.Load().contexts.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

// Violations returns the number of distinct violation reports printed.
func Violations() int64 {
	return rt.Load().reporter.Unique()
}

// Fini disables the runtime and prints a summary to stderr.
//
//nolint:errcheck // best-effort stderr output
func Fini() {
	enabled.Store(false)
	st := Stats()
	open := openEpochs()

	w := output
	fmt.Fprintf(w, "\n==================\n")
	fmt.Fprintf(w, "Undo Runtime Report\n")
	fmt.Fprintf(w, "==================\n")
	fmt.Fprintf(w, "epochs: %d (committed %d, aborted %d)\n", st.Epochs, st.Commits, st.Aborts)
	fmt.Fprintf(w, "declarations: %d (%d already covered, %d rejected)\n",
		st.Declarations, st.FullyCovered, st.Rejected)
	fmt.Fprintf(w, "logged: %d entries, %d bytes; restored %d bytes\n",
		st.Entries, st.BytesLogged, st.BytesRestored)
	if open > 0 {
		fmt.Fprintf(w, "WARNING: %d epoch(s) still open\n", open)
	}
	if v := Violations(); v > 0 {
		fmt.Fprintf(w, "WARNING: %d undeclared write(s) reported, see above\n", v)
	}
	fmt.Fprintf(w, "==================\n\n")
}

func openEpochs() int {
	s := rt.Load()
	if s.shared != nil {
		if s.shared.Idle() {
			return 0
		}
		return 1
	}
	n := 0
	s.contexts.Range(func(_, v any) bool {
		if !v.(*goroutine.UndoContext).Idle() {
			n++
		}
		return true
	})
	return n
}

// retire removes an idle context, folding its counters into s.retired.
func (s *runtimeState) retire(gid int64, uc *goroutine.UndoContext) {
	if _, loaded := s.contexts.LoadAndDelete(gid); !loaded {
		return
	}
	st := uc.Ctrl.Published()
	s.retiredMu.Lock()
	s.retired = s.retired.Add(st)
	s.retiredMu.Unlock()
}

func maybeCleanup(s *runtimeState) {
	if allocCounter.Add(1)%cleanupInterval == 0 {
		go cleanupDeadGoroutines(s)
	}
}

// cleanupDeadGoroutines drops the idle contexts of goroutines that have
// exited.
//
// Candidates are collected before the stack dump: goroutine IDs are never
// reused, so a candidate missing from a complete dump has exited and cannot
// start another epoch. A context with an open epoch is never dropped here,
// since only its owner can end the epoch; an exited goroutine's open epoch
// is logged and shows up in the Fini report.
func cleanupDeadGoroutines(s *runtimeState) {
	var candidates []int64
	s.contexts.Range(func(k, _ any) bool {
		candidates = append(candidates, k.(int64))
		return true
	})
	if len(candidates) == 0 {
		return
	}

	live := make(map[int64]struct{})
	for _, gid := range liveGoroutineIDs() {
		live[gid] = struct{}{}
	}

	for _, gid := range candidates {
		if _, ok := live[gid]; ok {
			continue
		}
		v, ok := s.contexts.Load(gid)
		if !ok {
			continue
		}
		uc := v.(*goroutine.UndoContext)
		if !uc.Idle() {
			s.opts.Logger.Warn("goroutine exited with an open epoch", "goroutine", gid)
			continue
		}
		s.retire(gid, uc)
	}
}
