package epoch

import (
	"fmt"
	log "log/slog"
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"github.com/kolkov/undotx/internal/undo/guard"
	"github.com/kolkov/undotx/internal/undo/memory"
	"github.com/kolkov/undotx/internal/undo/rangeindex"
	"github.com/kolkov/undotx/internal/undo/recovery"
	"github.com/kolkov/undotx/internal/undo/span"
	"github.com/kolkov/undotx/internal/undo/stackdepot"
	"github.com/kolkov/undotx/internal/undo/undoerr"
	"github.com/kolkov/undotx/internal/undo/undolog"
)

// State is the lifecycle state of a controller.
type State int

const (
	// Closed means no epoch is open.
	Closed State = iota
	// Open means an epoch is accepting declarations.
	Open
)

// String returns "closed" or "open".
func (s State) String() string {
	if s == Open {
		return "open"
	}
	return "closed"
}

// Outcome records how the most recent epoch ended.
type Outcome int

const (
	// None means no epoch has ended yet.
	None Outcome = iota
	// Committed means the epoch's mutations were kept.
	Committed
	// Aborted means the epoch's declared bytes were restored.
	Aborted
)

// String returns the outcome name.
func (o Outcome) String() string {
	switch o {
	case Committed:
		return "committed"
	case Aborted:
		return "aborted"
	default:
		return "none"
	}
}

// Options configures a Controller. The zero value is a permissive,
// single-goroutine controller over raw process memory.
type Options struct {
	// Strict rejects declarations outside every allocation in Registry.
	Strict bool

	// Shared serializes all operations on a mutex.
	Shared bool

	// RecordSites stores the stack of every Track call that captured new
	// bytes, so violation reports can show where the nearest range was
	// declared.
	RecordSites bool

	// Violation selects what CheckWrite does with undeclared bytes.
	Violation guard.Policy

	// Logger receives epoch lifecycle events at Debug and strict-mode
	// rejections at Warn. Defaults to slog.Default().
	Logger *log.Logger

	// Memory reads pre-images and restores them. Defaults to memory.Raw.
	Memory memory.Memory

	// Registry lists the allocations accepted in strict mode. A strict
	// controller without one creates an empty registry.
	Registry *memory.Registry

	// Reporter prints violations. Defaults to a reporter on os.Stderr.
	Reporter *guard.Reporter

	// Depot stores declaration and write stacks. Defaults to
	// stackdepot.Default.
	Depot *stackdepot.Depot

	// Owner is the goroutine ID shown in violation reports (0 if unknown).
	Owner int64
}

// Stats counts controller activity over its lifetime.
type Stats struct {
	Epochs        uint64 // Epochs begun.
	Commits       uint64
	Aborts        uint64
	Declarations  uint64 // Track calls that passed validation.
	FullyCovered  uint64 // Declarations that captured nothing.
	Rejected      uint64 // Track calls that failed with ErrInvalidRange.
	Entries       uint64 // Undo log entries captured.
	BytesLogged   uint64 // Pre-image bytes captured.
	BytesRestored uint64 // Bytes written back by Abort.
	Violations    uint64 // CheckWrite calls that found undeclared bytes.
}

// Add returns the field-wise sum of s and o.
func (s Stats) Add(o Stats) Stats {
	return Stats{
		Epochs:        s.Epochs + o.Epochs,
		Commits:       s.Commits + o.Commits,
		Aborts:        s.Aborts + o.Aborts,
		Declarations:  s.Declarations + o.Declarations,
		FullyCovered:  s.FullyCovered + o.FullyCovered,
		Rejected:      s.Rejected + o.Rejected,
		Entries:       s.Entries + o.Entries,
		BytesLogged:   s.BytesLogged + o.BytesLogged,
		BytesRestored: s.BytesRestored + o.BytesRestored,
		Violations:    s.Violations + o.Violations,
	}
}

// Controller drives one epoch at a time over a range index and an undo log.
type Controller struct {
	mu     sync.Mutex
	shared bool

	opts   Options
	logger *log.Logger
	mem    memory.Memory

	state State
	last  Outcome
	id    uuid.UUID

	index *rangeindex.Index
	undo  *undolog.Log
	stats Stats

	// open mirrors state and published copies stats at every epoch
	// boundary. Both may be read from any goroutine without the lock.
	open      atomic.Bool
	published atomic.Pointer[Stats]
}

// New creates a closed controller.
func New(opts Options) *Controller {
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	if opts.Memory == nil {
		opts.Memory = memory.Raw{}
	}
	if opts.Strict && opts.Registry == nil {
		opts.Registry = memory.NewRegistry()
	}
	if opts.Reporter == nil {
		opts.Reporter = guard.NewReporter(nil)
	}
	if opts.Depot == nil {
		opts.Depot = stackdepot.Default
	}
	c := &Controller{
		shared: opts.Shared,
		opts:   opts,
		logger: opts.Logger,
		mem:    opts.Memory,
		index:  rangeindex.New(),
		undo:   undolog.New(),
	}
	c.published.Store(&Stats{})
	return c
}

func (c *Controller) lock() {
	if c.shared {
		c.mu.Lock()
	}
}

func (c *Controller) unlock() {
	if c.shared {
		c.mu.Unlock()
	}
}

// Begin opens a new epoch with an empty index and log.
func (c *Controller) Begin() error {
	c.lock()
	defer c.unlock()

	if c.state == Open {
		return errors.Wrapf(undoerr.ErrEpochAlreadyOpen, "begin (epoch %s)", c.id)
	}
	c.index.Reset()
	c.undo.Reset()
	c.id = uuid.New()
	c.state = Open
	c.stats.Epochs++
	c.publishLocked()

	c.logger.Debug("epoch begin", "epoch", c.id.String(), "strict", c.opts.Strict)
	return nil
}

// Track declares that the caller is about to mutate the n bytes at addr.
//
// Bytes not declared earlier in the epoch are copied into the undo log
// before Track returns. Re-declaring covered bytes captures nothing.
func (c *Controller) Track(addr uintptr, n uint64) error {
	return c.TrackRange(span.New(addr, n))
}

// TrackRange is Track for a span.Range.
func (c *Controller) TrackRange(r span.Range) error {
	c.lock()
	defer c.unlock()

	if c.state != Open {
		return errors.Wrapf(undoerr.ErrNoActiveEpoch, "track %s", r)
	}
	if err := rangeindex.Validate(r); err != nil {
		c.stats.Rejected++
		return err
	}
	if c.opts.Strict && !c.opts.Registry.Covers(r) {
		c.stats.Rejected++
		c.logger.Warn("declaration outside known allocations",
			"epoch", c.id.String(), "addr", fmt.Sprintf("0x%x", r.Start), "len", r.Len)
		return undoerr.NewRangeError(r.Start, r.Len, undoerr.ReasonUnknownAllocation)
	}

	fresh, err := c.index.Declare(r)
	if err != nil {
		return errors.NewAssertionErrorWithWrappedErrf(err, "declare %s after validation", r)
	}
	c.stats.Declarations++
	if len(fresh) == 0 {
		c.stats.FullyCovered++
		return nil
	}

	var site uint64
	if c.opts.RecordSites {
		// Skip TrackRange, and Track when called through it.
		site = c.opts.Depot.Capture(1)
	}
	c.undo.Capture(c.mem, fresh, site)
	c.stats.Entries += uint64(len(fresh))
	c.stats.BytesLogged += span.TotalLen(fresh)
	return nil
}

// Commit ends the epoch keeping every mutation.
func (c *Controller) Commit() error {
	c.lock()
	defer c.unlock()

	if c.state != Open {
		return errors.Wrap(undoerr.ErrNoActiveEpoch, "commit")
	}
	c.logger.Debug("epoch commit", "epoch", c.id.String(),
		"entries", c.undo.Len(), "bytes", c.undo.Bytes(), "ranges", c.index.Len())
	c.stats.Commits++
	c.closeLocked(Committed)
	return nil
}

// Abort ends the epoch restoring every declared byte to its value at the
// time it was first declared. Bytes written without a declaration keep
// their current value.
//
// Abort always closes the epoch. A non-nil error means the log could not be
// applied and memory was left untouched.
func (c *Controller) Abort() error {
	c.lock()
	defer c.unlock()

	if c.state != Open {
		return errors.Wrap(undoerr.ErrNoActiveEpoch, "abort")
	}
	return c.abortLocked()
}

func (c *Controller) abortLocked() error {
	err := recovery.Rollback(c.mem, c.undo)
	if err != nil {
		c.logger.Error("epoch rollback failed", "epoch", c.id.String(), "error", err)
		err = errors.Wrapf(err, "abort epoch %s", c.id)
	} else {
		c.stats.BytesRestored += recovery.Restored(c.undo)
		c.logger.Debug("epoch abort", "epoch", c.id.String(),
			"entries", c.undo.Len(), "bytes", c.undo.Bytes())
	}
	c.stats.Aborts++
	c.closeLocked(Aborted)
	return err
}

func (c *Controller) closeLocked(o Outcome) {
	c.state = Closed
	c.last = o
	c.index.Reset()
	c.undo.Reset()
	c.publishLocked()
}

func (c *Controller) publishLocked() {
	st := c.stats
	c.published.Store(&st)
	c.open.Store(c.state == Open)
}

// CheckWrite verifies that the n bytes at addr were declared in the open
// epoch. Undeclared bytes are handled according to Options.Violation and
// reported as undoerr.ErrUndeclaredWrite.
func (c *Controller) CheckWrite(addr uintptr, n uint64) error {
	c.lock()
	defer c.unlock()

	w := span.New(addr, n)
	if c.state != Open {
		return errors.Wrapf(undoerr.ErrNoActiveEpoch, "check write %s", w)
	}
	if err := rangeindex.Validate(w); err != nil {
		return err
	}
	uncovered := c.index.Uncovered(w)
	if len(uncovered) == 0 {
		return nil
	}
	c.stats.Violations++

	v := c.violationLocked(w, uncovered)
	err := errors.Wrapf(undoerr.ErrUndeclaredWrite, "%d of %d bytes at %s",
		v.UncoveredBytes(), w.Len, w)

	switch c.opts.Violation {
	case guard.PolicyReport:
		c.opts.Reporter.Report(v)
	case guard.PolicyAbort:
		c.opts.Reporter.Report(v)
		if rbErr := c.abortLocked(); rbErr != nil {
			return errors.CombineErrors(err, rbErr)
		}
	}
	return err
}

func (c *Controller) violationLocked(w span.Range, uncovered []span.Range) *guard.Violation {
	// Skip violationLocked and CheckWrite.
	writeSite := c.opts.Depot.Capture(2)

	v := guard.NewViolation(w, uncovered, writeSite)
	v.Epoch = c.id.String()
	v.GoroutineID = c.opts.Owner
	v.WriteStack = c.opts.Depot.Get(writeSite)

	if near, ok := c.index.Nearest(w.Start); ok {
		v.Nearest, v.HasNearest = near, true
		probe := near.Start
		if near.End() <= w.Start {
			probe = near.End() - 1
		}
		if e, ok := c.undo.Find(probe); ok && e.Site != 0 {
			v.DeclStack = c.opts.Depot.Get(e.Site)
		}
	}
	return v
}

// State returns the current lifecycle state.
func (c *Controller) State() State {
	c.lock()
	defer c.unlock()
	return c.state
}

// Active reports whether an epoch is open. Unlike State it never takes the
// lock and may be called from a goroutine other than the owner.
func (c *Controller) Active() bool {
	return c.open.Load()
}

// Published returns the lifetime counters as of the most recent Begin,
// Commit or Abort. It may be called from any goroutine; while the controller
// is closed it equals Stats.
func (c *Controller) Published() Stats {
	return *c.published.Load()
}

// Last returns how the most recent epoch ended.
func (c *Controller) Last() Outcome {
	c.lock()
	defer c.unlock()
	return c.last
}

// ID returns the open epoch's ID, or "" when closed.
func (c *Controller) ID() string {
	c.lock()
	defer c.unlock()
	if c.state != Open {
		return ""
	}
	return c.id.String()
}

// Declared returns the disjoint declared ranges of the open epoch in
// ascending order.
func (c *Controller) Declared() []span.Range {
	c.lock()
	defer c.unlock()
	return c.index.Ranges()
}

// Pending returns the number of undo entries and captured bytes of the open
// epoch.
func (c *Controller) Pending() (entries int, bytes uint64) {
	c.lock()
	defer c.unlock()
	return c.undo.Len(), c.undo.Bytes()
}

// Stats returns a copy of the lifetime counters.
func (c *Controller) Stats() Stats {
	c.lock()
	defer c.unlock()
	return c.stats
}

// Registry returns the allocation registry used in strict mode (nil for a
// permissive controller created without one).
func (c *Controller) Registry() *memory.Registry {
	return c.opts.Registry
}

// Options returns the effective options.
func (c *Controller) Options() Options {
	return c.opts
}
