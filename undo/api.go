package undo

import (
	"runtime"

	"github.com/kolkov/undotx/internal/undo/api"
	"github.com/kolkov/undotx/internal/undo/epoch"
	"github.com/kolkov/undotx/internal/undo/guard"
	"github.com/kolkov/undotx/internal/undo/memory"
	"github.com/kolkov/undotx/internal/undo/span"
)

// Init initializes the runtime from UNDOTX_OPTIONS.
//
//	func main() {
//		undo.Init()
//		defer undo.Fini()
//		// ... rest of program
//	}
//
// Calling Init again discards every epoch and reapplies the options.
func Init() {
	api.Init()
}

// Fini disables the runtime and prints a summary to stderr: epochs begun,
// committed and aborted, bytes logged and restored, epochs left open and
// undeclared writes reported.
func Fini() {
	api.Fini()
}

// Reset discards every epoch and counter, keeping the configuration.
func Reset() {
	api.Reset()
}

// Enable turns the runtime on. It is on after Init.
func Enable() {
	api.Enable()
}

// Disable turns the runtime off. While disabled every call is a no-op
// returning nil, so Abort restores nothing.
func Disable() {
	api.Disable()
}

// BeginEpoch opens an epoch on the calling goroutine. It returns
// ErrEpochAlreadyOpen if one is open; epochs do not nest.
func BeginEpoch() error {
	return api.BeginEpoch()
}

// Track declares that the n bytes at addr are about to be modified in the
// calling goroutine's epoch. Bytes not declared earlier in the epoch are
// copied before Track returns.
//
// The memory must stay live and at the same address until the epoch ends.
//
// Errors: ErrNoActiveEpoch outside an epoch; ErrInvalidRange when n is 0, the
// range wraps the address space, or (strict mode) lies outside every
// registered allocation.
func Track(addr, n uintptr) error {
	return api.Track(addr, n)
}

// TrackPointer declares the value p points to.
func TrackPointer[T any](p *T) error {
	err := api.Track(memory.AddrOf(p), memory.SizeOf[T]())
	runtime.KeepAlive(p)
	return err
}

// TrackSlice declares every element of s. An empty slice is an invalid
// range.
func TrackSlice[T any](s []T) error {
	addr, n := memory.SliceBounds(s)
	err := api.Track(addr, n)
	runtime.KeepAlive(s)
	return err
}

// Commit ends the calling goroutine's epoch keeping every modification.
func Commit() error {
	return api.Commit()
}

// Abort ends the calling goroutine's epoch restoring every declared byte to
// its value from before its first declaration. Undeclared bytes keep their
// current value.
func Abort() error {
	return api.Abort()
}

// CheckWrite verifies that the n bytes at addr were declared in the calling
// goroutine's epoch before they are written. Undeclared bytes are reported
// and yield ErrUndeclaredWrite; with violation=abort the epoch is also
// rolled back.
func CheckWrite(addr, n uintptr) error {
	return api.CheckWrite(addr, n)
}

// CheckPointer is CheckWrite for the value p points to.
func CheckPointer[T any](p *T) error {
	return api.CheckWrite(memory.AddrOf(p), memory.SizeOf[T]())
}

// Register records an allocation for strict mode. Declarations must lie
// entirely inside one registered allocation when strict=1.
func Register(name string, addr, n uintptr) error {
	return api.Registry().Register(name, span.New(addr, uint64(n)))
}

// RegisterSlice records the elements of s as an allocation.
func RegisterSlice[T any](name string, s []T) error {
	addr, n := memory.SliceBounds(s)
	return Register(name, addr, n)
}

// Unregister forgets the allocation starting at addr.
func Unregister(addr uintptr) bool {
	return api.Registry().Unregister(addr)
}

// Stats counts epoch activity.
type Stats = epoch.Stats

// GetStats sums the counters of every goroutine's epochs. Call it when no
// epoch operation is in flight on other goroutines.
func GetStats() Stats {
	return api.Stats()
}

// Controller runs epochs independently of the per-goroutine runtime. Use it
// when the epoch's owner is an object rather than a goroutine, or to avoid
// goroutine lookup in hot loops.
type Controller = epoch.Controller

// Options configures a Controller.
type Options = epoch.Options

// Policy selects what CheckWrite does with undeclared bytes.
type Policy = guard.Policy

// Violation policies.
const (
	PolicyReport = guard.PolicyReport
	PolicyAbort  = guard.PolicyAbort
	PolicySilent = guard.PolicySilent
)

// Memory reads and writes bytes by address. Controllers use it to capture
// and restore pre-images.
type Memory = memory.Memory

// Arena is a bounds-checked block of memory usable as a Controller's
// Memory.
type Arena = memory.Arena

// NewArena allocates an arena of at least size bytes.
func NewArena(size int) *Arena {
	return memory.NewArena(size)
}

// Registry records allocation extents for strict controllers.
type Registry = memory.Registry

// NewRegistry creates an empty allocation registry.
func NewRegistry() *Registry {
	return memory.NewRegistry()
}

// NewController creates a controller with no open epoch.
//
//	c := undo.NewController(undo.Options{})
//	_ = c.Begin()
//	_ = c.Track(undo.AddrOf(&x), uint64(undo.SizeOf[int]()))
//	x = 7
//	_ = c.Abort()
func NewController(opts Options) *Controller {
	return epoch.New(opts)
}

// AddrOf returns the address of the value p points to.
func AddrOf[T any](p *T) uintptr {
	return memory.AddrOf(p)
}

// SizeOf returns the size in bytes of one T.
func SizeOf[T any]() uintptr {
	return memory.SizeOf[T]()
}
