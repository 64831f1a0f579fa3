// Package stackdepot stores deduplicated stack traces for violation reports.
//
// A declaration or a checked write records its stack as a 64-bit handle.
// Identical stacks share one handle and one stored trace, so recording the
// site of every Track call costs a hash and a map lookup once the site has
// been seen.
//
// Usage:
//
//	d := stackdepot.New()
//	h := d.Capture(0)
//	...
//	fmt.Print(d.Get(h).Format())
package stackdepot

import (
	"encoding/binary"
	"fmt"
	"hash/fnv"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
)

// MaxFrames is the number of frames kept per trace.
const MaxFrames = 8

// internalPrefix marks frames of the engine itself. They are dropped when
// formatting so that reports start at user code.
const internalPrefix = "github.com/kolkov/undotx/"

// Trace is a fixed-size captured stack.
type Trace struct {
	PC [MaxFrames]uintptr
}

// Depot is a deduplicating trace store.
//
// Thread Safety: Safe for concurrent use.
type Depot struct {
	traces sync.Map // uint64 -> *Trace
	count  atomic.Int64
}

// New creates an empty depot.
func New() *Depot {
	return &Depot{}
}

// Default is the depot used by the package-level runtime.
var Default = New()

// Capture records the caller's stack and returns its handle.
//
// skip is the number of additional frames to drop above the caller of
// Capture. A zero handle means no stack was available.
func (d *Depot) Capture(skip int) uint64 {
	var pcs [MaxFrames]uintptr
	n := runtime.Callers(2+skip, pcs[:])
	if n == 0 {
		return 0
	}

	h := hashPCs(pcs[:n])
	if _, ok := d.traces.Load(h); ok {
		return h
	}
	if _, loaded := d.traces.LoadOrStore(h, &Trace{PC: pcs}); !loaded {
		d.count.Add(1)
	}
	return h
}

// Get returns the trace for handle h, or nil.
func (d *Depot) Get(h uint64) *Trace {
	if h == 0 {
		return nil
	}
	v, ok := d.traces.Load(h)
	if !ok {
		return nil
	}
	return v.(*Trace)
}

// Len returns the number of unique traces.
func (d *Depot) Len() int {
	return int(d.count.Load())
}

// Reset drops every trace. Not safe to call concurrently with Capture.
func (d *Depot) Reset() {
	d.traces.Range(func(k, _ any) bool {
		d.traces.Delete(k)
		return true
	})
	d.count.Store(0)
}

func hashPCs(pcs []uintptr) uint64 {
	h := fnv.New64a()
	var b [8]byte
	for _, pc := range pcs {
		binary.LittleEndian.PutUint64(b[:], uint64(pc))
		_, _ = h.Write(b[:])
	}
	return h.Sum64()
}

// Format renders the trace one frame per two lines:
//
//	main.fill()
//	      /src/main.go:42
//
// Runtime frames and frames inside this module are omitted.
func (t *Trace) Format() string {
	if t == nil {
		return "  <unknown>\n"
	}

	var buf strings.Builder
	frames := runtime.CallersFrames(t.PC[:])
	for {
		f, more := frames.Next()
		if f.PC == 0 {
			break
		}
		if !internalFrame(f.Function) {
			fmt.Fprintf(&buf, "  %s()\n", f.Function)
			fmt.Fprintf(&buf, "      %s:%d\n", f.File, f.Line)
		}
		if !more {
			break
		}
	}
	if buf.Len() == 0 {
		return "  <engine internal>\n"
	}
	return buf.String()
}

// Top returns the function name of the first user frame, or "".
func (t *Trace) Top() string {
	if t == nil {
		return ""
	}
	frames := runtime.CallersFrames(t.PC[:])
	for {
		f, more := frames.Next()
		if f.PC == 0 {
			return ""
		}
		if !internalFrame(f.Function) {
			return f.Function
		}
		if !more {
			return ""
		}
	}
}

func internalFrame(fn string) bool {
	if strings.HasPrefix(fn, "runtime.") {
		return true
	}
	if !strings.HasPrefix(fn, internalPrefix) {
		return false
	}
	// Tests and the workload kernels are callers, not the engine.
	rest := strings.TrimPrefix(fn, internalPrefix)
	return !strings.HasPrefix(rest, "internal/workload") && !strings.HasPrefix(rest, "cmd/")
}
