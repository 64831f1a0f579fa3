// Package guard reports writes to bytes that were never declared in the open
// epoch.
//
// The engine cannot see ordinary stores, so an undeclared write is silent by
// default and is simply not restored by Abort. Code that wants the hazard
// surfaced calls CheckWrite on the controller before mutating; a write that
// is not fully covered produces a Violation. The Reporter prints each
// distinct violation once, in the same block format Go uses for race
// reports, and the controller's Policy decides what happens next.
package guard

import (
	"fmt"
	"io"
	"strings"

	"github.com/kolkov/undotx/internal/undo/span"
	"github.com/kolkov/undotx/internal/undo/stackdepot"
)

// Policy selects what a controller does when CheckWrite finds undeclared
// bytes.
type Policy int

const (
	// PolicyReport prints the violation once and returns ErrUndeclaredWrite.
	PolicyReport Policy = iota
	// PolicyAbort prints the violation, rolls the epoch back and returns
	// ErrUndeclaredWrite. This mirrors a sandbox that aborts on an
	// out-of-bounds store.
	PolicyAbort
	// PolicySilent returns ErrUndeclaredWrite without printing.
	PolicySilent
)

// String returns the option spelling of the policy.
func (p Policy) String() string {
	switch p {
	case PolicyReport:
		return "report"
	case PolicyAbort:
		return "abort"
	case PolicySilent:
		return "silent"
	default:
		return fmt.Sprintf("Policy(%d)", int(p))
	}
}

// ParsePolicy parses the option spelling of a policy.
func ParsePolicy(s string) (Policy, bool) {
	switch strings.ToLower(s) {
	case "report", "":
		return PolicyReport, true
	case "abort":
		return PolicyAbort, true
	case "silent":
		return PolicySilent, true
	}
	return 0, false
}

// Violation describes one checked write that touched undeclared bytes.
type Violation struct {
	// Write is the checked write.
	Write span.Range

	// Uncovered lists the bytes of Write outside every declared range.
	Uncovered []span.Range

	// Nearest is the declared range closest to Write, if any.
	Nearest    span.Range
	HasNearest bool

	// Epoch is the ID of the open epoch.
	Epoch string

	// GoroutineID is the goroutine that performed the check (0 if unknown).
	GoroutineID int64

	// WriteStack is the stack of the checked write.
	WriteStack *stackdepot.Trace

	// DeclStack is the stack that declared Nearest, when declaration sites
	// are recorded.
	DeclStack *stackdepot.Trace

	// Key identifies the violation for deduplication.
	Key string
}

// NewViolation builds a violation and its deduplication key.
//
// Two checks from the same call site that miss the same declared range are
// one violation; without a stack the key falls back to the write address.
func NewViolation(write span.Range, uncovered []span.Range, writeSite uint64) *Violation {
	v := &Violation{
		Write:     write,
		Uncovered: uncovered,
	}
	if writeSite != 0 {
		v.Key = fmt.Sprintf("undeclared-write:site:%x", writeSite)
	} else {
		v.Key = fmt.Sprintf("undeclared-write:addr:0x%x", write.Start)
	}
	return v
}

// UncoveredBytes returns the number of undeclared bytes.
func (v *Violation) UncoveredBytes() uint64 {
	return span.TotalLen(v.Uncovered)
}

// Format writes the report block to w.
//
//	==================
//	WARNING: UNDECLARED WRITE
//	Write of 8 bytes at 0x000000c000010008 by goroutine 7 in epoch 5f0c...:
//	  main.update()
//	      /src/main.go:42
//
//	Undeclared: [0xc000010008,0xc000010010)
//	Nearest declared range [0xc000010000,0xc000010008) declared at:
//	  main.update()
//	      /src/main.go:41
//	==================
//
//nolint:errcheck // best-effort stderr output
func (v *Violation) Format(w io.Writer) {
	fmt.Fprintf(w, "==================\n")
	fmt.Fprintf(w, "WARNING: UNDECLARED WRITE\n")
	fmt.Fprintf(w, "Write of %d bytes at 0x%016x", v.Write.Len, v.Write.Start)
	if v.GoroutineID != 0 {
		fmt.Fprintf(w, " by goroutine %d", v.GoroutineID)
	}
	if v.Epoch != "" {
		fmt.Fprintf(w, " in epoch %s", v.Epoch)
	}
	fmt.Fprintf(w, ":\n")
	if v.WriteStack != nil {
		fmt.Fprint(w, v.WriteStack.Format())
	} else {
		fmt.Fprintf(w, "  (no stack trace captured)\n")
	}
	fmt.Fprintf(w, "\n")

	parts := make([]string, len(v.Uncovered))
	for i, r := range v.Uncovered {
		parts[i] = r.String()
	}
	fmt.Fprintf(w, "Undeclared: %s\n", strings.Join(parts, " "))

	switch {
	case !v.HasNearest:
		fmt.Fprintf(w, "No range declared in this epoch.\n")
	case v.DeclStack != nil:
		fmt.Fprintf(w, "Nearest declared range %s declared at:\n", v.Nearest)
		fmt.Fprint(w, v.DeclStack.Format())
	default:
		fmt.Fprintf(w, "Nearest declared range %s\n", v.Nearest)
	}
	fmt.Fprintf(w, "==================\n")
}

// String returns the formatted report.
func (v *Violation) String() string {
	var buf strings.Builder
	v.Format(&buf)
	return buf.String()
}
