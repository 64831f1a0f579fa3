package guard

import (
	"io"
	"os"
	"sync"
	"sync/atomic"
)

// Reporter prints each distinct violation once.
//
// Thread Safety: Safe for concurrent use. Output of concurrent reports is
// not interleaved.
type Reporter struct {
	mu       sync.Mutex
	out      io.Writer
	reported sync.Map // key -> struct{}
	unique   atomic.Int64
	total    atomic.Int64
}

// NewReporter creates a reporter writing to out (os.Stderr when nil).
func NewReporter(out io.Writer) *Reporter {
	if out == nil {
		out = os.Stderr
	}
	return &Reporter{out: out}
}

// Report records v and prints it if its key has not been seen. It reports
// whether v was printed.
func (r *Reporter) Report(v *Violation) bool {
	r.total.Add(1)
	if _, seen := r.reported.LoadOrStore(v.Key, struct{}{}); seen {
		return false
	}
	r.unique.Add(1)

	r.mu.Lock()
	defer r.mu.Unlock()
	v.Format(r.out)
	return true
}

// Unique returns the number of distinct violations.
func (r *Reporter) Unique() int64 {
	return r.unique.Load()
}

// Total returns the number of violations including duplicates.
func (r *Reporter) Total() int64 {
	return r.total.Load()
}

// Reset forgets every reported key.
func (r *Reporter) Reset() {
	r.reported.Range(func(k, _ any) bool {
		r.reported.Delete(k)
		return true
	})
	r.unique.Store(0)
	r.total.Store(0)
}
