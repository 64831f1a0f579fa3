// Package recovery restores memory from an undo log.
package recovery

import (
	"github.com/cockroachdb/errors"

	"github.com/kolkov/undotx/internal/undo/memory"
	"github.com/kolkov/undotx/internal/undo/undolog"
)

// Rollback writes every pre-image in log back to its range, newest entry
// first.
//
// Every entry is validated before the first byte is written: the pre-image
// length must match its range and, when mem implements memory.Checker, the
// range must be accessible. If any entry fails validation nothing is written
// and an assertion failure is returned, so memory is either fully restored or
// untouched.
//
// Bytes that were modified without being declared are not in the log and are
// left as they are.
func Rollback(mem memory.Memory, log *undolog.Log) error {
	if log == nil || log.Len() == 0 {
		return nil
	}
	if err := validate(mem, log); err != nil {
		return err
	}

	log.Reverse(func(e *undolog.Entry) bool {
		mem.Write(e.Range.Start, e.Preimage)
		return true
	})
	return nil
}

// Restored returns the number of bytes a Rollback of log would write.
func Restored(log *undolog.Log) uint64 {
	if log == nil {
		return 0
	}
	return log.Bytes()
}

func validate(mem memory.Memory, log *undolog.Log) error {
	checker, _ := mem.(memory.Checker)

	var err error
	log.Reverse(func(e *undolog.Entry) bool {
		switch {
		case uint64(len(e.Preimage)) != e.Range.Len:
			err = errors.AssertionFailedf("recovery: entry %d %s holds %d pre-image bytes",
				e.Seq, e.Range, len(e.Preimage))
		case !e.Range.Valid():
			err = errors.AssertionFailedf("recovery: entry %d has invalid range %s", e.Seq, e.Range)
		case checker != nil && !checker.Check(e.Range):
			err = errors.AssertionFailedf("recovery: entry %d range %s is not writable", e.Seq, e.Range)
		}
		return err == nil
	})
	return err
}
