// Package epoch implements the epoch controller: the state machine that
// owns one range index and one undo log and drives them through an epoch.
//
//	Closed --Begin--> Open --Commit--> Closed
//	                   |
//	                   +----Abort----> Closed (memory restored)
//
// While an epoch is open, Track declares a byte range the caller is about to
// mutate. The controller hands the range to the index, which returns only the
// bytes never declared before in this epoch, and captures exactly those bytes
// into the log before Track returns. Commit discards the log; Abort writes
// every pre-image back in reverse order and then discards it.
//
// A Controller is the unit of isolation. By default it is owned by a single
// goroutine and takes no locks. Options.Shared makes every operation
// serialize on a mutex so that several goroutines may declare into one
// epoch.
//
// Bounds policy:
//
//   - Permissive (default): any non-empty, non-wrapping range is accepted and
//     trusted to be live memory.
//   - Strict: a range must also lie entirely inside one allocation known to
//     the controller's memory.Registry, otherwise Track fails with
//     undoerr.ErrInvalidRange (reason ReasonUnknownAllocation).
package epoch
