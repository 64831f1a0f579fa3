// Package goroutine holds the undo state owned by a single goroutine.
//
// Each goroutine that calls the runtime API gets its own UndoContext: a
// private epoch controller that needs no locking, because only its owner
// ever touches it. Epochs of different goroutines are fully isolated; an
// Abort on one goroutine never restores bytes declared by another.
package goroutine
