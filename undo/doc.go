// Package undo provides byte-granular undo logging for in-place memory
// updates.
//
// A program brackets a group of in-place writes in an epoch. Before writing,
// it declares the byte range it is about to modify with [Track]. The first
// declaration of each byte copies its current value into an undo log. At the
// end of the epoch, [Commit] keeps every write and [Abort] restores every
// declared byte to its value from before the epoch.
//
// # Quick Start
//
//	package main
//
//	import "github.com/kolkov/undotx/undo"
//
//	func main() {
//		undo.Init()
//		defer undo.Fini()
//
//		data := []int{1, 2, 3, 4, 5, 6, 7, 8}
//
//		_ = undo.BeginEpoch()
//		for i := range data {
//			_ = undo.TrackPointer(&data[i])
//			data[i] *= 10
//		}
//		_ = undo.Abort() // data is back to 1..8
//	}
//
// # API Overview
//
//   - Lifecycle: [Init], [Fini], [Reset]
//   - Epochs: [BeginEpoch], [Commit], [Abort]
//   - Declarations: [Track], [TrackPointer], [TrackSlice]
//   - Write guard: [CheckWrite], [CheckPointer]
//   - Strict mode: [Register], [RegisterSlice]
//   - Explicit controllers: [NewController]
//   - Information: [GetInfo], [GetStats], [Version]
//
// # Declarations
//
// Declarations are idempotent and merge: declaring a byte twice captures it
// once, and adjacent or overlapping declarations fold into one range. A
// per-element declaration inside a hot loop costs a single ordered lookup
// once the element is covered. Declaring a whole array up front captures it
// in one entry.
//
// # Undeclared writes
//
// The engine cannot observe ordinary stores. A write to bytes that were not
// declared in the open epoch is not restored by Abort:
//
//	_ = undo.TrackPointer(&arr[i])
//	arr[i+1]++ // survives Abort
//
// Call [CheckWrite] before a store to have such writes reported, or abort
// the epoch on the spot with violation=abort. The undotx verify command
// finds this pattern statically.
//
// # Concurrency
//
// Each goroutine has its own epoch. Goroutines never see, commit or abort
// each other's declarations. With shared=1 all goroutines use one epoch
// whose operations are serialized.
//
// # Configuration
//
// [Init] reads UNDOTX_OPTIONS, a space-separated list of key=value pairs:
//
//	strict=1           reject declarations outside registered allocations
//	shared=1           one epoch for the whole process
//	sites=1            record declaration stacks for reports
//	violation=abort    report|abort|silent for CheckWrite failures
//	log=debug          log epoch events at this slog level to stderr
package undo
