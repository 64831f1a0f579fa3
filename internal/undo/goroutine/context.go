package goroutine

import (
	"github.com/kolkov/undotx/internal/undo/epoch"
)

// UndoContext is the undo state of one goroutine.
type UndoContext struct {
	// GID is the owning goroutine's ID.
	GID int64

	// Ctrl is the goroutine's epoch controller.
	Ctrl *epoch.Controller
}

// Alloc creates the context for goroutine gid. The controller reports gid as
// its owner in violation reports.
//
// Example:
//
//	ctx := Alloc(7, epoch.Options{Strict: true, Registry: reg})
//	_ = ctx.Ctrl.Begin()
func Alloc(gid int64, opts epoch.Options) *UndoContext {
	opts.Owner = gid
	return &UndoContext{
		GID:  gid,
		Ctrl: epoch.New(opts),
	}
}

// Idle reports whether the context has no open epoch and can be dropped
// without losing undo information. It is safe to call from any goroutine.
func (uc *UndoContext) Idle() bool {
	return !uc.Ctrl.Active()
}
