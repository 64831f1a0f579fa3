package verify

import (
	"fmt"
	"go/token"
)

// Finding is a write that no earlier declaration in the same function covers.
//
// Example output:
//
//	example.com/app/kernel.go:42:3: write to a[i + 1] is not covered by a declaration in Kernel
//
//	Suggestion: declare a[i + 1] with undo.TrackPointer(&a[i + 1]) before writing it
//
// Thread Safety: Immutable after creation, safe for concurrent use.
type Finding struct {
	File       string // Source file, module-relative when the module is known
	Line       int    // Line number (1-indexed)
	Column     int    // Column number (1-indexed)
	Func       string // Enclosing function ("func literal" for closures)
	Target     string // Written expression as it appears in source
	Message    string
	Suggestion string // Empty if none
}

// Error implements the error interface.
//
// Format: file:line:column: message, followed by the suggestion on its own
// paragraph when there is one.
func (f *Finding) Error() string {
	result := fmt.Sprintf("%s:%d:%d: %s", f.File, f.Line, f.Column, f.Message)
	if f.Suggestion != "" {
		result += fmt.Sprintf("\n\nSuggestion: %s", f.Suggestion)
	}
	return result
}

// newFinding creates a finding positioned at pos.
func newFinding(fset *token.FileSet, pos token.Pos, fn, target string) *Finding {
	position := fset.Position(pos)
	return &Finding{
		File:    position.Filename,
		Line:    position.Line,
		Column:  position.Column,
		Func:    fn,
		Target:  target,
		Message: fmt.Sprintf("write to %s is not covered by a declaration in %s", target, fn),
	}
}

// withSuggestion attaches a fix hint matching the shape of the target.
func (f *Finding) withSuggestion(kind targetKind) *Finding {
	switch kind {
	case targetDeref:
		f.Suggestion = fmt.Sprintf("declare %s with undo.TrackPointer(%s) before writing it",
			f.Target, f.Target[1:])
	default:
		f.Suggestion = fmt.Sprintf("declare %s with undo.TrackPointer(&%s) before writing it",
			f.Target, f.Target)
	}
	return f
}
