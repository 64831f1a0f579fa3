package verify

import (
	"go/ast"
	"go/token"
	"go/types"
	"slices"
	"strings"
)

// targetKind classifies the left-hand side of a write.
type targetKind int

const (
	targetNone    targetKind = iota // local variable or blank, never checked
	targetElement                   // a[i]
	targetDeref                     // *p
	targetField                     // s.f
	targetGlobal                    // package-level variable
)

// funcVisitor walks one function body in source order, keeping the set of
// expressions declared since the current epoch began.
//
// ast.Inspect and ast.Walk visit nodes depth-first in the order they appear
// in the file, which is the order the checks below rely on.
type funcVisitor struct {
	fset  *token.FileSet
	name  string
	scope *fileScope
	stats *Stats

	checking bool
	declared []string

	findings []*Finding
	nested   []*ast.FuncLit
}

// fileScope is what a function visitor needs to know about its file.
type fileScope struct {
	undo    string          // local name of the undo import, "." for a dot import, "" if absent
	imports map[string]bool // local names of every other import
	globals map[string]bool // package-level variables of the package
}

func newFuncVisitor(fset *token.FileSet, name string, scope *fileScope, stats *Stats) *funcVisitor {
	return &funcVisitor{fset: fset, name: name, scope: scope, stats: stats}
}

// check verifies body and every closure inside it.
func (v *funcVisitor) check(body *ast.BlockStmt) []*Finding {
	v.stats.Funcs++
	if body == nil {
		return nil
	}

	uses, begins := v.scan(body)
	if !uses {
		// Functions that never touch the undo API are outside any epoch
		// this file can see.
		v.collectNested(body)
	} else {
		v.stats.Checked++
		// A function that opens its own epoch is only checked inside it;
		// otherwise the caller is assumed to have opened one.
		v.checking = !begins
		ast.Walk(v, body)
	}

	findings := v.findings
	for _, lit := range v.nested {
		inner := newFuncVisitor(v.fset, "func literal in "+v.name, v.scope, v.stats)
		findings = append(findings, inner.check(lit.Body)...)
	}
	return findings
}

// scan reports whether body calls the undo API at all and whether it calls
// BeginEpoch outside a defer.
func (v *funcVisitor) scan(body *ast.BlockStmt) (uses, begins bool) {
	ast.Inspect(body, func(n ast.Node) bool {
		switch n := n.(type) {
		case *ast.FuncLit:
			return false
		case *ast.DeferStmt:
			if _, ok := v.undoCall(n.Call); ok {
				uses = true
			}
			return false
		case *ast.CallExpr:
			if name, ok := v.undoCall(n); ok {
				uses = true
				begins = begins || name == "BeginEpoch"
			}
		}
		return true
	})
	return uses, begins
}

func (v *funcVisitor) collectNested(body *ast.BlockStmt) {
	ast.Inspect(body, func(n ast.Node) bool {
		if lit, ok := n.(*ast.FuncLit); ok {
			v.nested = append(v.nested, lit)
			return false
		}
		return true
	})
}

// Visit implements ast.Visitor.
func (v *funcVisitor) Visit(node ast.Node) ast.Visitor {
	switch n := node.(type) {
	case *ast.FuncLit:
		v.nested = append(v.nested, n)
		return nil

	case *ast.DeferStmt:
		// Deferred Commit/Abort run at return, not here.
		return nil

	case *ast.BlockStmt:
		if !terminates(n) {
			return v
		}
		// A block that returns (typically an error path calling Abort)
		// does not change the state seen by the code after it.
		checking, declared := v.checking, slices.Clone(v.declared)
		for _, stmt := range n.List {
			ast.Walk(v, stmt)
		}
		v.checking, v.declared = checking, declared
		return nil

	case *ast.CallExpr:
		v.visitCall(n)
		return v

	case *ast.AssignStmt:
		v.visitAssignment(n)
		return nil

	case *ast.IncDecStmt:
		ast.Walk(v, n.X)
		v.checkWrite(n.X)
		return nil
	}
	return v
}

// visitAssignment checks the writes of an assignment.
//
// The right-hand side is walked first since it is evaluated first:
//
//	err = undo.TrackPointer(&a[i]) → declares a[i], err is a local
//	a[i] = f()                      → write to a[i]
//
// For ":=" the left-hand side is being declared, not written.
func (v *funcVisitor) visitAssignment(stmt *ast.AssignStmt) {
	for _, rhs := range stmt.Rhs {
		ast.Walk(v, rhs)
	}
	if stmt.Tok == token.DEFINE {
		return
	}
	for _, lhs := range stmt.Lhs {
		v.checkWrite(lhs)
	}
}

// visitCall tracks epoch boundaries and declarations.
func (v *funcVisitor) visitCall(call *ast.CallExpr) {
	name, ok := v.undoCall(call)
	if !ok {
		return
	}
	switch name {
	case "BeginEpoch":
		v.checking = true
		v.declared = v.declared[:0]
	case "Commit", "Abort":
		v.checking = false
		v.declared = v.declared[:0]
	case "Track", "TrackPointer", "TrackSlice":
		v.stats.Declarations++
		if d := declaredBy(name, call.Args); d != "" {
			v.declared = append(v.declared, d)
		}
	}
}

// undoCall returns the name of the undo package function call invokes.
func (v *funcVisitor) undoCall(call *ast.CallExpr) (string, bool) {
	if v.scope.undo == "" {
		return "", false
	}
	fun := unparen(call.Fun)
	// Explicit instantiation: undo.TrackPointer[int](p).
	if idx, ok := fun.(*ast.IndexExpr); ok {
		fun = idx.X
	}
	switch f := fun.(type) {
	case *ast.SelectorExpr:
		if x, ok := f.X.(*ast.Ident); ok && x.Name == v.scope.undo {
			return f.Sel.Name, true
		}
	case *ast.Ident:
		if v.scope.undo == "." {
			return f.Name, true
		}
	}
	return "", false
}

func (v *funcVisitor) checkWrite(lhs ast.Expr) {
	lhs = unparen(lhs)
	kind := v.classify(lhs)
	if kind == targetNone {
		return
	}
	v.stats.Writes++
	if !v.checking {
		return
	}

	target := types.ExprString(lhs)
	if v.covered(target) {
		return
	}
	v.findings = append(v.findings, newFinding(v.fset, lhs.Pos(), v.name, target).withSuggestion(kind))
}

func (v *funcVisitor) classify(e ast.Expr) targetKind {
	switch e := e.(type) {
	case *ast.Ident:
		if e.Name != "_" && v.scope.globals[e.Name] {
			return targetGlobal
		}
	case *ast.IndexExpr:
		return targetElement
	case *ast.StarExpr:
		return targetDeref
	case *ast.SelectorExpr:
		if x, ok := e.X.(*ast.Ident); ok && v.scope.imports[x.Name] {
			return targetGlobal
		}
		return targetField
	}
	return targetNone
}

// covered reports whether target lies inside a declared expression.
// Declaring x covers x itself and everything reached by indexing or
// selecting into it; declaring *p also covers p.f.
func (v *funcVisitor) covered(target string) bool {
	for _, d := range v.declared {
		if within(target, d) {
			return true
		}
		if p, ok := strings.CutPrefix(d, "*"); ok && strings.HasPrefix(target, p+".") {
			return true
		}
	}
	return false
}

func within(target, decl string) bool {
	if !strings.HasPrefix(target, decl) {
		return false
	}
	rest := target[len(decl):]
	return rest == "" || rest[0] == '[' || rest[0] == '.'
}

// declaredBy returns the expression a declaration call covers, or "" when
// it cannot be determined from the source.
//
//	undo.TrackPointer(&a[i])                   → a[i]
//	undo.TrackPointer(p)                       → *p
//	undo.TrackSlice(a)                         → a
//	undo.Track(undo.AddrOf(&a[0]), len(a)*8)   → a
//	undo.Track(undo.AddrOf(&x), 8)             → x
func declaredBy(name string, args []ast.Expr) string {
	if len(args) == 0 {
		return ""
	}
	arg := unparen(args[0])

	switch name {
	case "TrackPointer":
		if u, ok := arg.(*ast.UnaryExpr); ok && u.Op == token.AND {
			return types.ExprString(unparen(u.X))
		}
		return "*" + types.ExprString(arg)

	case "TrackSlice":
		if s, ok := arg.(*ast.SliceExpr); ok && s.Low == nil && s.High == nil {
			return types.ExprString(unparen(s.X))
		}
		if _, ok := arg.(*ast.SliceExpr); ok {
			// Partial slices need bounds this check does not evaluate.
			return ""
		}
		return types.ExprString(arg)

	case "Track":
		if len(args) < 2 {
			return ""
		}
		x := addressed(arg)
		if x == nil {
			return ""
		}
		if idx, ok := x.(*ast.IndexExpr); ok && isZero(idx.Index) && mentionsLen(args[1], idx.X) {
			return types.ExprString(unparen(idx.X))
		}
		return types.ExprString(x)
	}
	return ""
}

// addressed returns X of the first &X inside e.
func addressed(e ast.Expr) ast.Expr {
	var x ast.Expr
	ast.Inspect(e, func(n ast.Node) bool {
		if x != nil {
			return false
		}
		if u, ok := n.(*ast.UnaryExpr); ok && u.Op == token.AND {
			x = unparen(u.X)
			return false
		}
		return true
	})
	return x
}

func isZero(e ast.Expr) bool {
	lit, ok := unparen(e).(*ast.BasicLit)
	return ok && lit.Kind == token.INT && lit.Value == "0"
}

// mentionsLen reports whether size contains len(of).
func mentionsLen(size, of ast.Expr) bool {
	want := types.ExprString(unparen(of))
	found := false
	ast.Inspect(size, func(n ast.Node) bool {
		call, ok := n.(*ast.CallExpr)
		if !ok || found {
			return !found
		}
		if fn, ok := call.Fun.(*ast.Ident); ok && fn.Name == "len" && len(call.Args) == 1 {
			found = types.ExprString(unparen(call.Args[0])) == want
		}
		return !found
	})
	return found
}

// terminates reports whether b ends in a return or a panic.
func terminates(b *ast.BlockStmt) bool {
	if len(b.List) == 0 {
		return false
	}
	switch last := b.List[len(b.List)-1].(type) {
	case *ast.ReturnStmt:
		return true
	case *ast.ExprStmt:
		call, ok := last.X.(*ast.CallExpr)
		if !ok {
			return false
		}
		fn, ok := call.Fun.(*ast.Ident)
		return ok && fn.Name == "panic"
	}
	return false
}

func unparen(e ast.Expr) ast.Expr {
	for {
		p, ok := e.(*ast.ParenExpr)
		if !ok {
			return e
		}
		e = p.X
	}
}
