// Package verify statically checks that code using the undo package declares
// what it writes.
//
// Within every function that calls the undo API, each write to an indexed
// element, a dereferenced pointer, a struct field or a package-level variable
// must be preceded in source order by an undo.Track, undo.TrackPointer or
// undo.TrackSlice declaration of the same expression or of something that
// contains it:
//
//	undo.TrackPointer(&a[i])
//	a[i+1]++                  // finding: a[i+1] was never declared
//
//	undo.TrackSlice(a)
//	a[j] = 0                  // fine: the whole slice was declared
//
// The check is syntactic. Expressions are compared as written, so a[i] and
// a[j] are different even when i == j at run time, and writes to map
// elements and value-typed locals are reported like any other element or
// field write. When a function calls undo.BeginEpoch, only the code between
// BeginEpoch and the next Commit or Abort is checked; otherwise the caller is
// assumed to have opened the epoch and the whole body is checked.
package verify

import (
	"go/ast"
	"go/parser"
	"go/token"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
	"golang.org/x/mod/modfile"
)

// UndoPath is the import path whose calls count as declarations.
const UndoPath = "github.com/kolkov/undotx/undo"

// Stats counts what a verification looked at.
type Stats struct {
	Files        int // Go files parsed
	Funcs        int // Functions and closures seen
	Checked      int // Functions that use the undo API
	Declarations int // Track calls seen
	Writes       int // Checkable writes seen, inside or outside an epoch
}

// Result is the outcome of a verification.
type Result struct {
	Findings []*Finding
	Stats    Stats
}

// Source verifies a single file. src is anything parser.ParseFile accepts;
// when nil the file is read from filename.
func Source(filename string, src any) (*Result, error) {
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, filename, src, parser.SkipObjectResolution)
	if err != nil {
		return nil, errors.Wrapf(err, "verify: parse %s", filename)
	}
	res := &Result{}
	res.Stats.Files = 1
	res.Findings = checkPackage(fset, []*ast.File{file}, &res.Stats)
	return res, nil
}

// Paths verifies the Go packages in paths. A path ending in "/..." includes
// every package below it, skipping testdata, vendor and directories whose
// name starts with "." or "_". Test files are not checked.
//
// When a directory belongs to a module, file names in findings are reported
// as the module path joined with the file's path inside the module.
func Paths(paths ...string) (*Result, error) {
	if len(paths) == 0 {
		paths = []string{"."}
	}
	res := &Result{}
	for _, p := range paths {
		dirs, err := expand(p)
		if err != nil {
			return nil, err
		}
		for _, dir := range dirs {
			if err := verifyDir(dir, res); err != nil {
				return nil, err
			}
		}
	}
	sort.SliceStable(res.Findings, func(i, j int) bool {
		a, b := res.Findings[i], res.Findings[j]
		if a.File != b.File {
			return a.File < b.File
		}
		if a.Line != b.Line {
			return a.Line < b.Line
		}
		return a.Column < b.Column
	})
	return res, nil
}

func expand(p string) ([]string, error) {
	root, recursive := strings.CutSuffix(filepath.ToSlash(p), "/...")
	if root == "" {
		root = "."
	}
	root = filepath.FromSlash(root)
	info, err := os.Stat(root)
	if err != nil {
		return nil, errors.Wrapf(err, "verify: %s", p)
	}
	if !info.IsDir() {
		return nil, errors.Newf("verify: %s is not a directory", p)
	}
	if !recursive {
		return []string{root}, nil
	}

	var dirs []string
	err = filepath.WalkDir(root, func(walked string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		name := d.Name()
		if walked != root && (name == "testdata" || name == "vendor" ||
			strings.HasPrefix(name, ".") || strings.HasPrefix(name, "_")) {
			return filepath.SkipDir
		}
		dirs = append(dirs, walked)
		return nil
	})
	return dirs, errors.Wrapf(err, "verify: walk %s", p)
}

func verifyDir(dir string, res *Result) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return errors.Wrapf(err, "verify: read %s", dir)
	}

	names := newNamer(dir)
	fset := token.NewFileSet()
	// Files are grouped by package clause so package-level variables are
	// resolved across the files of one package.
	pkgs := make(map[string][]*ast.File)
	var order []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".go") || strings.HasSuffix(name, "_test.go") {
			continue
		}
		full := filepath.Join(dir, name)
		file, err := parser.ParseFile(fset, full, nil, parser.SkipObjectResolution)
		if err != nil {
			return errors.Wrapf(err, "verify: parse %s", full)
		}
		res.Stats.Files++
		pkg := file.Name.Name
		if _, ok := pkgs[pkg]; !ok {
			order = append(order, pkg)
		}
		pkgs[pkg] = append(pkgs[pkg], file)
	}

	for _, pkg := range order {
		for _, f := range checkPackage(fset, pkgs[pkg], &res.Stats) {
			f.File = names.name(f.File)
			res.Findings = append(res.Findings, f)
		}
	}
	return nil
}

// checkPackage verifies every function of the files of one package.
func checkPackage(fset *token.FileSet, files []*ast.File, stats *Stats) []*Finding {
	globals := make(map[string]bool)
	for _, file := range files {
		for _, decl := range file.Decls {
			gen, ok := decl.(*ast.GenDecl)
			if !ok || gen.Tok != token.VAR {
				continue
			}
			for _, spec := range gen.Specs {
				for _, id := range spec.(*ast.ValueSpec).Names {
					globals[id.Name] = true
				}
			}
		}
	}

	var findings []*Finding
	for _, file := range files {
		scope := newFileScope(file, globals)
		for _, decl := range file.Decls {
			switch d := decl.(type) {
			case *ast.FuncDecl:
				v := newFuncVisitor(fset, funcName(d), scope, stats)
				findings = append(findings, v.check(d.Body)...)
			case *ast.GenDecl:
				// Closures in package-level initializers.
				ast.Inspect(d, func(n ast.Node) bool {
					lit, ok := n.(*ast.FuncLit)
					if !ok {
						return true
					}
					v := newFuncVisitor(fset, "func literal", scope, stats)
					findings = append(findings, v.check(lit.Body)...)
					return false
				})
			}
		}
	}
	return findings
}

func newFileScope(file *ast.File, globals map[string]bool) *fileScope {
	scope := &fileScope{imports: make(map[string]bool), globals: globals}
	for _, spec := range file.Imports {
		p, err := strconv.Unquote(spec.Path.Value)
		if err != nil {
			continue
		}
		name := path.Base(p)
		if spec.Name != nil {
			name = spec.Name.Name
		}
		switch {
		case p == UndoPath:
			if name != "_" {
				scope.undo = name
			}
		case name != "_" && name != ".":
			scope.imports[name] = true
		}
	}
	return scope
}

func funcName(d *ast.FuncDecl) string {
	if d.Recv == nil || len(d.Recv.List) == 0 {
		return d.Name.Name
	}
	recv := d.Recv.List[0].Type
	if star, ok := recv.(*ast.StarExpr); ok {
		recv = star.X
	}
	switch r := recv.(type) {
	case *ast.IndexExpr:
		recv = r.X
	case *ast.IndexListExpr:
		recv = r.X
	}
	if id, ok := recv.(*ast.Ident); ok {
		return id.Name + "." + d.Name.Name
	}
	return d.Name.Name
}

// namer rewrites file names relative to the enclosing module.
type namer struct {
	root   string // directory holding go.mod, "" when not in a module
	module string
}

func newNamer(dir string) namer {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return namer{}
	}
	for d := abs; ; {
		gomod := filepath.Join(d, "go.mod")
		if data, err := os.ReadFile(gomod); err == nil {
			f, err := modfile.Parse(gomod, data, nil)
			if err != nil || f.Module == nil {
				return namer{}
			}
			return namer{root: d, module: f.Module.Mod.Path}
		}
		parent := filepath.Dir(d)
		if parent == d {
			return namer{}
		}
		d = parent
	}
}

func (n namer) name(file string) string {
	if n.root == "" {
		return file
	}
	abs, err := filepath.Abs(file)
	if err != nil {
		return file
	}
	rel, err := filepath.Rel(n.root, abs)
	if err != nil || strings.HasPrefix(rel, "..") {
		return file
	}
	return path.Join(n.module, filepath.ToSlash(rel))
}
