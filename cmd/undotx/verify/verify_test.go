package verify

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

const header = `package kernel

import "github.com/kolkov/undotx/undo"

var counter uint64

type cell struct {
	x, y uint64
}
`

func targets(res *Result) []string {
	var out []string
	for _, f := range res.Findings {
		out = append(out, f.Func+": "+f.Target)
	}
	return out
}

// TestVerify checks which writes are reported for common kernel shapes.
func TestVerify(t *testing.T) {
	tests := []struct {
		name string
		body string
		want []string
	}{
		{
			name: "neighbour of a declared element",
			body: `
func Bad(a []uint64, i int) {
	undo.TrackPointer(&a[i])
	a[i+1]++
}`,
			want: []string{"Bad: a[i + 1]"},
		},
		{
			name: "whole slice",
			body: `
func Fill(a []uint64) {
	undo.TrackSlice(a)
	for j := range a {
		a[j] = 0
	}
}`,
		},
		{
			name: "per element inside an epoch",
			body: `
func MatMul(a, b, c [][]uint64, n int) error {
	if err := undo.BeginEpoch(); err != nil {
		return err
	}
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			for k := 0; k < n; k++ {
				undo.TrackPointer(&c[i][j])
				c[i][j] += a[i][k] * b[k][j]
			}
		}
	}
	return undo.Commit()
}`,
		},
		{
			name: "only the epoch is checked",
			body: `
func Setup(a []uint64) {
	a[0] = 1
	undo.BeginEpoch()
	a[1] = 2
	undo.Abort()
	a[2] = 3
}`,
			want: []string{"Setup: a[1]"},
		},
		{
			name: "deferred commit keeps the epoch open",
			body: `
func Deferred(a []uint64) error {
	if err := undo.BeginEpoch(); err != nil {
		return err
	}
	defer undo.Commit()
	a[0] = 1
	return nil
}`,
			want: []string{"Deferred: a[0]"},
		},
		{
			name: "abort on an error path",
			body: `
func Guarded(a []uint64, n int) error {
	if err := undo.BeginEpoch(); err != nil {
		return err
	}
	for i := 0; i < n; i++ {
		if err := undo.TrackPointer(&a[i]); err != nil {
			_ = undo.Abort()
			return err
		}
		a[i] = 0
		a[n] = 1
	}
	return undo.Commit()
}`,
			want: []string{"Guarded: a[n]"},
		},
		{
			name: "dereference",
			body: `
func Deref(p *uint64) {
	undo.TrackPointer(p)
	*p = 1
	q := p
	*q = 2
}`,
			want: []string{"Deref: *q"},
		},
		{
			name: "package-level variable",
			body: `
func Bump() {
	undo.Track(undo.AddrOf(&counter), 8)
	counter++
}

func Miss() {
	undo.BeginEpoch()
	counter++
	undo.Commit()
}`,
			want: []string{"Miss: counter"},
		},
		{
			name: "whole array through Track",
			body: `
func Scatter(a []uint64) {
	undo.Track(undo.AddrOf(&a[0]), uintptr(len(a))*8)
	a[5] = 1
}`,
		},
		{
			name: "fields",
			body: `
func Fields(s *cell, t *cell) {
	undo.TrackPointer(s)
	s.x = 1
	undo.TrackPointer(&t.x)
	t.x = 1
	t.y = 2
}`,
			want: []string{"Fields: t.y"},
		},
		{
			name: "closures are checked on their own",
			body: `
func Outer(a []uint64) {
	undo.TrackPointer(&a[0])
	f := func() {
		undo.TrackPointer(&a[1])
		a[0] = 1
	}
	f()
	a[0] = 2
}`,
			want: []string{"func literal in Outer: a[0]"},
		},
		{
			name: "functions without the undo API are skipped",
			body: `
func Plain(a []uint64) {
	a[0] = 1
	counter++
}`,
		},
		{
			name: "locals are never checked",
			body: `
func Locals(a []uint64) {
	undo.TrackSlice(a)
	var sum uint64
	for _, v := range a {
		sum += v
	}
	a[0] = sum
}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := Source("kernel.go", header+tt.body)
			if err != nil {
				t.Fatalf("Source() error = %v", err)
			}
			got := targets(res)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("findings = %q, want %q", got, tt.want)
			}
		})
	}
}

// TestVerifyImportNames checks aliased and dot imports of the undo package.
func TestVerifyImportNames(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want []string
	}{
		{
			name: "alias",
			src: `package k

import u "github.com/kolkov/undotx/undo"

func F(a, b []uint64) {
	u.TrackSlice(a)
	a[1] = 0
	b[0] = 1
}
`,
			want: []string{"F: b[0]"},
		},
		{
			name: "dot import",
			src: `package k

import . "github.com/kolkov/undotx/undo"

func F(a []uint64) {
	TrackSlice(a[:])
	a[1] = 0
}
`,
		},
		{
			name: "not imported",
			src: `package k

import "example.com/other/undo"

func F(a []uint64) {
	undo.TrackPointer(&a[0])
	a[1] = 0
}
`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := Source("k.go", tt.src)
			if err != nil {
				t.Fatalf("Source() error = %v", err)
			}
			if got := targets(res); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("findings = %q, want %q", got, tt.want)
			}
		})
	}
}

// TestFindingPosition checks position, message and suggestion of a finding.
func TestFindingPosition(t *testing.T) {
	res, err := Source("kernel.go", header+`
func Bad(a []uint64, i int) {
	undo.TrackPointer(&a[i])
	a[i+1]++
}
`)
	if err != nil {
		t.Fatalf("Source() error = %v", err)
	}
	if len(res.Findings) != 1 {
		t.Fatalf("got %d findings, want 1", len(res.Findings))
	}
	f := res.Findings[0]
	if f.File != "kernel.go" || f.Line != 13 || f.Column != 2 {
		t.Errorf("position = %s:%d:%d, want kernel.go:13:2", f.File, f.Line, f.Column)
	}

	want := "kernel.go:13:2: write to a[i + 1] is not covered by a declaration in Bad" +
		"\n\nSuggestion: declare a[i + 1] with undo.TrackPointer(&a[i + 1]) before writing it"
	if f.Error() != want {
		t.Errorf("Error() = %q, want %q", f.Error(), want)
	}

	wantStats := Stats{Files: 1, Funcs: 1, Checked: 1, Declarations: 1, Writes: 1}
	if res.Stats != wantStats {
		t.Errorf("Stats = %+v, want %+v", res.Stats, wantStats)
	}
}

// TestFindingDerefSuggestion checks the suggestion for pointer writes.
func TestFindingDerefSuggestion(t *testing.T) {
	res, err := Source("kernel.go", header+`
func Deref(p *uint64) {
	undo.BeginEpoch()
	*p = 1
}
`)
	if err != nil {
		t.Fatalf("Source() error = %v", err)
	}
	if len(res.Findings) != 1 {
		t.Fatalf("got %d findings, want 1", len(res.Findings))
	}
	want := "declare *p with undo.TrackPointer(p) before writing it"
	if got := res.Findings[0].Suggestion; got != want {
		t.Errorf("Suggestion = %q, want %q", got, want)
	}
}

func TestSourceParseError(t *testing.T) {
	if _, err := Source("broken.go", "package k\nfunc {"); err == nil {
		t.Error("expected parse error")
	}
}

func writeFile(t *testing.T, name, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(name), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(name, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

// TestPaths checks directory expansion and module-relative names.
func TestPaths(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "go.mod"), "module example.com/app\n\ngo 1.24\n")

	bad := `package kernel

import "github.com/kolkov/undotx/undo"

func Bad(a []uint64, i int) {
	undo.TrackPointer(&a[i])
	a[i+1]++
}
`
	writeFile(t, filepath.Join(root, "kernel", "kernel.go"), bad)
	// Package-level variables are shared between files of one package.
	writeFile(t, filepath.Join(root, "kernel", "state.go"), `package kernel

var total uint64
`)
	writeFile(t, filepath.Join(root, "kernel", "sum.go"), `package kernel

import "github.com/kolkov/undotx/undo"

func Sum(a []uint64) {
	undo.BeginEpoch()
	for _, v := range a {
		total += v
	}
	undo.Commit()
}
`)
	// Skipped: tests, testdata and underscore directories.
	writeFile(t, filepath.Join(root, "kernel", "kernel_test.go"), bad)
	writeFile(t, filepath.Join(root, "kernel", "testdata", "x.go"), bad)
	writeFile(t, filepath.Join(root, "_scratch", "x.go"), bad)

	res, err := Paths(filepath.Join(root, "..."))
	if err != nil {
		t.Fatalf("Paths() error = %v", err)
	}

	var got []string
	for _, f := range res.Findings {
		got = append(got, f.File+" "+f.Target)
	}
	want := []string{
		"example.com/app/kernel/kernel.go a[i + 1]",
		"example.com/app/kernel/sum.go total",
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("findings = %q, want %q", got, want)
	}
	if res.Stats.Files != 3 {
		t.Errorf("Files = %d, want 3", res.Stats.Files)
	}

	// Without the suffix only the named directory is checked.
	res, err = Paths(root)
	if err != nil {
		t.Fatalf("Paths() error = %v", err)
	}
	if len(res.Findings) != 0 || res.Stats.Files != 0 {
		t.Errorf("root only: findings = %d files = %d", len(res.Findings), res.Stats.Files)
	}
}

func TestPathsErrors(t *testing.T) {
	if _, err := Paths(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Error("expected error for missing directory")
	}

	file := filepath.Join(t.TempDir(), "f.go")
	writeFile(t, file, "package k\n")
	if _, err := Paths(file); err == nil {
		t.Error("expected error for a file path")
	}
}

// TestExamples checks the example programs: only the undeclared write demo
// has a finding.
func TestExamples(t *testing.T) {
	res, err := Paths(filepath.Join("..", "..", "..", "examples", "..."))
	if err != nil {
		t.Fatalf("Paths() error = %v", err)
	}
	if len(res.Findings) != 1 {
		t.Fatalf("got %d findings, want 1: %v", len(res.Findings), res.Findings)
	}
	f := res.Findings[0]
	if f.File != "github.com/kolkov/undotx/examples/undeclared_write/main.go" || f.Target != "arr[index + 1]" {
		t.Errorf("finding = %s %s", f.File, f.Target)
	}
	if res.Stats.Checked < 4 {
		t.Errorf("Checked = %d, want at least 4", res.Stats.Checked)
	}
}
