package resolve

import (
	"os"
	"path/filepath"
	"testing"

	"rkr/internal/env"
	"rkr/internal/flags"
	"rkr/internal/ref"
)

func setupEngine(t *testing.T, dir string) (*Engine, *ref.RefResult) {
	t.Helper()
	e := env.New(filepath.Join(dir, ".rkr"), nil)
	a, err := e.ResolveChildArtifact(dir, ".")
	if err != nil {
		t.Fatal(err)
	}
	base := ref.New()
	base.ResolveOk(a)
	return New(e, 0), base
}

func TestResolveExistingFile(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "a.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	eng, base := setupEngine(t, dir)

	out := eng.Resolve("cmd", base, dir, []string{"a.txt"}, flags.AccessFlags{Read: true})
	if !out.IsOk() {
		t.Fatalf("expected resolution to succeed, got err %v", out.ErrKind())
	}
}

func TestResolveMissingWithoutCreateIsNotFound(t *testing.T) {
	dir := t.TempDir()
	eng, base := setupEngine(t, dir)

	out := eng.Resolve("cmd", base, dir, []string{"missing.txt"}, flags.AccessFlags{Read: true})
	if out.IsOk() {
		t.Fatalf("expected NotFound")
	}
	if out.ErrKind() != flags.NotFound {
		t.Fatalf("expected NotFound, got %v", out.ErrKind())
	}
}

func TestResolveExclusiveCreateRace(t *testing.T) {
	dir := t.TempDir()
	eng, base := setupEngine(t, dir)

	af := flags.AccessFlags{Write: true, Create: true, Exclusive: true}
	first := eng.Resolve("cmd1", base, dir, []string{"x"}, af)
	if !first.IsOk() {
		t.Fatalf("first exclusive create should succeed, got %v", first.ErrKind())
	}

	second := eng.Resolve("cmd2", base, dir, []string{"x"}, af)
	if second.IsOk() {
		t.Fatalf("second exclusive create must fail")
	}
	if second.ErrKind() != flags.Exists {
		t.Fatalf("expected Exists, got %v", second.ErrKind())
	}
}

// TestResolveFollowsIntermediateSymlinkedDirectory covers a path where a
// non-last component is a symlink to a real directory: the walk must follow
// it rather than treating the symlink artifact itself as the "directory" to
// descend into (which would incorrectly report NotDir).
func TestResolveFollowsIntermediateSymlinkedDirectory(t *testing.T) {
	dir := t.TempDir()
	real := filepath.Join(dir, "real")
	if err := os.Mkdir(real, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(real, "f.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	link := filepath.Join(dir, "linked")
	if err := os.Symlink(real, link); err != nil {
		t.Fatal(err)
	}
	eng, base := setupEngine(t, dir)

	out := eng.Resolve("cmd", base, dir, []string{"linked", "f.txt"}, flags.AccessFlags{Read: true})
	if !out.IsOk() {
		t.Fatalf("expected resolution through the intermediate symlinked directory to succeed, got %v", out.ErrKind())
	}
}

func TestResolveSymlinkLoop(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a")
	b := filepath.Join(dir, "b")
	if err := os.Symlink(b, a); err != nil {
		t.Fatal(err)
	}
	if err := os.Symlink(a, b); err != nil {
		t.Fatal(err)
	}
	eng, base := setupEngine(t, dir)

	out := eng.Resolve("cmd", base, dir, []string{"a"}, flags.AccessFlags{Read: true})
	if out.IsOk() {
		t.Fatalf("expected symlink loop to fail resolution")
	}
	if out.ErrKind() != flags.Loop {
		t.Fatalf("expected Loop, got %v", out.ErrKind())
	}
}
