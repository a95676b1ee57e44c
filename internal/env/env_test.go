package env

import (
	"os"
	"path/filepath"
	"testing"

	"rkr/internal/artifact"
)

func TestResolveChildArtifactCachesByInode(t *testing.T) {
	dir := t.TempDir()
	filePath := filepath.Join(dir, "a.txt")
	if err := os.WriteFile(filePath, []byte("hi"), 0o644); err != nil {
		t.Fatal(err)
	}

	e := New(filepath.Join(dir, ".rkr"), nil)
	a1, err := e.ResolveChildArtifact(dir, "a.txt")
	if err != nil {
		t.Fatal(err)
	}
	a2, err := e.ResolveChildArtifact(dir, "a.txt")
	if err != nil {
		t.Fatal(err)
	}
	if a1 != a2 {
		t.Fatalf("expected same artifact instance for the same inode")
	}
	if a1.Kind() != artifact.KindFile {
		t.Fatalf("expected file kind, got %v", a1.Kind())
	}
}

func TestAllocTempPathIsUnique(t *testing.T) {
	e := New(".rkr", nil)
	p1 := e.AllocTempPath()
	p2 := e.AllocTempPath()
	if p1 == p2 {
		t.Fatalf("expected distinct temp paths")
	}
}

func TestNewAnonymousFileHasEmptyContent(t *testing.T) {
	e := New(".rkr", nil)
	a := e.NewAnonymousFile("cmd1", 1000, 1000, 0o644, 0o022)
	c := a.LatestContent()
	if c == nil {
		t.Fatalf("expected an initial content version")
	}
	if content, ok := c.Content(); !ok || len(content) != 0 {
		t.Fatalf("expected empty saved content, got %q (saved=%v)", content, ok)
	}
}
