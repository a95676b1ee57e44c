package commit

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"

	"rkr/internal/artifact"
	"rkr/internal/env"
	"rkr/internal/version"
)

type staticPaths map[*artifact.Artifact]string

func (s staticPaths) PathFor(a *artifact.Artifact) (string, bool) {
	p, ok := s[a]
	return p, ok
}

func newTestEnv(t *testing.T, tmp string) *env.Environment {
	t.Helper()
	return env.New(filepath.Join(tmp, ".rkr"), logrus.NewEntry(logrus.New()))
}

func TestEngineCommitWritesDirectoriesBeforeFiles(t *testing.T) {
	tmp := t.TempDir()
	e := newTestEnv(t, tmp)

	dirPath := filepath.Join(tmp, "out")
	if err := os.Mkdir(dirPath, 0o755); err != nil {
		t.Fatalf("seeding dir: %v", err)
	}
	dirArt, err := e.ResolveChildArtifact("", dirPath)
	if err != nil {
		t.Fatalf("resolving seeded dir: %v", err)
	}

	filePath := filepath.Join(dirPath, "result.txt")
	fileArt := e.NewAnonymousFile("cmd1", 0, 0, 0o644, 0)
	if err := fileArt.UpdateContent("cmd1", version.NewFileContentVersionFromBytes("cmd1", []byte("hello"))); err != nil {
		t.Fatalf("UpdateContent: %v", err)
	}
	if err := dirArt.ApplyLink("cmd1", "result.txt", fileArt); err != nil {
		t.Fatalf("ApplyLink: %v", err)
	}

	eng := New(e)
	paths := staticPaths{dirArt: dirPath, fileArt: filePath}
	if err := eng.Commit(paths, nil); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	content, err := os.ReadFile(filePath)
	if err != nil {
		t.Fatalf("reading committed file: %v", err)
	}
	if string(content) != "hello" {
		t.Fatalf("got %q, want %q", content, "hello")
	}
}

func TestEngineCommitAppliesDeferredUnlinks(t *testing.T) {
	tmp := t.TempDir()
	e := newTestEnv(t, tmp)
	stale := filepath.Join(tmp, "stale.txt")
	if err := os.WriteFile(stale, []byte("old"), 0o644); err != nil {
		t.Fatalf("seeding stale file: %v", err)
	}

	eng := New(e)
	if err := eng.Commit(staticPaths{}, []string{stale}); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Fatalf("expected stale file to be removed, stat err = %v", err)
	}
}

func TestCheckAllOverRealEnvironmentArtifact(t *testing.T) {
	tmp := t.TempDir()
	filePath := filepath.Join(tmp, "result.txt")
	if err := os.WriteFile(filePath, []byte("original"), 0o644); err != nil {
		t.Fatalf("seeding file: %v", err)
	}

	e := newTestEnv(t, tmp)
	a, err := e.ResolveChildArtifact("", filePath)
	if err != nil {
		t.Fatalf("ResolveChildArtifact: %v", err)
	}

	eng := New(e)
	needs, err := eng.CheckAll(staticPaths{a: filePath})
	if err != nil {
		t.Fatalf("CheckAll: %v", err)
	}
	if len(needs) != 0 {
		t.Fatalf("expected matching content to report clean, got %v", needs)
	}

	if err := os.WriteFile(filePath, []byte("modified"), 0o644); err != nil {
		t.Fatalf("modifying file: %v", err)
	}
	needs, err = eng.CheckAll(staticPaths{a: filePath})
	if err != nil {
		t.Fatalf("CheckAll: %v", err)
	}
	if len(needs) != 1 {
		t.Fatalf("expected the modified file to be flagged, got %v", needs)
	}
}

func TestCheckAllFlagsMissingFile(t *testing.T) {
	tmp := t.TempDir()
	filePath := filepath.Join(tmp, "result.txt")
	if err := os.WriteFile(filePath, []byte("original"), 0o644); err != nil {
		t.Fatalf("seeding file: %v", err)
	}
	e := newTestEnv(t, tmp)
	a, err := e.ResolveChildArtifact("", filePath)
	if err != nil {
		t.Fatalf("ResolveChildArtifact: %v", err)
	}
	if err := os.Remove(filePath); err != nil {
		t.Fatalf("removing file: %v", err)
	}

	eng := New(e)
	needs, err := eng.CheckAll(staticPaths{a: filePath})
	if err != nil {
		t.Fatalf("CheckAll: %v", err)
	}
	if len(needs) != 1 {
		t.Fatalf("expected missing file to be flagged, got %v", needs)
	}
}
