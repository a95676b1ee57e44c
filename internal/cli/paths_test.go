package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"

	"rkr/internal/cache"
	"rkr/internal/env"
	"rkr/internal/plan"
	"rkr/internal/version"
)

func TestBuildPathIndexResolvesExistingFile(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "a.txt")
	if err := os.WriteFile(target, []byte("hi"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	e := env.New(filepath.Join(dir, ".rkr"), logrus.NewEntry(logrus.New()))
	idx, err := buildPathIndex(e, dir)
	if err != nil {
		t.Fatalf("buildPathIndex: %v", err)
	}

	a, err := e.ResolveChildArtifact(dir, "a.txt")
	if err != nil {
		t.Fatalf("ResolveChildArtifact: %v", err)
	}
	path, ok := idx.PathFor(a)
	if !ok || path != target {
		t.Fatalf("got (%q, %v), want (%q, true)", path, ok, target)
	}
}

// TestMarkOutputNeededOnDeletedOutputMarksProducer exercises scenario S3: a
// build output produced by command 7 is deleted from disk before the next
// build; since its content was never cached in memory, the only way to
// regenerate it is to mark its producer OutputNeeded.
func TestMarkOutputNeededOnDeletedOutputMarksProducer(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "out.txt")
	if err := os.WriteFile(target, []byte("built"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	e := env.New(filepath.Join(dir, ".rkr"), logrus.NewEntry(logrus.New()))
	a, err := e.ResolveChildArtifact(dir, "out.txt")
	if err != nil {
		t.Fatalf("ResolveChildArtifact: %v", err)
	}
	v := version.NewFileContentVersion("7")
	if _, err := v.Fingerprint(target); err != nil {
		t.Fatalf("Fingerprint: %v", err)
	}
	if err := a.UpdateContent("7", v); err != nil {
		t.Fatalf("UpdateContent: %v", err)
	}

	idx, err := buildPathIndex(e, dir)
	if err != nil {
		t.Fatalf("buildPathIndex: %v", err)
	}

	if err := os.Remove(target); err != nil {
		t.Fatalf("Remove: %v", err)
	}

	p := plan.New(false)
	if err := markOutputNeeded(e, p, idx, nil); err != nil {
		t.Fatalf("markOutputNeeded: %v", err)
	}
	if !p.Close().MustRun(7) {
		t.Fatalf("expected producer of the deleted output to be marked OutputNeeded")
	}
}

// TestMarkOutputNeededSkipsCacheRecoverableOutput confirms a saved (blob
// cached in memory) content version is not treated as needing a rerun: it
// can be staged back in from cache instead of rerunning the producer, even
// though the on-disk content no longer matches what the trace recorded.
func TestMarkOutputNeededSkipsCacheRecoverableOutput(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "cached.txt")
	if err := os.WriteFile(target, []byte("stale on disk"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	e := env.New(filepath.Join(dir, ".rkr"), logrus.NewEntry(logrus.New()))
	a, err := e.ResolveChildArtifact(dir, "cached.txt")
	if err != nil {
		t.Fatalf("ResolveChildArtifact: %v", err)
	}
	if err := a.UpdateContent("9", version.NewFileContentVersionFromBytes("9", []byte("cached"))); err != nil {
		t.Fatalf("UpdateContent: %v", err)
	}

	idx, err := buildPathIndex(e, dir)
	if err != nil {
		t.Fatalf("buildPathIndex: %v", err)
	}

	p := plan.New(false)
	if err := markOutputNeeded(e, p, idx, nil); err != nil {
		t.Fatalf("markOutputNeeded: %v", err)
	}
	if p.Close().MustRun(9) {
		t.Fatalf("a cache-recoverable output must not force its producer to rerun")
	}
}

// TestMarkOutputNeededRecoversFromOnDiskCache exercises the on-disk half of
// S6: a content version that was never Saved() in memory (e.g. loaded from a
// trace that recorded only a digest) but whose bytes are sitting in the
// content-addressed cache must not force its producer to rerun, and must end
// up staged so a subsequent commit can restore it.
func TestMarkOutputNeededRecoversFromOnDiskCache(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "deleted.txt")
	if err := os.WriteFile(target, []byte("placeholder"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	e := env.New(filepath.Join(dir, ".rkr"), logrus.NewEntry(logrus.New()))
	a, err := e.ResolveChildArtifact(dir, "deleted.txt")
	if err != nil {
		t.Fatalf("ResolveChildArtifact: %v", err)
	}
	v := version.NewFileContentVersion("11")
	fp, err := v.Fingerprint(target)
	if err != nil {
		t.Fatalf("Fingerprint: %v", err)
	}
	if err := a.UpdateContent("11", v); err != nil {
		t.Fatalf("UpdateContent: %v", err)
	}

	store, err := cache.Open(filepath.Join(dir, "cache"), filepath.Join(dir, "cache-index.db"))
	if err != nil {
		t.Fatalf("cache.Open: %v", err)
	}
	defer store.Close()
	if err := store.Put(fp, []byte("placeholder")); err != nil {
		t.Fatalf("Put: %v", err)
	}

	idx, err := buildPathIndex(e, dir)
	if err != nil {
		t.Fatalf("buildPathIndex: %v", err)
	}
	if err := os.Remove(target); err != nil {
		t.Fatalf("Remove: %v", err)
	}

	p := plan.New(false)
	if err := markOutputNeeded(e, p, idx, store); err != nil {
		t.Fatalf("markOutputNeeded: %v", err)
	}
	if p.Close().MustRun(11) {
		t.Fatalf("a deleted output recoverable from the on-disk cache must not force its producer to rerun")
	}
	if !v.Saved() {
		t.Fatalf("expected the version to be staged with the recovered content")
	}
}
