package version

import (
	"os"
	"path/filepath"
	"testing"
)

func TestMetadataVersionMatch(t *testing.T) {
	a := NewMetadataVersion("c1", 1, 1, 0o644, 100)
	b := NewMetadataVersion("c2", 1, 1, 0o644, 200)
	if !a.Match(b) {
		t.Fatalf("expected match ignoring mtime/creator")
	}
	c := NewMetadataVersion("c3", 1, 1, 0o600, 100)
	if a.Match(c) {
		t.Fatalf("expected mismatch on differing mode")
	}
}

func TestFileContentVersionMatchRequiresBothFingerprinted(t *testing.T) {
	a := NewFileContentVersion("c1")
	b := NewFileContentVersion("c2")
	if a.Match(b) {
		t.Fatalf("unfingerprinted versions must never match (forces rerun)")
	}
}

func TestFileContentVersionSaveRestore(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	if err := os.WriteFile(src, []byte("hello"), 0o644); err != nil {
		t.Fatal(err)
	}
	v := NewFileContentVersion("c1")
	if _, err := v.Fingerprint(src); err != nil {
		t.Fatal(err)
	}
	if err := v.Save(src); err != nil {
		t.Fatal(err)
	}
	if !v.Saved() {
		t.Fatalf("expected Saved() true after Save")
	}

	dst := filepath.Join(dir, "dst")
	if err := v.Restore(dst); err != nil {
		t.Fatal(err)
	}
	got, err := os.ReadFile(dst)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "hello" {
		t.Fatalf("got %q, want hello", got)
	}
}

func TestFileContentVersionMatchSameContent(t *testing.T) {
	a := NewFileContentVersionFromBytes("c1", []byte("x"))
	b := NewFileContentVersionFromBytes("c2", []byte("x"))
	if !a.Match(b) {
		t.Fatalf("expected match for identical content")
	}
	c := NewFileContentVersionFromBytes("c3", []byte("y"))
	if a.Match(c) {
		t.Fatalf("expected mismatch for differing content")
	}
}

func TestFileContentVersionStageSetsSavedAndFingerprint(t *testing.T) {
	v := NewFileContentVersion("c1")
	if v.Saved() {
		t.Fatalf("expected an uncomputed version to be unsaved")
	}
	v.Stage([]byte("hello"))
	if !v.Saved() {
		t.Fatalf("expected Stage to mark the version saved")
	}
	content, ok := v.Content()
	if !ok || string(content) != "hello" {
		t.Fatalf("got (%q, %v), want (\"hello\", true)", content, ok)
	}
	if v.FingerprintValue().IsZero() {
		t.Fatalf("expected Stage to populate the fingerprint when none was set")
	}
}

func TestFileContentVersionFromFingerprintMatchesByDigestOnly(t *testing.T) {
	fp := NewFileContentVersionFromBytes("c1", []byte("hello")).FingerprintValue()
	a := NewFileContentVersionFromFingerprint("c2", fp)
	b := NewFileContentVersionFromBytes("c3", []byte("hello"))
	if !a.Match(b) {
		t.Fatalf("expected a digest-only version to match content with the same fingerprint")
	}
	if _, ok := a.Content(); ok {
		t.Fatalf("a digest-only version must not report content until Stage supplies it")
	}
}

func TestDirVersionStackWriteLastWins(t *testing.T) {
	// Simulates §4.C's scan-newest-to-oldest rule by hand: the caller is
	// responsible for iterating; this test only verifies each variant's
	// own HasEntry contract.
	add := NewAddEntry("c1", "foo", fakeTarget("a1"))
	if p, _ := add.HasEntry("/d", "foo"); p != Yes {
		t.Fatalf("AddEntry(foo) must answer Yes for foo")
	}
	if p, _ := add.HasEntry("/d", "bar"); p != Maybe {
		t.Fatalf("AddEntry(foo) must answer Maybe for other names")
	}

	rm := NewRemoveEntry("c2", "foo")
	if p, _ := rm.HasEntry("/d", "foo"); p != No {
		t.Fatalf("RemoveEntry(foo) must answer No for foo")
	}

	listed := NewListedDir("c0", []string{"foo", "baz"})
	if p, _ := listed.HasEntry("/d", "baz"); p != Yes {
		t.Fatalf("ListedDir must answer Yes for a listed name")
	}
	if p, _ := listed.HasEntry("/d", "missing"); p != No {
		t.Fatalf("ListedDir is a full listing: must answer No definitively")
	}
}

type fakeTarget string

func (f fakeTarget) ArtifactID() string { return string(f) }
