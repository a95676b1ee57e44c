// Package version implements the closed sum type of artifact version
// variants described in spec.md §3/§4.B: metadata, file content, symlink,
// and partial-directory versions.
//
// Version polymorphism is modeled as a closed interface with a fixed,
// unexported marker method rather than a deep virtual hierarchy, per the
// design note in spec.md §9.
package version

import (
	"fmt"
	"os"
	"path/filepath"
)

// DirEntryTarget is the minimal handle a directory version needs to name the
// artifact an entry points at, without internal/version importing
// internal/artifact (which itself depends on internal/version for its
// content stacks).
type DirEntryTarget interface {
	ArtifactID() string
}

// Version is implemented by every variant in this package. Creator is a
// weak reference (by command ID string) to the command that produced the
// version, per spec.md §3 ("creator command: weak reference").
type Version interface {
	Creator() string
	Committed() bool
	MarkCommitted()
	isVersion()
}

type base struct {
	creatorCmd string
	committed  bool
}

func (b *base) Creator() string    { return b.creatorCmd }
func (b *base) Committed() bool    { return b.committed }
func (b *base) MarkCommitted()     { b.committed = true }
func (b *base) isVersion()         {}

// MetadataVersion captures owner/group/mode/timestamps. Metadata versions
// are cheap enough to always carry in full (spec.md §4.B), so Save/Restore
// are no-ops: the struct itself is the saved form.
type MetadataVersion struct {
	base
	UID, GID uint32
	Mode     uint32
	MTime    int64
}

// NewMetadataVersion constructs a metadata version attributed to creatorCmd.
func NewMetadataVersion(creatorCmd string, uid, gid, mode uint32, mtime int64) *MetadataVersion {
	return &MetadataVersion{base: base{creatorCmd: creatorCmd}, UID: uid, GID: gid, Mode: mode, MTime: mtime}
}

// Match compares (uid, gid, mode) triples, per spec.md §4.B. mtime is
// intentionally excluded: two metadata versions with the same permission
// bits under different creators must still compare equal for predicate
// evaluation.
func (m *MetadataVersion) Match(other *MetadataVersion) bool {
	if other == nil {
		return false
	}
	return m.UID == other.UID && m.GID == other.GID && m.Mode == other.Mode
}

// Commit applies the metadata to disk. Idempotent: a second call with the
// same bits is a no-op chmod, and MarkCommitted short-circuits once set.
// Ownership (UID/GID) is not applied.
func (m *MetadataVersion) Commit(path string) error {
	if m.Committed() {
		return nil
	}
	if err := os.Chmod(path, os.FileMode(m.Mode&0o7777)); err != nil {
		return fmt.Errorf("committing metadata for %s: %w", path, err)
	}
	m.MarkCommitted()
	return nil
}

// FileContentVersion pairs a content fingerprint with an optional cached
// blob, per spec.md §3.
type FileContentVersion struct {
	base
	fp      Fingerprint
	blob    []byte
	hasBlob bool
}

// NewFileContentVersion constructs an uncomputed file content version; call
// Fingerprint to populate the digest from disk.
func NewFileContentVersion(creatorCmd string) *FileContentVersion {
	return &FileContentVersion{base: base{creatorCmd: creatorCmd}}
}

// NewFileContentVersionFromBytes constructs a version whose content is
// already known in memory (e.g. a freshly written empty file from a
// truncate), computing its fingerprint eagerly.
func NewFileContentVersionFromBytes(creatorCmd string, content []byte) *FileContentVersion {
	fp := fingerprintBytes(content)
	return &FileContentVersion{base: base{creatorCmd: creatorCmd}, fp: fp, blob: content, hasBlob: true}
}

// NewFileContentVersionFromFingerprint constructs a version that only knows
// its digest, not its content (e.g. a MatchContent step replayed from a
// persisted trace that recorded a digest rather than an inline blob). Match
// still works since it compares fingerprints; Restore does not, until
// Stage supplies the bytes.
func NewFileContentVersionFromFingerprint(creatorCmd string, fp Fingerprint) *FileContentVersion {
	return &FileContentVersion{base: base{creatorCmd: creatorCmd}, fp: fp}
}

// Fingerprint computes the content digest from path, idempotently: a second
// call returns the cached result without rehashing.
func (f *FileContentVersion) Fingerprint(path string) (Fingerprint, error) {
	if !f.fp.IsZero() {
		return f.fp, nil
	}
	fp, err := FingerprintFile(path)
	if err != nil {
		return Fingerprint{}, err
	}
	f.fp = fp
	return fp, nil
}

// FingerprintValue returns the currently known fingerprint without touching
// disk; it is the zero value until Fingerprint or the *FromBytes
// constructor has run.
func (f *FileContentVersion) FingerprintValue() Fingerprint { return f.fp }

// Saved reports whether a blob is cached in memory, which is what the
// planner's caching policy (spec.md §4.I) consults to suppress an
// InputMayChange edge.
func (f *FileContentVersion) Saved() bool { return f.hasBlob }

// Save reads path into the in-memory blob, so a later Restore does not need
// the producer to have run.
func (f *FileContentVersion) Save(path string) error {
	content, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("saving content of %s: %w", path, err)
	}
	f.Stage(content)
	return nil
}

// Stage sets the in-memory blob directly from content already held by a
// caller (e.g. internal/cache's Get), rather than reading it off disk. Used
// to recover a version whose blob was never held in this process but is
// available from the content-addressed cache, without needing its producer
// to rerun (spec.md §4.I "stage the cached value in").
func (f *FileContentVersion) Stage(content []byte) {
	f.blob = content
	f.hasBlob = true
	if f.fp.IsZero() {
		f.fp = fingerprintBytes(content)
	}
}

// Content returns the in-memory blob and whether one is held, for a caller
// (internal/cache's Put) that needs the raw bytes rather than just a
// has-blob signal.
func (f *FileContentVersion) Content() ([]byte, bool) { return f.blob, f.hasBlob }

// Restore writes the saved blob to path atomically. It is an error to call
// Restore on a version with no saved blob.
func (f *FileContentVersion) Restore(path string) error {
	if !f.hasBlob {
		return fmt.Errorf("restoring %s: no saved content for this version", path)
	}
	return atomicWrite(path, f.blob, 0o644)
}

// Match compares saved fingerprints only; if either side has none, Match
// always returns false, forcing a rerun (spec.md §4.B).
func (f *FileContentVersion) Match(other *FileContentVersion) bool {
	if other == nil {
		return false
	}
	if f.fp.IsZero() || other.fp.IsZero() {
		return false
	}
	return f.fp.Equal(other.fp)
}

// Commit materializes the version to disk. If a blob is held it is
// restored; otherwise the version is assumed to already be on disk (it was
// produced there directly by a real execution) and commit only marks it.
func (f *FileContentVersion) Commit(path string) error {
	if f.Committed() {
		return nil
	}
	if f.hasBlob {
		if err := f.Restore(path); err != nil {
			return err
		}
	}
	f.MarkCommitted()
	return nil
}

// SymlinkVersion captures a symlink's target path.
type SymlinkVersion struct {
	base
	Target string
}

func NewSymlinkVersion(creatorCmd, target string) *SymlinkVersion {
	return &SymlinkVersion{base: base{creatorCmd: creatorCmd}, Target: target}
}

func (s *SymlinkVersion) Match(other *SymlinkVersion) bool {
	return other != nil && s.Target == other.Target
}

func (s *SymlinkVersion) Commit(path string) error {
	if s.Committed() {
		return nil
	}
	_ = os.Remove(path)
	if err := os.Symlink(s.Target, path); err != nil {
		return fmt.Errorf("committing symlink %s -> %s: %w", path, s.Target, err)
	}
	s.MarkCommitted()
	return nil
}

// EntryPresence is the three-valued answer a directory version gives to
// HasEntry: a definite presence/absence, or "ask the next-older version".
type EntryPresence int

const (
	Maybe EntryPresence = iota
	Yes
	No
)

// DirVersion is the sum type over directory version variants: ExistingDir,
// CreatedDir, ListedDir, AddEntry, RemoveEntry.
type DirVersion interface {
	Version
	// HasEntry answers whether `name` exists according to this version
	// alone. ExistingDir never answers Maybe: it is the baseline and always
	// consults the filesystem.
	HasEntry(dirPath, name string) (EntryPresence, error)
	// GetEntry returns the target of `name` if this version records one
	// directly. Only AddEntry records targets; ListedDir and ExistingDir
	// record names only, so their GetEntry always returns false.
	GetEntry(name string) (DirEntryTarget, bool)
}

// ExistingDir is a lazy view of an on-disk directory: the baseline at the
// bottom of every directory's version stack.
type ExistingDir struct{ base }

func NewExistingDir() *ExistingDir { return &ExistingDir{} }

func (d *ExistingDir) HasEntry(dirPath, name string) (EntryPresence, error) {
	_, err := os.Lstat(filepath.Join(dirPath, name))
	if err == nil {
		return Yes, nil
	}
	if os.IsNotExist(err) {
		return No, nil
	}
	return No, fmt.Errorf("stat %s/%s: %w", dirPath, name, err)
}

func (d *ExistingDir) GetEntry(name string) (DirEntryTarget, bool) { return nil, false }

// CreatedDir is an empty directory created by the build; it definitively
// answers No for every name until entries are added via later AddEntry
// versions.
type CreatedDir struct{ base }

func NewCreatedDir(creatorCmd string) *CreatedDir {
	return &CreatedDir{base: base{creatorCmd: creatorCmd}}
}

func (d *CreatedDir) HasEntry(dirPath, name string) (EntryPresence, error) { return No, nil }
func (d *CreatedDir) GetEntry(name string) (DirEntryTarget, bool)          { return nil, false }

func (d *CreatedDir) Commit(path string) error {
	if d.Committed() {
		return nil
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return fmt.Errorf("committing created dir %s: %w", path, err)
	}
	d.MarkCommitted()
	return nil
}

// ListedDir is a full, explicit snapshot of a directory's entry names.
type ListedDir struct {
	base
	Entries map[string]struct{}
}

func NewListedDir(creatorCmd string, names []string) *ListedDir {
	m := make(map[string]struct{}, len(names))
	for _, n := range names {
		m[n] = struct{}{}
	}
	return &ListedDir{base: base{creatorCmd: creatorCmd}, Entries: m}
}

func (d *ListedDir) HasEntry(dirPath, name string) (EntryPresence, error) {
	if _, ok := d.Entries[name]; ok {
		return Yes, nil
	}
	return No, nil
}

func (d *ListedDir) GetEntry(name string) (DirEntryTarget, bool) { return nil, false }

// AddEntry is a partial version recording that `name` now points at target.
type AddEntry struct {
	base
	Name   string
	Target DirEntryTarget
}

func NewAddEntry(creatorCmd, name string, target DirEntryTarget) *AddEntry {
	return &AddEntry{base: base{creatorCmd: creatorCmd}, Name: name, Target: target}
}

func (d *AddEntry) HasEntry(dirPath, name string) (EntryPresence, error) {
	if name == d.Name {
		return Yes, nil
	}
	return Maybe, nil
}

func (d *AddEntry) GetEntry(name string) (DirEntryTarget, bool) {
	if name == d.Name {
		return d.Target, true
	}
	return nil, false
}

// RemoveEntry is a partial version recording that `name` has been unlinked.
type RemoveEntry struct {
	base
	Name string
}

func NewRemoveEntry(creatorCmd, name string) *RemoveEntry {
	return &RemoveEntry{base: base{creatorCmd: creatorCmd}, Name: name}
}

func (d *RemoveEntry) HasEntry(dirPath, name string) (EntryPresence, error) {
	if name == d.Name {
		return No, nil
	}
	return Maybe, nil
}

func (d *RemoveEntry) GetEntry(name string) (DirEntryTarget, bool) { return nil, false }

func fingerprintBytes(content []byte) Fingerprint {
	h := blake3Sum(content)
	return Fingerprint{Digest: h, Size: int64(len(content))}
}

func atomicWrite(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	base := filepath.Base(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, base+".tmp.*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() {
		_ = os.Remove(tmpName)
	}()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Chmod(perm); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
