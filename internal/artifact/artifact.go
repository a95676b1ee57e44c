// Package artifact implements the tagged artifact model of spec.md §3/§4.C:
// a per-kind object with a version history, link edges, and the
// directory-entry lookup algorithm.
package artifact

import (
	"fmt"
	"sort"

	lru "github.com/hashicorp/golang-lru"

	"rkr/internal/flags"
	"rkr/internal/version"
)

// Kind is the closed tag over artifact variants.
type Kind int

const (
	KindFile Kind = iota
	KindDir
	KindSymlink
	KindPipe
	KindSpecial
)

func (k Kind) String() string {
	switch k {
	case KindFile:
		return "File"
	case KindDir:
		return "Dir"
	case KindSymlink:
		return "Symlink"
	case KindPipe:
		return "Pipe"
	case KindSpecial:
		return "Special"
	default:
		return "Unknown"
	}
}

// LinkEdge is a (parent directory, entry name) pair recording one of an
// artifact's current link identities. An artifact may have more than one if
// it is hard-linked; spec.md treats "a set of current link edges" generally.
type LinkEdge struct {
	Parent *Artifact
	Name   string
}

// InputEdge and OutputEdge record that a command read or wrote a version,
// for the rebuild planner (internal/plan) to consume. They are appended by
// GetContent/UpdateContent and friends; the planner owns interpreting them.
type InputEdge struct {
	Command string
	Version version.Version
}

type OutputEdge struct {
	Command string
	Version version.Version
}

// Artifact is the environment-owned object every Ref eventually resolves
// to. Commands, refs, and steps hold non-owning references to it (spec.md
// §3 "Ownership").
type Artifact struct {
	id   string
	kind Kind

	metaStack    []*version.MetadataVersion
	fileStack    []*version.FileContentVersion // KindFile only
	symlinkStack []*version.SymlinkVersion      // KindSymlink only
	dirStack     []version.DirVersion           // KindDir only

	links []LinkEdge

	entryCache *lru.Cache // name -> *Artifact

	Inputs  []InputEdge
	Outputs []OutputEdge
}

// New constructs an empty artifact of the given kind, identified by id
// (typically "<device>:<inode>" or an anonymous counter, minted by
// internal/env).
func New(id string, kind Kind) *Artifact {
	a := &Artifact{id: id, kind: kind}
	if kind == KindDir {
		cache, _ := lru.New(4096)
		a.entryCache = cache
	}
	return a
}

// ArtifactID satisfies version.DirEntryTarget so directory versions can name
// their targets without importing this package.
func (a *Artifact) ArtifactID() string { return a.id }

func (a *Artifact) Kind() Kind { return a.kind }

// --- Metadata trio (spec.md §4.C) ---

// GetMetadata returns the newest metadata version and records an input
// edge attributing the read to command.
func (a *Artifact) GetMetadata(command string) (*version.MetadataVersion, error) {
	if len(a.metaStack) == 0 {
		return nil, fmt.Errorf("artifact %s has no metadata version", a.id)
	}
	v := a.metaStack[len(a.metaStack)-1]
	a.Inputs = append(a.Inputs, InputEdge{Command: command, Version: v})
	return v, nil
}

// MatchMetadata compares the newest metadata version against expected and
// reports whether they match. A mismatch is not an error; spec.md §4.I
// treats it as an observation for the planner.
func (a *Artifact) MatchMetadata(command string, expected *version.MetadataVersion) (bool, error) {
	cur, err := a.GetMetadata(command)
	if err != nil {
		return false, err
	}
	return cur.Match(expected), nil
}

// UpdateMetadata pushes a new metadata version and records an output edge.
func (a *Artifact) UpdateMetadata(command string, v *version.MetadataVersion) {
	a.metaStack = append(a.metaStack, v)
	a.Outputs = append(a.Outputs, OutputEdge{Command: command, Version: v})
}

// --- Content trio, File variant ---

func (a *Artifact) GetContent(command string) (*version.FileContentVersion, error) {
	if a.kind != KindFile {
		return nil, fmt.Errorf("GetContent: artifact %s is not a file (kind %s)", a.id, a.kind)
	}
	if len(a.fileStack) == 0 {
		return nil, fmt.Errorf("artifact %s has no content version", a.id)
	}
	v := a.fileStack[len(a.fileStack)-1]
	a.Inputs = append(a.Inputs, InputEdge{Command: command, Version: v})
	return v, nil
}

func (a *Artifact) MatchContent(command string, expected *version.FileContentVersion) (bool, error) {
	cur, err := a.GetContent(command)
	if err != nil {
		return false, err
	}
	return cur.Match(expected), nil
}

func (a *Artifact) UpdateContent(command string, v *version.FileContentVersion) error {
	if a.kind != KindFile {
		return fmt.Errorf("UpdateContent: artifact %s is not a file (kind %s)", a.id, a.kind)
	}
	a.fileStack = append(a.fileStack, v)
	a.Outputs = append(a.Outputs, OutputEdge{Command: command, Version: v})
	return nil
}

// LatestContent returns the current (newest) content version without
// recording an input edge, for use by internal/commit and internal/plan's
// check_final_state, which observe state without being "reads" the planner
// should attribute to a command.
func (a *Artifact) LatestContent() *version.FileContentVersion {
	if len(a.fileStack) == 0 {
		return nil
	}
	return a.fileStack[len(a.fileStack)-1]
}

// --- Symlink ---

func (a *Artifact) GetSymlink(command string) (*version.SymlinkVersion, error) {
	if a.kind != KindSymlink {
		return nil, fmt.Errorf("GetSymlink: artifact %s is not a symlink", a.id)
	}
	if len(a.symlinkStack) == 0 {
		return nil, fmt.Errorf("artifact %s has no symlink version", a.id)
	}
	v := a.symlinkStack[len(a.symlinkStack)-1]
	a.Inputs = append(a.Inputs, InputEdge{Command: command, Version: v})
	return v, nil
}

func (a *Artifact) UpdateSymlink(command string, v *version.SymlinkVersion) error {
	if a.kind != KindSymlink {
		return fmt.Errorf("UpdateSymlink: artifact %s is not a symlink", a.id)
	}
	a.symlinkStack = append(a.symlinkStack, v)
	a.Outputs = append(a.Outputs, OutputEdge{Command: command, Version: v})
	return nil
}

// --- Pipe ---
//
// Pipe content tracking across commands is an explicit open question
// (spec.md §9) that must not be guessed: the original warns it is "not
// tracked correctly". A pipe artifact therefore carries only a metadata
// version; GetPipeContent returns ErrUnimplemented so callers can detect
// the gap instead of silently getting wrong answers. GetContent and
// UpdateContent reject a pipe with the same not-a-file error they return
// for any non-file artifact.
var ErrUnimplemented = fmt.Errorf("rkr: capability intentionally left unimplemented (see spec.md §9 open questions)")

func (a *Artifact) GetPipeContent(command string) error {
	if a.kind != KindPipe {
		return fmt.Errorf("GetPipeContent: artifact %s is not a pipe", a.id)
	}
	return ErrUnimplemented
}

// --- Directory entries (spec.md §4.C directory-entry lookup algorithm) ---

// EnvResolver is the minimal hook into internal/env a directory artifact
// needs to resolve an entry it cannot answer definitively itself (step 3 of
// the lookup algorithm: "ask the environment to resolve dir_path/name").
type EnvResolver interface {
	ResolveChildArtifact(dirPath, name string) (*Artifact, error)
}

// PushDirVersion appends a new directory version (ExistingDir, CreatedDir,
// ListedDir, AddEntry, or RemoveEntry) to the stack.
func (a *Artifact) PushDirVersion(v version.DirVersion) error {
	if a.kind != KindDir {
		return fmt.Errorf("PushDirVersion: artifact %s is not a directory", a.id)
	}
	a.dirStack = append(a.dirStack, v)
	return nil
}

// ResolvedEntry is the outcome of GetEntry: either an artifact or a
// definite NotFound, never both.
type ResolvedEntry struct {
	Artifact *Artifact
	Err      flags.ErrorKind
}

// GetEntry implements the directory-entry lookup algorithm of spec.md §4.C:
// scan the version stack newest to oldest, consult the cache, and fall
// through to the environment only when a version says Yes but cannot name
// the artifact itself (e.g. a ListedDir that has not resolved `name` yet).
func (a *Artifact) GetEntry(command, dirPath, name string, env EnvResolver) (ResolvedEntry, error) {
	if a.kind != KindDir {
		return ResolvedEntry{}, fmt.Errorf("GetEntry: artifact %s is not a directory", a.id)
	}
	if name == "." {
		return ResolvedEntry{Artifact: a}, nil
	}

	for i := len(a.dirStack) - 1; i >= 0; i-- {
		v := a.dirStack[i]
		presence, err := v.HasEntry(dirPath, name)
		if err != nil {
			return ResolvedEntry{}, err
		}
		switch presence {
		case version.No:
			a.Inputs = append(a.Inputs, InputEdge{Command: command, Version: v})
			return ResolvedEntry{Err: flags.NotFound}, nil
		case version.Yes:
			a.Inputs = append(a.Inputs, InputEdge{Command: command, Version: v})
			if cached, ok := a.lookupCache(name); ok {
				return ResolvedEntry{Artifact: cached}, nil
			}
			if target, ok := v.GetEntry(name); ok {
				if art, ok := target.(*Artifact); ok {
					a.cacheEntry(name, art)
					return ResolvedEntry{Artifact: art}, nil
				}
			}
			if env == nil {
				return ResolvedEntry{}, fmt.Errorf("GetEntry: %s/%s is Yes but no resolver available", dirPath, name)
			}
			child, err := env.ResolveChildArtifact(dirPath, name)
			if err != nil {
				return ResolvedEntry{}, err
			}
			a.cacheEntry(name, child)
			return ResolvedEntry{Artifact: child}, nil
		case version.Maybe:
			continue
		}
	}
	return ResolvedEntry{Err: flags.NotFound}, nil
}

func (a *Artifact) lookupCache(name string) (*Artifact, bool) {
	if a.entryCache == nil {
		return nil, false
	}
	v, ok := a.entryCache.Get(name)
	if !ok {
		return nil, false
	}
	art, ok := v.(*Artifact)
	return art, ok
}

func (a *Artifact) cacheEntry(name string, art *Artifact) {
	if a.entryCache == nil {
		return
	}
	a.entryCache.Add(name, art)
}

// ApplyLink records a new AddEntry version on the directory and adds a
// link edge on the target. It is the write side of §4.C's directory
// contract ("apply_link(cmd, name, target)").
//
// Verifying the prior state of `name` as an input edge (the Open Question
// about LinkVersion/UnlinkVersion input verification, spec.md §9) is
// intentionally not attempted here.
func (a *Artifact) ApplyLink(command, name string, target *Artifact) error {
	if a.kind != KindDir {
		return fmt.Errorf("ApplyLink: artifact %s is not a directory", a.id)
	}
	v := version.NewAddEntry(command, name, target)
	if err := a.PushDirVersion(v); err != nil {
		return err
	}
	a.Outputs = append(a.Outputs, OutputEdge{Command: command, Version: v})
	if a.entryCache != nil {
		a.entryCache.Add(name, target)
	}
	target.links = append(target.links, LinkEdge{Parent: a, Name: name})
	return nil
}

// ApplyUnlink records a RemoveEntry version and evicts the name from cache.
func (a *Artifact) ApplyUnlink(command, name string) error {
	if a.kind != KindDir {
		return fmt.Errorf("ApplyUnlink: artifact %s is not a directory", a.id)
	}
	v := version.NewRemoveEntry(command, name)
	if err := a.PushDirVersion(v); err != nil {
		return err
	}
	a.Outputs = append(a.Outputs, OutputEdge{Command: command, Version: v})
	if a.entryCache != nil {
		a.entryCache.Remove(name)
	}
	return nil
}

// Links returns the artifact's current link edges in a deterministic order
// (sorted by parent id then name), for internal/commit's directories-before-
// entries walk.
func (a *Artifact) Links() []LinkEdge {
	out := make([]LinkEdge, len(a.links))
	copy(out, a.links)
	sort.Slice(out, func(i, j int) bool {
		if out[i].Parent.id != out[j].Parent.id {
			return out[i].Parent.id < out[j].Parent.id
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// CheckFinalState fingerprints the on-disk file at path and reports whether
// it matches the newest produced content version (spec.md §4.C). A pipe or
// directory artifact has no meaningful final-state check and returns a
// trivial match.
func (a *Artifact) CheckFinalState(path string) (matches bool, err error) {
	if a.kind != KindFile {
		return true, nil
	}
	latest := a.LatestContent()
	if latest == nil {
		return false, nil
	}
	onDisk, err := version.FingerprintFile(path)
	if err != nil {
		return false, err
	}
	want := latest.FingerprintValue()
	if want.IsZero() {
		// Never fingerprinted (e.g. produced purely in-memory and never
		// saved): treat as unknown, which the planner interprets as
		// OutputNeeded to be safe.
		return false, nil
	}
	return want.Equal(onDisk), nil
}

// CommitAll commits every uncommitted version on every stack, oldest first,
// per spec.md §4.C. The kind-specific stack (content/symlink target/dir
// entries) is materialized before metadata: a chmod on a file that does not
// exist yet would fail, so the bytes (or directory, or link target) have to
// land on disk first.
func (a *Artifact) CommitAll(path string) error {
	switch a.kind {
	case KindFile:
		for _, v := range a.fileStack {
			if err := v.Commit(path); err != nil {
				return err
			}
		}
	case KindSymlink:
		for _, v := range a.symlinkStack {
			if err := v.Commit(path); err != nil {
				return err
			}
		}
	case KindDir:
		for _, v := range a.dirStack {
			if c, ok := v.(interface{ Commit(string) error }); ok {
				if err := c.Commit(path); err != nil {
					return err
				}
			} else {
				v.MarkCommitted()
			}
		}
	}
	for _, v := range a.metaStack {
		if err := v.Commit(path); err != nil {
			return err
		}
	}
	return nil
}
