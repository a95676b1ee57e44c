// Package env implements the Environment of spec.md §4.D: the inode-keyed
// artifact registry and the filesystem bridge every command's references
// ultimately resolve against.
package env

import (
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"syscall"

	"github.com/pborman/uuid"
	"github.com/sirupsen/logrus"

	"rkr/internal/artifact"
	"rkr/internal/version"
)

// InodeKey is the (device, inode) pair spec.md §3 invariant 4 requires to
// key the registry: at most one artifact per on-disk inode.
type InodeKey struct {
	Device uint64
	Inode  uint64
}

// Environment owns every artifact for the lifetime of a build (spec.md
// §4.D). It is not safe for concurrent mutation: the core is single-
// threaded cooperative (spec.md §5).
type Environment struct {
	ToolDir string // e.g. .rkr, used for tmp/<n> allocation
	Log     *logrus.Entry

	byInode map[InodeKey]*artifact.Artifact
	root    *artifact.Artifact

	anonCounter int64
	tmpCounter  int64
}

// New constructs an Environment with per-build bookkeeping under toolDir
// (".rkr" or ".dodo").
func New(toolDir string, log *logrus.Entry) *Environment {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Environment{
		ToolDir: toolDir,
		Log:     log,
		byInode: make(map[InodeKey]*artifact.Artifact),
	}
}

func keyFor(info os.FileInfo) (InodeKey, bool) {
	stat, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return InodeKey{}, false
	}
	return InodeKey{Device: uint64(stat.Dev), Inode: stat.Ino}, true
}

// Root fabricates (lazily, via a stat on "/") the root directory artifact.
func (e *Environment) Root() (*artifact.Artifact, error) {
	if e.root != nil {
		return e.root, nil
	}
	a, err := e.ResolveChildArtifact("", "/")
	if err != nil {
		return nil, fmt.Errorf("fabricating root artifact: %w", err)
	}
	e.root = a
	return a, nil
}

// ResolveChildArtifact stats dirPath/name (or just name if dirPath is
// empty, used for the root special case), finds or creates the
// corresponding artifact, and returns it. This is the hook internal/
// artifact's GetEntry calls when no version can name the target directly.
func (e *Environment) ResolveChildArtifact(dirPath, name string) (*artifact.Artifact, error) {
	full := name
	if dirPath != "" {
		full = filepath.Join(dirPath, name)
	}

	info, err := os.Lstat(full)
	if err != nil {
		return nil, fmt.Errorf("resolving %s: %w", full, err)
	}

	key, ok := keyFor(info)
	if !ok {
		// Platforms without syscall.Stat_t: fall back to a fresh artifact
		// every time rather than failing outright.
		return e.newArtifactForInfo(full, info), nil
	}
	if existing, found := e.byInode[key]; found {
		return existing, nil
	}

	a := e.newArtifactForInfo(full, info)
	e.byInode[key] = a
	return a, nil
}

func (e *Environment) newArtifactForInfo(path string, info os.FileInfo) *artifact.Artifact {
	var kind artifact.Kind
	switch {
	case info.Mode()&os.ModeSymlink != 0:
		kind = artifact.KindSymlink
	case info.IsDir():
		kind = artifact.KindDir
	default:
		kind = artifact.KindFile
	}

	id := path
	if key, ok := keyFor(info); ok {
		id = fmt.Sprintf("%d:%d", key.Device, key.Inode)
	}

	a := artifact.New(id, kind)
	meta := version.NewMetadataVersion("", uint32(sysUID(info)), uint32(sysGID(info)), uint32(info.Mode().Perm()), info.ModTime().UnixNano())
	meta.MarkCommitted()
	a.UpdateMetadata("", meta)

	switch kind {
	case artifact.KindDir:
		_ = a.PushDirVersion(version.NewExistingDir())
		a.Outputs = nil // ExistingDir is baseline state, not an "output" of any command
	case artifact.KindSymlink:
		target, err := os.Readlink(path)
		if err == nil {
			sv := version.NewSymlinkVersion("", target)
			sv.MarkCommitted()
			_ = a.UpdateSymlink("", sv)
		}
	case artifact.KindFile:
		fv := version.NewFileContentVersion("")
		if _, err := fv.Fingerprint(path); err == nil {
			fv.MarkCommitted()
			_ = a.UpdateContent("", fv)
		}
	}
	return a
}

// NewAnonymousFile, NewAnonymousSymlink, NewAnonymousDir fabricate artifacts
// for anonymous refs (spec.md §3 Reference variants), stamped with
// manufactured metadata reflecting the given effective uid/gid and mode as
// modified by umask.
func (e *Environment) NewAnonymousFile(creatorCmd string, euid, egid, mode uint32, umask uint32) *artifact.Artifact {
	id := fmt.Sprintf("anon-file-%d", atomic.AddInt64(&e.anonCounter, 1))
	a := artifact.New(id, artifact.KindFile)
	a.UpdateMetadata(creatorCmd, version.NewMetadataVersion(creatorCmd, euid, egid, mode&^umask, 0))
	_ = a.UpdateContent(creatorCmd, version.NewFileContentVersionFromBytes(creatorCmd, nil))
	return a
}

func (e *Environment) NewAnonymousSymlink(creatorCmd, target string, euid, egid uint32) *artifact.Artifact {
	id := fmt.Sprintf("anon-symlink-%d", atomic.AddInt64(&e.anonCounter, 1))
	a := artifact.New(id, artifact.KindSymlink)
	a.UpdateMetadata(creatorCmd, version.NewMetadataVersion(creatorCmd, euid, egid, 0o777, 0))
	_ = a.UpdateSymlink(creatorCmd, version.NewSymlinkVersion(creatorCmd, target))
	return a
}

func (e *Environment) NewAnonymousDir(creatorCmd string, euid, egid, mode uint32, umask uint32) *artifact.Artifact {
	id := fmt.Sprintf("anon-dir-%d", atomic.AddInt64(&e.anonCounter, 1))
	a := artifact.New(id, artifact.KindDir)
	a.UpdateMetadata(creatorCmd, version.NewMetadataVersion(creatorCmd, euid, egid, mode&^umask, 0))
	_ = a.PushDirVersion(version.NewCreatedDir(creatorCmd))
	return a
}

func (e *Environment) NewPipe(creatorCmd string) (read, write *artifact.Artifact) {
	id := atomic.AddInt64(&e.anonCounter, 1)
	p := artifact.New(fmt.Sprintf("pipe-%d", id), artifact.KindPipe)
	p.UpdateMetadata(creatorCmd, version.NewMetadataVersion(creatorCmd, 0, 0, 0o600, 0))
	return p, p
}

// AllocTempPath allocates a unique path under ToolDir/tmp for atomic
// writes, per spec.md §6 (".rkr/tmp/<n>").
func (e *Environment) AllocTempPath() string {
	n := atomic.AddInt64(&e.tmpCounter, 1)
	return filepath.Join(e.ToolDir, "tmp", fmt.Sprintf("%d-%s", n, uuid.New()))
}

// Artifacts returns every artifact registered by inode (those found on disk
// through ResolveChildArtifact) in a deterministic order (sorted by inode
// key), for internal/commit's final walk. Artifacts made by NewAnonymousFile,
// NewAnonymousSymlink, NewAnonymousDir and NewPipe are not registered and are
// not included.
func (e *Environment) Artifacts() []*artifact.Artifact {
	keys := make([]InodeKey, 0, len(e.byInode))
	for k := range e.byInode {
		keys = append(keys, k)
	}
	sortInodeKeys(keys)
	out := make([]*artifact.Artifact, 0, len(keys))
	for _, k := range keys {
		out = append(out, e.byInode[k])
	}
	return out
}

func sortInodeKeys(keys []InodeKey) {
	for i := 1; i < len(keys); i++ {
		for j := i; j > 0; j-- {
			a, b := keys[j-1], keys[j]
			if a.Device < b.Device || (a.Device == b.Device && a.Inode <= b.Inode) {
				break
			}
			keys[j-1], keys[j] = keys[j], keys[j-1]
		}
	}
}

func sysUID(info os.FileInfo) uint32 {
	if stat, ok := info.Sys().(*syscall.Stat_t); ok {
		return stat.Uid
	}
	return uint32(os.Getuid())
}

func sysGID(info os.FileInfo) uint32 {
	if stat, ok := info.Sys().(*syscall.Stat_t); ok {
		return stat.Gid
	}
	return uint32(os.Getgid())
}
