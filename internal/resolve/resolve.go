// Package resolve implements the path resolution algorithm of spec.md §4.F:
// an iterative walk over path components honoring uncommitted in-memory
// modifications, create/exclusive/truncate/nofollow semantics, and the
// symlink-chain loop limit.
package resolve

import (
	"fmt"

	"golang.org/x/sync/singleflight"

	"rkr/internal/artifact"
	"rkr/internal/env"
	"rkr/internal/flags"
	"rkr/internal/ref"
	"rkr/internal/version"
)

// DefaultSymlinkLimit is the default loop guard named in spec.md §9.
const DefaultSymlinkLimit = 40

// Engine resolves Path references against an Environment.
type Engine struct {
	Env          *env.Environment
	SymlinkLimit int

	group singleflight.Group
}

// New constructs a resolution engine with the given symlink limit; zero
// means DefaultSymlinkLimit.
func New(environment *env.Environment, symlinkLimit int) *Engine {
	if symlinkLimit <= 0 {
		symlinkLimit = DefaultSymlinkLimit
	}
	return &Engine{Env: environment, SymlinkLimit: symlinkLimit}
}

// parentOf gives a directory artifact for ".." without requiring
// internal/artifact to track parent pointers itself (an artifact may have
// several link edges, i.e. several "parents"; the resolver picks the first
// in the artifact's canonical Links() order, matching a single hard-linked
// path's actual parent in the overwhelmingly common case).
func parentOf(dir *artifact.Artifact) *artifact.Artifact {
	links := dir.Links()
	if len(links) == 0 {
		return dir // root has no parent; ".." stays put per spec.md §4.F step 2
	}
	return links[0].Parent
}

// Resolve performs the walk of spec.md §4.F and returns a fully resolved
// RefResult. command identifies the resolving command for edge attribution.
func (e *Engine) Resolve(command string, base *ref.RefResult, dirPath string, path []string, af flags.AccessFlags) *ref.RefResult {
	key := fmt.Sprintf("%p|%s|%v|%+v", base, dirPath, path, af)
	v, _, _ := e.group.Do(key, func() (interface{}, error) {
		return e.resolveUncached(command, base, dirPath, path, af), nil
	})
	return v.(*ref.RefResult)
}

func (e *Engine) resolveUncached(command string, base *ref.RefResult, dirPath string, path []string, af flags.AccessFlags) *ref.RefResult {
	out := ref.New()

	if base == nil || !base.IsOk() {
		out.ResolveErr(flags.Invalid)
		return out
	}
	cur := base.Artifact()
	curPath := dirPath
	if cur.Kind() != artifact.KindDir {
		out.ResolveErr(flags.NotDir)
		return out
	}

	symlinkHops := 0

	for i, comp := range path {
		last := i == len(path)-1

		switch comp {
		case ".":
			continue
		case "..":
			cur = parentOf(cur)
			continue
		}

		res, err := cur.GetEntry(command, curPath, comp, e.Env)
		if err != nil {
			out.ResolveErr(flags.Other)
			return out
		}

		if res.Artifact == nil {
			if last && af.Create {
				created, createErr := e.createLast(command, cur, curPath, comp, af)
				if createErr != flags.Ok {
					out.ResolveErr(createErr)
					return out
				}
				cur = created
				break
			}
			out.ResolveErr(res.Err)
			return out
		}

		if last && af.Create && af.Exclusive {
			out.ResolveErr(flags.Exists)
			return out
		}

		cur = res.Artifact
		curPath = joinPath(curPath, comp)

		if cur.Kind() == artifact.KindSymlink && (!last || !af.NoFollow) {
			target, followErr := e.followSymlink(command, cur, curPath, &symlinkHops)
			if followErr != flags.Ok {
				out.ResolveErr(followErr)
				return out
			}
			cur = target
		}

		if !last && cur.Kind() != artifact.KindDir {
			out.ResolveErr(flags.NotDir)
			return out
		}
	}

	if af.Truncate && cur.Kind() == artifact.KindFile {
		if err := cur.UpdateContent(command, version.NewFileContentVersionFromBytes(command, nil)); err != nil {
			out.ResolveErr(flags.Invalid)
			return out
		}
	}

	out.ResolveOk(cur)
	return out
}

// createLast creates a new File (or Dir, if af.Directory) artifact for the
// final missing path component and links it into parent, per spec.md §4.F
// step 3. Permission enforcement on create is an explicit open question
// (spec.md §9) and is not attempted: af.Mode is recorded on the created
// artifact's metadata but never checked against anything.
func (e *Engine) createLast(command string, parent *artifact.Artifact, dirPath, name string, af flags.AccessFlags) (*artifact.Artifact, flags.ErrorKind) {
	var created *artifact.Artifact
	if af.Directory {
		created = e.Env.NewAnonymousDir(command, 0, 0, af.Mode, 0)
	} else {
		created = e.Env.NewAnonymousFile(command, 0, 0, af.Mode, 0)
	}
	if err := parent.ApplyLink(command, name, created); err != nil {
		return nil, flags.Invalid
	}
	return created, flags.Ok
}

// followSymlink resolves a symlink's target relative to its own parent
// directory, per spec.md §4.F step 4, enforcing the loop limit.
func (e *Engine) followSymlink(command string, link *artifact.Artifact, linkPath string, hops *int) (*artifact.Artifact, flags.ErrorKind) {
	*hops++
	if *hops > e.SymlinkLimit {
		return nil, flags.Loop
	}

	sv, err := link.GetSymlink(command)
	if err != nil {
		return nil, flags.Invalid
	}

	parent := parentOf(link)
	parentResult := ref.New()
	parentResult.ResolveOk(parent)

	components, absolute := splitSymlinkTarget(sv.Target)
	base := parentResult
	startPath := parentDirPath(linkPath)
	if absolute {
		root, rootErr := e.Env.Root()
		if rootErr != nil {
			return nil, flags.Invalid
		}
		rootResult := ref.New()
		rootResult.ResolveOk(root)
		base = rootResult
		startPath = "/"
	}

	resolved := e.resolveWithHops(command, base, startPath, components, flags.AccessFlags{Read: true}, hops)
	if !resolved.IsOk() {
		return nil, resolved.ErrKind()
	}
	return resolved.Artifact(), flags.Ok
}

// resolveWithHops is Resolve's inner walk shared by symlink-chain following
// so the hop counter threads through nested symlink targets.
func (e *Engine) resolveWithHops(command string, base *ref.RefResult, dirPath string, path []string, af flags.AccessFlags, hops *int) *ref.RefResult {
	out := ref.New()
	cur := base.Artifact()
	curPath := dirPath

	for i, comp := range path {
		last := i == len(path)-1
		switch comp {
		case ".":
			continue
		case "..":
			cur = parentOf(cur)
			continue
		}
		res, err := cur.GetEntry(command, curPath, comp, e.Env)
		if err != nil {
			out.ResolveErr(flags.Other)
			return out
		}
		if res.Artifact == nil {
			out.ResolveErr(res.Err)
			return out
		}
		cur = res.Artifact
		curPath = joinPath(curPath, comp)

		if cur.Kind() == artifact.KindSymlink && (!last || !af.NoFollow) {
			target, followErr := e.followSymlink(command, cur, curPath, hops)
			if followErr != flags.Ok {
				out.ResolveErr(followErr)
				return out
			}
			cur = target
		}
	}
	out.ResolveOk(cur)
	return out
}

func joinPath(dir, name string) string {
	if dir == "" || dir == "/" {
		return "/" + name
	}
	return dir + "/" + name
}

func parentDirPath(path string) string {
	idx := -1
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			idx = i
			break
		}
	}
	if idx <= 0 {
		return "/"
	}
	return path[:idx]
}

func splitSymlinkTarget(target string) (components []string, absolute bool) {
	if len(target) == 0 {
		return nil, false
	}
	absolute = target[0] == '/'
	start := 0
	if absolute {
		start = 1
	}
	var cur []byte
	for i := start; i < len(target); i++ {
		if target[i] == '/' {
			if len(cur) > 0 {
				components = append(components, string(cur))
				cur = nil
			}
			continue
		}
		cur = append(cur, target[i])
	}
	if len(cur) > 0 {
		components = append(components, string(cur))
	}
	return components, absolute
}
