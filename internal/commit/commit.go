// Package commit implements the commit engine of spec.md §4.J: reconciling
// the in-memory artifact state built up by a build to disk, in dependency
// order (directories before the entries placed in them), with unlinks
// deferred until the artifacts that replace them are in place.
package commit

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"rkr/internal/artifact"
	"rkr/internal/env"
)

// PathResolver maps an artifact to the path it should be committed at. The
// environment does not track paths itself (an artifact may have several
// link edges); the caller supplies the mapping built during the build
// (typically the root-relative path the Resolve walk last produced).
type PathResolver interface {
	PathFor(a *artifact.Artifact) (string, bool)
}

// Engine commits an Environment's artifacts to disk.
type Engine struct {
	Env *env.Environment
}

func New(environment *env.Environment) *Engine {
	return &Engine{Env: environment}
}

// Commit walks every known artifact and commits directories before the
// files/symlinks placed inside them (spec.md §4.J "directories before
// entries"), then applies deferred unlinks last.
func (e *Engine) Commit(paths PathResolver, unlinks []string) error {
	dirs, others := e.partitionByKind(paths)

	for _, item := range dirs {
		if err := item.artifact.CommitAll(item.path); err != nil {
			return fmt.Errorf("committing directory %s: %w", item.path, err)
		}
	}
	for _, item := range others {
		if err := EnsureParentDirs(item.path); err != nil {
			return err
		}
		if err := item.artifact.CommitAll(item.path); err != nil {
			return fmt.Errorf("committing %s: %w", item.path, err)
		}
	}

	for _, u := range unlinks {
		if err := os.Remove(u); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("applying deferred unlink of %s: %w", u, err)
		}
	}
	return nil
}

type pathedArtifact struct {
	artifact *artifact.Artifact
	path     string
}

// partitionByKind splits every resolvable artifact into directories (to
// commit first) and everything else, each sorted by path for determinism.
func (e *Engine) partitionByKind(paths PathResolver) (dirs, others []pathedArtifact) {
	for _, a := range e.Env.Artifacts() {
		path, ok := paths.PathFor(a)
		if !ok {
			continue
		}
		item := pathedArtifact{artifact: a, path: path}
		if a.Kind() == artifact.KindDir {
			dirs = append(dirs, item)
		} else {
			others = append(others, item)
		}
	}
	sortByPath(dirs)
	sortByPath(others)
	return dirs, others
}

func sortByPath(items []pathedArtifact) {
	sort.Slice(items, func(i, j int) bool { return items[i].path < items[j].path })
}

// CheckAll reports every committed file artifact whose on-disk content does
// not match its latest recorded version, the OutputNeeded seed of spec.md
// §4.I (fed into the planner by whatever drives the build between phases).
func (e *Engine) CheckAll(paths PathResolver) ([]string, error) {
	var needsRebuild []string
	for _, a := range e.Env.Artifacts() {
		if a.Kind() != artifact.KindFile {
			continue
		}
		path, ok := paths.PathFor(a)
		if !ok {
			continue
		}
		if _, err := os.Stat(path); os.IsNotExist(err) {
			needsRebuild = append(needsRebuild, path)
			continue
		}
		matches, err := a.CheckFinalState(path)
		if err != nil {
			return nil, fmt.Errorf("checking final state of %s: %w", path, err)
		}
		if !matches {
			needsRebuild = append(needsRebuild, path)
		}
	}
	sort.Strings(needsRebuild)
	return needsRebuild, nil
}

// EnsureParentDirs creates the parent directory chain for path, mirroring
// internal/core/replay.go's targetPathForArtifact.
func EnsureParentDirs(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating parent directory for %s: %w", path, err)
	}
	return nil
}
