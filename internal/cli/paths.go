package cli

import (
	"os"
	"path/filepath"
	"strconv"

	"rkr/internal/artifact"
	"rkr/internal/cache"
	"rkr/internal/commit"
	"rkr/internal/env"
	"rkr/internal/ir"
	"rkr/internal/plan"
)

// pathIndex is a commit.PathResolver built by walking the project tree once
// and resolving every entry through the Environment's inode registry, so
// artifacts created or touched during the build end up mapped back to a
// concrete disk path to commit at.
type pathIndex struct {
	byArtifact map[*artifact.Artifact]string
}

var _ commit.PathResolver = (*pathIndex)(nil)

func buildPathIndex(environment *env.Environment, root string) (*pathIndex, error) {
	idx := &pathIndex{byArtifact: make(map[*artifact.Artifact]string)}
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			// A file vanishing mid-walk (e.g. a command deleted it) is not
			// fatal to indexing the rest of the tree.
			return nil
		}
		dir := filepath.Dir(path)
		name := filepath.Base(path)
		a, rerr := environment.ResolveChildArtifact(dir, name)
		if rerr != nil {
			return nil
		}
		if _, seen := idx.byArtifact[a]; !seen {
			idx.byArtifact[a] = path
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return idx, nil
}

func (p *pathIndex) PathFor(a *artifact.Artifact) (string, bool) {
	path, ok := p.byArtifact[a]
	return path, ok
}

// markOutputNeeded implements the output_needed seed of spec.md §4.I: every
// produced file whose on-disk content no longer matches the last trace's
// final version, and whose content cannot be staged back in from the
// content-addressed cache, marks its producing command for rerun. This is
// what makes scenario S3 (delete a build output, rebuild regenerates it)
// work even though no command in the new trace ever reads the deleted file.
//
// store may be nil, in which case only the in-memory Saved() check applies.
func markOutputNeeded(environment *env.Environment, planner *plan.Planner, paths commit.PathResolver, store *cache.Store) error {
	for _, a := range environment.Artifacts() {
		if a.Kind() != artifact.KindFile {
			continue
		}
		producer, ok := outputProducer(a)
		if !ok {
			continue
		}
		latest := a.LatestContent()
		if latest != nil && latest.Saved() {
			continue
		}
		// A deleted output whose content still sits in the content-addressed
		// cache is recoverable without rerunning its producer (spec.md §4.I,
		// S6): stage it into the in-memory version so a later commit can
		// restore it, same as if it had never left memory.
		if latest != nil && store != nil && !latest.FingerprintValue().IsZero() {
			if content, ok, err := store.Get(latest.FingerprintValue()); err == nil && ok {
				latest.Stage(content)
				continue
			}
		}

		path, ok := paths.PathFor(a)
		if !ok {
			planner.MarkOutputNeeded(producer)
			continue
		}
		if _, err := os.Stat(path); os.IsNotExist(err) {
			planner.MarkOutputNeeded(producer)
			continue
		}
		matches, err := a.CheckFinalState(path)
		if err != nil {
			return err
		}
		if !matches {
			planner.MarkOutputNeeded(producer)
		}
	}
	return nil
}

// outputProducer returns the command that most recently wrote a, recovered
// from the weak command-id reference internal/artifact.OutputEdge carries.
func outputProducer(a *artifact.Artifact) (ir.CommandID, bool) {
	outs := a.Outputs
	if len(outs) == 0 {
		return 0, false
	}
	n, err := strconv.ParseInt(outs[len(outs)-1].Command, 10, 64)
	if err != nil {
		return 0, false
	}
	return ir.CommandID(n), true
}
