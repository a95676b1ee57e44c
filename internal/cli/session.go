package cli

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"rkr/internal/cache"
	"rkr/internal/config"
	"rkr/internal/emulate"
	"rkr/internal/env"
	"rkr/internal/ir"
	"rkr/internal/plan"
	"rkr/internal/resolve"
)

// toolDirName is the on-disk state directory spec.md §6 names; rkr accepts
// either its own name or the legacy ".dodo" the original tool used.
const toolDirName = ".rkr"
const legacyToolDirName = ".dodo"

// session bundles the components a subcommand needs, wired exactly as
// SPEC_FULL.md's MODULE EXPANSION describes: config drives Planner's
// caching policy and the resolver's symlink limit, the IR store persists
// between runs, and the cache store backs the planner's saved/has_metadata
// suppression.
type session struct {
	Root    string
	ToolDir string
	Opts    config.Options
	Log     *logrus.Entry

	Store *ir.Store
	Cache *cache.Store
	Env   *env.Environment
	Res   *resolve.Engine
	Plan  *plan.Planner
	Emu   *emulate.Emulator
}

func newSession(root string, v *viper.Viper) (*session, error) {
	// RKR_REMOTE_PATH rewrites the build root for a dev-container/SSH
	// remote build, per spec.md §6; only the root-reference resolution is
	// affected, never the execution transport.
	if remote := os.Getenv("RKR_REMOTE_PATH"); remote != "" {
		root = remote
	}
	toolDir := filepath.Join(root, toolDirName)
	if !dirExists(toolDir) && dirExists(filepath.Join(root, legacyToolDirName)) {
		toolDir = filepath.Join(root, legacyToolDirName)
	}

	opts, err := config.Load(filepath.Join(toolDir, "config.yaml"), v)
	if err != nil {
		return nil, errors.Wrap(err, "loading configuration")
	}

	log := logrus.NewEntry(logrus.StandardLogger())
	if opts.ShowSysfiles {
		log.Logger.SetLevel(logrus.DebugLevel)
	}

	store, err := ir.OpenStore(filepath.Join(toolDir, "db"))
	if err != nil {
		return nil, errors.Wrap(err, "opening trace store")
	}

	cacheStore, err := cache.Open(filepath.Join(toolDir, "cache"), filepath.Join(toolDir, "cache-index.db"))
	if err != nil {
		_ = store.Close()
		return nil, errors.Wrap(err, "opening cache store")
	}

	environment := env.New(toolDir, log)
	resolver := resolve.New(environment, opts.SymlinkLimit)
	planner := plan.New(opts.EnableCache)

	return &session{
		Root: root, ToolDir: toolDir, Opts: opts, Log: log,
		Store: store, Cache: cacheStore, Env: environment, Res: resolver, Plan: planner,
	}, nil
}

func (s *session) Close() error {
	var firstErr error
	if err := s.Store.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := s.Cache.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// loadOrDefaultTrace loads the persisted trace, falling back to
// ir.DefaultTrace for an absent/first build, per spec.md §6/§7.
func (s *session) loadOrDefaultTrace(rootCommand ir.CommandID) ([]ir.Step, error) {
	steps, ok, err := s.Store.LoadLatest()
	if err != nil {
		return nil, errors.Wrap(err, "loading trace")
	}
	if !ok {
		s.Log.Info("no prior trace found, using default trace")
		return ir.DefaultTrace(rootCommand), nil
	}
	return steps, nil
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
