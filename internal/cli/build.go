package cli

import (
	"context"
	"sort"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"rkr/internal/commit"
	"rkr/internal/emulate"
	"rkr/internal/ir"
	"rkr/internal/progress"
	"rkr/internal/watch"
)

// rootCommandID is the well-known id of the invocation's top-level command,
// matching ir.DefaultTrace's convention.
const rootCommandID = ir.CommandID(1)

func newBuildCmd(v *viper.Viper) *cobra.Command {
	var tracerless bool
	var watchMode bool
	cmd := &cobra.Command{
		Use:   "build [root]",
		Short: "Incrementally rebuild, replaying the prior trace and rerunning only what changed",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			root := "."
			if len(args) == 1 {
				root = args[0]
			}
			if watchMode {
				ignore := []string{root + "/" + toolDirName, root + "/" + legacyToolDirName}
				return watch.Run(cmd.Context(), nil, []string{root}, ignore, func(ctx context.Context) error {
					return runBuild(ctx, root, v, tracerless)
				})
			}
			return runBuild(cmd.Context(), root, v, tracerless)
		},
	}
	cmd.Flags().BoolVar(&tracerless, "no-tracer", false, "plan the rebuild but do not attempt to execute any command for real")
	cmd.Flags().BoolVar(&watchMode, "watch", false, "rerun the build whenever a project file changes")
	return cmd
}

func runBuild(ctx context.Context, root string, v *viper.Viper, tracerless bool) error {
	s, err := newSession(root, v)
	if err != nil {
		return errors.Wrap(err, "build")
	}
	defer s.Close()

	prior, err := s.loadOrDefaultTrace(rootCommandID)
	if err != nil {
		return errors.Wrap(err, "build")
	}

	// Phase 1: pure observation pass (spec.md §2's first H pass), populating
	// the planner with Changed/Child/InputMayChange edges from predicate
	// mismatches and Launch/version-read bookkeeping as the trace replays.
	observer := emulate.New(s.Env, s.Res, s.Plan, nil, ir.NopSink{})
	observer.Cache = s.Cache
	if err := observer.Observe(ctx, ir.NewSliceSource(prior)); err != nil {
		return errors.Wrap(err, "observing prior trace")
	}

	// OutputNeeded is seeded separately: it depends on comparing every
	// produced artifact against what is actually on disk right now, which
	// only the filesystem (not the trace) can answer.
	preIdx, err := buildPathIndex(s.Env, s.Root)
	if err != nil {
		return errors.Wrap(err, "indexing paths before planning")
	}
	if err := markOutputNeeded(s.Env, s.Plan, preIdx, s.Cache); err != nil {
		return errors.Wrap(err, "checking final state of prior outputs")
	}

	if err := s.Plan.CheckLaunchAcyclic(); err != nil {
		return errors.Wrap(err, "build")
	}
	rebuildPlan := s.Plan.Close()

	if len(rebuildPlan.Order()) == 0 {
		reportNoChangesDetected(s, prior)
	}

	if s.Opts.DryRun {
		for _, c := range rebuildPlan.Order() {
			s.Log.Infof("would rerun command %d", c)
		}
		return nil
	}

	// Phase 2: rerun whatever the plan marked, emulating everything else.
	out := ir.NewRecorder()
	var tracer emulate.Tracer
	if !tracerless {
		tracer = noOpTracer{}
	}
	s.Emu = emulate.New(s.Env, s.Res, nil, tracer, out)
	s.Emu.Cache = s.Cache

	var prog *tea.Program
	if s.Opts.PrintOnRun {
		prog = tea.NewProgram(progress.New())
		go func() {
			if _, err := prog.Run(); err != nil {
				s.Log.WithError(err).Warn("progress display exited with an error")
			}
		}()
		s.Emu.OnExecute = func(id ir.CommandID, argv []string) {
			prog.Send(progress.CommandStarted{ID: id, Argv: argv})
		}
		s.Emu.OnExecuteDone = func(id ir.CommandID, exitCode int32) {
			prog.Send(progress.CommandFinished{ID: id, ExitCode: exitCode})
		}
		defer prog.Quit()
	}

	if err := s.Emu.Rebuild(ctx, ir.NewSliceSource(prior), rebuildPlan); err != nil {
		return errors.Wrap(err, "rebuilding")
	}

	if err := s.Store.SaveLatest(out.Steps()); err != nil {
		return errors.Wrap(err, "saving trace")
	}
	hash, err := ir.Hash(out.Steps())
	if err != nil {
		return errors.Wrap(err, "hashing trace")
	}
	if err := s.Store.RecordGraphHash(hash, rootCommandID); err != nil {
		return errors.Wrap(err, "indexing trace hash")
	}

	if s.Opts.Commit {
		idx, err := buildPathIndex(s.Env, s.Root)
		if err != nil {
			return errors.Wrap(err, "indexing paths")
		}
		eng := commit.New(s.Env)
		if err := eng.Commit(idx, nil); err != nil {
			return errors.Wrap(err, "committing build output")
		}
	}

	failed := s.Emu.FailedCommands()
	if len(failed) > 0 {
		sort.Slice(failed, func(i, j int) bool { return failed[i] < failed[j] })
		return &BuildFailureError{Err: errors.Errorf("%d command(s) exited non-zero", len(failed))}
	}
	return nil
}

// reportNoChangesDetected logs spec.md S1's "no changes detected" message
// when an empty rebuild plan's prior trace hash is already indexed from a
// previous build: the trace store records hash -> rootCommand for exactly
// this (ir.Store.RecordGraphHash), read back here via LookupGraphHash.
// This never substitutes for actually computing the plan: Phase 1/Phase 2
// still run unconditionally, since an unchanged trace hash says nothing
// about whether an output was deleted from disk since (scenario S3), which
// only markOutputNeeded's filesystem check can catch.
func reportNoChangesDetected(s *session, prior []ir.Step) {
	hash, err := ir.Hash(prior)
	if err != nil {
		return
	}
	if _, ok, err := s.Store.LookupGraphHash(hash); err == nil && ok {
		s.Log.Info("no changes detected")
	}
}

// noOpTracer is a placeholder Tracer: real process tracing (ptrace/seccomp)
// is an external collaborator outside this module's scope (spec.md §1
// treats it as a black box). It reports nothing happened and a command
// exited 0, which is enough to exercise the plumbing end to end without a
// live tracer attached.
type noOpTracer struct{}

func (noOpTracer) Execute(ctx context.Context, commandID ir.CommandID, argv []string, cwd string) ([]ir.Step, int32, error) {
	return []ir.Step{{Kind: ir.StepExit, Command: commandID, ExitCode: 0}}, 0, nil
}
