package cli

import (
	"context"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"rkr/internal/commit"
	"rkr/internal/emulate"
	"rkr/internal/ir"
)

func newCheckCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check [root]",
		Short: "Report which committed outputs no longer match the last trace without rebuilding",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			root := "."
			if len(args) == 1 {
				root = args[0]
			}
			return runCheck(root, v)
		},
	}
	return cmd
}

func runCheck(root string, v *viper.Viper) error {
	s, err := newSession(root, v)
	if err != nil {
		return errors.Wrap(err, "check")
	}
	defer s.Close()

	prior, err := s.loadOrDefaultTrace(rootCommandID)
	if err != nil {
		return errors.Wrap(err, "check")
	}

	// Replay in pure observation mode so the Environment's artifact registry
	// is populated exactly as it would be for a real rebuild, without
	// running anything.
	observer := emulate.New(s.Env, s.Res, s.Plan, nil, ir.NopSink{})
	observer.Cache = s.Cache
	if err := observer.Observe(context.Background(), ir.NewSliceSource(prior)); err != nil {
		return errors.Wrap(err, "observing prior trace")
	}
	if err := s.Plan.CheckLaunchAcyclic(); err != nil {
		return errors.Wrap(err, "check")
	}

	idx, err := buildPathIndex(s.Env, s.Root)
	if err != nil {
		return errors.Wrap(err, "indexing paths")
	}

	eng := commit.New(s.Env)
	stale, err := eng.CheckAll(idx)
	if err != nil {
		return errors.Wrap(err, "checking committed outputs")
	}
	for _, path := range stale {
		s.Log.Infof("stale: %s", path)
	}
	if len(stale) > 0 {
		return &BuildFailureError{Err: errors.Errorf("%d output(s) no longer match the last trace", len(stale))}
	}
	return nil
}
