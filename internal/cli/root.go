// Package cli wires rkr's subcommands (build, check, gen-deps,
// install-deps, gen-container, graph) to the engine packages, in the
// cobra/viper style crux's subcommands use.
package cli

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// NewRootCommand builds the "rkr" command tree. Persistent flags bind
// through viper so internal/config.Load can layer them over the
// project's .rkr/config.yaml (spec.md §6's enumerated flags).
func NewRootCommand() *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("rkr")
	v.AutomaticEnv()

	root := &cobra.Command{
		Use:           "rkr",
		Short:         "A forward build engine: trace a build once, then rebuild incrementally",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := root.PersistentFlags()
	flags.Bool("commit", true, "write build results to disk; --commit=false plans and executes without touching the filesystem")
	flags.Bool("dry-run", false, "print what would run without executing or committing anything")
	flags.Bool("print-on-run", false, "print each command as it runs")
	flags.Bool("show-sysfiles", false, "include system file accesses in logged output")
	flags.Bool("no-cache", false, "disable the content-addressed build cache")
	flags.Bool("no-skip-checks", false, "re-check every artifact instead of trusting repeat metadata matches")

	root.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		// --no-cache/--no-skip-checks are phrased as negations of the
		// config keys they control (enable_cache, skip_repeat_checks);
		// viper's BindPFlag has no inversion, so apply them by hand.
		if changed, _ := flags.GetBool("no-cache"); changed {
			v.Set("enable_cache", false)
		}
		if changed, _ := flags.GetBool("no-skip-checks"); changed {
			v.Set("skip_repeat_checks", false)
		}
		if dry, _ := flags.GetBool("dry-run"); dry {
			v.Set("dry_run", true)
			// --dry-run never commits, regardless of --commit's value.
			v.Set("commit", false)
		} else if flags.Changed("commit") {
			commit, _ := flags.GetBool("commit")
			v.Set("commit", commit)
		}
		if print, _ := flags.GetBool("print-on-run"); print {
			v.Set("print_on_run", true)
		}
		if show, _ := flags.GetBool("show-sysfiles"); show {
			v.Set("show_sysfiles", true)
		}
		return nil
	}

	root.AddCommand(
		newBuildCmd(v),
		newCheckCmd(v),
		newGenDepsCmd(v),
		newInstallDepsCmd(v),
		newGenContainerCmd(v),
		newGraphCmd(v),
	)
	return root
}
