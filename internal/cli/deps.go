package cli

import (
	"bufio"
	"context"
	"os"
	"os/exec"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"rkr/internal/artifact"
	"rkr/internal/emulate"
	"rkr/internal/ir"
)

// depsManifestName is the manifest path spec.md §6 names.
const depsManifestName = ".rkr-deps"

// packageOf shells out to dpkg -S the way original_source/src/ui/rkr-deps.cc
// did, returning the owning package name for a path, or "" if none owns it
// (a file rkr itself produced, for instance).
func packageOf(ctx context.Context, path string) (string, error) {
	out, err := exec.CommandContext(ctx, "dpkg", "-S", path).Output()
	if err != nil {
		// dpkg -S exits non-zero for unowned paths; that is not a failure
		// worth propagating, just an empty answer.
		return "", nil
	}
	line := strings.TrimSpace(string(out))
	idx := strings.Index(line, ":")
	if idx < 0 {
		return "", nil
	}
	return strings.TrimSpace(line[:idx]), nil
}

func newGenDepsCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "gen-deps [root]",
		Short: "Write " + depsManifestName + " listing the packages that own every input file in the last trace",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			root := "."
			if len(args) == 1 {
				root = args[0]
			}
			return runGenDeps(cmd.Context(), root, v)
		},
	}
	return cmd
}

func runGenDeps(ctx context.Context, root string, v *viper.Viper) error {
	s, err := newSession(root, v)
	if err != nil {
		return errors.Wrap(err, "gen-deps")
	}
	defer s.Close()

	prior, err := s.loadOrDefaultTrace(rootCommandID)
	if err != nil {
		return errors.Wrap(err, "gen-deps")
	}

	observer := emulate.New(s.Env, s.Res, nil, nil, ir.NopSink{})
	if err := observer.Observe(ctx, ir.NewSliceSource(prior)); err != nil {
		return errors.Wrap(err, "observing prior trace")
	}

	idx, err := buildPathIndex(s.Env, s.Root)
	if err != nil {
		return errors.Wrap(err, "indexing paths")
	}

	seen := make(map[string]bool)
	var packages []string
	for _, a := range s.Env.Artifacts() {
		if a.Kind() == artifact.KindDir || a.Kind() == artifact.KindSpecial {
			continue
		}
		path, ok := idx.PathFor(a)
		if !ok {
			continue
		}
		pkg, err := packageOf(ctx, path)
		if err != nil {
			return errors.Wrapf(err, "resolving package for %s", path)
		}
		if pkg == "" || seen[pkg] {
			continue
		}
		seen[pkg] = true
		packages = append(packages, pkg)
	}
	sort.Strings(packages)

	return writeDepsManifest(root, packages)
}

func writeDepsManifest(root string, packages []string) error {
	f, err := os.Create(root + "/" + depsManifestName)
	if err != nil {
		return errors.Wrap(err, "creating "+depsManifestName)
	}
	defer f.Close()
	w := bufio.NewWriter(f)
	for _, pkg := range packages {
		if _, err := w.WriteString(pkg + "\n"); err != nil {
			return errors.Wrap(err, "writing "+depsManifestName)
		}
	}
	return w.Flush()
}

func readDepsManifest(root string) ([]string, error) {
	f, err := os.Open(root + "/" + depsManifestName)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var packages []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line != "" {
			packages = append(packages, line)
		}
	}
	return packages, sc.Err()
}

// defaultInstaller is "apt-get install -y <packages>", overridable with
// --installer for hosts that use a different package manager. The original
// rkr-deps tooling delegated to whatever the host provided rather than
// reimplementing a package manager itself; this mirrors that.
var defaultInstaller = []string{"apt-get", "install", "-y"}

func newInstallDepsCmd(v *viper.Viper) *cobra.Command {
	var installer []string
	cmd := &cobra.Command{
		Use:   "install-deps [root]",
		Short: "Install every package listed in " + depsManifestName + " via the configured installer command",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			root := "."
			if len(args) == 1 {
				root = args[0]
			}
			cmdline := defaultInstaller
			if len(installer) > 0 {
				cmdline = installer
			}
			return runInstallDeps(cmd.Context(), root, cmdline)
		},
	}
	cmd.Flags().StringSliceVar(&installer, "installer", nil, "override installer command, e.g. --installer=apk,add")
	return cmd
}

func runInstallDeps(ctx context.Context, root string, installer []string) error {
	packages, err := readDepsManifest(root)
	if err != nil {
		if os.IsNotExist(err) {
			return errors.Errorf("%s not found; run gen-deps first", depsManifestName)
		}
		return errors.Wrap(err, "install-deps")
	}
	if len(packages) == 0 {
		return nil
	}
	if len(installer) == 0 {
		return errors.New("no installer command configured")
	}

	args := append(append([]string{}, installer[1:]...), packages...)
	c := exec.CommandContext(ctx, installer[0], args...)
	c.Stdout = os.Stdout
	c.Stderr = os.Stderr
	if err := c.Run(); err != nil {
		return errors.Wrapf(err, "running %s", installer[0])
	}
	return nil
}
