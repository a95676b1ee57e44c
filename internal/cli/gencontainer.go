package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const containerFileName = "Dockerfile.rkr"

func newGenContainerCmd(v *viper.Viper) *cobra.Command {
	var base string
	cmd := &cobra.Command{
		Use:   "gen-container [root]",
		Short: "Write " + containerFileName + ", a dev-container image that installs " + depsManifestName + "'s packages",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			root := "."
			if len(args) == 1 {
				root = args[0]
			}
			return runGenContainer(root, base)
		},
	}
	cmd.Flags().StringVar(&base, "base", "ubuntu:22.04", "base image")
	return cmd
}

func runGenContainer(root, base string) error {
	packages, err := readDepsManifest(root)
	if err != nil {
		if os.IsNotExist(err) {
			return errors.Errorf("%s not found; run gen-deps first", depsManifestName)
		}
		return errors.Wrap(err, "gen-container")
	}

	var b strings.Builder
	fmt.Fprintf(&b, "FROM %s\n", base)
	if len(packages) > 0 {
		fmt.Fprintf(&b, "RUN apt-get update && apt-get install -y %s\n", strings.Join(packages, " "))
	}
	fmt.Fprintln(&b, "WORKDIR /project")
	fmt.Fprintln(&b, "COPY . /project")
	fmt.Fprintln(&b, `ENTRYPOINT ["rkr", "build"]`)

	if err := os.WriteFile(root+"/"+containerFileName, []byte(b.String()), 0o644); err != nil {
		return errors.Wrap(err, "writing "+containerFileName)
	}
	return nil
}
