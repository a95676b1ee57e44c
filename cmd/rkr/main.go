package main

import (
	"fmt"
	"os"

	"rkr/internal/cli"
)

// main is a deterministic boundary: parse, execute, exit with the code
// spec.md §6 defines.
func main() {
	root := cli.NewRootCommand()
	err := root.Execute()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
	}
	os.Exit(cli.ExitCode(err))
}
