package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"rkr/internal/ir"
)

func newGraphCmd(v *viper.Viper) *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "graph [root]",
		Short: "Write the last trace's command tree as Graphviz dot",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			root := "."
			if len(args) == 1 {
				root = args[0]
			}
			return runGraph(cmd.Context(), root, v, out)
		},
	}
	cmd.Flags().StringVar(&out, "out", "", "write dot output to this path instead of stdout")
	return cmd
}

func runGraph(ctx context.Context, root string, v *viper.Viper, out string) error {
	s, err := newSession(root, v)
	if err != nil {
		return errors.Wrap(err, "graph")
	}
	defer s.Close()

	steps, err := s.loadOrDefaultTrace(rootCommandID)
	if err != nil {
		return errors.Wrap(err, "graph")
	}

	var w io.Writer = os.Stdout
	if out != "" {
		f, err := os.Create(out)
		if err != nil {
			return errors.Wrap(err, "creating graph output")
		}
		defer f.Close()
		w = f
	}
	return writeDot(w, steps)
}

// writeDot renders a trace's Launch edges as a Graphviz digraph: one node
// per command, one edge per parent-child Launch. Other steps are ignored.
func writeDot(w io.Writer, steps []ir.Step) error {
	if _, err := fmt.Fprintln(w, "digraph rkr {"); err != nil {
		return err
	}
	seen := map[ir.CommandID]bool{}
	node := func(id ir.CommandID) error {
		if seen[id] {
			return nil
		}
		seen[id] = true
		_, err := fmt.Fprintf(w, "  c%d [label=\"%d\"];\n", id, id)
		return err
	}
	for _, step := range steps {
		if step.Kind != ir.StepLaunch {
			continue
		}
		if err := node(step.Parent); err != nil {
			return err
		}
		if err := node(step.Child); err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "  c%d -> c%d;\n", step.Parent, step.Child); err != nil {
			return err
		}
	}
	_, err := fmt.Fprintln(w, "}")
	return err
}
