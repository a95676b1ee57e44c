package plan

import (
	"fmt"
	"sort"

	"github.com/twmb/algoimpl/go/graph"

	"rkr/internal/ir"
)

// CheckLaunchAcyclic defends against a corrupt trace in which Launch edges
// form a cycle, which would make the closure in Close never terminate on a
// pathological input. A well-formed trace's Launch edges are always acyclic
// (a command cannot launch an ancestor of itself); detecting a cycle here
// means the trace is broken and should be rejected rather than silently
// looped over, matching spec.md §7's BrokenTrace handling.
//
// Grounded on crux/pkg/begat/lib/ursort.go's use of
// graph.StronglyConnectedComponents to collapse cycles before producing a
// topological order.
func (p *Planner) CheckLaunchAcyclic() error {
	g := graph.New(graph.Directed)

	nodes := make(map[ir.CommandID]graph.Node, len(p.allCommands))
	ids := make([]ir.CommandID, 0, len(p.allCommands))
	for c := range p.allCommands {
		ids = append(ids, c)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, c := range ids {
		n := g.MakeNode()
		*n.Value = c
		nodes[c] = n
	}

	for parent, kids := range p.children {
		for _, child := range kids {
			if err := g.MakeEdge(nodes[parent], nodes[child]); err != nil {
				return fmt.Errorf("plan: building launch graph: %w", err)
			}
		}
	}

	for _, component := range g.StronglyConnectedComponents() {
		if len(component) > 1 {
			return fmt.Errorf("plan: BrokenTrace: Launch cycle detected among %d commands", len(component))
		}
	}
	return nil
}
