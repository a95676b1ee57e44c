// Package plan implements the rebuild planner of spec.md §4.I: a
// BuildObserver that accumulates changed/output-needed seeds and the
// Child/InputMayChange/OutputNeeded edges, then computes the rerun set as a
// transitive closure.
package plan

import (
	"container/heap"
	"sort"

	"rkr/internal/ir"
)

// EdgeReason is the closed set of reasons a command entered the rerun set,
// per spec.md §4.I's four (plus seed) edge kinds. Kept for diagnostics: the
// first reason a command is marked wins.
type EdgeReason string

const (
	ReasonChanged           EdgeReason = "Changed"
	ReasonOutputNeeded      EdgeReason = "OutputNeeded"
	ReasonChild             EdgeReason = "Child"
	ReasonInputMayChange    EdgeReason = "InputMayChange"
	ReasonOutputNeededEdge  EdgeReason = "OutputNeeded(propagated)"
)

// VersionState tells the planner's caching policy whether an edge can be
// suppressed: spec.md §4.I suppresses InputMayChange/OutputNeeded when the
// relevant version is "saved" (content) or "has_metadata" (metadata).
type VersionState struct {
	Saved       bool
	HasMetadata bool
}

// Planner accumulates observations during emulation (spec.md §4.I) and
// computes the rerun set on demand.
type Planner struct {
	EnableCache bool

	changed      map[ir.CommandID]bool
	outputNeeded map[ir.CommandID]bool

	children        map[ir.CommandID][]ir.CommandID // parent -> children (Launch edges)
	outputUsedBy    map[ir.CommandID][]ir.CommandID // producer -> consumers
	needsOutputFrom map[ir.CommandID][]ir.CommandID // consumer -> producers
	edgeState       map[[2]ir.CommandID]VersionState

	allCommands map[ir.CommandID]bool
}

// New constructs an empty Planner.
func New(enableCache bool) *Planner {
	return &Planner{
		EnableCache:     enableCache,
		changed:         make(map[ir.CommandID]bool),
		outputNeeded:    make(map[ir.CommandID]bool),
		children:        make(map[ir.CommandID][]ir.CommandID),
		outputUsedBy:    make(map[ir.CommandID][]ir.CommandID),
		needsOutputFrom: make(map[ir.CommandID][]ir.CommandID),
		edgeState:       make(map[[2]ir.CommandID]VersionState),
		allCommands:     make(map[ir.CommandID]bool),
	}
}

func (p *Planner) noteCommand(c ir.CommandID) { p.allCommands[c] = true }

// MarkChanged records that command c saw a predicate fail, never ran
// before, had a child exit-status mismatch, or a reference-resolution
// mismatch — any of the "changed" triggers listed in spec.md §4.I.
func (p *Planner) MarkChanged(c ir.CommandID) {
	p.noteCommand(c)
	p.changed[c] = true
}

// MarkOutputNeeded records that command c's final produced version does not
// match on-disk state and cannot be recovered from cache.
func (p *Planner) MarkOutputNeeded(c ir.CommandID) {
	p.noteCommand(c)
	p.outputNeeded[c] = true
}

// RecordLaunch records a parent->child Launch edge.
func (p *Planner) RecordLaunch(parent, child ir.CommandID) {
	p.noteCommand(parent)
	p.noteCommand(child)
	p.children[parent] = append(p.children[parent], child)
}

// RecordDependency records that consumer reads a version produced by
// producer, with the version's cache state at observation time, so the
// closure can later decide whether to suppress the edge.
func (p *Planner) RecordDependency(producer, consumer ir.CommandID, state VersionState) {
	p.noteCommand(producer)
	p.noteCommand(consumer)
	p.outputUsedBy[producer] = append(p.outputUsedBy[producer], consumer)
	p.needsOutputFrom[consumer] = append(p.needsOutputFrom[consumer], producer)
	p.edgeState[[2]ir.CommandID{producer, consumer}] = state
}

// Plan is the computed rerun set: the result of the transitive closure.
type Plan struct {
	Rerun map[ir.CommandID]EdgeReason
}

// MustRun reports whether c is in the rerun set.
func (pl *Plan) MustRun(c ir.CommandID) bool {
	_, ok := pl.Rerun[c]
	return ok
}

// Order returns the rerun set's commands in a deterministic (numeric)
// order, useful for diagnostics and tests.
func (pl *Plan) Order() []ir.CommandID {
	out := make([]ir.CommandID, 0, len(pl.Rerun))
	for c := range pl.Rerun {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

type cmdHeap []ir.CommandID

func (h cmdHeap) Len() int            { return len(h) }
func (h cmdHeap) Less(i, j int) bool  { return h[i] < h[j] }
func (h cmdHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *cmdHeap) Push(x interface{}) { *h = append(*h, x.(ir.CommandID)) }
func (h *cmdHeap) Pop() interface{} {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// Close computes the transitive closure over the four edge kinds (spec.md
// §4.I): DFS with a marked-set, each node marked at most once, first reason
// wins. Determinism is achieved with a min-heap frontier, matching the
// teacher's FailAndPropagate (internal/dag/state_machine.go).
func (p *Planner) Close() *Plan {
	marked := make(map[ir.CommandID]EdgeReason)

	frontier := &cmdHeap{}
	heap.Init(frontier)
	seed := func(c ir.CommandID, reason EdgeReason) {
		if _, already := marked[c]; already {
			return
		}
		marked[c] = reason
		heap.Push(frontier, c)
	}

	seeds := make([]ir.CommandID, 0, len(p.changed)+len(p.outputNeeded))
	for c := range p.changed {
		seeds = append(seeds, c)
	}
	for c := range p.outputNeeded {
		if !p.changed[c] {
			seeds = append(seeds, c)
		}
	}
	sort.Slice(seeds, func(i, j int) bool { return seeds[i] < seeds[j] })
	for _, c := range seeds {
		reason := ReasonChanged
		if !p.changed[c] {
			reason = ReasonOutputNeeded
		}
		seed(c, reason)
	}

	for frontier.Len() > 0 {
		u := heap.Pop(frontier).(ir.CommandID)

		// Edge kind 3: Child. Parent dictates children.
		kids := append([]ir.CommandID(nil), p.children[u]...)
		sort.Slice(kids, func(i, j int) bool { return kids[i] < kids[j] })
		for _, c := range kids {
			seed(c, ReasonChild)
		}

		// Edge kind 4: InputMayChange. producer (u) -> consumer.
		consumers := append([]ir.CommandID(nil), p.outputUsedBy[u]...)
		sort.Slice(consumers, func(i, j int) bool { return consumers[i] < consumers[j] })
		for _, c := range consumers {
			if p.edgeSuppressed(u, c) {
				continue
			}
			seed(c, ReasonInputMayChange)
		}

		// Edge kind 5: OutputNeeded (propagated). consumer (u) -> producer.
		producers := append([]ir.CommandID(nil), p.needsOutputFrom[u]...)
		sort.Slice(producers, func(i, j int) bool { return producers[i] < producers[j] })
		for _, prod := range producers {
			if p.edgeSuppressed(prod, u) {
				continue
			}
			seed(prod, ReasonOutputNeededEdge)
		}
	}

	return &Plan{Rerun: marked}
}

// edgeSuppressed implements the caching policy: when EnableCache is set, an
// InputMayChange/OutputNeeded edge is suppressed if the relevant version is
// saved (content) or has_metadata (metadata), because the consumer can
// stage the cached value in instead.
func (p *Planner) edgeSuppressed(producer, consumer ir.CommandID) bool {
	if !p.EnableCache {
		return false
	}
	state, ok := p.edgeState[[2]ir.CommandID{producer, consumer}]
	if !ok {
		return false
	}
	return state.Saved || state.HasMetadata
}
