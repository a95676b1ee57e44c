// Package emulate implements the build emulator / tracer adapter of
// spec.md §4.H: it replays IR steps against an Environment, evaluating
// predicates and applying actions, in either Emulation or Execution mode
// per command.
package emulate

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	"golang.org/x/sync/errgroup"

	"rkr/internal/artifact"
	"rkr/internal/cache"
	"rkr/internal/env"
	"rkr/internal/flags"
	"rkr/internal/ir"
	"rkr/internal/plan"
	"rkr/internal/ref"
	"rkr/internal/resolve"
	"rkr/internal/version"
)

// Tracer is the out-of-scope external collaborator of spec.md §1: it runs a
// command for real and reports the concrete IR steps it performed.
// Implementations live outside this package (e.g. a ptrace/seccomp layer);
// this package only depends on the interface.
type Tracer interface {
	Execute(ctx context.Context, commandID ir.CommandID, argv []string, cwd string) (steps []ir.Step, exitCode int32, err error)
}

// commandState is the Command data-model object of spec.md §3: immutable
// identity plus attached lifecycle state.
type commandState struct {
	id       ir.CommandID
	argv     []string
	cwd      string
	children []ir.CommandID
	exitCode int32
	mustRun  bool
	exited   bool
}

// Emulator replays a trace against an Environment, per spec.md §4.H.
type Emulator struct {
	Env      *env.Environment
	Resolver *resolve.Engine
	Planner  *plan.Planner
	Tracer   Tracer
	Out      ir.Sink // receives the (possibly re-executed) output trace

	// OnExecute, if set, is called synchronously each time a command is
	// about to run for real (Execution mode), before Tracer.Execute.
	// OnExecuteDone, if set, is called after it returns successfully. Both
	// exist purely for progress reporting (internal/progress) and must not
	// mutate the Emulator's state.
	OnExecute     func(id ir.CommandID, argv []string)
	OnExecuteDone func(id ir.CommandID, exitCode int32)

	// Cache, if set, backs the "stage the cached value in" half of spec.md
	// §4.I's caching policy: every content blob this emulator holds gets
	// Put into it as a side effect of applying UpdateContent, and a
	// MatchContent step that only carries a digest (no inline blob, e.g.
	// replayed from a persisted trace) tries Get before falling back to a
	// fingerprint-only comparison.
	Cache *cache.Store

	refs     map[ir.RefID]*ref.RefResult
	commands map[ir.CommandID]*commandState

	// pending queues must-run children a parent has launched but has not
	// yet joined, so siblings launched together are dispatched together via
	// ExecuteChildrenConcurrently instead of one at a time.
	pending map[ir.CommandID][]ir.CommandID
}

// New constructs an Emulator. planner may be nil for a pure replay (no
// observation), matching internal/plan.New's own optional nature.
func New(environment *env.Environment, resolver *resolve.Engine, planner *plan.Planner, tracer Tracer, out ir.Sink) *Emulator {
	if out == nil {
		out = ir.NopSink{}
	}
	return &Emulator{
		Env: environment, Resolver: resolver, Planner: planner, Tracer: tracer, Out: out,
		refs:     make(map[ir.RefID]*ref.RefResult),
		commands: make(map[ir.CommandID]*commandState),
		pending:  make(map[ir.CommandID][]ir.CommandID),
	}
}

// must, from spec.md §4.I's rerun set: the plan computed by a prior
// observation pass over the same trace structure. A nil plan means "rerun
// nothing" (pure observation pass, used to build that very plan).
func (e *Emulator) must(prior *plan.Plan, id ir.CommandID) bool {
	if prior == nil {
		return false
	}
	return prior.MustRun(id)
}

// Observe runs the emulator in pure Emulation mode over every command,
// regardless of must_run, purely to populate the Planner with mismatches
// (the first H pass in the dataflow of spec.md §2). It never touches the
// real filesystem beyond reads needed to fingerprint/stat.
func (e *Emulator) Observe(ctx context.Context, source ir.Source) error {
	return e.run(ctx, source, nil, false)
}

// Rebuild runs the emulator a second time: commands in prior.Rerun execute
// for real via Tracer (Execution mode); all others are emulated from the
// recorded steps (Emulation mode), per spec.md §4.H. The resulting steps
// (recorded or newly executed) are written to Out as the new output trace.
func (e *Emulator) Rebuild(ctx context.Context, source ir.Source, prior *plan.Plan) error {
	return e.run(ctx, source, prior, true)
}

// FailedCommands returns every command that was actually executed (not
// emulated) and exited non-zero, for the caller to turn into a build
// failure after a Rebuild completes.
func (e *Emulator) FailedCommands() []ir.CommandID {
	var failed []ir.CommandID
	for id, c := range e.commands {
		if c.mustRun && c.exited && c.exitCode != 0 {
			failed = append(failed, id)
		}
	}
	return failed
}

func (e *Emulator) run(ctx context.Context, source ir.Source, prior *plan.Plan, executing bool) error {
	for {
		step, ok, err := source.Next()
		if err != nil {
			return fmt.Errorf("reading trace: %w", err)
		}
		if !ok {
			return e.flushAllPending(ctx)
		}
		if err := step.Validate(); err != nil {
			return fmt.Errorf("BrokenTrace: %w", err)
		}
		if err := e.apply(ctx, step, prior, executing); err != nil {
			return err
		}
		ir.SafeRecord(e.Out, step)
		if step.Kind == ir.StepEnd {
			return e.flushAllPending(ctx)
		}
	}
}

func (e *Emulator) command(id ir.CommandID) *commandState {
	c, ok := e.commands[id]
	if !ok {
		c = &commandState{id: id}
		e.commands[id] = c
	}
	return c
}

func (e *Emulator) apply(ctx context.Context, step ir.Step, prior *plan.Plan, executing bool) error {
	switch step.Kind {
	case ir.StepSpecialRef:
		return e.applySpecialRef(step)
	case ir.StepPipeRef:
		read, write := e.Env.NewPipe(fmt.Sprint(step.Command))
		e.bind(step.ReadEnd, read)
		e.bind(step.WriteEnd, write)
		return nil
	case ir.StepFileRef:
		a := e.Env.NewAnonymousFile(fmt.Sprint(step.Command), 0, 0, step.Mode, 0)
		e.bind(step.Out, a)
		return nil
	case ir.StepSymlinkRef:
		a := e.Env.NewAnonymousSymlink(fmt.Sprint(step.Command), step.Target, 0, 0)
		e.bind(step.Out, a)
		return nil
	case ir.StepDirRef:
		a := e.Env.NewAnonymousDir(fmt.Sprint(step.Command), 0, 0, step.Mode, 0)
		e.bind(step.Out, a)
		return nil
	case ir.StepPathRef:
		return e.applyPathRef(step)
	case ir.StepExpectResult:
		return e.applyExpectResult(step)
	case ir.StepMatchMetadata:
		return e.applyMatchMetadata(step)
	case ir.StepMatchContent:
		return e.applyMatchContent(step)
	case ir.StepUpdateMetadata:
		return e.applyUpdateMetadata(step)
	case ir.StepUpdateContent:
		return e.applyUpdateContent(step)
	case ir.StepLaunch:
		parent := e.command(step.Parent)
		parent.children = append(parent.children, step.Child)
		_ = e.command(step.Child)
		if e.Planner != nil {
			e.Planner.RecordLaunch(step.Parent, step.Child)
		}
		if executing && e.must(prior, step.Child) {
			// Queue rather than execute immediately: siblings the same
			// parent launches before joining any of them run concurrently
			// (spec.md §4.H "children's choice is made independently per
			// child"), flushed at the parent's next Join or at trace end.
			e.pending[step.Parent] = append(e.pending[step.Parent], step.Child)
		}
		return nil
	case ir.StepJoin:
		if err := e.flushPending(ctx, step.Parent); err != nil {
			return err
		}
		child := e.command(step.Child)
		if child.exited && child.exitCode != step.ExitCode {
			if e.Planner != nil {
				e.Planner.MarkChanged(step.Parent)
			}
		}
		return nil
	case ir.StepExit:
		c := e.command(step.Command)
		c.exited = true
		c.exitCode = step.ExitCode
		return nil
	case ir.StepEnd:
		return nil
	default:
		return fmt.Errorf("BrokenTrace: unknown step kind %q", step.Kind)
	}
}

func (e *Emulator) bind(id ir.RefID, a *artifact.Artifact) {
	rr := ref.New()
	rr.ResolveOk(a)
	e.refs[id] = rr
}

func (e *Emulator) applySpecialRef(step ir.Step) error {
	var a *artifact.Artifact
	var err error
	switch step.Entity {
	case "root", "cwd":
		a, err = e.Env.Root()
	default: // stdin, stdout, stderr, launch_exe: represented as anonymous specials
		a = artifact.New(fmt.Sprintf("special-%s-%d", step.Entity, step.Out), artifact.KindSpecial)
	}
	if err != nil {
		return err
	}
	e.bind(step.Out, a)
	return nil
}

func (e *Emulator) applyPathRef(step ir.Step) error {
	base, ok := e.refs[step.Base]
	if !ok {
		return fmt.Errorf("BrokenTrace: PathRef references unknown base ref %d", step.Base)
	}
	af := decodeFlags(step.Flags)
	// dirPath is only used by the resolver to stat the filesystem on a cache
	// miss and to build singleflight keys; the logical parent directory of a
	// Path ref's base is always the root in this simplified adapter, since
	// the tracer is responsible for supplying absolute paths in step.Path.
	out := e.Resolver.Resolve(fmt.Sprint(step.Command), base, "/", step.Path, af)
	e.refs[step.Out] = out
	return nil
}

func decodeFlags(bits uint32) flags.AccessFlags {
	return flags.AccessFlags{
		Read:      bits&(1<<0) != 0,
		Write:     bits&(1<<1) != 0,
		Exec:      bits&(1<<2) != 0,
		NoFollow:  bits&(1<<3) != 0,
		Truncate:  bits&(1<<4) != 0,
		Create:    bits&(1<<5) != 0,
		Exclusive: bits&(1<<6) != 0,
		Append:    bits&(1<<7) != 0,
		Directory: bits&(1<<8) != 0,
	}
}

// EncodeFlags is the inverse of decodeFlags, used by whatever constructs
// PathRef steps (the tracer adapter or test fixtures).
func EncodeFlags(af flags.AccessFlags) uint32 {
	var bits uint32
	set := func(b bool, bit uint32) {
		if b {
			bits |= 1 << bit
		}
	}
	set(af.Read, 0)
	set(af.Write, 1)
	set(af.Exec, 2)
	set(af.NoFollow, 3)
	set(af.Truncate, 4)
	set(af.Create, 5)
	set(af.Exclusive, 6)
	set(af.Append, 7)
	set(af.Directory, 8)
	return bits
}

func (e *Emulator) applyExpectResult(step ir.Step) error {
	rr, ok := e.refs[step.Ref]
	if !ok {
		return fmt.Errorf("BrokenTrace: ExpectResult references unknown ref %d", step.Ref)
	}
	gotOk := rr.IsOk()
	expectOk := flags.ErrorKind(step.ExpectedErr) == flags.Ok
	if gotOk != expectOk || (!gotOk && rr.ErrKind() != flags.ErrorKind(step.ExpectedErr)) {
		if e.Planner != nil {
			e.Planner.MarkChanged(step.Command)
		}
	}
	return nil
}

func (e *Emulator) applyMatchMetadata(step ir.Step) error {
	rr, ok := e.refs[step.Ref]
	if !ok || !rr.IsOk() {
		if e.Planner != nil {
			e.Planner.MarkChanged(step.Command)
		}
		return nil
	}
	expected := version.NewMetadataVersion("", step.UID, step.GID, step.Mode, step.MTime)
	art := rr.Artifact()
	matched, err := art.MatchMetadata(fmt.Sprint(step.Command), expected)
	if err != nil {
		return err
	}
	if !matched && e.Planner != nil {
		e.Planner.MarkChanged(step.Command)
	}
	e.recordDependency(art, step.Command)
	return nil
}

func (e *Emulator) applyMatchContent(step ir.Step) error {
	rr, ok := e.refs[step.Ref]
	if !ok || !rr.IsOk() {
		if e.Planner != nil {
			e.Planner.MarkChanged(step.Command)
		}
		return nil
	}
	expected := e.expectedContentVersion(step)
	art := rr.Artifact()
	matched, err := art.MatchContent(fmt.Sprint(step.Command), expected)
	if err != nil {
		return err
	}
	if !matched && e.Planner != nil {
		e.Planner.MarkChanged(step.Command)
	}
	e.recordDependency(art, step.Command)
	return nil
}

// expectedContentVersion builds the version a MatchContent step compares
// against. A step that carries its content inline (step.Blob) is the
// common case; one that carries only a digest (e.g. replayed from a
// persisted trace that did not inline the blob) tries to stage the real
// bytes in from the cache before falling back to a fingerprint-only
// version, which still lets Match compare by digest even without content.
func (e *Emulator) expectedContentVersion(step ir.Step) *version.FileContentVersion {
	if len(step.Blob) > 0 {
		return version.NewFileContentVersionFromBytes("", step.Blob)
	}
	if len(step.Digest) == 0 {
		return version.NewFileContentVersion("")
	}
	fp := version.Fingerprint{Digest: step.Digest, Size: step.Size}
	if e.Cache != nil {
		if content, ok, err := e.Cache.Get(fp); err == nil && ok {
			return version.NewFileContentVersionFromBytes("", content)
		}
	}
	return version.NewFileContentVersionFromFingerprint("", fp)
}

// recordDependency turns the InputEdge a Match* call just appended to art
// (via GetMetadata/GetContent) into a planner dependency, so the read
// participates in edge kinds 4/5 of spec.md §4.I's transitive closure. A
// no-op without a planner, or when the version's creator is unset (a
// baseline artifact stat'd off disk rather than produced by any command) or
// is the reading command itself.
func (e *Emulator) recordDependency(art *artifact.Artifact, consumer ir.CommandID) {
	if e.Planner == nil || len(art.Inputs) == 0 {
		return
	}
	edge := art.Inputs[len(art.Inputs)-1]
	producer, ok := parseCommandID(edge.Version.Creator())
	if !ok || producer == consumer {
		return
	}
	e.Planner.RecordDependency(producer, consumer, e.dependencyState(edge.Version))
}

func parseCommandID(s string) (ir.CommandID, bool) {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, false
	}
	return ir.CommandID(n), true
}

// dependencyState reports the cache-suppression state of spec.md §4.I's
// caching policy for v: a file content version is cache-recoverable if its
// blob is saved in memory, or failing that, if the content-addressed cache
// already holds its fingerprint; a metadata version is always carried in
// full (see internal/version.MetadataVersion's doc comment), so it is
// always has_metadata.
func (e *Emulator) dependencyState(v version.Version) plan.VersionState {
	switch vv := v.(type) {
	case *version.FileContentVersion:
		if vv.Saved() {
			return plan.VersionState{Saved: true}
		}
		if e.Cache != nil && !vv.FingerprintValue().IsZero() {
			if has, err := e.Cache.Has(vv.FingerprintValue()); err == nil && has {
				return plan.VersionState{Saved: true}
			}
		}
		return plan.VersionState{}
	case *version.MetadataVersion:
		return plan.VersionState{HasMetadata: true}
	default:
		return plan.VersionState{}
	}
}

func (e *Emulator) applyUpdateMetadata(step ir.Step) error {
	rr, ok := e.refs[step.Ref]
	if !ok || !rr.IsOk() {
		return fmt.Errorf("BrokenTrace: UpdateMetadata on unresolved ref %d", step.Ref)
	}
	v := version.NewMetadataVersion(fmt.Sprint(step.Command), step.UID, step.GID, step.Mode, step.MTime)
	rr.Artifact().UpdateMetadata(fmt.Sprint(step.Command), v)
	return nil
}

func (e *Emulator) applyUpdateContent(step ir.Step) error {
	rr, ok := e.refs[step.Ref]
	if !ok || !rr.IsOk() {
		return fmt.Errorf("BrokenTrace: UpdateContent on unresolved ref %d", step.Ref)
	}
	v := version.NewFileContentVersionFromBytes(fmt.Sprint(step.Command), step.Blob)
	if err := rr.Artifact().UpdateContent(fmt.Sprint(step.Command), v); err != nil {
		return err
	}
	if e.Cache != nil {
		if content, ok := v.Content(); ok {
			if err := e.Cache.Put(v.FingerprintValue(), content); err != nil {
				return fmt.Errorf("caching content of command %d's output: %w", step.Command, err)
			}
		}
	}
	return nil
}

// flushPending dispatches every must-run child parent has launched but not
// yet joined, via ExecuteChildrenConcurrently, then clears the queue. A
// no-op if parent has nothing pending (the common case: most commands don't
// fan out, or their children are emulated rather than must-run).
func (e *Emulator) flushPending(ctx context.Context, parent ir.CommandID) error {
	children := e.pending[parent]
	if len(children) == 0 {
		return nil
	}
	delete(e.pending, parent)
	return e.ExecuteChildrenConcurrently(ctx, children)
}

// flushAllPending drains every parent's pending queue. It is the safety net
// for traces that launch a must-run child but never Join it before ending
// (ir.DefaultTrace is exactly such a trace): without this, that child would
// never execute at all.
func (e *Emulator) flushAllPending(ctx context.Context) error {
	parents := make([]ir.CommandID, 0, len(e.pending))
	for parent := range e.pending {
		parents = append(parents, parent)
	}
	sort.Slice(parents, func(i, j int) bool { return parents[i] < parents[j] })
	for _, parent := range parents {
		if err := e.flushPending(ctx, parent); err != nil {
			return err
		}
	}
	return nil
}

// ExecuteChildrenConcurrently runs several already-decided must_run
// children concurrently via the tracer, using errgroup for structured
// cancellation (spec.md §4.H "children's choice is made independently per
// child"). Artifact mutation from each child's resulting steps is applied
// after the group completes and is therefore still single-threaded,
// preserving the no-locking invariant of spec.md §5. Called via
// flushPending from apply's StepJoin handling and, at the end of the trace,
// from flushAllPending, not just from tests.
func (e *Emulator) ExecuteChildrenConcurrently(ctx context.Context, ids []ir.CommandID) error {
	g, gctx := errgroup.WithContext(ctx)
	results := make([][]ir.Step, len(ids))
	exitCodes := make([]int32, len(ids))

	// commandState lookups mutate e.commands, which is not safe for
	// concurrent access (spec.md §5: the core is single-threaded
	// cooperative). Resolve every child's state up front, before any
	// goroutine starts, so the only concurrency is inside Tracer.Execute.
	argvs := make([][]string, len(ids))
	cwds := make([]string, len(ids))
	for i, id := range ids {
		c := e.command(id)
		c.mustRun = true
		argvs[i], cwds[i] = c.argv, c.cwd
		if e.OnExecute != nil {
			e.OnExecute(id, argvs[i])
		}
	}

	for i, id := range ids {
		i, id := i, id
		g.Go(func() error {
			if e.Tracer == nil {
				return fmt.Errorf("TracerFailure: no tracer configured")
			}
			steps, code, err := e.Tracer.Execute(gctx, id, argvs[i], cwds[i])
			if err != nil {
				return fmt.Errorf("TracerFailure: executing command %d: %w", id, err)
			}
			results[i] = steps
			exitCodes[i] = code
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	for i, id := range ids {
		c := e.command(id)
		c.exitCode = exitCodes[i]
		c.exited = true
		if e.OnExecuteDone != nil {
			e.OnExecuteDone(id, exitCodes[i])
		}
		for _, s := range results[i] {
			if err := e.apply(ctx, s, nil, false); err != nil {
				return err
			}
			ir.SafeRecord(e.Out, s)
		}
	}
	return nil
}
