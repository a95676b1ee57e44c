// Package ref implements the symbolic Reference variants and the
// RefResult mutable resolution box of spec.md §3/§4.E.
package ref

import (
	"sync"

	"rkr/internal/artifact"
	"rkr/internal/flags"
)

// Kind discriminates the Ref variants of spec.md §3.
type Kind int

const (
	KindPipeEnd Kind = iota
	KindAnonymousFile
	KindAnonymousSymlink
	KindAnonymousDir
	KindPath
	KindSpecialStdin
	KindSpecialStdout
	KindSpecialStderr
	KindSpecialRoot
	KindSpecialCwd
	KindSpecialLaunchExe
)

// Ref is the abstract symbolic handle a command holds. It is a closed sum
// type: exactly one of the typed fields below is meaningful, selected by
// Kind.
type Ref struct {
	Kind Kind

	// PipeEnd
	PipeWrite bool

	// AnonymousFile / AnonymousDir
	Mode uint32

	// AnonymousSymlink
	SymlinkTarget string

	// Path
	Base  *RefResult
	Path  []string
	Flags flags.AccessFlags
}

// Special constructs one of the well-known root/stdio/exe refs.
func Special(kind Kind) Ref { return Ref{Kind: kind} }

// PathRef constructs a Path reference relative to base.
func PathRef(base *RefResult, path []string, af flags.AccessFlags) Ref {
	return Ref{Kind: KindPath, Base: base, Path: path, Flags: af}
}

// resolutionState is the closed tri-state a RefResult can hold.
type resolutionState int

const (
	pending resolutionState = iota
	resolvedOk
	resolvedErr
)

// Observer is notified when a RefResult it watches changes.
type Observer interface {
	OnResolved(rr *RefResult)
}

// RefResult is the mutable box holding the outcome of resolving a
// Reference. It has identity — pointer equality is its equality, per
// spec.md §4.E ("Equality is by identity, not by structural contents") —
// and a lifetime bounded by the owning command.
type RefResult struct {
	id int64

	mu        sync.Mutex
	state     resolutionState
	artifact  *artifact.Artifact
	errKind   flags.ErrorKind
	observers []Observer
}

var nextID int64

// New allocates a fresh, pending RefResult with a stable, process-unique id
// (assigned in first-appearance order, matching the trace's stable integer
// ID scheme in spec.md §6).
func New() *RefResult {
	nextID++
	return &RefResult{id: nextID, state: pending}
}

func (r *RefResult) ID() int64 { return r.id }

// Observe registers o to be notified exactly once, when this RefResult
// transitions out of Pending.
func (r *RefResult) Observe(o Observer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != pending {
		o.OnResolved(r)
		return
	}
	r.observers = append(r.observers, o)
}

// ResolveOk transitions this RefResult to a successful resolution. Per
// spec.md invariant 5, a RefResult never changes from success to error or
// vice versa after first resolution; calling ResolveOk/ResolveErr a second
// time is a programmer error and panics rather than silently corrupting
// state.
func (r *RefResult) ResolveOk(a *artifact.Artifact) {
	r.mu.Lock()
	if r.state != pending {
		r.mu.Unlock()
		panic("ref: RefResult resolved more than once")
	}
	r.state = resolvedOk
	r.artifact = a
	observers := r.observers
	r.observers = nil
	r.mu.Unlock()

	for _, o := range observers {
		o.OnResolved(r)
	}
}

// ResolveErr transitions this RefResult to a failed resolution.
func (r *RefResult) ResolveErr(kind flags.ErrorKind) {
	r.mu.Lock()
	if r.state != pending {
		r.mu.Unlock()
		panic("ref: RefResult resolved more than once")
	}
	r.state = resolvedErr
	r.errKind = kind
	observers := r.observers
	r.observers = nil
	r.mu.Unlock()

	for _, o := range observers {
		o.OnResolved(r)
	}
}

// IsPending, IsOk, Artifact, ErrKind expose the current state. Calling
// Artifact/ErrKind while Pending returns the zero value; callers must check
// IsPending first.
func (r *RefResult) IsPending() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state == pending
}

func (r *RefResult) IsOk() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state == resolvedOk
}

func (r *RefResult) Artifact() *artifact.Artifact {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.artifact
}

func (r *RefResult) ErrKind() flags.ErrorKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.errKind
}

// Equal compares two RefResults by identity, per spec.md §4.E.
func (r *RefResult) Equal(other *RefResult) bool {
	return r == other
}
