package ir

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"

	"lukechampine.com/blake3"
)

// Sink is the minimal interface the emulator depends on to deliver step
// records to observers (the planner, an output-trace writer, …). Record
// must be inert: it must not panic and must not return an error, mirroring
// internal/trace.Sink in the teacher.
type Sink interface {
	Record(step Step)
}

// NopSink discards all records.
type NopSink struct{}

func (NopSink) Record(Step) {}

// SafeRecord records a step and guarantees inertness even if sink is buggy.
func SafeRecord(sink Sink, step Step) {
	if sink == nil {
		return
	}
	defer func() { _ = recover() }()
	sink.Record(step)
}

// Tee fans a single stream of steps out to multiple sinks in order, per the
// "observer chain...implemented as a tee" design note (spec.md §9).
type Tee struct {
	Sinks []Sink
}

func (t *Tee) Record(step Step) {
	for _, s := range t.Sinks {
		SafeRecord(s, step)
	}
}

// Source supplies records to a consumer, e.g. a deserialized stored trace
// or a live tracer.
type Source interface {
	// Next returns the next step, or ok=false once the source has no more
	// steps. A StepEnd record is returned like any other step; stopping at
	// it is up to the consumer.
	Next() (step Step, ok bool, err error)
}

// SliceSource is a Source over an in-memory slice, used by tests and by
// internal/cli to replay a loaded or default trace.
type SliceSource struct {
	steps []Step
	pos   int
}

func NewSliceSource(steps []Step) *SliceSource { return &SliceSource{steps: steps} }

func (s *SliceSource) Next() (Step, bool, error) {
	if s.pos >= len(s.steps) {
		return Step{}, false, nil
	}
	st := s.steps[s.pos]
	s.pos++
	return st, true, nil
}

// Recorder is an in-memory Sink collecting steps for later canonicalization
// and hashing, grounded on internal/trace.Recorder.
type Recorder struct {
	steps []Step
}

func NewRecorder() *Recorder { return &Recorder{} }

func (r *Recorder) Record(step Step) {
	if r == nil {
		return
	}
	defer func() { _ = recover() }()
	r.steps = append(r.steps, step)
}

// Steps returns a defensive copy of everything recorded so far, in
// insertion order (step order is authoritative per command, per spec.md
// §5, so no reordering happens here).
func (r *Recorder) Steps() []Step {
	out := make([]Step, len(r.steps))
	copy(out, r.steps)
	return out
}

// DefaultTrace builds the fallback trace spec.md §6/§7 specifies for an
// absent or unterminated trace: stdio specials, root and cwd, and a single
// Launch of the root command.
func DefaultTrace(rootCommand CommandID) []Step {
	return []Step{
		{Kind: StepSpecialRef, Command: rootCommand, Entity: "stdin", Out: 1},
		{Kind: StepSpecialRef, Command: rootCommand, Entity: "stdout", Out: 2},
		{Kind: StepSpecialRef, Command: rootCommand, Entity: "stderr", Out: 3},
		{Kind: StepSpecialRef, Command: rootCommand, Entity: "root", Out: 4},
		{Kind: StepSpecialRef, Command: rootCommand, Entity: "cwd", Out: 5},
		{Kind: StepLaunch, Command: 0, Parent: 0, Child: rootCommand},
		{Kind: StepEnd, Command: rootCommand},
	}
}

// Hash computes the deterministic BLAKE3 hash of a canonical JSON encoding
// of steps, grounded on internal/trace/hash.go's ComputeTraceHash but using
// BLAKE3 (see SPEC_FULL.md DOMAIN STACK) instead of SHA-256.
func Hash(steps []Step) (string, error) {
	canon := Canonicalize(steps)
	b, err := json.Marshal(canon)
	if err != nil {
		return "", fmt.Errorf("marshaling trace for hashing: %w", err)
	}
	h := blake3.New(32, nil)
	_, _ = h.Write(b)
	return fmt.Sprintf("%x", h.Sum(nil)), nil
}

// Canonicalize returns a copy of steps in the stable order §8 property 4
// requires for round-trip equality: by Command, then by position within
// the command's own (authoritative) order. Cross-command ordering in the
// canonical form is by first Launch/appearance order only, never by
// wall-clock interleaving, so two serializations of logically identical
// traces compare equal.
func Canonicalize(steps []Step) []Step {
	out := make([]Step, len(steps))
	copy(out, steps)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Command < out[j].Command
	})
	return out
}

// Equal reports structural equality of two step slices after
// canonicalization, backing the round-trip property (spec.md §8 property
// 4).
func Equal(a, b []Step) bool {
	ca, cb := Canonicalize(a), Canonicalize(b)
	ja, err1 := json.Marshal(ca)
	jb, err2 := json.Marshal(cb)
	if err1 != nil || err2 != nil {
		return false
	}
	return bytes.Equal(ja, jb)
}
