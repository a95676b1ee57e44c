package ir

import "testing"

func TestCanonicalizeIsStableByCommand(t *testing.T) {
	steps := []Step{
		{Kind: StepExit, Command: 2},
		{Kind: StepExit, Command: 1},
		{Kind: StepEnd, Command: 1},
	}
	out := Canonicalize(steps)
	if out[0].Command != 1 || out[1].Command != 1 || out[2].Command != 2 {
		t.Fatalf("expected stable sort by command, got %+v", out)
	}
	// Stable: among command==1, Exit must still precede End (original order).
	if out[0].Kind != StepExit || out[1].Kind != StepEnd {
		t.Fatalf("expected original order preserved within a command, got %+v", out)
	}
}

func TestRoundTripEquality(t *testing.T) {
	a := []Step{{Kind: StepLaunch, Command: 0, Child: 1}, {Kind: StepEnd, Command: 1}}
	b := []Step{{Kind: StepEnd, Command: 1}, {Kind: StepLaunch, Command: 0, Child: 1}}
	if !Equal(a, b) {
		t.Fatalf("expected canonicalization to make these equal")
	}
}

func TestHashIsDeterministic(t *testing.T) {
	steps := DefaultTrace(1)
	h1, err := Hash(steps)
	if err != nil {
		t.Fatal(err)
	}
	h2, err := Hash(steps)
	if err != nil {
		t.Fatal(err)
	}
	if h1 != h2 {
		t.Fatalf("expected deterministic hash, got %s vs %s", h1, h2)
	}
}

func TestStepValidateRejectsSelfLaunch(t *testing.T) {
	s := Step{Kind: StepLaunch, Parent: 1, Child: 1}
	if err := s.Validate(); err == nil {
		t.Fatalf("expected error for self-launch")
	}
}

func TestRecorderPreservesInsertionOrder(t *testing.T) {
	r := NewRecorder()
	r.Record(Step{Kind: StepLaunch, Child: 1})
	r.Record(Step{Kind: StepExit, Command: 1})
	got := r.Steps()
	if len(got) != 2 || got[0].Kind != StepLaunch || got[1].Kind != StepExit {
		t.Fatalf("unexpected recorded order: %+v", got)
	}
}
