package plan

import (
	"testing"
)

func TestClosureSeedsFromChanged(t *testing.T) {
	p := New(false)
	p.MarkChanged(1)
	plan := p.Close()
	if !plan.MustRun(1) {
		t.Fatalf("expected changed command to be in rerun set")
	}
}

func TestClosurePropagatesChildEdge(t *testing.T) {
	p := New(false)
	p.RecordLaunch(1, 2)
	p.MarkChanged(1)
	plan := p.Close()
	if !plan.MustRun(2) {
		t.Fatalf("expected child to be pulled in via Child edge")
	}
}

func TestClosurePropagatesInputMayChange(t *testing.T) {
	p := New(false)
	p.RecordDependency(1, 2, VersionState{})
	p.MarkChanged(1)
	plan := p.Close()
	if !plan.MustRun(2) {
		t.Fatalf("expected consumer to be pulled in via InputMayChange")
	}
}

func TestClosurePropagatesOutputNeededBackward(t *testing.T) {
	p := New(false)
	p.RecordDependency(1, 2, VersionState{})
	p.MarkOutputNeeded(2)
	plan := p.Close()
	if !plan.MustRun(1) {
		t.Fatalf("expected producer to be pulled in via propagated OutputNeeded")
	}
}

func TestCachingPolicySuppressesEdgeWhenSaved(t *testing.T) {
	p := New(true)
	p.RecordDependency(1, 2, VersionState{Saved: true})
	p.MarkChanged(1)
	plan := p.Close()
	if plan.MustRun(2) {
		t.Fatalf("expected consumer edge to be suppressed when content is saved and caching is enabled")
	}
}

func TestClosureNoUncontrolledPropagation(t *testing.T) {
	p := New(false)
	p.RecordLaunch(1, 2)
	p.MarkChanged(3)
	plan := p.Close()
	if plan.MustRun(1) || plan.MustRun(2) {
		t.Fatalf("unrelated commands must not be marked")
	}
}

func TestCheckLaunchAcyclicDetectsCycle(t *testing.T) {
	p := New(false)
	p.RecordLaunch(1, 2)
	p.RecordLaunch(2, 1)
	if err := p.CheckLaunchAcyclic(); err == nil {
		t.Fatalf("expected a cycle error")
	}
}

func TestCheckLaunchAcyclicAcceptsTree(t *testing.T) {
	p := New(false)
	p.RecordLaunch(1, 2)
	p.RecordLaunch(1, 3)
	if err := p.CheckLaunchAcyclic(); err != nil {
		t.Fatalf("unexpected error for a tree: %v", err)
	}
}
