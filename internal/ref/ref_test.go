package ref

import (
	"testing"

	"rkr/internal/artifact"
	"rkr/internal/flags"
)

type recordingObserver struct{ notified []*RefResult }

func (o *recordingObserver) OnResolved(rr *RefResult) { o.notified = append(o.notified, rr) }

func TestRefResultIdentityEquality(t *testing.T) {
	a := New()
	b := New()
	if a.Equal(b) {
		t.Fatalf("distinct RefResults must not be equal")
	}
	if !a.Equal(a) {
		t.Fatalf("a RefResult must equal itself")
	}
}

func TestRefResultObserverFiresOnResolve(t *testing.T) {
	rr := New()
	obs := &recordingObserver{}
	rr.Observe(obs)
	if len(obs.notified) != 0 {
		t.Fatalf("observer must not fire before resolution")
	}

	art := artifact.New("dev:1", artifact.KindFile)
	rr.ResolveOk(art)
	if len(obs.notified) != 1 {
		t.Fatalf("expected exactly one notification, got %d", len(obs.notified))
	}
}

func TestRefResultObserveAfterResolveFiresImmediately(t *testing.T) {
	rr := New()
	rr.ResolveErr(flags.NotFound)

	obs := &recordingObserver{}
	rr.Observe(obs)
	if len(obs.notified) != 1 {
		t.Fatalf("expected immediate notification for already-resolved ref")
	}
}

func TestRefResultDoubleResolvePanics(t *testing.T) {
	rr := New()
	rr.ResolveErr(flags.NotFound)
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic on double resolution")
		}
	}()
	rr.ResolveOk(artifact.New("x", artifact.KindFile))
}
