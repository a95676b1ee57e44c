package artifact

import (
	"testing"

	"rkr/internal/flags"
	"rkr/internal/version"
)

func TestContentTrioRecordsEdges(t *testing.T) {
	a := New("dev:1", KindFile)
	v1 := version.NewFileContentVersionFromBytes("cmdA", []byte("one"))
	if err := a.UpdateContent("cmdA", v1); err != nil {
		t.Fatal(err)
	}

	got, err := a.GetContent("cmdB")
	if err != nil {
		t.Fatal(err)
	}
	if got != v1 {
		t.Fatalf("expected GetContent to return the version just pushed")
	}
	if len(a.Inputs) != 1 || a.Inputs[0].Command != "cmdB" {
		t.Fatalf("expected one input edge for cmdB, got %+v", a.Inputs)
	}
	if len(a.Outputs) != 1 || a.Outputs[0].Command != "cmdA" {
		t.Fatalf("expected one output edge for cmdA, got %+v", a.Outputs)
	}
}

func TestUpdateContentMonotonicity(t *testing.T) {
	a := New("dev:2", KindFile)
	v1 := version.NewFileContentVersionFromBytes("c1", []byte("a"))
	v2 := version.NewFileContentVersionFromBytes("c2", []byte("b"))
	_ = a.UpdateContent("c1", v1)
	_ = a.UpdateContent("c2", v2)

	got, err := a.GetContent("c3")
	if err != nil {
		t.Fatal(err)
	}
	if got != v2 {
		t.Fatalf("expected newest version v2 after two updates")
	}
}

func TestDirectoryLookupWriteLastWins(t *testing.T) {
	dir := New("dev:3", KindDir)
	_ = dir.PushDirVersion(version.NewExistingDir())

	target := New("dev:4", KindFile)
	if err := dir.ApplyLink("mk", "foo", target); err != nil {
		t.Fatal(err)
	}

	res, err := dir.GetEntry("reader", "/d", "foo", nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.Artifact != target {
		t.Fatalf("expected GetEntry(foo) to resolve the linked target")
	}

	if err := dir.ApplyUnlink("rm", "foo"); err != nil {
		t.Fatal(err)
	}
	res2, err := dir.GetEntry("reader2", "/d", "foo", nil)
	if err != nil {
		t.Fatal(err)
	}
	if res2.Artifact != nil || res2.Err != flags.NotFound {
		t.Fatalf("expected NotFound after unlink, got %+v", res2)
	}
}

func TestGetEntryDotReturnsSelf(t *testing.T) {
	dir := New("dev:5", KindDir)
	res, err := dir.GetEntry("c", "/d", ".", nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.Artifact != dir {
		t.Fatalf("expected '.' to resolve to the directory itself")
	}
}

func TestPipeContentUnimplemented(t *testing.T) {
	p := New("pipe:1", KindPipe)
	if err := p.GetPipeContent("c"); err != ErrUnimplemented {
		t.Fatalf("expected ErrUnimplemented for pipe content, got %v", err)
	}
}
