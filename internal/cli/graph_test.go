package cli

import (
	"bytes"
	"strings"
	"testing"

	"rkr/internal/ir"
)

func TestWriteDotEmitsLaunchEdges(t *testing.T) {
	steps := ir.DefaultTrace(1)
	var buf bytes.Buffer
	if err := writeDot(&buf, steps); err != nil {
		t.Fatalf("writeDot: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "digraph rkr {") {
		t.Fatalf("missing digraph header: %s", out)
	}
	if !strings.Contains(out, "c0 -> c1;") {
		t.Fatalf("missing launch edge: %s", out)
	}
}
