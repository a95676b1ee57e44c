package cli

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestRunGenContainerWritesDockerfile(t *testing.T) {
	dir := t.TempDir()
	if err := writeDepsManifest(dir, []string{"curl", "make"}); err != nil {
		t.Fatalf("writeDepsManifest: %v", err)
	}
	if err := runGenContainer(dir, "debian:bookworm"); err != nil {
		t.Fatalf("runGenContainer: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(dir, containerFileName))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	content := string(data)
	if !strings.Contains(content, "FROM debian:bookworm") {
		t.Fatalf("missing FROM line: %s", content)
	}
	if !strings.Contains(content, "curl make") {
		t.Fatalf("missing package install line: %s", content)
	}
}

func TestRunGenContainerFailsWithoutManifest(t *testing.T) {
	dir := t.TempDir()
	if err := runGenContainer(dir, "ubuntu:22.04"); err == nil {
		t.Fatalf("expected error when .rkr-deps is missing")
	}
}
