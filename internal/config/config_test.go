package config

import (
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	opts, err := Load(filepath.Join(t.TempDir(), "absent.yaml"), nil)
	require.NoError(t, err)
	require.Equal(t, Defaults(), opts)
}

func TestLoadParsesYAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := Write(path, Options{EnableCache: false, SymlinkLimit: 7, DryRun: true}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	opts, err := Load(path, nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if opts.EnableCache || opts.SymlinkLimit != 7 || !opts.DryRun {
		t.Fatalf("unexpected options: %+v", opts)
	}
}

func TestFlagOverridesFileValue(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := Write(path, Options{EnableCache: true}); err != nil {
		t.Fatalf("Write: %v", err)
	}

	v := viper.New()
	v.Set("enable_cache", false)
	opts, err := Load(path, v)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if opts.EnableCache {
		t.Fatalf("expected flag override to disable caching")
	}
}
