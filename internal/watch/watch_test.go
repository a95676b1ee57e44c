package watch

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

func TestRunCallsRebuildOnceUpFront(t *testing.T) {
	dir := t.TempDir()
	var calls int32

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	err := Run(ctx, nil, []string{dir}, nil, func(ctx context.Context) error {
		atomic.AddInt32(&calls, 1)
		return nil
	})
	if err != context.DeadlineExceeded {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if atomic.LoadInt32(&calls) < 1 {
		t.Fatalf("expected at least one initial rebuild call")
	}
}

func TestRunRebuildsOnFileChange(t *testing.T) {
	dir := t.TempDir()
	var calls int32

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	go func() {
		time.Sleep(400 * time.Millisecond)
		_ = os.WriteFile(filepath.Join(dir, "x.txt"), []byte("hi"), 0o644)
	}()

	_ = Run(ctx, nil, []string{dir}, nil, func(ctx context.Context) error {
		atomic.AddInt32(&calls, 1)
		return nil
	})
	if atomic.LoadInt32(&calls) < 2 {
		t.Fatalf("expected a rebuild after the file write, got %d calls", calls)
	}
}
