// Package watch implements the supplemental `rkr build --watch` loop: rerun
// build whenever a file under the watched paths changes, in the
// cobra-subcommand-plus-blocking-select-loop shape crux's watch
// subcommands use (a quit channel alongside the event channel).
package watch

import (
	"context"
	"time"

	"github.com/radovskyb/watcher"
	"github.com/sirupsen/logrus"
)

// Rebuilder reruns a build; Run calls it once up front and again after
// every filesystem event.
type Rebuilder func(ctx context.Context) error

// pollInterval is how often the watcher checks for changes.
const pollInterval = 200 * time.Millisecond

// Run watches paths for writes, creates, renames, and removes, calling
// rebuild once immediately and again after each change. ignore excludes
// subtrees (typically the .rkr/.dodo state directory, whose own writes
// would otherwise retrigger the build it just finished). It blocks until
// ctx is cancelled or the watcher errors.
func Run(ctx context.Context, log *logrus.Entry, paths []string, ignore []string, rebuild Rebuilder) error {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}

	w := watcher.New()
	w.FilterOps(watcher.Write, watcher.Create, watcher.Rename, watcher.Remove)
	for _, p := range paths {
		if err := w.AddRecursive(p); err != nil {
			return err
		}
	}
	if len(ignore) > 0 {
		if err := w.Ignore(ignore...); err != nil {
			return err
		}
	}

	if err := rebuild(ctx); err != nil {
		log.WithError(err).Warn("initial build failed")
	}

	startErr := make(chan error, 1)
	go func() { startErr <- w.Start(pollInterval) }()

	for {
		select {
		case <-ctx.Done():
			w.Close()
			return ctx.Err()
		case err := <-startErr:
			return err
		case ev := <-w.Event:
			log.Infof("watch: %s %s", ev.Op, ev.Path)
			if err := rebuild(ctx); err != nil {
				log.WithError(err).Warn("rebuild failed")
			}
		case err := <-w.Error:
			return err
		case <-w.Closed:
			return nil
		}
	}
}
