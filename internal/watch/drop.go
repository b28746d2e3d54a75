package watch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"

	"github.com/hugo-lorenzo-mato/killswitch/internal/core"
	"github.com/hugo-lorenzo-mato/killswitch/internal/handler"
	"github.com/hugo-lorenzo-mato/killswitch/internal/logging"
)

// DropWatcher raises a notification for each file created in a directory.
// A JVM started with -XX:+HeapDumpOnOutOfMemoryError -XX:HeapDumpPath=<dir>
// writes java_pid<N>.hprof there when it throws OutOfMemoryError; any other
// file is a marker whose base name lists the flags, e.g. "threads.oom".
type DropWatcher struct {
	dir      string
	notifier Notifier
	logger   *logging.Logger
}

// NewDropWatcher creates a watcher on dir.
func NewDropWatcher(dir string, notifier Notifier, logger *logging.Logger) *DropWatcher {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &DropWatcher{dir: dir, notifier: notifier, logger: logger}
}

// FlagsForFile maps a dropped file name to exhaustion flags.
func FlagsForFile(name string) (core.ExhaustionFlags, error) {
	base := filepath.Base(name)
	if IsHeapDump(base) {
		return core.HeapExhausted | core.OOMErrorImminent, nil
	}
	// '.' separates flags too, so "threads.oom" parses whole while
	// "heap,oom.flag" needs its extension dropped first.
	if flags, err := core.ParseFlags(base); err == nil {
		return flags, nil
	}
	return core.ParseFlags(strings.TrimSuffix(base, filepath.Ext(base)))
}

// IsHeapDump reports whether name is a JVM-written OOM heap dump.
func IsHeapDump(name string) bool {
	return strings.HasPrefix(name, "java_pid") && strings.HasSuffix(name, ".hprof")
}

// Run watches the directory until ctx is done or the handler reports that
// the target was already terminated.
func (w *DropWatcher) Run(ctx context.Context) error {
	if err := os.MkdirAll(w.dir, 0o750); err != nil {
		return fmt.Errorf("creating drop directory: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(w.dir); err != nil {
		return fmt.Errorf("watching %s: %w", w.dir, err)
	}
	w.logger.Info("watching drop directory", "dir", w.dir)

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&fsnotify.Create == 0 {
				continue
			}
			if w.handle(ctx, event.Name) {
				return nil
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("drop watcher error", "error", err)
		}
	}
}

// handle processes one created file and reports whether watching should
// stop.
func (w *DropWatcher) handle(ctx context.Context, path string) bool {
	if info, err := os.Stat(path); err != nil || info.IsDir() {
		return false
	}

	flags, err := FlagsForFile(path)
	if err != nil {
		w.logger.Warn("ignoring dropped file", "path", path, "error", err)
		return false
	}

	// Heap dumps are kept for offline analysis; markers are consumed.
	if !IsHeapDump(filepath.Base(path)) {
		if err := os.Remove(path); err != nil {
			w.logger.Warn("removing marker", "path", path, "error", err)
		}
	}

	return w.notifier.OnResourceExhaustedFrom(ctx, flags, "drop") == handler.OutcomeIgnored
}
