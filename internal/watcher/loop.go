// Package watcher translates the noisy stream of OS filesystem events
// into logical create/update/remove events and drives the indexer.
//
// Concurrency model:
//   - The OS notify thread feeds a bounded channel; a single Debouncer
//     goroutine batches it; the Loop is the single consumer of batches.
//   - Events are dispatched sequentially, which trivially preserves the
//     required per-path ordering.
//   - Per-file indexing errors are logged and swallowed; only the
//     sync-root-removal guard (or context cancellation) ends the loop.
package watcher

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/omkar-mohanty/skie/internal/indexer"
	"github.com/omkar-mohanty/skie/internal/logging"
)

// Loop owns the filesystem watch over one sync root.
type Loop struct {
	root     string
	excludes []string
	window   time.Duration
	indexer  *indexer.Indexer
	logger   *slog.Logger
}

// NewLoop creates a watch loop over root. Paths under any exclude subtree
// (and under .config, always) are ignored.
func NewLoop(root string, excludes []string, window time.Duration, ix *indexer.Indexer, logger *slog.Logger) *Loop {
	logger = logging.Default(logger)
	return &Loop{
		root:     root,
		excludes: excludes,
		window:   window,
		indexer:  ix,
		logger:   logger.With("component", "watcher"),
	}
}

// Skip reports whether path is internal bookkeeping or excluded and must
// not be indexed. Exposed for the startup full scan.
func (l *Loop) Skip(path string) bool {
	return hasConfigComponent(path) || underAny(path, l.excludes)
}

// Run watches the sync tree until ctx is cancelled or a fatal condition
// occurs. The returned error is nil on cancellation and non-nil only for
// fatal conditions (ErrSyncRootRemoved, watch setup failure).
func (l *Loop) Run(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer func() { _ = w.Close() }()

	if err := l.addRecursive(w, l.root); err != nil {
		return err
	}

	deb := NewDebouncer(l.window)
	go deb.Run(ctx, w.Events)

	l.logger.Info("watching", "root", l.root, "debounce", l.window)

	for {
		select {
		case <-ctx.Done():
			return nil

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			l.logger.Warn("fsnotify error", "error", err)

		case batch, ok := <-deb.Batches():
			if !ok {
				return nil
			}
			events, err := Classify(batch, l.root, l.excludes)
			if err != nil {
				return err
			}
			for _, ev := range events {
				l.dispatch(ctx, w, ev)
			}
		}
	}
}

// dispatch handles one logical event. Directory creations extend the
// watch; everything else flows to the indexer.
func (l *Loop) dispatch(ctx context.Context, w *fsnotify.Watcher, ev Event) {
	switch ev.Kind {
	case Create, Update:
		info, err := os.Stat(ev.Path)
		if err != nil {
			// Gone again before we got to it; the Remove will follow.
			l.logger.Debug("stat after event failed", "path", ev.Path, "error", err)
			return
		}
		if info.IsDir() {
			if ev.Kind == Create {
				if err := l.addRecursive(w, ev.Path); err != nil {
					l.logger.Warn("failed to watch new directory", "dir", ev.Path, "error", err)
				}
			}
			return
		}
		if err := l.indexer.IndexFile(ctx, ev.Path); err != nil {
			l.logger.Warn("index failed", "path", ev.Path, "error", err)
		}

	case Remove:
		if err := l.indexer.RemoveFile(ctx, ev.Path); err != nil {
			l.logger.Warn("remove failed", "path", ev.Path, "error", err)
		}
	}
}

// addRecursive registers root and every non-excluded directory below it.
// fsnotify watches are not recursive, so the tree is walked once here and
// extended in dispatch as directories appear.
func (l *Loop) addRecursive(w *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			l.logger.Warn("walk error", "path", path, "error", err)
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && l.Skip(path) {
			return filepath.SkipDir
		}
		if err := w.Add(path); err != nil {
			l.logger.Warn("failed to watch directory", "dir", path, "error", err)
		}
		return nil
	})
}
