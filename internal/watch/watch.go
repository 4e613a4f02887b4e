// Package watch reruns a sync whenever the schema or migration files change.
package watch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/hashicorp/go-hclog"
)

const defaultDebounce = 300 * time.Millisecond

// SyncFunc brings the database in line with the files.
type SyncFunc func(ctx context.Context) error

// Option configures a Watcher.
type Option func(*Watcher)

// WithDebounce sets how long the files must be quiet before a sync runs.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) { w.debounce = d }
}

// WithLogger sets the watcher's logger.
func WithLogger(l hclog.Logger) Option {
	return func(w *Watcher) { w.logger = l }
}

// WithReady registers a callback run once the watches are in place.
func WithReady(fn func()) Option {
	return func(w *Watcher) { w.ready = fn }
}

// Watcher runs a SyncFunc once at start and again after every burst of
// changes to .sql files under its directories. Syncs never overlap.
type Watcher struct {
	dirs     []string
	sync     SyncFunc
	debounce time.Duration
	logger   hclog.Logger
	ready    func()
}

// New creates a Watcher over dirs. Directories are watched recursively.
func New(dirs []string, sync SyncFunc, opts ...Option) *Watcher {
	w := &Watcher{
		dirs:     dirs,
		sync:     sync,
		debounce: defaultDebounce,
		logger:   hclog.NewNullLogger(),
	}

	for _, opt := range opts {
		opt(w)
	}

	return w
}

// Run blocks until ctx is done. Sync failures are logged and the loop keeps
// going; a failure to watch the directories ends Run.
func (w *Watcher) Run(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating file watcher: %w", err)
	}
	defer fsw.Close()

	for _, dir := range w.dirs {
		if err := w.addTree(fsw, dir); err != nil {
			return err
		}
	}

	if w.ready != nil {
		w.ready()
	}

	w.runSync(ctx)

	timer := time.NewTimer(w.debounce)
	if !timer.Stop() {
		<-timer.C
	}

	for {
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil

		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}

			if !w.relevant(fsw, event) {
				continue
			}

			w.logger.Trace("file changed", "path", event.Name, "op", event.Op.String())
			timer.Reset(w.debounce)

		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}

			w.logger.Error("file watcher error", "error", err)

		case <-timer.C:
			w.runSync(ctx)
		}
	}
}

func (w *Watcher) runSync(ctx context.Context) {
	w.logger.Debug("syncing")

	err := w.sync(ctx)

	switch {
	case err == nil:
	case errors.Is(err, context.Canceled) && ctx.Err() != nil:
	default:
		w.logger.Error("sync failed, waiting for the next change", "error", err)
	}
}

// relevant reports whether event should trigger a sync. New directories are
// added to the watch list.
func (w *Watcher) relevant(fsw *fsnotify.Watcher, event fsnotify.Event) bool {
	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := w.addTree(fsw, event.Name); err != nil {
				w.logger.Warn("cannot watch new directory", "path", event.Name, "error", err)
			}

			return true
		}
	}

	if event.Op == fsnotify.Chmod {
		return false
	}

	return strings.EqualFold(filepath.Ext(event.Name), ".sql")
}

// addTree watches root and every directory below it. A missing root is
// created so that the first migration written into it is seen.
func (w *Watcher) addTree(fsw *fsnotify.Watcher, root string) error {
	if err := os.MkdirAll(root, 0o755); err != nil { //nolint:mnd // directory permissions
		return fmt.Errorf("creating %s: %w", root, err)
	}

	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if !d.IsDir() {
			return nil
		}

		if err := fsw.Add(path); err != nil {
			return fmt.Errorf("watching %s: %w", path, err)
		}

		return nil
	})
}
