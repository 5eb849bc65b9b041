package index

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/starford/infrawiki/internal/pathres"
)

// DefaultDebounce is how long the watcher waits for the tree to settle
// before rebuilding.
const DefaultDebounce = 500 * time.Millisecond

// EventCallback is called for every node a watcher-driven rebuild found
// changed. kind is one of "created", "updated", "deleted".
type EventCallback func(kind string, path string)

// Watch starts an fsnotify watcher on the content root and rebuilds the
// index once changes have settled, until ctx is cancelled. Edits made
// through the node store are already indexed, so such rebuilds find no
// changes; edits made behind the store's back are picked up and reported
// through cb (if non-nil).
//
// Hidden entries (staging directories, tombstones, temp files) and assets
// directories are ignored.
func Watch(ctx context.Context, ix *Index, root string, debounce time.Duration, logger *slog.Logger, cb EventCallback) error {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	if err := addDirsRecursive(w, root); err != nil {
		return err
	}

	logger.Info("watcher: started", slog.String("root", root))

	var timer *time.Timer
	var timerCh <-chan time.Time
	schedule := func() {
		if timer == nil {
			timer = time.NewTimer(debounce)
			timerCh = timer.C
		} else {
			timer.Reset(debounce)
		}
	}

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			logger.Info("watcher: stopped")
			return nil

		case <-timerCh:
			changes, err := ix.Rebuild(ctx)
			if err != nil {
				logger.Warn("watcher: rebuild failed", slog.String("error", err.Error()))
				continue
			}
			if changes.Empty() {
				continue
			}
			logger.Debug("watcher: external changes",
				slog.Int("created", len(changes.Created)),
				slog.Int("updated", len(changes.Updated)),
				slog.Int("deleted", len(changes.Deleted)))
			if cb != nil {
				notify(cb, changes)
			}

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if ignored(root, ev.Name) {
				continue
			}
			if ev.Op&fsnotify.Create != 0 {
				if info, statErr := os.Stat(ev.Name); statErr == nil && info.IsDir() {
					if addErr := addDirsRecursive(w, ev.Name); addErr != nil {
						logger.Warn("watcher: add new dir failed",
							slog.String("path", ev.Name),
							slog.String("error", addErr.Error()))
					}
				}
			}
			schedule()

		case watchErr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Error("watcher: error", slog.String("error", watchErr.Error()))
		}
	}
}

func notify(cb EventCallback, c Changes) {
	for _, p := range c.Created {
		cb("created", p)
	}
	for _, p := range c.Updated {
		cb("updated", p)
	}
	for _, p := range c.Deleted {
		cb("deleted", p)
	}
}

// ignored reports whether an event path lies in a hidden entry or an assets
// directory.
func ignored(root, abs string) bool {
	rel, err := filepath.Rel(root, abs)
	if err != nil {
		return true
	}
	for _, seg := range strings.Split(filepath.ToSlash(rel), "/") {
		if strings.HasPrefix(seg, ".") && seg != "." || strings.EqualFold(seg, pathres.AssetsDir) {
			return true
		}
	}
	return false
}

// addDirsRecursive adds root and all its node subdirectories to the watcher.
func addDirsRecursive(w *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && (strings.HasPrefix(d.Name(), ".") || strings.EqualFold(d.Name(), pathres.AssetsDir)) {
			return filepath.SkipDir
		}
		return w.Add(path)
	})
}
