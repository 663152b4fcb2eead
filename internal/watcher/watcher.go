// Package watcher turns file system events under the data and optimization
// roots into debounced scan requests.
package watcher

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"sdx/internal/config"
)

// Requester receives a scan request for each relevant batch of changes.
// The receiver owns debouncing and serialization.
type Requester interface {
	Request()
}

// relevantExts lists artifact extensions that affect the index.
var relevantExts = map[string]bool{
	".m":    true,
	".mat":  true,
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".svg":  true,
}

// Watcher watches the data and optimization roots recursively and forwards
// relevant changes to the scan coordinator.
type Watcher struct {
	fsw       *fsnotify.Watcher
	requester Requester
	logger    *slog.Logger
	roots     []string
	ignore    []string

	stopOnce sync.Once
	done     chan struct{}

	mu       sync.RWMutex
	watching bool
}

// New creates a watcher for the configured data and optimization roots.
// A root that does not exist yet is skipped with a warning at Start.
func New(cfg *config.Config, requester Requester, logger *slog.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	return &Watcher{
		fsw:       fsw,
		requester: requester,
		logger:    logger,
		roots:     []string{cfg.AbsDataRoot(), cfg.AbsOptimizationRoot()},
		ignore:    cfg.Watcher.IgnorePatterns,
		done:      make(chan struct{}),
	}, nil
}

// Start registers the watch roots and begins processing events. It returns
// after the event loop is running; cancel ctx or call Stop to end it.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.watching {
		w.mu.Unlock()
		return nil
	}
	w.watching = true
	w.mu.Unlock()

	for _, root := range w.roots {
		if err := w.addRecursive(root); err != nil {
			w.logger.Warn("Cannot watch root", "root", root, "error", err)
		}
	}

	go w.loop(ctx)
	return nil
}

// Stop closes the watcher. Safe to call more than once.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
		w.fsw.Close()

		w.mu.Lock()
		w.watching = false
		w.mu.Unlock()
	})
}

// IsWatching reports whether the event loop is active.
func (w *Watcher) IsWatching() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.watching
}

func (w *Watcher) loop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			// A lost watch degrades to manual scans, the index stays valid.
			w.logger.Warn("File watcher error", "error", err)
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if w.ignored(event.Name) {
		return
	}

	// New directories must be added to the watch before their contents
	// generate events.
	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := w.addRecursive(event.Name); err != nil {
				w.logger.Warn("Cannot watch new directory", "path", event.Name, "error", err)
			}
			w.requester.Request()
			return
		}
	}

	// Directory removals cannot be stat'ed, so route every remove and
	// rename through a scan and let reconciliation sort it out.
	if !event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) && !w.relevant(event.Name) {
		return
	}

	w.logger.Debug("Change detected", "path", event.Name, "op", event.Op.String())
	w.requester.Request()
}

// relevant reports whether the path names a file the index is built from.
func (w *Watcher) relevant(path string) bool {
	base := filepath.Base(path)
	if base == "metadata.json" {
		return true
	}
	return relevantExts[strings.ToLower(filepath.Ext(base))]
}

// ignored checks the path against the configured ignore patterns. Patterns
// ending in "/**" match whole subtrees by directory name, plain patterns
// match the base name.
func (w *Watcher) ignored(path string) bool {
	norm := filepath.ToSlash(path)
	for _, pattern := range w.ignore {
		if dir, ok := strings.CutSuffix(pattern, "/**"); ok {
			if strings.Contains(norm, "/"+dir+"/") || strings.HasSuffix(norm, "/"+dir) {
				return true
			}
			continue
		}
		if matched, _ := filepath.Match(pattern, filepath.Base(path)); matched {
			return true
		}
	}
	return false
}

// addRecursive adds root and every subdirectory below it to the watch.
func (w *Watcher) addRecursive(root string) error {
	if _, err := os.Stat(root); err != nil {
		return err
	}
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if w.ignored(path) {
			return filepath.SkipDir
		}
		return w.fsw.Add(path)
	})
}
