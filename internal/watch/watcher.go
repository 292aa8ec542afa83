// Package watch re-checks chain triggers when the project tree changes.
//
// File events are debounced: the callback fires once the tree has been quiet
// for the configured interval, so a burst of writes yields one check.
package watch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/ternarybob/arbor"
)

// ChangeFunc is called after a debounced burst of changes. paths lists the
// files touched in the burst.
type ChangeFunc func(ctx context.Context, paths []string)

var skipDirs = []string{".git", "node_modules", "vendor"}

// Watcher monitors a directory tree.
type Watcher struct {
	root     string
	watcher  *fsnotify.Watcher
	debounce time.Duration
	onChange ChangeFunc
	logger   arbor.ILogger

	running bool
	stopCh  chan struct{}
	mu      sync.Mutex

	pending   map[string]time.Time
	pendingMu sync.Mutex

	ignore []string
}

// New creates a Watcher for root. logger may be nil.
func New(root string, debounce time.Duration, onChange ChangeFunc, logger arbor.ILogger) (*Watcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}
	return &Watcher{
		root:     root,
		watcher:  fsWatcher,
		debounce: debounce,
		onChange: onChange,
		logger:   logger,
		stopCh:   make(chan struct{}),
		pending:  map[string]time.Time{},
	}, nil
}

// Start adds the tree to the watch list and begins processing events. ctx is
// passed to the change callback.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	if err := w.addDirectories(); err != nil {
		return fmt.Errorf("add directories: %w", err)
	}

	go w.processEvents()
	go w.processDebounced(ctx)
	return nil
}

// Stop ends watching. It is safe to call more than once.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.running {
		return nil
	}
	w.running = false
	close(w.stopCh)
	return w.watcher.Close()
}

// Run starts the watcher and blocks until ctx is done.
func (w *Watcher) Run(ctx context.Context) error {
	if err := w.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	return w.Stop()
}

func (w *Watcher) addDirectories() error {
	return filepath.Walk(w.root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			return nil
		}
		rel, _ := filepath.Rel(w.root, path)
		if shouldSkipDir(rel) {
			return filepath.SkipDir
		}
		if err := w.watcher.Add(path); err != nil && w.logger != nil {
			w.logger.Warn().Err(err).Str("path", path).Msg("Cannot watch directory")
		}
		return nil
	})
}

func shouldSkipDir(rel string) bool {
	for _, dir := range skipDirs {
		if rel == dir || strings.HasPrefix(rel, dir+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

// SetIgnored registers files and directories whose changes never fire the
// callback. A file also covers its "-suffix" siblings (SQLite journals) and a
// directory covers everything below it. Call before Start.
func (w *Watcher) SetIgnored(paths ...string) {
	w.ignore = w.ignore[:0]
	for _, p := range paths {
		if p == "" {
			continue
		}
		w.ignore = append(w.ignore, absPath(p))
	}
}

// ignored filters out atomic-write temp files and the registered paths.
func (w *Watcher) ignored(path string) bool {
	if strings.HasSuffix(path, ".tmp") {
		return true
	}
	path = absPath(path)
	for _, p := range w.ignore {
		if path == p ||
			strings.HasPrefix(path, p+"-") ||
			strings.HasPrefix(path, p+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

func absPath(p string) string {
	if abs, err := filepath.Abs(p); err == nil {
		return abs
	}
	return filepath.Clean(p)
}

func (w *Watcher) processEvents() {
	for {
		select {
		case <-w.stopCh:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if w.ignored(event.Name) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if event.Op&fsnotify.Create != 0 {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					rel, _ := filepath.Rel(w.root, event.Name)
					if !shouldSkipDir(rel) {
						_ = w.watcher.Add(event.Name)
					}
				}
			}
			w.pendingMu.Lock()
			w.pending[event.Name] = time.Now()
			w.pendingMu.Unlock()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			if w.logger != nil {
				w.logger.Warn().Err(err).Msg("Watcher error")
			}
		}
	}
}

func (w *Watcher) processDebounced(ctx context.Context) {
	ticker := time.NewTicker(w.debounce / 5)
	defer ticker.Stop()

	for {
		select {
		case <-w.stopCh:
			return
		case <-ticker.C:
			if paths := w.drainSettled(time.Now()); len(paths) > 0 && w.onChange != nil {
				w.onChange(ctx, paths)
			}
		}
	}
}

// drainSettled returns the pending paths once the newest event is older than
// the debounce interval.
func (w *Watcher) drainSettled(now time.Time) []string {
	w.pendingMu.Lock()
	defer w.pendingMu.Unlock()

	if len(w.pending) == 0 {
		return nil
	}
	for _, ts := range w.pending {
		if now.Sub(ts) < w.debounce {
			return nil
		}
	}
	paths := make([]string, 0, len(w.pending))
	for p := range w.pending {
		paths = append(paths, p)
	}
	w.pending = map[string]time.Time{}
	return paths
}
