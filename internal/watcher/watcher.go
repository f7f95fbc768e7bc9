// Package watcher triggers index rebuilds when the source folders change.
package watcher

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

const defaultDebounce = 2 * time.Second

// Watcher watches source folders and calls onChange once per burst of relevant events.
// Each root is watched directly, and its parent is watched so that a root appearing or
// disappearing also counts as a change.
type Watcher struct {
	roots      []string
	extensions []string
	onChange   func()
	debounce   time.Duration
	watcher    *fsnotify.Watcher
	mu         sync.Mutex
	timer      *time.Timer
	pending    int
	runMu      sync.Mutex // serializes onChange
	done       chan struct{}
	started    bool
	stopOnce   sync.Once
	logger     *zap.Logger // optional; when set, logs debug events
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithLogger sets a logger for debug output.
func WithLogger(l *zap.Logger) WatcherOption {
	return func(w *Watcher) { w.logger = l }
}

// WithDebounce sets how long the watcher waits for events to settle. Non-positive values are ignored.
func WithDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// NewWatcher creates a watcher for the given source folders. Only files directly inside a root
// whose names end in one of extensions (case-sensitive; empty = all) are considered.
func NewWatcher(roots []string, extensions []string, onChange func(), opts ...WatcherOption) *Watcher {
	w := &Watcher{
		extensions: extensions,
		onChange:   onChange,
		debounce:   defaultDebounce,
		done:       make(chan struct{}),
	}
	for _, r := range roots {
		if abs, err := filepath.Abs(r); err == nil {
			r = abs
		}
		w.roots = append(w.roots, filepath.Clean(r))
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start starts the watcher. It runs until ctx is cancelled or Stop is called.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		w.mu.Unlock()
		return err
	}
	w.watcher = watcher
	w.started = true
	if w.logger != nil {
		w.logger.Debug("watcher starting", zap.Strings("roots", w.roots), zap.Strings("extensions", w.extensions), zap.Duration("debounce", w.debounce))
	}
	if err := w.addRootsLocked(); err != nil {
		_ = w.watcher.Close()
		w.watcher = nil
		w.started = false
		w.mu.Unlock()
		return err
	}
	w.mu.Unlock()
	go w.run(ctx, watcher)
	return nil
}

func (w *Watcher) addRootsLocked() error {
	parents := make(map[string]bool)
	for _, root := range w.roots {
		parent := filepath.Dir(root)
		if !parents[parent] {
			if err := w.watcher.Add(parent); err != nil {
				return err
			}
			parents[parent] = true
		}
		if info, err := os.Stat(root); err == nil && info.IsDir() {
			if err := w.watcher.Add(root); err != nil {
				return err
			}
		}
	}
	return nil
}

func (w *Watcher) run(ctx context.Context, fw *fsnotify.Watcher) {
	for {
		select {
		case <-ctx.Done():
			w.Stop()
			return
		case <-w.done:
			return
		case ev, ok := <-fw.Events:
			if !ok {
				return
			}
			w.handleEvent(ev)
		case err, ok := <-fw.Errors:
			if !ok {
				return
			}
			if err != nil && w.logger != nil {
				w.logger.Debug("watcher error", zap.Error(err))
			}
		}
	}
}

func (w *Watcher) handleEvent(ev fsnotify.Event) {
	if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Remove) && !ev.Has(fsnotify.Rename) {
		return
	}
	path := filepath.Clean(ev.Name)
	switch {
	case w.isRoot(path):
		if ev.Has(fsnotify.Create) {
			w.addRoot(path)
		}
	case w.isRoot(filepath.Dir(path)):
		if !w.relevant(path) {
			return
		}
	default:
		return
	}
	if w.logger != nil {
		w.logger.Debug("watcher event", zap.String("op", ev.Op.String()), zap.String("path", path))
	}
	w.schedule()
}

func (w *Watcher) isRoot(path string) bool {
	for _, r := range w.roots {
		if r == path {
			return true
		}
	}
	return false
}

func (w *Watcher) addRoot(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.watcher == nil {
		return
	}
	if err := w.watcher.Add(path); err != nil && w.logger != nil {
		w.logger.Debug("watcher failed to add directory", zap.String("path", path), zap.Error(err))
	}
}

func (w *Watcher) relevant(path string) bool {
	name := filepath.Base(path)
	if strings.HasPrefix(name, ".") {
		return false
	}
	return matchExtension(name, w.extensions)
}

func matchExtension(name string, extensions []string) bool {
	if len(extensions) == 0 {
		return true
	}
	for _, e := range extensions {
		if strings.HasSuffix(name, e) {
			return true
		}
	}
	return false
}

// schedule (re)starts the debounce timer.
func (w *Watcher) schedule() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.started {
		return
	}
	w.pending++
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.fire)
}

func (w *Watcher) fire() {
	w.mu.Lock()
	events := w.pending
	w.pending = 0
	w.timer = nil
	started := w.started
	logger := w.logger
	w.mu.Unlock()
	if events == 0 || !started {
		return
	}
	w.runMu.Lock()
	defer w.runMu.Unlock()
	if w.stopped() {
		return
	}
	if logger != nil {
		logger.Debug("watcher triggering rebuild (debounced)", zap.Int("events", events))
	}
	if w.onChange != nil {
		w.onChange()
	}
}

// Directories returns a copy of the watched source folders.
func (w *Watcher) Directories() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.roots...)
}

// Stop stops the watcher and releases resources. A pending rebuild is dropped; one already
// running is waited for.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if w.started && w.watcher != nil {
		if w.timer != nil {
			w.timer.Stop()
			w.timer = nil
		}
		w.pending = 0
		_ = w.watcher.Close()
		w.watcher = nil
		w.started = false
	}
	w.mu.Unlock()
	w.stopOnce.Do(func() { close(w.done) })
	// Wait for a rebuild that already started.
	w.runMu.Lock()
	w.runMu.Unlock()
}

func (w *Watcher) stopped() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return !w.started
}
