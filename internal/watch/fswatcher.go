// Package watch implements C3: the two watcher families the loop polls
// each tick — a recursive/non-recursive filesystem watcher and a
// registry of external pollers (HTTP-ETag, output-hash, named
// condition) — grounded in the fsnotify-based watcher shape used
// elsewhere in this codebase for binary/service file watching.
package watch

import (
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/contextpilot/pilot/pkg/safego"
)

// WatchKind distinguishes a single-file watch from a directory watch,
// recursive or not.
type WatchKind int

const (
	WatchFile WatchKind = iota
	WatchDir
	WatchDirRecursive
)

// Spec is a single path a module has declared it needs watched.
type Spec struct {
	Path string
	Kind WatchKind
}

// Event is a file or directory change delivered to the loop.
type Event struct {
	Path  string
	IsDir bool
}

// FSWatcher wraps fsnotify with re-registration on atomic rename (the
// editor-save pattern: the inode under a path changes, so fsnotify's
// watch on the old inode goes stale) and tick-driven diff-install of
// the watch specs modules currently declare.
type FSWatcher struct {
	mu      sync.Mutex
	watcher *fsnotify.Watcher
	logger  *zap.Logger
	events  chan Event

	installed map[string]WatchKind
}

// NewFSWatcher creates an FSWatcher. Events is drained by the loop once
// per tick (§4.7 step 7).
func NewFSWatcher(logger *zap.Logger) (*FSWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	fw := &FSWatcher{
		watcher:   w,
		logger:    logger,
		events:    make(chan Event, 256),
		installed: make(map[string]WatchKind),
	}
	safego.Go(logger, "fswatcher", fw.run)
	return fw, nil
}

// Events returns the channel the loop drains each tick.
func (fw *FSWatcher) Events() <-chan Event { return fw.events }

// Sync diff-installs specs: anything not currently watched is added,
// anything watched but no longer declared by any live module is
// removed. Called every loop tick per the §4.3 contract.
func (fw *FSWatcher) Sync(specs []Spec) {
	fw.mu.Lock()
	defer fw.mu.Unlock()

	want := make(map[string]WatchKind, len(specs))
	for _, s := range specs {
		want[s.Path] = s.Kind
	}

	for path := range fw.installed {
		if _, ok := want[path]; !ok {
			_ = fw.watcher.Remove(path)
			delete(fw.installed, path)
		}
	}

	for path, kind := range want {
		if _, ok := fw.installed[path]; ok {
			continue
		}
		if err := fw.addLocked(path, kind); err != nil && fw.logger != nil {
			fw.logger.Warn("failed to watch path", zap.String("path", path), zap.Error(err))
			continue
		}
		fw.installed[path] = kind
	}
}

func (fw *FSWatcher) addLocked(path string, kind WatchKind) error {
	if err := fw.watcher.Add(path); err != nil {
		return err
	}
	if kind == WatchDirRecursive {
		for _, sub := range listSubdirs(path) {
			_ = fw.watcher.Add(sub)
		}
	}
	return nil
}

func (fw *FSWatcher) run() {
	for {
		select {
		case ev, ok := <-fw.watcher.Events:
			if !ok {
				return
			}
			fw.handle(ev)
		case err, ok := <-fw.watcher.Errors:
			if !ok {
				return
			}
			if fw.logger != nil {
				fw.logger.Warn("fswatcher error", zap.Error(err))
			}
		}
	}
}

func (fw *FSWatcher) handle(ev fsnotify.Event) {
	isDir := isDirPath(ev.Name)
	fw.events <- Event{Path: ev.Name, IsDir: isDir}

	// Editors commonly replace a file via rename; the old inode's watch
	// is now dead, so re-register on the (possibly new) path.
	if ev.Op&(fsnotify.Rename|fsnotify.Remove) != 0 {
		fw.mu.Lock()
		if kind, ok := fw.installed[ev.Name]; ok {
			_ = fw.watcher.Add(ev.Name)
			_ = kind
		}
		fw.mu.Unlock()
	}
}

// Close stops the underlying fsnotify watcher.
func (fw *FSWatcher) Close() error {
	return fw.watcher.Close()
}
