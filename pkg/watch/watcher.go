// Package watch monitors a local inbox directory for freshly dropped
// log files and hands each one to the processing pipeline once it has
// stopped growing.
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

	"github.com/canlake/canlake/pkg/backlog"
)

// Watcher monitors an inbox directory for new log files.
type Watcher struct {
	watcher  *fsnotify.Watcher
	seen     map[string]*fileState
	mu       sync.RWMutex
	debounce time.Duration

	// OnFile runs once per settled log file. Returning an error keeps
	// the file marked unprocessed so a later write retries it.
	OnFile  func(path string) error
	OnError func(path string, err error)
}

type fileState struct {
	path         string
	lastModified time.Time
	size         int64
	processing   bool
	done         bool
}

// NewWatcher creates a new inbox watcher. The debounce interval covers
// loggers that upload files in several writes.
func NewWatcher() (*Watcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	return &Watcher{
		watcher:  fsWatcher,
		seen:     make(map[string]*fileState),
		debounce: 2 * time.Second,
	}, nil
}

// SetDebounce overrides the settle interval.
func (w *Watcher) SetDebounce(d time.Duration) { w.debounce = d }

// Watch registers an inbox directory. Existing log files in the
// directory are picked up on the first write to any of them, not on
// startup; a backlog run covers those.
func (w *Watcher) Watch(dir string) error {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return fmt.Errorf("failed to resolve path: %w", err)
	}

	stat, err := os.Stat(absDir)
	if err != nil {
		return fmt.Errorf("failed to stat directory: %w", err)
	}
	if !stat.IsDir() {
		return fmt.Errorf("%s is not a directory", absDir)
	}

	if err := w.watcher.Add(absDir); err != nil {
		return fmt.Errorf("failed to watch directory: %w", err)
	}
	return nil
}

// Run starts the watch loop. Blocks until context is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	debounceTimers := make(map[string]*time.Timer)
	var timerMu sync.Mutex

	for {
		select {
		case <-ctx.Done():
			w.watcher.Close()
			return ctx.Err()

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}

			// Only handle write events
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}

			absPath, err := filepath.Abs(event.Name)
			if err != nil {
				continue
			}
			if !backlog.HasValidExtension(absPath) {
				continue
			}

			w.mu.Lock()
			state, known := w.seen[absPath]
			if !known {
				state = &fileState{path: absPath}
				w.seen[absPath] = state
			}
			w.mu.Unlock()

			// Debounce rapid changes
			timerMu.Lock()
			if timer, exists := debounceTimers[absPath]; exists {
				timer.Stop()
			}
			debounceTimers[absPath] = time.AfterFunc(w.debounce, func() {
				w.handleFile(absPath, state)
			})
			timerMu.Unlock()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			if w.OnError != nil {
				w.OnError("", err)
			}
		}
	}
}

func (w *Watcher) handleFile(path string, state *fileState) {
	w.mu.Lock()
	if state.processing || state.done {
		w.mu.Unlock()
		return
	}
	state.processing = true
	w.mu.Unlock()

	defer func() {
		w.mu.Lock()
		state.processing = false
		w.mu.Unlock()
	}()

	stat, err := os.Stat(path)
	if err != nil {
		if w.OnError != nil {
			w.OnError(path, err)
		}
		return
	}

	// The timer re-arms on every write, so by the time we get here the
	// file has been quiet for the whole debounce interval.
	w.mu.Lock()
	state.lastModified = stat.ModTime()
	state.size = stat.Size()
	w.mu.Unlock()

	if w.OnFile != nil {
		if err := w.OnFile(path); err != nil {
			if w.OnError != nil {
				w.OnError(path, err)
			}
			return
		}
	}

	w.mu.Lock()
	state.done = true
	w.mu.Unlock()
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	return w.watcher.Close()
}

// InboxPath maps a local inbox file onto the device/session/file layout
// the planner and decoder expect, using the file's parent directories
// when they match. Files dropped flat in the inbox get a synthetic
// session.
func InboxPath(inboxDir, path string) string {
	rel, err := filepath.Rel(inboxDir, path)
	if err != nil {
		rel = filepath.Base(path)
	}
	rel = filepath.ToSlash(rel)
	if strings.Count(rel, "/") >= 2 {
		return rel
	}
	return "INBOX000/00000000/" + filepath.Base(path)
}
