// Package watcher observes tracked workflow directories and signals the sync
// layer when local files change. Bursts of events for one workflow are
// coalesced by a debounce window, and each workflow holds at most one sync in
// flight plus one pending follow-up: events arriving mid-sync are queued in a
// single pending slot, never dropped and never multiplied.
package watcher

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// syncState is the per-workflow position in the watch state machine:
// Idle -> Syncing -> (SyncingWithPending) -> Syncing -> Idle.
type syncState int

const (
	stateIdle syncState = iota
	stateSyncing
	stateSyncingPending
)

// DefaultDebounce is the quiet period before a burst of events triggers one
// sync.
const DefaultDebounce = time.Second

// Option configures a Watcher.
type Option func(*Watcher)

// WithDebounce sets the debounce duration for file change events.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) { w.debounce = d }
}

// WithLogger sets the logger for the watcher.
func WithLogger(l *slog.Logger) Option {
	return func(w *Watcher) { w.logger = l }
}

// Watcher watches the workflow directories under root and invokes onSync
// with a workflow name after that workflow's events settle.
type Watcher struct {
	root     string
	names    map[string]bool
	debounce time.Duration
	logger   *slog.Logger
	onSync   func(name string)

	fsWatcher *fsnotify.Watcher
	stopOnce  sync.Once
	wg        sync.WaitGroup

	mu      sync.Mutex
	stopped bool
	states  map[string]syncState
	timers  map[string]*time.Timer
}

// New creates a watcher for the named workflows under root. onSync runs on a
// background goroutine, one invocation at a time per workflow.
func New(root string, names []string, onSync func(name string), opts ...Option) *Watcher {
	w := &Watcher{
		root:     root,
		names:    make(map[string]bool, len(names)),
		debounce: DefaultDebounce,
		logger:   slog.Default(),
		onSync:   onSync,
		states:   make(map[string]syncState),
		timers:   make(map[string]*time.Timer),
	}
	for _, name := range names {
		w.names[name] = true
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start registers OS-level watches for the root and every tracked workflow
// directory, then begins dispatching events.
func (w *Watcher) Start() error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create filesystem watcher: %w", err)
	}
	w.fsWatcher = fsw

	// The root is watched too so workflow directories recreated during a
	// watch session (e.g. by a pull) keep producing events.
	if err := fsw.Add(w.root); err != nil {
		_ = fsw.Close()
		return fmt.Errorf("failed to watch %s: %w", w.root, err)
	}
	for name := range w.names {
		dir := filepath.Join(w.root, name)
		if err := fsw.Add(dir); err != nil {
			w.logger.Warn("failed to watch workflow directory", "workflow", name, "error", err)
		}
	}

	w.wg.Add(1)
	go w.loop()
	return nil
}

// Stop synchronously releases all OS-level watch handles and waits for the
// dispatch goroutine and any in-flight sync callbacks to finish. No callback
// fires after Stop returns. It is safe to call Stop multiple times.
func (w *Watcher) Stop() error {
	var closeErr error
	w.stopOnce.Do(func() {
		w.mu.Lock()
		w.stopped = true
		for name, timer := range w.timers {
			timer.Stop()
			delete(w.timers, name)
		}
		w.mu.Unlock()

		// Closing the fsnotify watcher closes its channels, which ends the
		// dispatch loop.
		if w.fsWatcher != nil {
			closeErr = w.fsWatcher.Close()
		}
	})
	w.wg.Wait()
	return closeErr
}

func (w *Watcher) loop() {
	defer w.wg.Done()

	for {
		select {
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("filesystem watch error", "error", err)
		}
	}
}

// handleEvent maps a filesystem event to its workflow and schedules a
// debounced sync. Dotfile paths are ignored.
func (w *Watcher) handleEvent(event fsnotify.Event) {
	if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
		return
	}

	rel, err := filepath.Rel(w.root, event.Name)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return
	}

	parts := strings.Split(rel, string(filepath.Separator))
	for _, part := range parts {
		if strings.HasPrefix(part, ".") {
			return
		}
	}

	name := parts[0]
	if !w.names[name] {
		return
	}

	// A recreated workflow directory needs its watch re-registered.
	if len(parts) == 1 && event.Op&fsnotify.Create != 0 {
		if err := w.fsWatcher.Add(event.Name); err != nil {
			w.logger.Warn("failed to re-watch workflow directory", "workflow", name, "error", err)
		}
	}

	w.logger.Debug("file event", "workflow", name, "path", rel, "op", event.Op.String())
	w.scheduleSync(name)
}

// scheduleSync starts or resets the workflow's debounce timer.
func (w *Watcher) scheduleSync(name string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return
	}

	if timer, ok := w.timers[name]; ok {
		timer.Reset(w.debounce)
		return
	}
	w.timers[name] = time.AfterFunc(w.debounce, func() { w.trigger(name) })
}

// trigger fires when a workflow's events have settled. If a sync is already
// in flight for the workflow, the trigger is recorded in the single pending
// slot instead of starting a second sync.
func (w *Watcher) trigger(name string) {
	w.mu.Lock()
	delete(w.timers, name)
	if w.stopped {
		w.mu.Unlock()
		return
	}

	switch w.states[name] {
	case stateSyncing:
		w.states[name] = stateSyncingPending
		w.mu.Unlock()
		return
	case stateSyncingPending:
		w.mu.Unlock()
		return
	}

	w.states[name] = stateSyncing
	// The Add happens under the lock so Stop cannot observe a zero counter
	// between the stopped check and the goroutine start.
	w.wg.Add(1)
	w.mu.Unlock()

	go w.runSync(name)
}

// runSync invokes the callback, then runs exactly one more pass if events
// arrived while syncing, then returns the workflow to idle.
func (w *Watcher) runSync(name string) {
	defer w.wg.Done()

	for {
		w.onSync(name)

		w.mu.Lock()
		if w.states[name] == stateSyncingPending && !w.stopped {
			w.states[name] = stateSyncing
			w.mu.Unlock()
			continue
		}
		delete(w.states, name)
		w.mu.Unlock()
		return
	}
}
