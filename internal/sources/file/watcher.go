package file

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/agentstation/assetsync/pkg/constants"
	"github.com/agentstation/assetsync/pkg/errors"
	"github.com/agentstation/assetsync/pkg/logging"
)

// Operation is what happened to an environment file.
type Operation string

// Watcher operations.
const (
	// OpRegistered means a new environment file appeared.
	OpRegistered Operation = "registered"
	// OpChanged means an existing environment file was written.
	OpChanged Operation = "changed"
	// OpRemoved means the environment file is gone.
	OpRemoved Operation = "removed"
)

// Event reports a change of one environment file.
type Event struct {
	URI       string
	Path      string
	Operation Operation
	Timestamp time.Time
}

// Watcher watches a directory for environment files.
//
// Rapid successive filesystem events for the same file are debounced into a
// single Event.
type Watcher struct {
	mu sync.Mutex

	dir      string
	debounce time.Duration
	watcher  *fsnotify.Watcher
	pending  map[string]*pendingEvent
	stopCh   chan struct{}
	done     <-chan struct{}
	running  bool
}

// pendingEvent tracks a debounced event.
type pendingEvent struct {
	event Event
	timer *time.Timer
}

// NewWatcher creates a watcher for dir. A zero debounce uses
// constants.WatchDebounce.
func NewWatcher(dir string, debounce time.Duration) *Watcher {
	if debounce == 0 {
		debounce = constants.WatchDebounce
	}
	return &Watcher{
		dir:      dir,
		debounce: debounce,
		pending:  make(map[string]*pendingEvent),
	}
}

// Existing returns the environment files currently in the directory.
func (w *Watcher) Existing() ([]string, error) {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return nil, errors.WrapIO("list", w.dir, err)
	}
	var paths []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if _, ok := FormatOf(e.Name()); ok {
			abs, err := filepath.Abs(filepath.Join(w.dir, e.Name()))
			if err != nil {
				return nil, errors.WrapIO("resolve", e.Name(), err)
			}
			paths = append(paths, abs)
		}
	}
	return paths, nil
}

// Start begins delivering events to out until ctx is done or Stop is called.
func (w *Watcher) Start(ctx context.Context, out chan<- Event) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return nil
	}

	if err := os.MkdirAll(w.dir, constants.DirPermissions); err != nil {
		return errors.WrapIO("create", w.dir, err)
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.WrapIO("watch", w.dir, err)
	}
	if err := watcher.Add(w.dir); err != nil {
		_ = watcher.Close()
		return errors.WrapIO("watch", w.dir, err)
	}

	w.watcher = watcher
	w.stopCh = make(chan struct{})
	w.done = ctx.Done()
	w.running = true

	go w.loop(ctx, watcher, w.stopCh, out)

	logging.Info().Str("dir", w.dir).Msg("Watching environment files")
	return nil
}

func (w *Watcher) loop(ctx context.Context, watcher *fsnotify.Watcher, stopCh chan struct{}, out chan<- Event) {
	for {
		select {
		case <-ctx.Done():
			w.cleanup()
			return
		case <-stopCh:
			w.cleanup()
			return
		case ev, ok := <-watcher.Events:
			if !ok {
				return
			}
			w.handle(ev, out)
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			logging.Error().Err(err).Str("dir", w.dir).Msg("Filesystem watcher error")
		}
	}
}

func (w *Watcher) handle(ev fsnotify.Event, out chan<- Event) {
	if _, ok := FormatOf(ev.Name); !ok {
		return
	}

	var op Operation
	switch {
	case ev.Op&fsnotify.Create == fsnotify.Create:
		op = OpRegistered
	case ev.Op&fsnotify.Write == fsnotify.Write:
		op = OpChanged
	case ev.Op&fsnotify.Remove == fsnotify.Remove, ev.Op&fsnotify.Rename == fsnotify.Rename:
		// A rename target shows up as its own create.
		op = OpRemoved
	default:
		return
	}

	path, err := filepath.Abs(ev.Name)
	if err != nil {
		path = ev.Name
	}
	w.schedule(Event{
		URI:       URIFor(path),
		Path:      path,
		Operation: op,
		Timestamp: time.Now(),
	}, out)
}

func (w *Watcher) schedule(ev Event, out chan<- Event) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if p, ok := w.pending[ev.Path]; ok {
		p.timer.Stop()
		ev.Operation = mergeOperations(p.event.Operation, ev.Operation)
	}

	key := ev.Path
	timer := time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		p, ok := w.pending[key]
		if ok {
			delete(w.pending, key)
		}
		stopCh, done := w.stopCh, w.done
		w.mu.Unlock()

		if !ok {
			return
		}
		select {
		case out <- p.event:
			logging.Debug().Str("uri", p.event.URI).Str("op", string(p.event.Operation)).Msg("Environment file event")
		case <-stopCh:
		case <-done:
		}
	})
	w.pending[key] = &pendingEvent{event: ev, timer: timer}
}

// mergeOperations folds two successive operations on one file.
func mergeOperations(prev, next Operation) Operation {
	switch {
	case next == OpRemoved:
		return OpRemoved
	case prev == OpRegistered:
		return OpRegistered
	case prev == OpRemoved:
		// Removed then recreated within the debounce window.
		return OpChanged
	default:
		return next
	}
}

func (w *Watcher) cleanup() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, p := range w.pending {
		p.timer.Stop()
	}
	w.pending = make(map[string]*pendingEvent)
}

// Stop stops the watcher. Pending events are dropped.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.running {
		return nil
	}
	w.running = false
	close(w.stopCh)
	err := w.watcher.Close()
	w.watcher = nil
	return err
}
