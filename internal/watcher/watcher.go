// Package watcher reports changes to the installed mapping artifacts so
// status can be refreshed when they are edited or removed outside the app.
package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Event is one debounced batch of changes.
type Event struct {
	Paths     []string
	Timestamp time.Time
}

// Watcher monitors a fixed set of files through their parent directories.
type Watcher struct {
	fsWatcher *fsnotify.Watcher
	files     map[string]bool
	quiet     time.Duration

	// dirs not yet present; added when they appear
	missing map[string]bool

	// State tracking: path -> last change time
	pending map[string]time.Time
	stateMu sync.Mutex

	events chan Event
	errors chan error

	done chan struct{}
	wg   sync.WaitGroup
}

// New creates a watcher for files. A batch is emitted once no change has
// been seen for quiet.
func New(files []string, quiet time.Duration) (*Watcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if quiet <= 0 {
		quiet = 500 * time.Millisecond
	}

	w := &Watcher{
		fsWatcher: fsWatcher,
		files:     make(map[string]bool),
		quiet:     quiet,
		missing:   make(map[string]bool),
		pending:   make(map[string]time.Time),
		events:    make(chan Event, 16),
		errors:    make(chan error, 10),
		done:      make(chan struct{}),
	}
	for _, f := range files {
		abs, err := filepath.Abs(f)
		if err != nil {
			fsWatcher.Close()
			return nil, err
		}
		w.files[abs] = true
	}
	return w, nil
}

// Events returns the channel of debounced changes.
func (w *Watcher) Events() <-chan Event {
	return w.events
}

// Errors returns the channel of errors.
func (w *Watcher) Errors() <-chan error {
	return w.errors
}

// Start begins watching. Directories that do not exist yet are watched
// through their parent until they are created.
func (w *Watcher) Start() error {
	for _, dir := range w.dirs() {
		if err := w.watchDir(dir); err != nil {
			return err
		}
	}

	w.wg.Add(2)
	go w.eventLoop()
	go w.debounceLoop()
	return nil
}

func (w *Watcher) dirs() []string {
	seen := make(map[string]bool)
	var out []string
	for f := range w.files {
		d := filepath.Dir(f)
		if !seen[d] {
			seen[d] = true
			out = append(out, d)
		}
	}
	sort.Strings(out)
	return out
}

func (w *Watcher) watchDir(dir string) error {
	if info, err := os.Stat(dir); err == nil && info.IsDir() {
		delete(w.missing, dir)
		return w.fsWatcher.Add(dir)
	}
	w.missing[dir] = true
	parent := filepath.Dir(dir)
	if parent == dir {
		return nil
	}
	if _, err := os.Stat(parent); err != nil {
		// Too far from existing; a later Probe still reports the truth.
		return nil
	}
	return w.fsWatcher.Add(parent)
}

// Stop shuts down the watcher.
func (w *Watcher) Stop() error {
	close(w.done)
	w.wg.Wait()
	close(w.events)
	close(w.errors)
	return w.fsWatcher.Close()
}

func (w *Watcher) eventLoop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.done:
			return

		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			w.handle(event)

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			w.report(err)
		}
	}
}

func (w *Watcher) handle(event fsnotify.Event) {
	w.stateMu.Lock()
	defer w.stateMu.Unlock()

	if event.Op&fsnotify.Create != 0 && w.missing[event.Name] {
		if err := w.watchDir(event.Name); err != nil {
			w.report(err)
		}
		// Files may have landed before the watch was added.
		for f := range w.files {
			if filepath.Dir(f) == event.Name {
				if _, err := os.Stat(f); err == nil {
					w.pending[f] = time.Now()
				}
			}
		}
		return
	}

	if !w.files[event.Name] {
		return
	}
	w.pending[event.Name] = time.Now()
}

func (w *Watcher) report(err error) {
	select {
	case w.errors <- err:
	default:
	}
}

func (w *Watcher) debounceLoop() {
	defer w.wg.Done()

	tick := w.quiet / 2
	if tick < 10*time.Millisecond {
		tick = 10 * time.Millisecond
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case now := <-ticker.C:
			w.flush(now)
		}
	}
}

// flush emits a batch once every pending path has been quiet long enough.
func (w *Watcher) flush(now time.Time) {
	w.stateMu.Lock()
	defer w.stateMu.Unlock()

	if len(w.pending) == 0 {
		return
	}
	threshold := now.Add(-w.quiet)
	paths := make([]string, 0, len(w.pending))
	for path, last := range w.pending {
		if last.After(threshold) {
			return
		}
		paths = append(paths, path)
	}
	sort.Strings(paths)

	select {
	case w.events <- Event{Paths: paths, Timestamp: now}:
		w.pending = make(map[string]time.Time)
	default:
		// Event channel full, try again later
	}
}

// Files returns the watched files, sorted.
func (w *Watcher) Files() []string {
	out := make([]string, 0, len(w.files))
	for f := range w.files {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

// Run starts the watcher and calls fn for every batch until ctx is done.
func Run(ctx context.Context, files []string, quiet time.Duration, fn func(Event), onError func(error)) error {
	w, err := New(files, quiet)
	if err != nil {
		return err
	}
	if err := w.Start(); err != nil {
		w.fsWatcher.Close()
		return err
	}
	defer w.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-w.events:
			fn(ev)
		case err := <-w.errors:
			if onError != nil {
				onError(err)
			}
		}
	}
}
