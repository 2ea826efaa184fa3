package profile

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"text-anonymizer/internal/logger"
)

// DefaultDebounce is how long a profile's files must be quiet before the
// change callback fires.
const DefaultDebounce = 500 * time.Millisecond

// Watcher watches the config directory and reports which profiles changed.
// Rapid saves to the same profile collapse into a single callback.
type Watcher struct {
	mu       sync.Mutex
	fsw      *fsnotify.Watcher
	loader   *Loader
	onChange func(profile string)
	log      *logger.Logger

	pending  map[string]time.Time
	debounce time.Duration
	tick     time.Duration

	stopCh  chan struct{}
	doneCh  chan struct{}
	running bool
}

// NewWatcher creates a Watcher for the loader's config directory. onChange
// runs on the watcher goroutine with the name of the changed profile.
func NewWatcher(loader *Loader, onChange func(profile string), log *logger.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Watcher{
		fsw:      fsw,
		loader:   loader,
		onChange: onChange,
		log:      log,
		pending:  make(map[string]time.Time),
		debounce: DefaultDebounce,
		tick:     100 * time.Millisecond,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}, nil
}

// SetDebounce overrides the quiet period. Call before Start.
func (w *Watcher) SetDebounce(d time.Duration) {
	w.mu.Lock()
	w.debounce = d
	if d > 0 && d < w.tick {
		w.tick = d
	}
	w.mu.Unlock()
}

// Start adds the config root and every profile directory to the watch set
// and begins the event loop. It does not block.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	if err := w.fsw.Add(w.loader.Dir()); err != nil {
		w.mu.Lock()
		w.running = false
		w.mu.Unlock()
		return err
	}
	entries, err := os.ReadDir(w.loader.Dir())
	if err == nil {
		for _, e := range entries {
			if e.IsDir() {
				w.addDir(filepath.Join(w.loader.Dir(), e.Name()))
			}
		}
	}
	w.log.Infof("watch", "watching %s", w.loader.Dir())

	go w.run(ctx)
	return nil
}

// Stop ends the event loop and releases the underlying watcher.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		_ = w.fsw.Close()
		return
	}
	w.running = false
	w.mu.Unlock()

	close(w.stopCh)
	<-w.doneCh

	if err := w.fsw.Close(); err != nil {
		w.log.Errorf("watch", "close watcher: %v", err)
	}
}

func (w *Watcher) addDir(dir string) {
	if _, ok := w.loader.ProfileForPath(filepath.Join(dir, SettingsFile)); !ok {
		return
	}
	if err := w.fsw.Add(dir); err != nil {
		w.log.Warnf("watch", "add %s: %v", dir, err)
	}
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.doneCh)

	w.mu.Lock()
	tick := w.tick
	w.mu.Unlock()
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handle(ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.log.Errorf("watch", "watcher error: %v", err)
		case <-ticker.C:
			w.flush()
		}
	}
}

func (w *Watcher) handle(ev fsnotify.Event) {
	if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
		return
	}
	base := filepath.Base(ev.Name)
	if strings.HasPrefix(base, ".") || strings.HasSuffix(base, "~") {
		return
	}

	if ev.Op&fsnotify.Create != 0 {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			w.addDir(ev.Name)
		}
	}

	name, ok := w.loader.ProfileForPath(ev.Name)
	if !ok {
		return
	}
	w.mu.Lock()
	w.pending[name] = time.Now()
	w.mu.Unlock()
}

// flush fires the callback for every profile quiet for the debounce period.
func (w *Watcher) flush() {
	w.mu.Lock()
	now := time.Now()
	var ready []string
	for name, at := range w.pending {
		if now.Sub(at) >= w.debounce {
			ready = append(ready, name)
			delete(w.pending, name)
		}
	}
	w.mu.Unlock()
	sort.Strings(ready)

	for _, name := range ready {
		w.log.Infof("watch", "profile %q changed", name)
		if w.onChange != nil {
			w.onChange(name)
		}
	}
}
