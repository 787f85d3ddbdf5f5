// Package watch reports changes to a fixed set of files.
package watch

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

// Watcher watches files through their parent directories, so files replaced
// by rename (as most editors save) keep being reported. Bursts of events for
// one file collapse into a single change after the stability threshold.
type Watcher struct {
	watcher            *fsnotify.Watcher
	files              map[string]bool
	dirs               []string
	stabilityThreshold time.Duration
	changes            chan string
	done               chan struct{}
	debounceTimers     map[string]*time.Timer
	debounceMu         sync.Mutex
	stopOnce           sync.Once
}

// New creates a watcher for paths. A zero threshold defaults to 100ms.
func New(stabilityThreshold time.Duration, paths ...string) (*Watcher, error) {
	if len(paths) == 0 {
		return nil, fmt.Errorf("at least one path is required")
	}
	if stabilityThreshold == 0 {
		stabilityThreshold = 100 * time.Millisecond
	}

	files := make(map[string]bool, len(paths))
	seenDirs := make(map[string]bool)
	var dirs []string
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve %s: %w", p, err)
		}
		files[abs] = true
		if dir := filepath.Dir(abs); !seenDirs[dir] {
			seenDirs[dir] = true
			dirs = append(dirs, dir)
		}
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	return &Watcher{
		watcher:            watcher,
		files:              files,
		dirs:               dirs,
		stabilityThreshold: stabilityThreshold,
		changes:            make(chan string, len(files)),
		done:               make(chan struct{}),
		debounceTimers:     make(map[string]*time.Timer),
	}, nil
}

// Changes delivers the path of each changed file. A change that arrives
// while one for the same burst is still unread may be merged with it.
func (w *Watcher) Changes() <-chan string {
	return w.changes
}

// Start begins watching
func (w *Watcher) Start() error {
	for _, dir := range w.dirs {
		if err := w.watcher.Add(dir); err != nil {
			return fmt.Errorf("failed to watch %s: %w", dir, err)
		}
	}

	go w.eventLoop()

	log.Info().Int("files", len(w.files)).Msg("File watcher started")
	return nil
}

// Stop stops watching. It is safe to call more than once.
func (w *Watcher) Stop() error {
	var err error
	w.stopOnce.Do(func() {
		close(w.done)

		w.debounceMu.Lock()
		for _, timer := range w.debounceTimers {
			timer.Stop()
		}
		clear(w.debounceTimers)
		w.debounceMu.Unlock()

		if closeErr := w.watcher.Close(); closeErr != nil {
			err = fmt.Errorf("failed to close watcher: %w", closeErr)
		}
		log.Info().Msg("File watcher stopped")
	})
	return err
}

func (w *Watcher) eventLoop() {
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Error().Err(err).Msg("Watcher error")

		case <-w.done:
			return
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	path := filepath.Clean(event.Name)
	if !w.files[path] {
		return
	}
	// Removal alone is not a change; the replacement's create or write is
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
		return
	}

	w.debounceMu.Lock()
	defer w.debounceMu.Unlock()

	if timer, exists := w.debounceTimers[path]; exists {
		timer.Stop()
	}

	w.debounceTimers[path] = time.AfterFunc(w.stabilityThreshold, func() {
		w.debounceMu.Lock()
		delete(w.debounceTimers, path)
		w.debounceMu.Unlock()

		select {
		case <-w.done:
			return
		default:
		}

		select {
		case w.changes <- path:
			log.Debug().Str("path", path).Msg("File changed")
		default:
		}
	})
}
