package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads a config file when it changes on disk. Editors
// often replace files with rename+create, so the parent directory is
// watched and events are debounced before reloading.
type Watcher struct {
	path           string
	debounceWindow time.Duration

	configs chan Config
	errors  chan error

	mu      sync.Mutex
	dirty   bool
	stopCh  chan struct{}
	doneCh  chan struct{}
	started bool
}

// NewWatcher creates a watcher for the given config file path.
func NewWatcher(path string) (*Watcher, error) {
	if path == "" {
		return nil, fmt.Errorf("config path is required")
	}
	return &Watcher{
		path:           path,
		debounceWindow: 250 * time.Millisecond,
		configs:        make(chan Config, 1),
		errors:         make(chan error, 1),
		stopCh:         make(chan struct{}),
		doneCh:         make(chan struct{}),
	}, nil
}

// Configs delivers each successfully reloaded config.
func (w *Watcher) Configs() <-chan Config { return w.configs }

// Errors delivers reload failures. The watcher keeps running after an
// error; a broken intermediate save should not kill it.
func (w *Watcher) Errors() <-chan error { return w.errors }

// Start begins watching until ctx is cancelled or Stop is called.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return fmt.Errorf("watcher already started")
	}
	w.started = true
	w.mu.Unlock()

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	if err := fw.Add(filepath.Dir(w.path)); err != nil {
		fw.Close()
		return fmt.Errorf("watching %s: %w", filepath.Dir(w.path), err)
	}

	go w.run(ctx, fw)
	return nil
}

// Stop terminates the watcher and waits for the goroutine to exit.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	if !w.started {
		w.mu.Unlock()
		return nil
	}
	w.mu.Unlock()

	select {
	case <-w.stopCh:
	default:
		close(w.stopCh)
	}
	<-w.doneCh
	return nil
}

func (w *Watcher) run(ctx context.Context, fw *fsnotify.Watcher) {
	defer close(w.doneCh)
	defer fw.Close()

	ticker := time.NewTicker(w.debounceWindow)
	defer ticker.Stop()

	target := filepath.Clean(w.path)
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case ev, ok := <-fw.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				w.mu.Lock()
				w.dirty = true
				w.mu.Unlock()
			}
		case err, ok := <-fw.Errors:
			if !ok {
				return
			}
			w.report(err)
		case <-ticker.C:
			w.flush()
		}
	}
}

// flush reloads the config if a change was recorded since the last
// tick.
func (w *Watcher) flush() {
	w.mu.Lock()
	dirty := w.dirty
	w.dirty = false
	w.mu.Unlock()
	if !dirty {
		return
	}

	cfg, err := Load(w.path)
	if err != nil {
		w.report(err)
		return
	}
	select {
	case w.configs <- cfg:
	default:
		// Drop if the consumer is behind; the next change wins.
	}
}

func (w *Watcher) report(err error) {
	select {
	case w.errors <- err:
	default:
	}
}
