package config

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/hashicorp/go-hclog"
)

// Watcher reloads the configuration file on change and hands the parsed
// result to a callback. Editors replace files rather than rewrite them,
// so the parent directory is watched and events are debounced.
type Watcher struct {
	logger   hclog.Logger
	path     string
	onChange func(*Config)
	debounce time.Duration

	watcher *fsnotify.Watcher

	mu      sync.Mutex
	pending *time.Timer

	stop chan struct{}
	done chan struct{}
}

// NewWatcher creates a watcher for the given config path. onChange runs
// on the watcher goroutine with every successfully reloaded config;
// parse and validation failures keep the previous config and are only
// logged.
func NewWatcher(path string, logger hclog.Logger, onChange func(*Config)) (*Watcher, error) {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	if err := fw.Add(filepath.Dir(path)); err != nil {
		fw.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", filepath.Dir(path), err)
	}

	w := &Watcher{
		logger:   logger.Named("config-watch"),
		path:     path,
		onChange: onChange,
		debounce: 500 * time.Millisecond,
		watcher:  fw,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go w.run()
	return w, nil
}

// Close stops the watcher and joins its goroutine.
func (w *Watcher) Close() error {
	close(w.stop)
	err := w.watcher.Close()
	<-w.done

	w.mu.Lock()
	if w.pending != nil {
		w.pending.Stop()
	}
	w.mu.Unlock()
	return err
}

func (w *Watcher) run() {
	defer close(w.done)

	for {
		select {
		case <-w.stop:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.scheduleReload()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("config watch error", "error", err)
		}
	}
}

func (w *Watcher) scheduleReload() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.pending != nil {
		w.pending.Stop()
	}
	w.pending = time.AfterFunc(w.debounce, w.reload)
}

func (w *Watcher) reload() {
	cfg, err := Load(w.path)
	if err != nil {
		w.logger.Error("config reload rejected, keeping previous", "error", err)
		return
	}
	w.logger.Info("configuration reloaded", "path", w.path)
	if w.onChange != nil {
		w.onChange(cfg)
	}
}
