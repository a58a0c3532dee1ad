package config

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultWatchDebounce coalesces editor write bursts into one reload.
const DefaultWatchDebounce = 250 * time.Millisecond

// Watcher reloads a configuration file when it or a sibling config file
// changes. Included files outside the config directory are not watched.
type Watcher struct {
	path     string
	debounce time.Duration
	onChange func(*Config)
	onError  func(error)

	watcher *fsnotify.Watcher
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	mu     sync.Mutex
	timer  *time.Timer
	closed bool
}

// Watch starts watching path. onChange receives each configuration that
// loads and validates; onError receives load failures and watcher errors.
// The previous configuration stays in effect after a failed reload.
func Watch(ctx context.Context, path string, debounce time.Duration, onChange func(*Config), onError func(error)) (*Watcher, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	if debounce <= 0 {
		debounce = DefaultWatchDebounce
	}
	if onError == nil {
		onError = func(error) {}
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	// Editors replace files by rename, which drops a watch on the file
	// itself, so the directory is watched instead.
	if err := fsw.Add(filepath.Dir(absPath)); err != nil {
		_ = fsw.Close()
		return nil, fmt.Errorf("watch %s: %w", filepath.Dir(absPath), err)
	}

	watchCtx, cancel := context.WithCancel(ctx)
	w := &Watcher{
		path:     absPath,
		debounce: debounce,
		onChange: onChange,
		onError:  onError,
		watcher:  fsw,
		cancel:   cancel,
	}
	w.wg.Add(1)
	go w.loop(watchCtx)
	return w, nil
}

// Close stops the watcher. No callback runs after Close returns.
func (w *Watcher) Close() error {
	w.cancel()
	err := w.watcher.Close()
	w.wg.Wait()

	w.mu.Lock()
	w.closed = true
	if w.timer != nil {
		w.timer.Stop()
	}
	w.mu.Unlock()
	return err
}

func (w *Watcher) loop(ctx context.Context) {
	defer w.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			if w.relevant(event.Name) {
				w.schedule()
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.onError(fmt.Errorf("config watch: %w", err))
		}
	}
}

func (w *Watcher) relevant(name string) bool {
	if filepath.Clean(name) == w.path {
		return true
	}
	switch strings.ToLower(filepath.Ext(name)) {
	case ".yaml", ".yml", ".json", ".json5":
		return true
	}
	return false
}

func (w *Watcher) schedule() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.reload)
}

// reload holds mu so Close waits for an in-flight reload.
func (w *Watcher) reload() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	cfg, err := Load(w.path)
	if err != nil {
		w.onError(err)
		return
	}
	if w.onChange != nil {
		w.onChange(cfg)
	}
}
