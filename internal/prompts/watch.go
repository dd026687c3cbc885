package prompts

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// debounceDelay groups the rapid event bursts editors produce on save.
const debounceDelay = 500 * time.Millisecond

// Watch hot-reloads the overlay directory until ctx ends or Close is
// called. A no-op when the loader runs on embedded defaults only.
func (l *Loader) Watch(ctx context.Context) error {
	if l.dir == "" {
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create prompt watcher: %w", err)
	}
	if err := watcher.Add(l.dir); err != nil {
		watcher.Close()
		return fmt.Errorf("watch prompts dir %s: %w", l.dir, err)
	}
	slog.Info("prompt hot-reload enabled", "dir", l.dir)
	go l.watchLoop(ctx, watcher)
	return nil
}

// Close stops an active watch loop. Safe to call without Watch.
func (l *Loader) Close() {
	l.watchOnce.Do(func() { close(l.closeCh) })
}

func (l *Loader) watchLoop(ctx context.Context, watcher *fsnotify.Watcher) {
	defer watcher.Close()

	var mu sync.Mutex
	timers := make(map[string]*time.Timer)

	for {
		select {
		case ev, ok := <-watcher.Events:
			if !ok {
				return
			}
			name := filepath.Base(ev.Name)
			if !known(name) || strings.HasPrefix(name, ".") || strings.Contains(name, "~") {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) &&
				!ev.Has(fsnotify.Remove) && !ev.Has(fsnotify.Rename) {
				continue
			}
			// Debounce per file: editors fire several events per save.
			mu.Lock()
			if t, exists := timers[name]; exists {
				t.Stop()
			}
			timers[name] = time.AfterFunc(debounceDelay, func() {
				if err := l.reload(); err != nil {
					slog.Warn("prompt reload failed", "file", name, "error", err)
					return
				}
				slog.Info("prompts reloaded", "file", name)
			})
			mu.Unlock()

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			slog.Warn("prompt watcher error", "error", err)

		case <-l.closeCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

func known(name string) bool {
	for _, t := range templateFiles {
		if t == name {
			return true
		}
	}
	return false
}
