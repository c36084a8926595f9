package config

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// watchDebounce coalesces the burst of events an editor save produces into
// one notification.
const watchDebounce = 500 * time.Millisecond

// WatchConfig watches the settings file at path and emits on the returned
// channel whenever it is written or replaced. The watch is placed on the
// parent directory, not the file: editors that save by rename (vim, atomic
// writers) would otherwise detach the watch on the first save. The watcher
// goroutine exits when ctx is done, closing the channel.
func WatchConfig(ctx context.Context, path string) <-chan struct{} {
	ch := make(chan struct{}, 1)

	abs, err := filepath.Abs(path)
	if err != nil {
		slog.Warn("cannot resolve settings path, hot reload disabled", "path", path, "error", err)
		return ch
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		slog.Warn("fsnotify unavailable, hot reload disabled", "error", err)
		return ch
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		slog.Warn("cannot watch settings directory, hot reload disabled", "dir", filepath.Dir(abs), "error", err)
		watcher.Close()
		return ch
	}

	go func() {
		defer watcher.Close()
		defer close(ch)

		var debounce *time.Timer
		for {
			select {
			case <-ctx.Done():
				if debounce != nil {
					debounce.Stop()
				}
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if ev.Name != abs {
					continue
				}
				if !ev.Op.Has(fsnotify.Write) && !ev.Op.Has(fsnotify.Create) && !ev.Op.Has(fsnotify.Rename) {
					continue
				}
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(watchDebounce, func() {
					slog.Info("settings file changed", "path", abs)
					select {
					case ch <- struct{}{}:
					default:
					}
				})
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				slog.Warn("settings watcher error", "error", err)
			}
		}
	}()

	return ch
}
