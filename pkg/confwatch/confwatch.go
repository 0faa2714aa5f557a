// Package confwatch reloads a YAML config file whenever it changes on disk.
package confwatch

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Debounce is how long Watch waits after the last event in a burst before
// reloading. Editors commonly emit several events for a single save.
var Debounce = 100 * time.Millisecond

// Watch calls load on path after every change and hands the result to apply.
// It runs until ctx is cancelled.
//
// The parent directory is watched rather than the file itself so that
// atomic saves (write to a temp file, rename over path) keep being seen.
// When load fails the error is logged and apply is not called, so the
// previous config stays active.
func Watch[T any](ctx context.Context, path string, load func(string) (T, error), apply func(T)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	target := filepath.Clean(path)
	if err := watcher.Add(filepath.Dir(target)); err != nil {
		return err
	}

	slog.Info("config: watching for changes", "path", target)

	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			timer.Reset(Debounce)

		case <-timer.C:
			cfg, err := load(target)
			if err != nil {
				slog.Error("config: reload failed, keeping previous config",
					"path", target, "err", err)
				continue
			}
			slog.Info("config: reloaded", "path", target)
			apply(cfg)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Error("config: watcher error", "err", err)
		}
	}
}
