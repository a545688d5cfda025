package config

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/grinbot/grinbot/pkg/logger"
)

const watchDebounce = 500 * time.Millisecond

// Watch reports changes to the given files on the returned channel. Bursts
// of writes are debounced into one signal. The parent directories are
// watched so editors that replace the file by rename are still seen. The
// channel closes when ctx is done.
func Watch(ctx context.Context, files ...string) <-chan struct{} {
	changed := make(chan struct{}, 1)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		logger.WarnCF("config", "File watcher unavailable", map[string]any{"error": err.Error()})
		close(changed)
		return changed
	}

	wanted := make(map[string]struct{}, len(files))
	dirs := make(map[string]struct{})
	for _, f := range files {
		abs, err := filepath.Abs(f)
		if err != nil {
			continue
		}
		wanted[abs] = struct{}{}
		dirs[filepath.Dir(abs)] = struct{}{}
	}
	for dir := range dirs {
		if err := watcher.Add(dir); err != nil {
			logger.WarnCF("config", "Cannot watch directory",
				map[string]any{"dir": dir, "error": err.Error()})
		}
	}

	go func() {
		defer close(changed)
		defer watcher.Close()

		var (
			timer *time.Timer
			fire  <-chan time.Time
		)
		defer func() {
			if timer != nil {
				timer.Stop()
			}
		}()

		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if _, ok := wanted[filepath.Clean(event.Name)]; !ok {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
					continue
				}
				if timer == nil {
					timer = time.NewTimer(watchDebounce)
				} else {
					timer.Reset(watchDebounce)
				}
				fire = timer.C
			case <-fire:
				fire = nil
				select {
				case changed <- struct{}{}:
				default:
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.WarnCF("config", "File watcher error", map[string]any{"error": err.Error()})
			}
		}
	}()

	return changed
}
