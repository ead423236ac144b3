package config

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// watchDebounce collapses the burst of events an editor save produces.
const watchDebounce = 200 * time.Millisecond

// Watch watches the config file and reports changes. The running gateway
// is never reconfigured: a changed file is loaded, validated and logged as
// requiring a restart. onChange, when not nil, receives each reload result.
//
// The directory is watched rather than the file because many editors save
// via atomic rename. Watch returns once the watcher is installed; it stops
// when ctx is done.
func Watch(ctx context.Context, path string, logger *slog.Logger, onChange func(*Config, error)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	dir, file := filepath.Split(path)
	if dir == "" {
		dir = "."
	}
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return err
	}

	var (
		timer *time.Timer
		mu    sync.Mutex
	)

	trigger := func() {
		mu.Lock()
		defer mu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(watchDebounce, func() {
			cfg, err := Load(path)
			if err != nil {
				logger.Error("config changed on disk but does not load", "path", path, "error", err)
			} else {
				logger.Warn("config changed on disk; restart required to apply", "path", path)
			}
			if onChange != nil {
				onChange(cfg, err)
			}
		})
	}

	go func() {
		logger.Info("config watcher started", "path", path)
		defer func() {
			mu.Lock()
			if timer != nil {
				timer.Stop()
			}
			mu.Unlock()
			_ = watcher.Close()
			logger.Info("config watcher stopped")
		}()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Base(ev.Name) != file {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0 {
					trigger()
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Warn("config watcher error", "error", err)
			}
		}
	}()

	return nil
}
