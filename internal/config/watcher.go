package config

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const defaultDebounceDelay = 500 * time.Millisecond

// StartWatcher reloads the config file whenever it changes and hands every
// successfully validated result to onReload. Bursts of writes are collapsed
// into one reload. It blocks until ctx is done.
func StartWatcher(ctx context.Context, configPath string, onReload func(*Config), debounceDelay time.Duration) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		slog.Error("Failed to create config file watcher", "error", err)
		return
	}
	defer watcher.Close()

	configPath = filepath.Clean(configPath)
	configDir := filepath.Dir(configPath)
	if err := watcher.Add(configDir); err != nil {
		slog.Error("Failed to watch config directory", "path", configDir, "error", err)
		return
	}

	delay := debounceDelay
	if delay <= 0 {
		delay = defaultDebounceDelay
	}
	slog.Info("Watching configuration for changes", "path", configPath, "debounce", delay)

	var (
		mu    sync.Mutex
		timer *time.Timer
	)
	reload := func() {
		cfg, _, err := Load(configPath, false)
		if err != nil {
			slog.Error("Config reload failed, keeping current settings", "path", configPath, "error", err)
			return
		}
		onReload(cfg)
		slog.Info("Configuration reloaded", "path", configPath)
	}

	for {
		select {
		case <-ctx.Done():
			mu.Lock()
			if timer != nil {
				timer.Stop()
			}
			mu.Unlock()
			return

		case event, ok := <-watcher.Events:
			if !ok {
				slog.Warn("Config watcher event channel closed")
				return
			}
			if filepath.Clean(event.Name) != configPath {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			mu.Lock()
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(delay, reload)
			mu.Unlock()

		case err, ok := <-watcher.Errors:
			if !ok {
				slog.Warn("Config watcher error channel closed")
				return
			}
			slog.Error("Config watcher error", "error", err)
		}
	}
}
