package config

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/marmos91/netbridge/internal/logger"
)

// watchDebounce coalesces the burst of events an editor save produces.
const watchDebounce = 200 * time.Millisecond

// Watch reloads the configuration at path whenever it changes and passes
// the new value to onChange. Files that fail to load or validate are
// logged and skipped. Watch returns once the watcher is installed; it
// stops when ctx is cancelled.
//
// The parent directory is watched so that editors replacing the file by
// rename are seen.
func Watch(ctx context.Context, path string, onChange func(*Config)) error {
	if path == "" {
		path = GetDefaultConfigPath()
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve config path: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create config watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("failed to watch config directory: %w", err)
	}

	go func() {
		defer func() { _ = watcher.Close() }()

		var pending <-chan time.Time
		for {
			select {
			case <-ctx.Done():
				return

			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != abs {
					continue
				}
				if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
					pending = time.After(watchDebounce)
				}

			case <-pending:
				pending = nil
				cfg, err := Load(abs)
				if err != nil {
					logger.Warn("Ignoring invalid configuration change", logger.Path(abs), logger.Err(err))
					continue
				}
				logger.Debug("Configuration reloaded", logger.Path(abs))
				onChange(cfg)

			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Warn("Config watcher error", logger.Err(err))
			}
		}
	}()
	return nil
}
