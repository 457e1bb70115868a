package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

const reloadDebounce = 500 * time.Millisecond

// Watch reloads the configuration at path whenever the file changes and
// passes every valid result to onReload. Invalid edits are logged and the
// previous configuration stays in effect. Watch blocks until ctx is done.
func Watch(ctx context.Context, logger *slog.Logger, path string, onReload func(*Config)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create config watcher: %w", err)
	}
	defer watcher.Close()

	// Editors often replace the file, so watch the directory.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("failed to watch config %s: %w", path, err)
	}
	logger.Info("Watching config file for changes.", "path", path)

	target := filepath.Clean(path)
	var debounce <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			logger.Info("Config watcher stopped.")
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				logger.Debug("Config file changed.", "op", event.Op.String())
				debounce = time.After(reloadDebounce)
			}

		case <-debounce:
			debounce = nil
			cfg, err := Load(path)
			if err != nil {
				logger.Error("Config reload failed, keeping previous configuration", "error", err)
				continue
			}
			logger.Info("Configuration reloaded.", "events", len(cfg.Events), "participants", len(cfg.Participants))
			onReload(cfg)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Error("Config watcher error", "error", err)
		}
	}
}
