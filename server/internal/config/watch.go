package config

import (
	"context"
	"log/slog"
	"time"

	"github.com/fsnotify/fsnotify"
)

// reloadDebounce coalesces the burst of fsnotify events an editor save
// produces (truncate + write, or create + rename) into a single reload.
const reloadDebounce = 200 * time.Millisecond

// Watch monitors path and calls onChange with the newly loaded Config after
// each change settles. It runs until ctx is cancelled.
//
// A reload that fails validation (unreadable file, bad YAML, warning at or
// above critical) is logged and discarded; the engine keeps running on the
// last good config and onChange is not called.
func Watch(ctx context.Context, path string, onChange func(*Config)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(path); err != nil {
		return err
	}

	slog.Info("config: watching for changes", "path", path)

	var settle <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			settle = time.After(reloadDebounce)

		case <-settle:
			settle = nil
			cfg, err := Load(path)
			if err != nil {
				slog.Error("config: reload rejected — keeping last good config",
					"path", path, "err", err)
				continue
			}

			slog.Info("config: reloaded",
				"path", path,
				"warning_after", cfg.Server.Monitoring.WarningAfter,
				"critical_after", cfg.Server.Monitoring.CriticalAfter,
			)
			onChange(cfg)

			// An atomic save replaces the inode; re-add so the next save is
			// still observed.
			_ = watcher.Add(path)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Error("config: watcher error", "err", err)
		}
	}
}
