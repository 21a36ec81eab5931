package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

const reloadDebounce = 200 * time.Millisecond

// Watch reloads the store whenever its file changes, until ctx is done.
// The parent directory is watched so editors that replace the file by rename
// are picked up. Failed reloads are logged and the previous snapshot is kept.
func (s *Store) Watch(ctx context.Context) error {
	if s.path == "" {
		return errors.New("config store has no file path to watch")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create config watcher: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(s.path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch config dir %s: %w", dir, err)
	}

	target := filepath.Clean(s.path)
	var (
		timer   *time.Timer
		trigger <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

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
			if timer == nil {
				timer = time.NewTimer(reloadDebounce)
			} else {
				timer.Reset(reloadDebounce)
			}
			trigger = timer.C
		case <-trigger:
			trigger = nil
			if err := s.Reload(); err != nil {
				slog.Warn("config_reload_rejected", "path", s.path, "error", err)
				continue
			}
			slog.Info("config_reloaded", "path", s.path)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Warn("config_watch_error", "path", s.path, "error", err)
		}
	}
}
