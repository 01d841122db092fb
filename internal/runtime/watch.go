package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/loqalabs/loqa-vitals/internal/config"
)

const reloadDelay = 100 * time.Millisecond

// watchConfig reloads the config file whenever it changes and hands the
// result to apply. Invalid files are logged and skipped. The parent
// directory is watched so editors that replace the file are still seen.
func watchConfig(ctx context.Context, path string, logger *slog.Logger, apply func(config.Config)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create config watcher: %w", err)
	}
	defer watcher.Close()

	target := filepath.Clean(path)
	if err := watcher.Add(filepath.Dir(target)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(target), err)
	}
	logger.Info("watching config", slog.String("path", target))

	var (
		timer  *time.Timer
		reload <-chan time.Time
	)
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target || !event.Op.Has(fsnotify.Write) && !event.Op.Has(fsnotify.Create) {
				continue
			}
			// Writes often arrive in bursts; reload once they settle.
			if timer != nil {
				timer.Stop()
			}
			timer = time.NewTimer(reloadDelay)
			reload = timer.C
		case <-reload:
			reload = nil
			cfg, err := config.Load(path)
			if err != nil {
				logger.Warn("ignoring invalid config change", slog.String("error", err.Error()))
				continue
			}
			apply(cfg)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("config watcher error", slog.String("error", err.Error()))
		}
	}
}
