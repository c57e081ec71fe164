package config

import (
	"context"
	"log/slog"
	"path/filepath"
	"slices"
	"time"

	"github.com/fsnotify/fsnotify"
)

// reloadDebounce collapses the burst of events editors produce on save.
const reloadDebounce = 200 * time.Millisecond

// RelaysCallback receives the normalized relay list after a reload changed it.
type RelaysCallback func(relays []string)

// WatchRelays watches the config file and calls cb whenever the relay list in
// it changes. The parent directory is watched so atomic-rename saves are seen.
// A file that fails to load or validate is logged and ignored. Blocks until
// ctx is cancelled.
func WatchRelays(ctx context.Context, filename string, current []string, logger *slog.Logger, cb RelaysCallback) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	abs, err := filepath.Abs(filename)
	if err != nil {
		return err
	}
	if err := w.Add(filepath.Dir(abs)); err != nil {
		return err
	}

	logger.Info("config watcher: started", slog.String("file", abs))

	last := slices.Clone(current)
	var timer *time.Timer
	var timerCh <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			logger.Info("config watcher: stopped")
			return nil

		case <-timerCh:
			timerCh = nil
			cfg, loadErr := Load(abs)
			if loadErr != nil {
				logger.Warn("config watcher: reload failed", slog.String("error", loadErr.Error()))
				continue
			}
			relays := cfg.RelayURLs()
			if slices.Equal(relays, last) {
				continue
			}
			last = relays
			logger.Info("config watcher: relays changed", slog.Int("count", len(relays)))
			cb(slices.Clone(relays))

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != abs {
				continue
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(reloadDebounce)
			} else {
				timer.Reset(reloadDebounce)
			}
			timerCh = timer.C

		case watchErr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Error("config watcher: error", slog.String("error", watchErr.Error()))
		}
	}
}
