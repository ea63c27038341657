package router

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// reloadDebounce coalesces bursts of editor writes into one reload.
const reloadDebounce = 200 * time.Millisecond

// Watch reloads rt whenever its rules file changes, until ctx is cancelled.
// The parent directory is watched so that atomic renames by editors are
// seen. onReload, when non-nil, runs after each reload.
func Watch(ctx context.Context, rt *Router, logger *slog.Logger, onReload func()) error {
	if rt.rulesPath == "" {
		<-ctx.Done()
		return nil
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	target := filepath.Clean(rt.rulesPath)
	if err := w.Add(filepath.Dir(target)); err != nil {
		return err
	}
	logger.Info("watcher: rules watch started", slog.String("path", target))

	var timer *time.Timer
	var fire <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			logger.Info("watcher: rules watch stopped")
			return nil

		case <-fire:
			fire = nil
			rt.Reload()
			if onReload != nil {
				onReload()
			}

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename|fsnotify.Remove) == 0 {
				continue
			}
			logger.Debug("watcher: rules changed", slog.String("op", ev.Op.String()))
			if timer == nil {
				timer = time.NewTimer(reloadDebounce)
			} else {
				timer.Reset(reloadDebounce)
			}
			fire = timer.C

		case watchErr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Error("watcher: error", slog.String("error", watchErr.Error()))
		}
	}
}
