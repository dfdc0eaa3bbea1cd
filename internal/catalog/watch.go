package catalog

import (
	"context"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watch calls onChange each time one of paths is written or replaced. It
// blocks until ctx is cancelled. The parent directories are watched rather
// than the files so editors that save by rename are still seen.
func Watch(ctx context.Context, paths []string, log *zap.Logger, onChange func(path string)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	wanted := make(map[string]bool, len(paths))
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			return err
		}
		wanted[abs] = true
		if err := watcher.Add(filepath.Dir(abs)); err != nil {
			return err
		}
	}

	log.Info("watching for fixture changes", zap.Strings("paths", paths))

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
			abs, err := filepath.Abs(event.Name)
			if err != nil || !wanted[abs] {
				continue
			}
			log.Debug("fixture changed", zap.String("path", event.Name), zap.Stringer("op", event.Op))
			onChange(event.Name)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Error("watcher error", zap.Error(err))
		}
	}
}
