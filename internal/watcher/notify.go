package watcher

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/fsnotify/fsnotify"
)

// NotifySource uses native filesystem notifications. Create events are
// reported as added, Write events as changed.
type NotifySource struct {
	Logger *slog.Logger
}

func (s *NotifySource) Run(ctx context.Context, dir string, h Handler) error {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNotifyUnavailable, err)
	}
	defer w.Close()

	if err := w.Add(dir); err != nil {
		return fmt.Errorf("%w: watch %s: %v", ErrNotifyUnavailable, dir, err)
	}
	logger.Info("watch_started", "dir", dir, "mode", "notify")

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-w.Events:
			if !ok {
				return nil
			}
			switch {
			case event.Has(fsnotify.Create):
				h.OnAdded(event.Name)
			case event.Has(fsnotify.Write):
				h.OnChanged(event.Name)
			case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
				notifyRemoved(h, event.Name)
			}

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Warn("watch_error", "dir", dir, "error", err)
		}
	}
}
