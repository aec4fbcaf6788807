// Package watcher turns session directory activity into parse triggers.
package watcher

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// Handler receives file activity from a Source.
type Handler interface {
	OnAdded(path string)
	OnChanged(path string)
}

// RemoveHandler is implemented by handlers that care about deleted files.
type RemoveHandler interface {
	OnRemoved(path string)
}

// Source watches dir and reports activity to h until ctx is done.
type Source interface {
	Run(ctx context.Context, dir string, h Handler) error
}

// ErrNotifyUnavailable means native notifications could not be set up for
// the directory.
var ErrNotifyUnavailable = errors.New("watcher: native notifications unavailable")

type SourceOptions struct {
	PollInterval time.Duration
	ForcePolling bool
	Logger       *slog.Logger
}

// NewSource returns a native source that falls back to polling, or a
// polling source when ForcePolling is set.
func NewSource(opts SourceOptions) Source {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "watcher")
	poll := &PollSource{Interval: opts.PollInterval, Logger: logger}
	if opts.ForcePolling {
		return poll
	}
	return &fallbackSource{
		primary:  &NotifySource{Logger: logger},
		fallback: poll,
		logger:   logger,
	}
}

type fallbackSource struct {
	primary  Source
	fallback Source
	logger   *slog.Logger
}

func (s *fallbackSource) Run(ctx context.Context, dir string, h Handler) error {
	err := s.primary.Run(ctx, dir, h)
	if !errors.Is(err, ErrNotifyUnavailable) {
		return err
	}
	s.logger.Warn("watch_fallback_polling", "dir", dir, "error", err)
	return s.fallback.Run(ctx, dir, h)
}

func notifyRemoved(h Handler, path string) {
	if rh, ok := h.(RemoveHandler); ok {
		rh.OnRemoved(path)
	}
}
