package watcher

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

const defaultPollInterval = 2 * time.Second

// PollSource diffs directory listings on an interval. Files present at start
// are treated as known; the dispatcher replays them separately.
type PollSource struct {
	Interval time.Duration
	Logger   *slog.Logger
}

type fileStamp struct {
	modTime time.Time
	size    int64
}

func (s *PollSource) Run(ctx context.Context, dir string, h Handler) error {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	interval := s.Interval
	if interval <= 0 {
		interval = defaultPollInterval
	}

	known := scanDir(dir)
	logger.Info("watch_started", "dir", dir, "mode", "poll", "interval", interval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			current := scanDir(dir)
			diffStamps(known, current, h)
			known = current
		}
	}
}

// scanDir lists regular files directly under dir. A missing directory reads
// as empty so polling can wait for it to appear.
func scanDir(dir string) map[string]fileStamp {
	out := make(map[string]fileStamp)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return out
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		out[filepath.Join(dir, e.Name())] = fileStamp{modTime: info.ModTime(), size: info.Size()}
	}
	return out
}

func diffStamps(old, current map[string]fileStamp, h Handler) {
	for path, stamp := range current {
		prev, exists := old[path]
		switch {
		case !exists:
			h.OnAdded(path)
		case !prev.modTime.Equal(stamp.modTime) || prev.size != stamp.size:
			h.OnChanged(path)
		}
	}
	for path := range old {
		if _, exists := current[path]; !exists {
			notifyRemoved(h, path)
		}
	}
}
