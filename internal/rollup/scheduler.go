// Package rollup recomputes per-day summaries from the ledger.
package rollup

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/janekbaraniewski/costledger/internal/core"
	"github.com/janekbaraniewski/costledger/internal/metrics"
)

const defaultInterval = 15 * time.Minute

type EventReader interface {
	EventsBetween(ctx context.Context, start, end time.Time) ([]core.UsageEvent, error)
}

type SummaryWriter interface {
	Upsert(ctx context.Context, sum core.DailySummary) error
}

type Options struct {
	Interval time.Duration
	Location *time.Location
	Metrics  *metrics.Metrics
	Logger   *slog.Logger
	Now      func() time.Time
}

// Scheduler keeps today's summary current. It only reads the ledger and is
// the only writer of daily summaries.
type Scheduler struct {
	events    EventReader
	summaries SummaryWriter
	interval  time.Duration
	loc       *time.Location
	metrics   *metrics.Metrics
	logger    *slog.Logger
	now       func() time.Time

	lastDate string
}

func New(events EventReader, summaries SummaryWriter, opts Options) *Scheduler {
	s := &Scheduler{
		events:    events,
		summaries: summaries,
		interval:  opts.Interval,
		loc:       opts.Location,
		metrics:   opts.Metrics,
		logger:    opts.Logger,
		now:       opts.Now,
	}
	if s.interval <= 0 {
		s.interval = defaultInterval
	}
	if s.loc == nil {
		s.loc = time.Local
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	s.logger = s.logger.With("component", "rollup")
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// Run recomputes once immediately and then on every interval until ctx is
// done. Failures are logged and retried on the next tick.
func (s *Scheduler) Run(ctx context.Context) {
	s.logger.Info("rollup_loop_start", "interval", s.interval, "timezone", s.loc.String())
	s.runCycle(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("rollup_loop_stop", "reason", "context_done")
			return
		case <-ticker.C:
			s.runCycle(ctx)
		}
	}
}

func (s *Scheduler) runCycle(ctx context.Context) {
	if err := s.Tick(ctx); err != nil && ctx.Err() == nil {
		s.logger.Warn("rollup_failed", "error", err)
	}
}

// Tick recomputes today. On the first tick after the local date changes it
// also recomputes the previous day once.
func (s *Scheduler) Tick(ctx context.Context) error {
	now := s.now().In(s.loc)
	today := now.Format(core.DateLayout)

	if s.lastDate != "" && s.lastDate != today {
		if _, err := s.Recompute(ctx, s.lastDate); err != nil {
			return err
		}
	}
	if _, err := s.recomputeDay(ctx, now); err != nil {
		return err
	}
	s.lastDate = today
	return nil
}

// Recompute rebuilds the summary for date (YYYY-MM-DD in the scheduler's
// location) and overwrites the stored row.
func (s *Scheduler) Recompute(ctx context.Context, date string) (core.DailySummary, error) {
	day, err := time.ParseInLocation(core.DateLayout, date, s.loc)
	if err != nil {
		return core.DailySummary{}, fmt.Errorf("rollup: parse date %q: %w", date, err)
	}
	return s.recomputeDay(ctx, day)
}

func (s *Scheduler) recomputeDay(ctx context.Context, t time.Time) (core.DailySummary, error) {
	start, end := core.DayBounds(t, s.loc)
	date := start.Format(core.DateLayout)

	events, err := s.events.EventsBetween(ctx, start, end)
	if err != nil {
		return core.DailySummary{}, fmt.Errorf("rollup: read events for %s: %w", date, err)
	}
	sum := core.Summarize(date, events)
	if err := s.summaries.Upsert(ctx, sum); err != nil {
		return core.DailySummary{}, fmt.Errorf("rollup: write summary for %s: %w", date, err)
	}
	s.metrics.RollupWritten(ctx)
	s.logger.Debug("rollup_written",
		"date", date,
		"total_cost", sum.TotalCost,
		"total_tokens", sum.TotalTokens,
		"tasks", sum.TasksCount,
		"models", len(sum.Models),
	)
	return sum, nil
}
