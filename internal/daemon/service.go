// Package daemon wires configuration, the tariff, the ledger, the watcher
// and the rollup scheduler into the running service.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/janekbaraniewski/costledger/internal/config"
	"github.com/janekbaraniewski/costledger/internal/core"
	"github.com/janekbaraniewski/costledger/internal/ingest"
	"github.com/janekbaraniewski/costledger/internal/ledger"
	"github.com/janekbaraniewski/costledger/internal/metrics"
	"github.com/janekbaraniewski/costledger/internal/parsers"
	"github.com/janekbaraniewski/costledger/internal/rollup"
	"github.com/janekbaraniewski/costledger/internal/tariff"
	"github.com/janekbaraniewski/costledger/internal/watcher"
)

const heartbeatInterval = time.Hour

type Service struct {
	cfg    config.Config
	root   *slog.Logger
	logger *slog.Logger

	tariff    tariff.Document
	ledger    *ledger.Ledger
	summaries *ledger.SummaryStore
	pipeline  *ingest.Pipeline
	scheduler *rollup.Scheduler
	metrics   *metrics.Metrics
	recorder  *metrics.Recorder

	closeOnce sync.Once
	closeErr  error
}

// Open loads the tariff and opens the ledger. A tariff or storage failure is
// returned; the service does not start without both.
func Open(ctx context.Context, cfg config.Config, logger *slog.Logger) (*Service, error) {
	if logger == nil {
		logger = slog.Default()
	}

	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	doc, err := tariff.Load(cfg.TariffPath)
	if err != nil {
		return nil, err
	}

	rec := metrics.NewRecorder()
	m, err := metrics.New(rec.Meter())
	if err != nil {
		rec.Shutdown(ctx)
		return nil, fmt.Errorf("daemon: create metrics: %w", err)
	}

	l, err := ledger.Open(ctx, cfg.DBPath, ledger.Options{StoreRawPayload: cfg.StoreRawPayload})
	if err != nil {
		rec.Shutdown(ctx)
		return nil, err
	}
	summaries := ledger.NewSummaryStore(l.DB())

	s := &Service{
		cfg:       cfg,
		root:      logger,
		logger:    logger.With("component", "daemon"),
		tariff:    doc,
		ledger:    l,
		summaries: summaries,
		metrics:   m,
		recorder:  rec,
		pipeline: ingest.NewPipeline(
			parsers.NewDefault(),
			tariff.NewResolver(doc.Table, logger),
			doc.Taxonomy,
			l,
			m,
			logger,
		),
		scheduler: rollup.New(l, summaries, rollup.Options{
			Interval: cfg.RollupInterval,
			Location: loc,
			Metrics:  m,
			Logger:   logger,
		}),
	}

	s.logger.Info("daemon_open",
		"db", cfg.DBPath,
		"tariff", cfg.TariffPath,
		"tariff_version", doc.Version,
		"providers", len(doc.Table.Providers()),
		"models", doc.Table.ModelCount(),
		"categories", doc.Taxonomy.Len(),
		"ledger_events", l.IndexSize(),
	)
	return s, nil
}

// Run watches the sessions directory and keeps the daily rollup current until
// ctx is done. Cancellation is a clean stop and returns nil.
func (s *Service) Run(ctx context.Context) error {
	s.logger.Info("daemon_start",
		"sessions_dir", s.cfg.SessionsDir,
		"extension", s.cfg.Extension,
		"settle_delay", s.cfg.SettleDelay,
		"rollup_interval", s.cfg.RollupInterval,
		"force_polling", s.cfg.ForcePolling,
	)
	if _, err := os.Stat(s.cfg.SessionsDir); err != nil {
		s.logger.Warn("sessions_dir_unavailable", "dir", s.cfg.SessionsDir, "error", err)
	}

	src := watcher.NewSource(watcher.SourceOptions{
		PollInterval: s.cfg.PollInterval,
		ForcePolling: s.cfg.ForcePolling,
		Logger:       s.root,
	})
	dispatcher := watcher.NewDispatcher(s.pipeline, watcher.DispatcherOptions{
		Dir:         s.cfg.SessionsDir,
		Extension:   s.cfg.Extension,
		SettleDelay: s.cfg.SettleDelay,
		Logger:      s.root,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return dispatcher.Run(gctx, src)
	})
	g.Go(func() error {
		s.scheduler.Run(gctx)
		return nil
	})
	g.Go(func() error {
		s.runHeartbeat(gctx, dispatcher)
		return nil
	})

	err := g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	s.logger.Info("daemon_stop", "reason", "context_done")
	return nil
}

func (s *Service) runHeartbeat(ctx context.Context, d *watcher.Dispatcher) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.ledger.Count(ctx)
			if err != nil {
				s.logger.Warn("collector_alive", "error", err)
				continue
			}
			totals, err := s.recorder.Totals(ctx)
			if err != nil {
				s.logger.Warn("metrics_collect_failed", "error", err)
			}
			s.logger.Info("collector_alive",
				"ledger_events", n,
				"pending_files", d.Pending(),
				"ingested", totals["costledger.events.ingested"],
				"deduped", totals["costledger.events.deduped"],
				"failed", totals["costledger.events.failed"],
				"unpriced", totals["costledger.events.unpriced"],
			)
		}
	}
}

// Ingest processes the given files and directories once. With no paths it
// processes the configured sessions directory.
func (s *Service) Ingest(ctx context.Context, paths []string) (ingest.Result, error) {
	if len(paths) == 0 {
		paths = []string{s.cfg.SessionsDir}
	}
	var total ingest.Result
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return total, fmt.Errorf("daemon: ingest %s: %w", p, err)
		}
		var res ingest.Result
		if info.IsDir() {
			res, err = s.pipeline.ProcessAll(ctx, p, s.cfg.Extension)
		} else {
			res, err = s.pipeline.ProcessFile(ctx, p)
		}
		total.Add(res)
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// Rollup recomputes the summary for date, or today when date is empty.
func (s *Service) Rollup(ctx context.Context, date string) (core.DailySummary, error) {
	if date == "" {
		loc, err := s.cfg.Location()
		if err != nil {
			return core.DailySummary{}, err
		}
		date = time.Now().In(loc).Format(core.DateLayout)
	}
	return s.scheduler.Recompute(ctx, date)
}

type Status struct {
	Stats  ledger.Stats
	Recent []core.DailySummary
	// Counters are this process's metric totals by instrument name.
	Counters map[string]int64
}

func (s *Service) Status(ctx context.Context, recent int) (Status, error) {
	stats, err := s.ledger.Stats(ctx)
	if err != nil {
		return Status{}, err
	}
	sums, err := s.summaries.Recent(ctx, recent)
	if err != nil {
		return Status{}, err
	}
	counters, err := s.recorder.Totals(ctx)
	if err != nil {
		return Status{}, fmt.Errorf("daemon: collect metrics: %w", err)
	}
	return Status{Stats: stats, Recent: sums, Counters: counters}, nil
}

// Close closes the ledger after any in-flight write.
func (s *Service) Close() error {
	if s == nil {
		return nil
	}
	s.closeOnce.Do(func() {
		s.closeErr = s.ledger.Close()
		if err := s.recorder.Shutdown(context.Background()); s.closeErr == nil {
			s.closeErr = err
		}
	})
	return s.closeErr
}
