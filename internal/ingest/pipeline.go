// Package ingest drives session files through parsing, pricing,
// classification and the ledger.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/janekbaraniewski/costledger/internal/core"
	"github.com/janekbaraniewski/costledger/internal/ledger"
	"github.com/janekbaraniewski/costledger/internal/metrics"
	"github.com/janekbaraniewski/costledger/internal/parsers"
	"github.com/janekbaraniewski/costledger/internal/tariff"
)

type Pricer interface {
	Resolve(model string, usage tariff.Usage) tariff.Resolution
}

type Classifier interface {
	Classify(text string) string
}

type Writer interface {
	Append(ctx context.Context, ev core.UsageEvent) (ledger.AppendResult, error)
}

// Result counts what one or more file passes did.
type Result struct {
	Files      int
	Lines      int
	Malformed  int
	Candidates int
	Ingested   int
	Deduped    int
	Failed     int
	Unpriced   int
}

// Add accumulates o into r.
func (r *Result) Add(o Result) {
	r.Files += o.Files
	r.Lines += o.Lines
	r.Malformed += o.Malformed
	r.Candidates += o.Candidates
	r.Ingested += o.Ingested
	r.Deduped += o.Deduped
	r.Failed += o.Failed
	r.Unpriced += o.Unpriced
}

// Pipeline keeps one parse cursor per file. ProcessFile calls are serialized.
type Pipeline struct {
	parser     *parsers.Parser
	pricer     Pricer
	classifier Classifier
	writer     Writer
	metrics    *metrics.Metrics
	logger     *slog.Logger

	mu      sync.Mutex
	cursors map[string]*parsers.FileState
}

func NewPipeline(parser *parsers.Parser, pricer Pricer, classifier Classifier, writer Writer, m *metrics.Metrics, logger *slog.Logger) *Pipeline {
	if parser == nil {
		parser = parsers.NewDefault()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		parser:     parser,
		pricer:     pricer,
		classifier: classifier,
		writer:     writer,
		metrics:    m,
		logger:     logger.With("component", "ingest"),
		cursors:    make(map[string]*parsers.FileState),
	}
}

// ProcessFile ingests whatever path gained since the previous call. An error
// means the file could not be read; per-event persistence failures are
// counted in Result.Failed and do not stop the pass.
func (p *Pipeline) ProcessFile(ctx context.Context, path string) (Result, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	st, ok := p.cursors[path]
	if !ok {
		st = &parsers.FileState{}
		p.cursors[path] = st
	}

	cands, stats, err := p.parser.ReadFile(path, st)
	res := Result{
		Files:      1,
		Lines:      stats.Lines,
		Malformed:  stats.Malformed,
		Candidates: stats.Candidates,
	}
	p.metrics.FileProcessed(ctx)
	if err != nil {
		return res, fmt.Errorf("ingest: read %s: %w", path, err)
	}

	for _, cand := range cands {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if err := p.admit(ctx, cand, &res); errors.Is(err, ledger.ErrClosed) {
			return res, fmt.Errorf("ingest: %s: %w", path, err)
		}
	}

	if res.Candidates > 0 || stats.Pending > 0 {
		p.logger.Debug("file_processed",
			"path", path,
			"lines", res.Lines,
			"candidates", res.Candidates,
			"ingested", res.Ingested,
			"deduped", res.Deduped,
			"failed", res.Failed,
			"pending_bytes", stats.Pending,
		)
	}
	return res, nil
}

func (p *Pipeline) admit(ctx context.Context, cand core.Candidate, res *Result) error {
	resolution := p.pricer.Resolve(cand.Model, tariff.Usage{
		InputTokens:      cand.InputTokens,
		OutputTokens:     cand.OutputTokens,
		CacheReadTokens:  cand.CacheReadTokens,
		CacheWriteTokens: cand.CacheWriteTokens,
	})
	if !resolution.Known {
		res.Unpriced++
		p.metrics.Unpriced(ctx, cand.Model)
	}

	category := core.CategoryOther
	if p.classifier != nil {
		category = p.classifier.Classify(cand.Text)
	}

	ev := cand.Complete(resolution.CostUSD, resolution.Provider, category)
	out, err := p.writer.Append(ctx, ev)
	if err != nil {
		res.Failed++
		p.metrics.Failed(ctx)
		p.logger.Warn("persist_failed",
			"session_id", ev.SessionID,
			"model", ev.Model,
			"timestamp", ev.Timestamp,
			"error", err,
		)
		return err
	}
	if out.Deduped {
		res.Deduped++
		p.metrics.Deduped(ctx)
		return nil
	}
	res.Ingested++
	p.metrics.Ingested(ctx, ev.Provider, ev.CostUSD)
	return nil
}

// ProcessAll processes every session file in dir in name order. Unreadable
// files are logged and skipped.
func (p *Pipeline) ProcessAll(ctx context.Context, dir, ext string) (Result, error) {
	files, err := ListSessionFiles(dir, ext)
	if err != nil {
		return Result{}, err
	}
	return p.ProcessPaths(ctx, files)
}

// ProcessPaths processes each path in order.
func (p *Pipeline) ProcessPaths(ctx context.Context, paths []string) (Result, error) {
	var total Result
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		res, err := p.ProcessFile(ctx, path)
		total.Add(res)
		if errors.Is(err, ledger.ErrClosed) || errors.Is(err, context.Canceled) {
			return total, err
		}
		if err != nil {
			p.logger.Warn("file_read_failed", "path", path, "error", err)
		}
	}
	return total, nil
}

// Forget drops the cursor for path.
func (p *Pipeline) Forget(path string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.cursors, path)
}

// IsSessionFile reports whether name is a visible file with extension ext.
func IsSessionFile(name, ext string) bool {
	base := filepath.Base(name)
	if base == "" || strings.HasPrefix(base, ".") {
		return false
	}
	return ext == "" || strings.EqualFold(filepath.Ext(base), ext)
}

// ListSessionFiles returns the session files directly under dir, sorted.
func ListSessionFiles(dir, ext string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("ingest: list %s: %w", dir, err)
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() || !IsSessionFile(e.Name(), ext) {
			continue
		}
		out = append(out, filepath.Join(dir, e.Name()))
	}
	slices.Sort(out)
	return out, nil
}
