package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/samber/lo"

	"github.com/janekbaraniewski/costledger/internal/core"
)

const modelsSeparator = ", "

// SummaryStore owns the daily_summary table.
type SummaryStore struct {
	db  *sql.DB
	now func() time.Time
}

func NewSummaryStore(db *sql.DB) *SummaryStore {
	return &SummaryStore{db: db, now: time.Now}
}

// Upsert replaces the row for sum.Date.
func (s *SummaryStore) Upsert(ctx context.Context, sum core.DailySummary) error {
	if _, err := time.Parse(core.DateLayout, sum.Date); err != nil {
		return fmt.Errorf("ledger: summary date %q: %w", sum.Date, err)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO daily_summary (date, total_cost, total_tokens, tasks_count, models_used, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(date) DO UPDATE SET
			total_cost = excluded.total_cost,
			total_tokens = excluded.total_tokens,
			tasks_count = excluded.tasks_count,
			models_used = excluded.models_used,
			updated_at = excluded.updated_at
	`,
		sum.Date,
		sum.TotalCost,
		sum.TotalTokens,
		sum.TasksCount,
		strings.Join(sum.Models, modelsSeparator),
		s.now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("ledger: upsert daily summary %s: %w", sum.Date, err)
	}
	return nil
}

// Get returns the summary for date. ok is false when no row exists.
func (s *SummaryStore) Get(ctx context.Context, date string) (core.DailySummary, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT date, total_cost, total_tokens, tasks_count, models_used
		FROM daily_summary WHERE date = ?
	`, date)
	sum, err := scanSummary(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.DailySummary{}, false, nil
	}
	if err != nil {
		return core.DailySummary{}, false, fmt.Errorf("ledger: get daily summary %s: %w", date, err)
	}
	return sum, true, nil
}

// Recent returns up to limit summaries, newest date first.
func (s *SummaryStore) Recent(ctx context.Context, limit int) ([]core.DailySummary, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT date, total_cost, total_tokens, tasks_count, models_used
		FROM daily_summary ORDER BY date DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("ledger: list daily summaries: %w", err)
	}
	defer rows.Close()

	var out []core.DailySummary
	for rows.Next() {
		sum, err := scanSummary(rows)
		if err != nil {
			return nil, fmt.Errorf("ledger: scan daily summary: %w", err)
		}
		out = append(out, sum)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSummary(r rowScanner) (core.DailySummary, error) {
	var (
		sum    core.DailySummary
		models string
	)
	if err := r.Scan(&sum.Date, &sum.TotalCost, &sum.TotalTokens, &sum.TasksCount, &models); err != nil {
		return core.DailySummary{}, err
	}
	sum.Models = lo.Compact(strings.Split(models, modelsSeparator))
	return sum, nil
}
