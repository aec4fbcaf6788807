package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

type Stats struct {
	Events        int64
	Sessions      int64
	Models        int64
	TotalCostUSD  float64
	Summaries     int64
	FirstEventAt  time.Time
	LastEventAt   time.Time
	DedupIndexLen int
}

func (l *Ledger) Stats(ctx context.Context) (Stats, error) {
	if l == nil || l.db == nil {
		return Stats{}, fmt.Errorf("ledger: not initialized")
	}
	stats := Stats{DedupIndexLen: l.IndexSize()}

	var first, last sql.NullString
	if err := l.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COUNT(DISTINCT session_id), COUNT(DISTINCT model),
			COALESCE(SUM(cost_usd), 0), MIN(timestamp), MAX(timestamp)
		FROM usage_events
	`).Scan(&stats.Events, &stats.Sessions, &stats.Models, &stats.TotalCostUSD, &first, &last); err != nil {
		return Stats{}, fmt.Errorf("ledger: aggregate usage_events: %w", err)
	}
	if err := l.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM daily_summary`).Scan(&stats.Summaries); err != nil {
		return Stats{}, fmt.Errorf("ledger: count daily_summary: %w", err)
	}

	if first.Valid {
		if t, err := parseTimestamp(first.String); err == nil {
			stats.FirstEventAt = t
		}
	}
	if last.Valid {
		if t, err := parseTimestamp(last.String); err == nil {
			stats.LastEventAt = t
		}
	}
	return stats, nil
}
