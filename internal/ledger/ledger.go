// Package ledger persists usage events and daily summaries in SQLite and
// admits each event at most once per dedup signature.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/janekbaraniewski/costledger/internal/core"
)

// ErrClosed is returned by operations on a closed Ledger.
var ErrClosed = errors.New("ledger: closed")

type Options struct {
	// StoreRawPayload keeps the source line in raw_data.
	StoreRawPayload bool
	Now             func() time.Time
}

// Ledger is the single writer for usage_events. Append and the dedup index
// share one mutex; reads go straight to the database.
type Ledger struct {
	db       *sql.DB
	now      func() time.Time
	storeRaw bool

	mu     sync.Mutex
	seen   index
	closed bool
}

// AppendResult reports what Append did with an event.
type AppendResult struct {
	EventID string
	Deduped bool
}

// Open opens the ledger database at path, migrating it if needed.
func Open(ctx context.Context, path string, opts Options) (*Ledger, error) {
	db, err := OpenDB(ctx, path)
	if err != nil {
		return nil, err
	}
	l, err := New(ctx, db, opts)
	if err != nil {
		db.Close()
		return nil, err
	}
	return l, nil
}

// New wraps an already migrated database and loads the dedup index.
func New(ctx context.Context, db *sql.DB, opts Options) (*Ledger, error) {
	l := &Ledger{
		db:       db,
		now:      opts.Now,
		storeRaw: opts.StoreRawPayload,
		seen:     index{},
	}
	if l.now == nil {
		l.now = time.Now
	}
	if err := l.loadIndex(ctx); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *Ledger) loadIndex(ctx context.Context) error {
	rows, err := l.db.QueryContext(ctx, `SELECT dedup_key FROM usage_events`)
	if err != nil {
		return fmt.Errorf("ledger: load dedup index: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return fmt.Errorf("ledger: scan dedup key: %w", err)
		}
		l.seen.add(Key(k))
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("ledger: load dedup index: %w", err)
	}
	return nil
}

// DB exposes the underlying handle for the summary store.
func (l *Ledger) DB() *sql.DB {
	return l.db
}

// Contains reports whether an event with key k has been admitted.
func (l *Ledger) Contains(k Key) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.seen.has(k)
}

// IndexSize is the number of dedup keys held in memory.
func (l *Ledger) IndexSize() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.seen)
}

// Append stores ev unless an event with the same dedup key already exists.
// A duplicate is not an error. The event is durable once Append returns
// without error and Deduped is false.
func (l *Ledger) Append(ctx context.Context, ev core.UsageEvent) (AppendResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return AppendResult{}, ErrClosed
	}

	key := KeyOf(ev)
	if l.seen.has(key) {
		return AppendResult{Deduped: true}, nil
	}

	eventID := ev.EventID
	if eventID == "" {
		eventID = uuid.NewString()
	}

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return AppendResult{}, fmt.Errorf("ledger: begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO usage_events (
			event_id, timestamp, session_id, model, provider,
			input_tokens, output_tokens, cache_read_tokens, cache_write_tokens,
			cost_usd, task_category, task_description, raw_data, dedup_key, ingested_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		eventID,
		formatTimestamp(ev.Timestamp),
		ev.SessionID,
		ev.Model,
		ev.Provider,
		ev.InputTokens,
		ev.OutputTokens,
		ev.CacheReadTokens,
		ev.CacheWriteTokens,
		ev.CostUSD,
		ev.TaskCategory,
		ev.TaskDescription,
		l.rawData(ev.RawPayload),
		string(key),
		l.now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		if isUniqueConstraintError(err, "usage_events.dedup_key") {
			// Row exists but the index missed it; repair the index.
			l.seen.add(key)
			return AppendResult{Deduped: true}, nil
		}
		return AppendResult{}, fmt.Errorf("ledger: insert event: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return AppendResult{}, fmt.Errorf("ledger: commit tx: %w", err)
	}
	l.seen.add(key)
	return AppendResult{EventID: eventID}, nil
}

func (l *Ledger) rawData(payload []byte) any {
	if !l.storeRaw || len(payload) == 0 {
		return nil
	}
	return string(payload)
}

const eventColumns = `event_id, timestamp, session_id, model, provider,
	input_tokens, output_tokens, cache_read_tokens, cache_write_tokens,
	cost_usd, task_category, task_description, raw_data`

// EventsBetween returns events with start <= timestamp < end in timestamp
// order. It runs as a single statement and so sees one consistent snapshot.
func (l *Ledger) EventsBetween(ctx context.Context, start, end time.Time) ([]core.UsageEvent, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT `+eventColumns+`
		FROM usage_events
		WHERE timestamp >= ? AND timestamp < ?
		ORDER BY timestamp, id
	`, formatTimestamp(start), formatTimestamp(end))
	if err != nil {
		return nil, fmt.Errorf("ledger: query events: %w", err)
	}
	defer rows.Close()

	var out []core.UsageEvent
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ledger: query events: %w", err)
	}
	return out, nil
}

func scanEvent(rows *sql.Rows) (core.UsageEvent, error) {
	var (
		ev  core.UsageEvent
		ts  string
		raw sql.NullString
	)
	if err := rows.Scan(
		&ev.EventID, &ts, &ev.SessionID, &ev.Model, &ev.Provider,
		&ev.InputTokens, &ev.OutputTokens, &ev.CacheReadTokens, &ev.CacheWriteTokens,
		&ev.CostUSD, &ev.TaskCategory, &ev.TaskDescription, &raw,
	); err != nil {
		return core.UsageEvent{}, fmt.Errorf("ledger: scan event: %w", err)
	}
	parsed, err := parseTimestamp(ts)
	if err != nil {
		return core.UsageEvent{}, fmt.Errorf("ledger: event %s timestamp %q: %w", ev.EventID, ts, err)
	}
	ev.Timestamp = parsed
	if raw.Valid {
		ev.RawPayload = []byte(raw.String)
	}
	return ev, nil
}

// Count returns the number of stored events.
func (l *Ledger) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := l.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM usage_events`).Scan(&n); err != nil {
		return 0, fmt.Errorf("ledger: count usage_events: %w", err)
	}
	return n, nil
}

// Close marks the ledger closed and closes the database once any in-flight
// Append has finished.
func (l *Ledger) Close() error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	return l.db.Close()
}

func isUniqueConstraintError(err error, target string) bool {
	if err == nil {
		return false
	}
	errText := err.Error()
	return strings.Contains(errText, "UNIQUE constraint failed") && strings.Contains(errText, target)
}
