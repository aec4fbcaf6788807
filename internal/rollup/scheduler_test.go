package rollup

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/janekbaraniewski/costledger/internal/core"
	"github.com/janekbaraniewski/costledger/internal/ledger"
)

type harness struct {
	ledger    *ledger.Ledger
	summaries *ledger.SummaryStore
	now       time.Time
	sched     *Scheduler
}

func newHarness(t *testing.T, loc *time.Location, now time.Time) *harness {
	t.Helper()
	l, err := ledger.Open(context.Background(), filepath.Join(t.TempDir(), "ledger.db"), ledger.Options{})
	if err != nil {
		t.Fatalf("open ledger: %v", err)
	}
	t.Cleanup(func() { l.Close() })

	h := &harness{ledger: l, summaries: ledger.NewSummaryStore(l.DB()), now: now}
	h.sched = New(l, h.summaries, Options{
		Location: loc,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		Now:      func() time.Time { return h.now },
	})
	return h
}

func (h *harness) add(t *testing.T, ts time.Time, model string, input, output int64, cost float64) {
	t.Helper()
	_, err := h.ledger.Append(context.Background(), core.UsageEvent{
		Timestamp:    ts,
		SessionID:    "s",
		Model:        model,
		Provider:     "p",
		InputTokens:  input,
		OutputTokens: output,
		CostUSD:      cost,
		TaskCategory: core.CategoryOther,
	})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
}

func (h *harness) summary(t *testing.T, date string) core.DailySummary {
	t.Helper()
	sum, ok, err := h.summaries.Get(context.Background(), date)
	if err != nil || !ok {
		t.Fatalf("Get(%s) ok=%v err=%v", date, ok, err)
	}
	return sum
}

func TestTick_EmptyLedgerWritesZeroSummary(t *testing.T) {
	h := newHarness(t, time.UTC, time.Date(2026, 3, 3, 12, 0, 0, 0, time.UTC))
	if err := h.sched.Tick(context.Background()); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	sum := h.summary(t, "2026-03-03")
	if sum.TotalCost != 0 || sum.TasksCount != 0 || len(sum.Models) != 0 {
		t.Fatalf("summary = %+v, want zero", sum)
	}
}

func TestTick_UpsertNotIncrement(t *testing.T) {
	h := newHarness(t, time.UTC, time.Date(2026, 3, 3, 12, 0, 0, 0, time.UTC))
	ctx := context.Background()

	h.add(t, time.Date(2026, 3, 3, 9, 0, 0, 0, time.UTC), "b", 100, 50, 0.5)
	h.add(t, time.Date(2026, 3, 3, 10, 0, 0, 0, time.UTC), "a", 10, 5, 0.25)
	h.add(t, time.Date(2026, 3, 2, 23, 59, 59, 0, time.UTC), "c", 1, 1, 9)

	for i := 0; i < 3; i++ {
		if err := h.sched.Tick(ctx); err != nil {
			t.Fatalf("Tick %d: %v", i, err)
		}
	}
	sum := h.summary(t, "2026-03-03")
	if sum.TotalCost != 0.75 || sum.TasksCount != 2 || sum.TotalTokens != 165 {
		t.Fatalf("summary = %+v, want cost 0.75, 2 tasks, 165 tokens", sum)
	}
	if len(sum.Models) != 2 || sum.Models[0] != "a" || sum.Models[1] != "b" {
		t.Fatalf("models = %v", sum.Models)
	}

	h.add(t, time.Date(2026, 3, 3, 11, 0, 0, 0, time.UTC), "a", 20, 0, 0.25)
	if err := h.sched.Tick(ctx); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if sum := h.summary(t, "2026-03-03"); sum.TotalCost != 1 || sum.TasksCount != 3 {
		t.Fatalf("summary after new event = %+v", sum)
	}

	if _, ok, _ := h.summaries.Get(ctx, "2026-03-02"); ok {
		t.Fatal("past day recomputed without a date change")
	}
}

func TestTick_ClosesOutPreviousDay(t *testing.T) {
	h := newHarness(t, time.UTC, time.Date(2026, 3, 2, 23, 50, 0, 0, time.UTC))
	ctx := context.Background()

	h.add(t, time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC), "a", 10, 0, 0.1)
	if err := h.sched.Tick(ctx); err != nil {
		t.Fatalf("Tick: %v", err)
	}

	// Late event for the 2nd lands after the last tick of that day.
	h.add(t, time.Date(2026, 3, 2, 23, 55, 0, 0, time.UTC), "a", 20, 0, 0.2)
	h.now = time.Date(2026, 3, 3, 0, 5, 0, 0, time.UTC)
	if err := h.sched.Tick(ctx); err != nil {
		t.Fatalf("Tick: %v", err)
	}

	if sum := h.summary(t, "2026-03-02"); sum.TasksCount != 2 {
		t.Fatalf("previous day = %+v, want 2 tasks after close-out", sum)
	}
	if sum := h.summary(t, "2026-03-03"); sum.TasksCount != 0 {
		t.Fatalf("today = %+v, want empty", sum)
	}
}

func TestRecompute_UsesConfiguredTimezone(t *testing.T) {
	loc := time.FixedZone("UTC+2", 2*3600)
	h := newHarness(t, loc, time.Date(2026, 3, 3, 12, 0, 0, 0, time.UTC))

	// 23:30 UTC on the 2nd is 01:30 on the 3rd in loc.
	h.add(t, time.Date(2026, 3, 2, 23, 30, 0, 0, time.UTC), "a", 10, 0, 0.1)
	h.add(t, time.Date(2026, 3, 2, 21, 30, 0, 0, time.UTC), "a", 20, 0, 0.2)

	sum, err := h.sched.Recompute(context.Background(), "2026-03-03")
	if err != nil {
		t.Fatalf("Recompute: %v", err)
	}
	if sum.TasksCount != 1 || sum.TotalCost != 0.1 {
		t.Fatalf("summary = %+v, want only the event local to the 3rd", sum)
	}
}

func TestRecompute_BadDate(t *testing.T) {
	h := newHarness(t, time.UTC, time.Now())
	if _, err := h.sched.Recompute(context.Background(), "yesterday"); err == nil {
		t.Fatal("expected error for malformed date")
	}
}

func TestRun_ComputesAtStartup(t *testing.T) {
	h := newHarness(t, time.UTC, time.Date(2026, 3, 3, 12, 0, 0, 0, time.UTC))
	h.add(t, time.Date(2026, 3, 3, 8, 0, 0, 0, time.UTC), "a", 10, 0, 0.1)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.sched.Run(ctx)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, ok, _ := h.summaries.Get(context.Background(), "2026-03-03"); ok {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("startup rollup not written")
		}
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	<-done
}
