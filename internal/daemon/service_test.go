package daemon

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/janekbaraniewski/costledger/internal/config"
	"github.com/janekbaraniewski/costledger/internal/tariff"
)

const testRates = `{
  "providers": {
    "anthropic": {"models": {"claude-sonnet": {"input": 0.003, "output": 0.015}}}
  },
  "taskCategories": {
    "routine": ["heartbeat", "email"],
    "development": ["code"]
  }
}`

func testConfig(t *testing.T) config.Config {
	t.Helper()
	dir := t.TempDir()
	sessions := filepath.Join(dir, "sessions")
	if err := os.MkdirAll(sessions, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	rates := filepath.Join(dir, "cost-rates.json")
	if err := os.WriteFile(rates, []byte(testRates), 0o644); err != nil {
		t.Fatalf("write rates: %v", err)
	}
	return config.Config{
		SessionsDir:     sessions,
		Extension:       ".jsonl",
		TariffPath:      rates,
		DBPath:          filepath.Join(dir, "state", "ledger.db"),
		SettleDelay:     10 * time.Millisecond,
		PollInterval:    20 * time.Millisecond,
		ForcePolling:    true,
		RollupInterval:  time.Hour,
		Timezone:        "UTC",
		StoreRawPayload: true,
	}
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writeSession(t *testing.T, cfg config.Config, name, data string) string {
	t.Helper()
	path := filepath.Join(cfg.SessionsDir, name)
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatalf("write session: %v", err)
	}
	return path
}

func todayLine(model string, input int) string {
	ts := time.Now().UTC().Format(time.RFC3339)
	return `{"timestamp":"` + ts + `","message":{"role":"assistant","model":"` + model + `","usage":{"input_tokens":` +
		strconv.Itoa(input) + `,"output_tokens":500},"content":"write code"}}` + "\n"
}

func TestOpen_MissingTariffIsFatal(t *testing.T) {
	cfg := testConfig(t)
	cfg.TariffPath = filepath.Join(t.TempDir(), "missing.json")

	_, err := Open(context.Background(), cfg, quietLogger())
	if !errors.Is(err, tariff.ErrConfig) {
		t.Fatalf("err = %v, want tariff.ErrConfig", err)
	}
}

func TestService_IngestRollupStatus(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	writeSession(t, cfg, "s1.jsonl", todayLine("claude-sonnet", 1000)+"garbage\n"+todayLine("mystery-model", 10))

	svc, err := Open(ctx, cfg, quietLogger())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer svc.Close()

	res, err := svc.Ingest(ctx, nil)
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if res.Ingested != 2 || res.Unpriced != 1 || res.Malformed != 1 {
		t.Fatalf("ingest result = %+v", res)
	}

	again, err := svc.Ingest(ctx, []string{filepath.Join(cfg.SessionsDir, "s1.jsonl")})
	if err != nil {
		t.Fatalf("second Ingest: %v", err)
	}
	if again.Ingested != 0 {
		t.Fatalf("second ingest admitted %d events", again.Ingested)
	}

	sum, err := svc.Rollup(ctx, "")
	if err != nil {
		t.Fatalf("Rollup: %v", err)
	}
	if sum.TasksCount != 2 || sum.TotalCost != 0.0205 {
		t.Fatalf("summary = %+v, want 2 tasks costing 0.0205", sum)
	}

	st, err := svc.Status(ctx, 7)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if st.Stats.Events != 2 || len(st.Recent) != 1 {
		t.Fatalf("status = %+v", st)
	}
	if st.Counters["costledger.events.ingested"] != 2 || st.Counters["costledger.files.processed"] != 2 {
		t.Fatalf("counters = %v, want 2 ingested over 2 file passes", st.Counters)
	}
	if st.Counters["costledger.events.unpriced"] != 1 || st.Counters["costledger.rollups.written"] != 1 {
		t.Fatalf("counters = %v, want 1 unpriced and 1 rollup", st.Counters)
	}
}

func TestService_IngestMissingPath(t *testing.T) {
	ctx := context.Background()
	svc, err := Open(ctx, testConfig(t), quietLogger())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer svc.Close()

	if _, err := svc.Ingest(ctx, []string{"/definitely/not/here.jsonl"}); err == nil {
		t.Fatal("expected error for missing path")
	}
}

func TestService_RunWatchesAndStopsCleanly(t *testing.T) {
	cfg := testConfig(t)
	writeSession(t, cfg, "existing.jsonl", todayLine("claude-sonnet", 100))

	svc, err := Open(context.Background(), cfg, quietLogger())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer svc.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()

	waitForEvents := func(want int64) {
		t.Helper()
		deadline := time.Now().Add(5 * time.Second)
		for time.Now().Before(deadline) {
			if n, err := svc.ledger.Count(context.Background()); err == nil && n >= want {
				return
			}
			time.Sleep(20 * time.Millisecond)
		}
		t.Fatalf("ledger never reached %d events", want)
	}

	waitForEvents(1)
	writeSession(t, cfg, "new.jsonl", todayLine("claude-sonnet", 200))
	waitForEvents(2)

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned %v, want nil", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop")
	}

	_, ok, err := svc.summaries.Get(context.Background(), time.Now().UTC().Format("2006-01-02"))
	if err != nil || !ok {
		t.Fatalf("startup rollup missing: ok=%v err=%v", ok, err)
	}
}
