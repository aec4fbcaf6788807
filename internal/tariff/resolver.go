package tariff

import (
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/janekbaraniewski/costledger/internal/core"
)

// FallbackCostUSD is charged for a model missing from the tariff table.
const FallbackCostUSD = 0.01

const unknownModelWarnInterval = time.Minute

type Usage struct {
	InputTokens      int64
	OutputTokens     int64
	CacheReadTokens  int64
	CacheWriteTokens int64
}

type Resolution struct {
	CostUSD  float64
	Provider string
	// Known is false when the flat fallback estimate was applied.
	Known bool
}

// Resolver prices usage against a Table. Resolve never fails: stale tariffs
// degrade to FallbackCostUSD with a warning.
type Resolver struct {
	table  *Table
	logger *slog.Logger

	warnMu sync.Mutex
	warned map[string]*rate.Sometimes
}

func NewResolver(table *Table, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		table:  table,
		logger: logger.With("component", "tariff"),
		warned: make(map[string]*rate.Sometimes),
	}
}

func (r *Resolver) Resolve(model string, usage Usage) Resolution {
	provider, rates, ok := r.table.Lookup(model)
	if !ok {
		r.warnUnknown(model)
		return Resolution{
			CostUSD:  FallbackCostUSD,
			Provider: ProviderFromModel(model),
			Known:    false,
		}
	}
	return Resolution{
		CostUSD:  Cost(rates, usage),
		Provider: provider,
		Known:    true,
	}
}

// Cost is Σ tokens/1000 × rate over the four token kinds, rounded to 6 places.
func Cost(rates Rates, usage Usage) float64 {
	cost := float64(usage.InputTokens)/1000*rates.Input +
		float64(usage.OutputTokens)/1000*rates.Output +
		float64(usage.CacheReadTokens)/1000*rates.CacheRead +
		float64(usage.CacheWriteTokens)/1000*rates.CacheWrite
	return core.RoundUSD(cost)
}

// ProviderFromModel returns the namespace prefix of a model id ("openai" for
// "openai/gpt-4o"), or core.ProviderUnknown when there is none.
func ProviderFromModel(model string) string {
	model = strings.TrimSpace(model)
	prefix, _, found := strings.Cut(model, "/")
	prefix = strings.TrimSpace(prefix)
	if !found || prefix == "" {
		return core.ProviderUnknown
	}
	return prefix
}

func (r *Resolver) warnUnknown(model string) {
	r.warnMu.Lock()
	s, ok := r.warned[model]
	if !ok {
		s = &rate.Sometimes{First: 1, Interval: unknownModelWarnInterval}
		r.warned[model] = s
	}
	r.warnMu.Unlock()

	s.Do(func() {
		r.logger.Warn("unknown_model",
			"model", model,
			"fallback_cost_usd", FallbackCostUSD,
			"provider", ProviderFromModel(model),
		)
	})
}
