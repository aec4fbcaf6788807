// Package metrics holds the OpenTelemetry instruments for ingestion and rollup.
package metrics

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "costledger"

// Metrics holds all costledger metric instruments.
type Metrics struct {
	EventsIngested metric.Int64Counter
	EventsDeduped  metric.Int64Counter
	EventsFailed   metric.Int64Counter
	EventsUnpriced metric.Int64Counter
	FilesProcessed metric.Int64Counter
	RollupsWritten metric.Int64Counter
	EventCost      metric.Float64Histogram
}

// New creates all instruments on meter, or on the global meter provider when
// meter is nil.
func New(meter metric.Meter) (*Metrics, error) {
	if meter == nil {
		meter = otel.Meter(meterName)
	}
	m := &Metrics{}
	var err error

	m.EventsIngested, err = meter.Int64Counter("costledger.events.ingested",
		metric.WithDescription("Usage events admitted to the ledger"))
	if err != nil {
		return nil, err
	}

	m.EventsDeduped, err = meter.Int64Counter("costledger.events.deduped",
		metric.WithDescription("Usage events discarded as duplicates"))
	if err != nil {
		return nil, err
	}

	m.EventsFailed, err = meter.Int64Counter("costledger.events.failed",
		metric.WithDescription("Usage events dropped on persistence errors"))
	if err != nil {
		return nil, err
	}

	m.EventsUnpriced, err = meter.Int64Counter("costledger.events.unpriced",
		metric.WithDescription("Usage events priced at the flat fallback rate"))
	if err != nil {
		return nil, err
	}

	m.FilesProcessed, err = meter.Int64Counter("costledger.files.processed",
		metric.WithDescription("Session file read passes"))
	if err != nil {
		return nil, err
	}

	m.RollupsWritten, err = meter.Int64Counter("costledger.rollups.written",
		metric.WithDescription("Daily summaries recomputed"))
	if err != nil {
		return nil, err
	}

	m.EventCost, err = meter.Float64Histogram("costledger.event.cost_usd",
		metric.WithDescription("Cost of admitted usage events in USD"),
		metric.WithUnit("USD"))
	if err != nil {
		return nil, err
	}

	return m, nil
}

// Ingested records an admitted event priced for provider.
func (m *Metrics) Ingested(ctx context.Context, provider string, costUSD float64) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("provider", provider))
	m.EventsIngested.Add(ctx, 1, attrs)
	m.EventCost.Record(ctx, costUSD, attrs)
}

func (m *Metrics) Deduped(ctx context.Context) {
	if m == nil {
		return
	}
	m.EventsDeduped.Add(ctx, 1)
}

func (m *Metrics) Failed(ctx context.Context) {
	if m == nil {
		return
	}
	m.EventsFailed.Add(ctx, 1)
}

func (m *Metrics) Unpriced(ctx context.Context, model string) {
	if m == nil {
		return
	}
	m.EventsUnpriced.Add(ctx, 1, metric.WithAttributes(attribute.String("model", model)))
}

func (m *Metrics) FileProcessed(ctx context.Context) {
	if m == nil {
		return
	}
	m.FilesProcessed.Add(ctx, 1)
}

func (m *Metrics) RollupWritten(ctx context.Context) {
	if m == nil {
		return
	}
	m.RollupsWritten.Add(ctx, 1)
}
