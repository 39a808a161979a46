package sweep

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	domain "github.com/devsweep/devsweep/internal/domain/sweep"
)

// SweepMetrics defines the metrics operations recorded by the engine and
// the shard processor.
type SweepMetrics interface {
	// Shard metrics
	IncShardsProcessed(ctx context.Context, kind domain.RunKind)
	ObserveShardDuration(ctx context.Context, kind domain.RunKind, d time.Duration)

	// Outcome metrics
	IncOutcome(ctx context.Context, kind domain.RunKind, tag domain.OutcomeTag)
	AddCacheSkips(ctx context.Context, kind domain.RunKind, n int)

	// Lifecycle metrics
	IncPauses(ctx context.Context, kind domain.RunKind)
	IncCompletions(ctx context.Context, kind domain.RunKind)
	ObserveCheckpointDuration(ctx context.Context, kind domain.RunKind, d time.Duration)
}

// sweepMetrics implements SweepMetrics on otel instruments.
type sweepMetrics struct {
	shardsProcessed    metric.Int64Counter
	shardDuration      metric.Float64Histogram
	outcomes           metric.Int64Counter
	cacheSkips         metric.Int64Counter
	pauses             metric.Int64Counter
	completions        metric.Int64Counter
	checkpointDuration metric.Float64Histogram
}

const namespace = "sweep"

// NewSweepMetrics creates a new sweep metrics instance.
func NewSweepMetrics(mp metric.MeterProvider) (*sweepMetrics, error) {
	meter := mp.Meter(namespace, metric.WithInstrumentationVersion("v0.1.0"))

	m := new(sweepMetrics)
	var err error

	if m.shardsProcessed, err = meter.Int64Counter(
		"shards_processed_total",
		metric.WithDescription("Total number of shards processed"),
	); err != nil {
		return nil, err
	}

	if m.shardDuration, err = meter.Float64Histogram(
		"shard_duration_seconds",
		metric.WithDescription("Time taken to process one shard"),
	); err != nil {
		return nil, err
	}

	if m.outcomes, err = meter.Int64Counter(
		"item_outcomes_total",
		metric.WithDescription("Item outcomes by tag"),
	); err != nil {
		return nil, err
	}

	if m.cacheSkips, err = meter.Int64Counter(
		"cache_skips_total",
		metric.WithDescription("Items skipped by the scan cache"),
	); err != nil {
		return nil, err
	}

	if m.pauses, err = meter.Int64Counter(
		"pauses_total",
		metric.WithDescription("Invocations paused on the execution budget"),
	); err != nil {
		return nil, err
	}

	if m.completions, err = meter.Int64Counter(
		"completions_total",
		metric.WithDescription("Runs driven to completion"),
	); err != nil {
		return nil, err
	}

	if m.checkpointDuration, err = meter.Float64Histogram(
		"checkpoint_duration_seconds",
		metric.WithDescription("Time taken to persist a checkpoint"),
	); err != nil {
		return nil, err
	}

	return m, nil
}

func kindAttr(kind domain.RunKind) metric.MeasurementOption {
	return metric.WithAttributes(attribute.String("run_kind", kind.String()))
}

func (m *sweepMetrics) IncShardsProcessed(ctx context.Context, kind domain.RunKind) {
	m.shardsProcessed.Add(ctx, 1, kindAttr(kind))
}

func (m *sweepMetrics) ObserveShardDuration(ctx context.Context, kind domain.RunKind, d time.Duration) {
	m.shardDuration.Record(ctx, d.Seconds(), kindAttr(kind))
}

func (m *sweepMetrics) IncOutcome(ctx context.Context, kind domain.RunKind, tag domain.OutcomeTag) {
	m.outcomes.Add(ctx, 1, metric.WithAttributes(
		attribute.String("run_kind", kind.String()),
		attribute.String("tag", string(tag)),
	))
}

func (m *sweepMetrics) AddCacheSkips(ctx context.Context, kind domain.RunKind, n int) {
	if n <= 0 {
		return
	}
	m.cacheSkips.Add(ctx, int64(n), kindAttr(kind))
}

func (m *sweepMetrics) IncPauses(ctx context.Context, kind domain.RunKind) {
	m.pauses.Add(ctx, 1, kindAttr(kind))
}

func (m *sweepMetrics) IncCompletions(ctx context.Context, kind domain.RunKind) {
	m.completions.Add(ctx, 1, kindAttr(kind))
}

func (m *sweepMetrics) ObserveCheckpointDuration(ctx context.Context, kind domain.RunKind, d time.Duration) {
	m.checkpointDuration.Record(ctx, d.Seconds(), kindAttr(kind))
}

// NoopSweepMetrics is a SweepMetrics implementation that records nothing.
// Used in tests and when telemetry is disabled.
type NoopSweepMetrics struct{}

func (NoopSweepMetrics) IncShardsProcessed(context.Context, domain.RunKind)                   {}
func (NoopSweepMetrics) ObserveShardDuration(context.Context, domain.RunKind, time.Duration)  {}
func (NoopSweepMetrics) IncOutcome(context.Context, domain.RunKind, domain.OutcomeTag)        {}
func (NoopSweepMetrics) AddCacheSkips(context.Context, domain.RunKind, int)                   {}
func (NoopSweepMetrics) IncPauses(context.Context, domain.RunKind)                            {}
func (NoopSweepMetrics) IncCompletions(context.Context, domain.RunKind)                       {}
func (NoopSweepMetrics) ObserveCheckpointDuration(context.Context, domain.RunKind, time.Duration) {
}
