package sweep

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	domain "github.com/devsweep/devsweep/internal/domain/sweep"
	"github.com/devsweep/devsweep/pkg/common/logger"
)

// Config carries the tunables for one engine instance. It is immutable for
// the lifetime of the engine; nothing here is ambient state.
type Config struct {
	// Kind selects which of the two run records this engine drives.
	Kind domain.RunKind

	// Concurrency bounds the remote fan-out inside a shard and doubles as
	// the shard size, the unit of pause-safety granularity.
	Concurrency int

	// CacheTTL is the scan-cache window. Zero or less disables the cache.
	CacheTTL time.Duration

	// SafetyBudget is the wall-clock budget for one invocation. It must sit
	// strictly below the host's hard execution ceiling with enough margin
	// for one in-flight shard plus a checkpoint write.
	SafetyBudget time.Duration

	// ContinuationDelay is how long after a pause the continuation trigger
	// re-invokes the entry point.
	ContinuationDelay time.Duration

	// CheckpointEveryShards is the checkpoint cadence. A crash loses at
	// most this many shards of progress.
	CheckpointEveryShards int

	// MaxAttempts and BaseRetryDelay parameterize the retrier used for
	// every remote call.
	MaxAttempts    int
	BaseRetryDelay time.Duration
}

// Normalize fills in defaults for unset fields.
func (c Config) Normalize() Config {
	if c.Concurrency < 1 {
		c.Concurrency = 1
	}
	if c.SafetyBudget <= 0 {
		c.SafetyBudget = 4 * time.Minute
	}
	if c.ContinuationDelay <= 0 {
		c.ContinuationDelay = time.Minute
	}
	if c.CheckpointEveryShards < 1 {
		c.CheckpointEveryShards = 1
	}
	if c.MaxAttempts < 1 {
		c.MaxAttempts = 3
	}
	if c.BaseRetryDelay <= 0 {
		c.BaseRetryDelay = time.Second
	}
	return c
}

// EntryPoint returns the continuation entry-point name for a run kind.
// The scheduler keys pending continuations by this name.
func EntryPoint(kind domain.RunKind) string {
	return "sweep:" + strings.ToLower(kind.String())
}

// Engine is the resumable batch-scan state machine for one run kind. Each
// invocation loads (or creates) the persistent run record, drives as many
// shards as the wall-clock budget allows, checkpoints along the way, and
// either pauses with a scheduled continuation or finalizes the run.
//
// A run moves through four states, stored implicitly as the presence and
// shape of the persisted record: Idle (no record), Running (record with
// cursor < total), Paused (record persisted, continuation pending, process
// gone), and Completed (record deleted, continuation canceled).
type Engine struct {
	cfg Config

	runRepo    domain.RunRepository
	enumerator domain.ItemEnumerator
	processor  Processor
	cache      *ScanCache
	scheduler  domain.ContinuationScheduler
	sink       domain.ResultSink

	timeProvider domain.TimeProvider

	logger  *logger.Logger
	tracer  trace.Tracer
	metrics SweepMetrics
}

// NewEngine constructs an Engine. The configuration is normalized once
// here; the engine never mutates it afterwards.
func NewEngine(
	cfg Config,
	runRepo domain.RunRepository,
	enumerator domain.ItemEnumerator,
	processor Processor,
	cache *ScanCache,
	scheduler domain.ContinuationScheduler,
	sink domain.ResultSink,
	tp domain.TimeProvider,
	logger *logger.Logger,
	tracer trace.Tracer,
	metrics SweepMetrics,
) *Engine {
	cfg = cfg.Normalize()
	return &Engine{
		cfg:          cfg,
		runRepo:      runRepo,
		enumerator:   enumerator,
		processor:    processor,
		cache:        cache,
		scheduler:    scheduler,
		sink:         sink,
		timeProvider: tp,
		logger:       logger.With("component", "engine", "run_kind", cfg.Kind.String()),
		tracer:       tracer,
		metrics:      metrics,
	}
}

// Run is the entry point the continuation trigger re-invokes. It processes
// shards until the run completes or the safety budget is exhausted.
//
// Per-item failures are folded into counters and never abort the loop.
// Persistence failures propagate and abort the invocation; the last
// persisted checkpoint is the recovery point for the next one. An empty
// enumerated list fails with an input error and persists nothing.
func (e *Engine) Run(ctx context.Context) error {
	invocationStart := e.timeProvider.Now()

	ctx, span := e.tracer.Start(ctx, "engine.run",
		trace.WithAttributes(attribute.String("run_kind", e.cfg.Kind.String())))
	defer span.End()

	run, err := e.loadOrCreateRun(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to load or create run")
		return err
	}
	e.logger.Info(ctx, "Run invocation started",
		"cursor", run.Cursor(), "total", run.TotalItems())

	shardsSinceCheckpoint := 0
	for !run.IsComplete() {
		// The budget only gates whether the next shard begins; an
		// in-flight shard always runs to completion, so the worst-case
		// overrun is one shard's duration.
		if e.timeProvider.Now().Sub(invocationStart) >= e.cfg.SafetyBudget {
			return e.pause(ctx, run)
		}

		shard := run.NextShard(e.cfg.Concurrency)

		toProcess, skipped := e.cache.Filter(ctx, shard)
		run.RecordCacheSkips(skipped)
		e.metrics.AddCacheSkips(ctx, e.cfg.Kind, skipped)

		shardStart := e.timeProvider.Now()
		outcomes := e.processor.ProcessShard(ctx, e.cfg.Kind, toProcess, e.cfg.Concurrency)
		e.metrics.ObserveShardDuration(ctx, e.cfg.Kind, e.timeProvider.Now().Sub(shardStart))

		e.recordOutcomes(ctx, outcomes)

		if err := run.ApplyOutcomes(outcomes); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to fold shard outcomes")
			return fmt.Errorf("failed to fold shard outcomes: %w", err)
		}
		if err := run.Advance(len(shard)); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to advance cursor")
			return fmt.Errorf("failed to advance cursor: %w", err)
		}
		e.metrics.IncShardsProcessed(ctx, e.cfg.Kind)

		shardsSinceCheckpoint++
		if shardsSinceCheckpoint >= e.cfg.CheckpointEveryShards && !run.IsComplete() {
			if err := e.checkpoint(ctx, run); err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, "failed to checkpoint run")
				return err
			}
			shardsSinceCheckpoint = 0
		}
	}

	return e.finalize(ctx, run)
}

// Status returns a progress snapshot of the persisted run, or nil when the
// engine is idle.
func (e *Engine) Status(ctx context.Context) (*domain.Status, error) {
	ctx, span := e.tracer.Start(ctx, "engine.status",
		trace.WithAttributes(attribute.String("run_kind", e.cfg.Kind.String())))
	defer span.End()

	run, err := e.runRepo.Load(ctx, e.cfg.Kind)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to load run: %w", err)
	}
	if run == nil {
		return nil, nil
	}
	status := run.Snapshot()
	return &status, nil
}

// Reset unconditionally deletes the run record and cancels any pending
// continuation, returning the engine to Idle regardless of current state.
// A full reset also clears the scan cache. This is an explicit escape
// hatch; nothing triggers it automatically.
func (e *Engine) Reset(ctx context.Context, full bool) error {
	ctx, span := e.tracer.Start(ctx, "engine.reset",
		trace.WithAttributes(
			attribute.String("run_kind", e.cfg.Kind.String()),
			attribute.Bool("full", full),
		))
	defer span.End()

	if err := e.runRepo.Delete(ctx, e.cfg.Kind); err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to delete run: %w", err)
	}
	if err := e.scheduler.CancelAll(ctx); err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to cancel continuations: %w", err)
	}
	if full {
		if err := e.cache.Clear(ctx); err != nil {
			span.RecordError(err)
			return fmt.Errorf("failed to clear scan cache: %w", err)
		}
	}
	e.logger.Info(ctx, "Run reset", "full", full)
	return nil
}

// loadOrCreateRun resumes the persisted run when one exists; otherwise it
// enumerates the item list and persists a fresh record. Resume never
// re-enumerates: the original list is authoritative even if the source has
// since changed.
func (e *Engine) loadOrCreateRun(ctx context.Context) (*domain.Run, error) {
	run, err := e.runRepo.Load(ctx, e.cfg.Kind)
	if err != nil {
		return nil, fmt.Errorf("failed to load run: %w", err)
	}
	if run != nil {
		e.logger.Info(ctx, "Resuming persisted run", "cursor", run.Cursor(), "total", run.TotalItems())
		return run, nil
	}

	items, err := e.enumerator.EnumerateItems(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate items: %w", err)
	}
	run, err = domain.NewRun(e.cfg.Kind, items)
	if err != nil {
		// Input errors abort before anything is persisted.
		return nil, err
	}
	if err := e.runRepo.Save(ctx, run); err != nil {
		return nil, fmt.Errorf("failed to persist new run: %w", err)
	}
	e.logger.Info(ctx, "Created new run", "total", run.TotalItems())
	return run, nil
}

// recordOutcomes appends each outcome to the result sink and marks
// successful items in the scan cache. Sink failures are logged and
// swallowed: the sink is append-only telemetry, not run state.
func (e *Engine) recordOutcomes(ctx context.Context, outcomes []domain.Outcome) {
	for _, o := range outcomes {
		if err := e.sink.Record(ctx, e.cfg.Kind, o); err != nil {
			e.logger.Warn(ctx, "failed to record outcome",
				"item", string(o.Item), "tag", string(o.Tag), "error", err)
		}
		if !o.Tag.IsError() {
			e.cache.MarkProcessed(ctx, o.Item)
		}
	}
}

// checkpoint persists the working copy of the run so a crash loses at most
// the shards processed since the previous write.
func (e *Engine) checkpoint(ctx context.Context, run *domain.Run) error {
	start := e.timeProvider.Now()
	if err := e.runRepo.Save(ctx, run); err != nil {
		return fmt.Errorf("failed to checkpoint run: %w", err)
	}
	e.metrics.ObserveCheckpointDuration(ctx, e.cfg.Kind, e.timeProvider.Now().Sub(start))
	return nil
}

// pause persists the run and schedules a continuation so the next
// invocation picks up at the cursor. The record is never destroyed on a
// budget pause.
func (e *Engine) pause(ctx context.Context, run *domain.Run) error {
	if err := e.checkpoint(ctx, run); err != nil {
		return err
	}
	if err := e.scheduler.ScheduleAfter(ctx, EntryPoint(e.cfg.Kind), e.cfg.ContinuationDelay); err != nil {
		return fmt.Errorf("failed to schedule continuation: %w", err)
	}
	e.metrics.IncPauses(ctx, e.cfg.Kind)
	e.logger.Info(ctx, "Run paused on safety budget",
		"cursor", run.Cursor(), "total", run.TotalItems(),
		"continuation_delay", e.cfg.ContinuationDelay.String())
	return nil
}

// finalize destroys the run record, cancels any pending continuation, and
// emits the completion summary. There is no partial terminal state: after
// this the engine is definitively Idle.
func (e *Engine) finalize(ctx context.Context, run *domain.Run) error {
	summary := run.Snapshot()

	if err := e.runRepo.Delete(ctx, e.cfg.Kind); err != nil {
		return fmt.Errorf("failed to delete completed run: %w", err)
	}
	if err := e.scheduler.CancelAll(ctx); err != nil {
		return fmt.Errorf("failed to cancel continuations: %w", err)
	}
	e.metrics.IncCompletions(ctx, e.cfg.Kind)
	e.logger.Info(ctx, "Run completed",
		"total", summary.Total,
		"items_processed", summary.ItemsProcessed,
		"devices_affected", summary.DevicesAffected,
		"errors", summary.Errors,
		"not_found", summary.NotFound,
		"active_skips", summary.ActiveSkips,
		"cache_skips", summary.CacheSkips,
		"started_at", summary.StartedAt.UTC().Format(time.RFC3339),
	)
	return nil
}
