package sweep

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/devsweep/devsweep/internal/domain/directory"
	domain "github.com/devsweep/devsweep/internal/domain/sweep"
	"github.com/devsweep/devsweep/pkg/common/logger"
)

// Processor executes one shard of work items against the directory service
// and reports a per-item outcome for every item it was given.
type Processor interface {
	ProcessShard(ctx context.Context, kind domain.RunKind, items []domain.WorkItem, concurrency int) []domain.Outcome
}

var _ Processor = (*shardProcessor)(nil)

// shardProcessor drives a bounded-size group of work items through the
// directory service. With concurrency of one, items run strictly in order
// through the full lookup/enumerate/act sequence. With higher concurrency,
// device enumeration fans out across items first and the processor waits
// for every enumeration to return before any action phase starts; action
// phases then run concurrently across items under the same bound, with
// sequential remote round-trips inside each item. Failures are isolated at
// the item and device boundary: one failure never cancels siblings.
type shardProcessor struct {
	client  directory.Client
	retrier *Retrier

	logger  *logger.Logger
	tracer  trace.Tracer
	metrics SweepMetrics
}

// NewShardProcessor creates a Processor over the given directory client.
// Remote calls go through the retrier one at a time.
func NewShardProcessor(
	client directory.Client,
	retrier *Retrier,
	logger *logger.Logger,
	tracer trace.Tracer,
	metrics SweepMetrics,
) *shardProcessor {
	return &shardProcessor{
		client:  client,
		retrier: retrier,
		logger:  logger.With("component", "shard_processor"),
		tracer:  tracer,
		metrics: metrics,
	}
}

// enumeration is the phase-one result for a single item. A non-nil outcome
// is terminal and skips the action phase.
type enumeration struct {
	devices []directory.Device
	outcome *domain.Outcome
}

// ProcessShard processes the items and returns exactly one outcome per
// item. The returned slice preserves item order, but callers must not rely
// on completion order: concurrent operations finish in any order and the
// fold into run counters is commutative.
func (p *shardProcessor) ProcessShard(
	ctx context.Context,
	kind domain.RunKind,
	items []domain.WorkItem,
	concurrency int,
) []domain.Outcome {
	ctx, span := p.tracer.Start(ctx, "shard_processor.process_shard",
		trace.WithAttributes(
			attribute.String("run_kind", kind.String()),
			attribute.Int("shard_size", len(items)),
			attribute.Int("concurrency", concurrency),
		),
	)
	defer span.End()

	if len(items) == 0 {
		return nil
	}

	if concurrency <= 1 {
		return p.processSequential(ctx, kind, items)
	}

	outcomes := make([]domain.Outcome, len(items))

	// Phase one: fan out device enumeration across items, full barrier
	// before any action starts.
	enums := make([]enumeration, len(items))
	var g errgroup.Group
	g.SetLimit(concurrency)
	for i, item := range items {
		g.Go(func() error {
			enums[i] = p.enumerate(ctx, item)
			return nil
		})
	}
	// Workers never return errors; per-item failures land in enums.
	_ = g.Wait()

	// Phase two: act on the enumerated devices, re-validating account
	// state since enumeration may have raced a reactivation.
	var ag errgroup.Group
	ag.SetLimit(concurrency)
	for i, item := range items {
		if enums[i].outcome != nil {
			outcomes[i] = *enums[i].outcome
			continue
		}
		ag.Go(func() error {
			outcomes[i] = p.act(ctx, kind, item, enums[i].devices, true)
			return nil
		})
	}
	_ = ag.Wait()

	for _, o := range outcomes {
		p.metrics.IncOutcome(ctx, kind, o.Tag)
	}
	return outcomes
}

// processSequential runs each item through the full pipeline in enumerated
// order, one remote round-trip sequence at a time.
func (p *shardProcessor) processSequential(ctx context.Context, kind domain.RunKind, items []domain.WorkItem) []domain.Outcome {
	outcomes := make([]domain.Outcome, len(items))
	for i, item := range items {
		enum := p.enumerate(ctx, item)
		if enum.outcome != nil {
			outcomes[i] = *enum.outcome
		} else {
			// The eligibility lookup just happened; no re-validation.
			outcomes[i] = p.act(ctx, kind, item, enum.devices, false)
		}
		p.metrics.IncOutcome(ctx, kind, outcomes[i].Tag)
	}
	return outcomes
}

// enumerate looks up the account's eligibility and drains every device
// page. Any failure, panic, or terminal condition is converted into an
// outcome; enumerate itself never fails.
func (p *shardProcessor) enumerate(ctx context.Context, item domain.WorkItem) (result enumeration) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error(ctx, "panic while enumerating item", "item", string(item), "panic", r)
			o := domain.ErrorOutcome(item, false, 0, fmt.Errorf("panic: %v", r))
			result = enumeration{outcome: &o}
		}
	}()

	var state directory.AccountState
	err := p.retrier.Execute(ctx, func() error {
		var opErr error
		state, opErr = p.client.GetAccountState(ctx, string(item))
		return opErr
	})
	if err != nil {
		return enumeration{outcome: p.classify(ctx, item, err, 0)}
	}
	if !state.Suspended {
		// Safety gate: devices of an active account are never enumerated
		// for action, let alone acted on.
		o := domain.ActiveSkipOutcome(item)
		return enumeration{outcome: &o}
	}

	var devices []directory.Device
	pageToken := ""
	for {
		var page directory.DevicePage
		err := p.retrier.Execute(ctx, func() error {
			var opErr error
			page, opErr = p.client.ListDevices(ctx, string(item), pageToken)
			return opErr
		})
		if err != nil {
			return enumeration{outcome: p.classify(ctx, item, err, 0)}
		}
		devices = append(devices, page.Devices...)
		if page.NextPageToken == "" {
			break
		}
		pageToken = page.NextPageToken
	}

	if len(devices) == 0 {
		o := domain.NoDevicesOutcome(item)
		return enumeration{outcome: &o}
	}
	return enumeration{devices: devices}
}

// act performs the per-item action phase: optional account re-validation,
// then the destructive or preview pass over the enumerated devices.
func (p *shardProcessor) act(
	ctx context.Context,
	kind domain.RunKind,
	item domain.WorkItem,
	devices []directory.Device,
	revalidate bool,
) (outcome domain.Outcome) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error(ctx, "panic while acting on item", "item", string(item), "panic", r)
			outcome = domain.ErrorOutcome(item, false, 0, fmt.Errorf("panic: %v", r))
		}
	}()

	if revalidate {
		var state directory.AccountState
		err := p.retrier.Execute(ctx, func() error {
			var opErr error
			state, opErr = p.client.GetAccountState(ctx, string(item))
			return opErr
		})
		if err != nil {
			return *p.classify(ctx, item, err, 0)
		}
		if !state.Suspended {
			return domain.ActiveSkipOutcome(item)
		}
	}

	if !kind.Destructive() {
		return domain.FoundOutcome(item, len(devices))
	}

	var removed, failed int
	var lastErr error
	for _, device := range devices {
		err := p.retrier.Execute(ctx, func() error {
			return p.client.RemoveDevice(ctx, device.ID)
		})
		switch {
		case err == nil:
			removed++
		case directory.IsNotFound(err):
			// Already revoked out of band; the goal state holds.
			removed++
		default:
			// A failed device never cancels its siblings.
			failed++
			lastErr = err
			p.logger.Warn(ctx, "device removal failed",
				"item", string(item), "device_id", device.ID, "error", err)
		}
	}

	if failed > 0 {
		err := fmt.Errorf("%d of %d device removals failed: %w", failed, len(devices), lastErr)
		return domain.ErrorOutcome(item, directory.IsRetryable(lastErr), removed, err)
	}
	return domain.RemovedOutcome(item, removed)
}

// classify converts a remote failure into the matching outcome. A missing
// account is terminal but not an error; everything else is tagged by
// whether its signature was retryable.
func (p *shardProcessor) classify(ctx context.Context, item domain.WorkItem, err error, devices int) *domain.Outcome {
	var o domain.Outcome
	if directory.IsNotFound(err) {
		o = domain.NotFoundOutcome(item)
	} else {
		p.logger.Warn(ctx, "item processing failed", "item", string(item), "error", err)
		o = domain.ErrorOutcome(item, directory.IsRetryable(err), devices, err)
	}
	return &o
}
