package sweep

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	domain "github.com/devsweep/devsweep/internal/domain/sweep"
	"github.com/devsweep/devsweep/pkg/common/logger"
)

// ScanCache decides whether a work item may be skipped because it completed
// within the configured TTL window. The cache is advisory and best-effort:
// a read failure falls back to processing the item, which is always safe.
// Entries outlive individual runs and are cleared only by a full reset.
type ScanCache struct {
	repo         domain.ScanCacheRepository
	ttl          time.Duration
	timeProvider domain.TimeProvider

	logger *logger.Logger
	tracer trace.Tracer
}

// NewScanCache creates a ScanCache over the given repository. A ttl of zero
// or less disables the cache entirely: every item is processed and no
// entries are written, keeping storage bounded.
func NewScanCache(
	repo domain.ScanCacheRepository,
	ttl time.Duration,
	tp domain.TimeProvider,
	logger *logger.Logger,
	tracer trace.Tracer,
) *ScanCache {
	return &ScanCache{
		repo:         repo,
		ttl:          ttl,
		timeProvider: tp,
		logger:       logger.With("component", "scan_cache"),
		tracer:       tracer,
	}
}

// ShouldProcess reports whether the item needs processing: true when the
// cache is disabled, no entry exists, or the entry is older than the TTL.
func (c *ScanCache) ShouldProcess(ctx context.Context, item domain.WorkItem) bool {
	if c.ttl <= 0 {
		return true
	}

	last, ok, err := c.repo.LastScan(ctx, item.Key())
	if err != nil {
		// Best-effort: re-processing a fresh item is always safe.
		c.logger.Warn(ctx, "cache lookup failed, processing item", "item", string(item), "error", err)
		return true
	}
	if !ok {
		return true
	}
	return c.timeProvider.Now().Sub(last) > c.ttl
}

// Filter splits a shard into the items that need processing and the count
// of items skipped as recently completed.
func (c *ScanCache) Filter(ctx context.Context, items []domain.WorkItem) ([]domain.WorkItem, int) {
	ctx, span := c.tracer.Start(ctx, "scan_cache.filter",
		trace.WithAttributes(attribute.Int("shard_size", len(items))))
	defer span.End()

	if c.ttl <= 0 {
		return items, 0
	}

	process := make([]domain.WorkItem, 0, len(items))
	for _, item := range items {
		if c.ShouldProcess(ctx, item) {
			process = append(process, item)
		}
	}
	skipped := len(items) - len(process)
	span.SetAttributes(attribute.Int("skipped", skipped))
	return process, skipped
}

// MarkProcessed records the item as completed now. A disabled cache writes
// nothing.
func (c *ScanCache) MarkProcessed(ctx context.Context, item domain.WorkItem) {
	if c.ttl <= 0 {
		return
	}
	if err := c.repo.MarkScanned(ctx, item.Key(), c.timeProvider.Now()); err != nil {
		// A lost entry only means the item is re-processed next run.
		c.logger.Warn(ctx, "failed to record cache entry", "item", string(item), "error", err)
	}
}

// Clear removes every cache entry. Used by a full reset.
func (c *ScanCache) Clear(ctx context.Context) error {
	ctx, span := c.tracer.Start(ctx, "scan_cache.clear")
	defer span.End()
	return c.repo.Clear(ctx)
}
