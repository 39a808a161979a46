// Package redis provides a Redis-backed scan cache. Entries map a work-item
// key to its last-completed timestamp and outlive individual runs.
package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	domain "github.com/devsweep/devsweep/internal/domain/sweep"
)

var _ domain.ScanCacheRepository = (*ScanCacheStore)(nil)

const defaultKeyPrefix = "devsweep:scan:"

// ScanCacheStore implements ScanCacheRepository on a Redis client. Each
// entry is a plain string key holding the completion time as epoch millis,
// so entries survive restarts and are shared by both run kinds.
type ScanCacheStore struct {
	client    *redis.Client
	keyPrefix string
	tracer    trace.Tracer
}

// NewScanCacheStore creates a scan cache store over an existing client.
func NewScanCacheStore(client *redis.Client, tracer trace.Tracer) *ScanCacheStore {
	return &ScanCacheStore{
		client:    client,
		keyPrefix: defaultKeyPrefix,
		tracer:    tracer,
	}
}

func (s *ScanCacheStore) entryKey(key string) string { return s.keyPrefix + key }

// LastScan returns the recorded completion time for the key and whether an
// entry exists.
func (s *ScanCacheStore) LastScan(ctx context.Context, key string) (time.Time, bool, error) {
	ctx, span := s.tracer.Start(ctx, "redis.last_scan",
		trace.WithAttributes(attribute.String("item_key", key)))
	defer span.End()

	val, err := s.client.Get(ctx, s.entryKey(key)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return time.Time{}, false, nil
		}
		span.RecordError(err)
		return time.Time{}, false, fmt.Errorf("failed to read cache entry: %w", err)
	}

	millis, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		span.RecordError(err)
		return time.Time{}, false, fmt.Errorf("malformed cache entry for %q: %w", key, err)
	}
	return time.UnixMilli(millis), true, nil
}

// MarkScanned records at as the completion time for the key, overwriting
// any prior entry.
func (s *ScanCacheStore) MarkScanned(ctx context.Context, key string, at time.Time) error {
	ctx, span := s.tracer.Start(ctx, "redis.mark_scanned",
		trace.WithAttributes(attribute.String("item_key", key)))
	defer span.End()

	value := strconv.FormatInt(at.UnixMilli(), 10)
	if err := s.client.Set(ctx, s.entryKey(key), value, 0).Err(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to write cache entry: %w", err)
	}
	return nil
}

// Clear removes every cache entry under the store's prefix.
func (s *ScanCacheStore) Clear(ctx context.Context) error {
	ctx, span := s.tracer.Start(ctx, "redis.clear_scan_cache")
	defer span.End()

	iter := s.client.Scan(ctx, 0, s.keyPrefix+"*", 0).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to scan cache keys: %w", err)
	}
	if len(keys) == 0 {
		return nil
	}

	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to delete cache entries: %w", err)
	}
	span.SetAttributes(attribute.Int("entries_cleared", len(keys)))
	return nil
}
