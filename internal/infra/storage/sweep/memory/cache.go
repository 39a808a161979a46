package memory

import (
	"context"
	"sync"
	"time"

	domain "github.com/devsweep/devsweep/internal/domain/sweep"
)

var _ domain.ScanCacheRepository = (*ScanCacheStore)(nil)

// ScanCacheStore provides an in-memory implementation of
// ScanCacheRepository for testing and development.
type ScanCacheStore struct {
	mu      sync.RWMutex
	entries map[string]time.Time
}

// NewScanCacheStore creates a new in-memory scan cache store.
func NewScanCacheStore() *ScanCacheStore {
	return &ScanCacheStore{entries: make(map[string]time.Time)}
}

// LastScan returns the recorded completion time for the key and whether an
// entry exists.
func (s *ScanCacheStore) LastScan(ctx context.Context, key string) (time.Time, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	at, ok := s.entries[key]
	return at, ok, nil
}

// MarkScanned records at as the completion time for the key.
func (s *ScanCacheStore) MarkScanned(ctx context.Context, key string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[key] = at
	return nil
}

// Clear removes every cache entry.
func (s *ScanCacheStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries = make(map[string]time.Time)
	return nil
}

// Len reports the number of entries. Test helper.
func (s *ScanCacheStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
