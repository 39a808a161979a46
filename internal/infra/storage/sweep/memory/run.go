package memory

import (
	"context"
	"sync"

	domain "github.com/devsweep/devsweep/internal/domain/sweep"
)

var _ domain.RunRepository = (*RunStore)(nil)

// RunStore provides an in-memory implementation of RunRepository for
// testing and development.
type RunStore struct {
	mu   sync.Mutex
	runs map[domain.RunKind]*domain.Run // one record per run kind
}

// NewRunStore creates a new in-memory run store.
func NewRunStore() *RunStore {
	return &RunStore{runs: make(map[domain.RunKind]*domain.Run)}
}

// Save persists a deep copy of the run, replacing any prior record for its
// kind.
func (s *RunStore) Save(ctx context.Context, run *domain.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.runs[run.Kind()] = copyRun(run)
	return nil
}

// Load retrieves the run for a kind, or nil when none exists. The caller
// receives its own copy; mutating it does not touch the stored record
// until the next Save.
func (s *RunStore) Load(ctx context.Context, kind domain.RunKind) (*domain.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, exists := s.runs[kind]
	if !exists {
		return nil, nil
	}
	return copyRun(run), nil
}

// Delete removes the run record for a kind. Deleting a missing record is
// not an error.
func (s *RunStore) Delete(ctx context.Context, kind domain.RunKind) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.runs, kind)
	return nil
}

func copyRun(run *domain.Run) *domain.Run {
	m := run.Metrics()
	return domain.ReconstructRun(
		run.ID(),
		run.Kind(),
		run.Items(),
		run.Cursor(),
		domain.ReconstructRunMetrics(
			m.ItemsProcessed(),
			m.DevicesAffected(),
			m.Errors(),
			m.NotFound(),
			m.ActiveSkips(),
			m.CacheSkips(),
		),
		run.StartedAt(),
		run.LastUpdated(),
	)
}
