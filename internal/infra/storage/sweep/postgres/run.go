package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	domain "github.com/devsweep/devsweep/internal/domain/sweep"
)

var _ domain.RunRepository = (*RunStore)(nil)

// RunStore provides a PostgreSQL implementation of RunRepository. The run
// is persisted as a single jsonb document keyed by run kind, which matches
// the one-mutable-record-per-kind ownership model: the engine holds the
// working copy, this store holds the durable one.
type RunStore struct {
	pool   *pgxpool.Pool
	tracer trace.Tracer
}

// NewRunStore creates a PostgreSQL-backed run store using the provided
// connection pool.
func NewRunStore(pool *pgxpool.Pool, tracer trace.Tracer) *RunStore {
	return &RunStore{pool: pool, tracer: tracer}
}

// Save upserts the run document for its kind.
func (s *RunStore) Save(ctx context.Context, run *domain.Run) error {
	ctx, span := s.tracer.Start(ctx, "postgres.save_run",
		trace.WithAttributes(
			attribute.String("run_kind", run.Kind().String()),
			attribute.Int("cursor", run.Cursor()),
			attribute.Int("total_items", run.TotalItems()),
		))
	defer span.End()

	data, err := json.Marshal(run)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to marshal run: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO sweep_runs (kind, data, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (kind) DO UPDATE SET data = EXCLUDED.data, updated_at = now()`,
		run.Kind().String(), data)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to save run: %w", err)
	}
	return nil
}

// Load retrieves the run for a kind. Returns nil when no record exists.
func (s *RunStore) Load(ctx context.Context, kind domain.RunKind) (*domain.Run, error) {
	ctx, span := s.tracer.Start(ctx, "postgres.load_run",
		trace.WithAttributes(attribute.String("run_kind", kind.String())))
	defer span.End()

	var data []byte
	err := s.pool.QueryRow(ctx,
		`SELECT data FROM sweep_runs WHERE kind = $1`, kind.String()).Scan(&data)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		span.RecordError(err)
		return nil, fmt.Errorf("failed to load run: %w", err)
	}

	var run domain.Run
	if err := json.Unmarshal(data, &run); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to unmarshal run: %w", err)
	}

	span.SetAttributes(attribute.Int("data_size", len(data)))
	return &run, nil
}

// Delete removes the run record for a kind. Deleting a missing record is
// not an error.
func (s *RunStore) Delete(ctx context.Context, kind domain.RunKind) error {
	ctx, span := s.tracer.Start(ctx, "postgres.delete_run",
		trace.WithAttributes(attribute.String("run_kind", kind.String())))
	defer span.End()

	if _, err := s.pool.Exec(ctx,
		`DELETE FROM sweep_runs WHERE kind = $1`, kind.String()); err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to delete run: %w", err)
	}
	return nil
}
