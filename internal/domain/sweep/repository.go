package sweep

import (
	"context"
	"time"
)

// RunRepository persists the single in-flight Run per run kind. The engine
// holds an in-memory working copy during one invocation and writes it back
// at checkpoints and at every exit path; the repository is the durable
// owner of the record.
type RunRepository interface {
	// Load returns the persisted run for the kind, or nil when none exists.
	Load(ctx context.Context, kind RunKind) (*Run, error)

	// Save persists the run, replacing any prior record for its kind.
	Save(ctx context.Context, run *Run) error

	// Delete removes the persisted run for the kind. Deleting a missing
	// record is not an error.
	Delete(ctx context.Context, kind RunKind) error
}

// ScanCacheRepository stores the last-completed timestamp per work-item
// key. Entries are independent of any run and outlive individual runs;
// they are cleared only by an explicit full reset.
type ScanCacheRepository interface {
	// LastScan returns the recorded completion time for the key and whether
	// an entry exists.
	LastScan(ctx context.Context, key string) (time.Time, bool, error)

	// MarkScanned records at as the completion time for the key,
	// overwriting any prior entry.
	MarkScanned(ctx context.Context, key string, at time.Time) error

	// Clear removes every cache entry.
	Clear(ctx context.Context) error
}

// ContinuationScheduler is the external trigger primitive that re-invokes
// an engine entry point after a pause. At most one pending continuation per
// entry point may exist at a time; ScheduleAfter cancels prior pending
// continuations for the entry point before scheduling.
type ContinuationScheduler interface {
	ScheduleAfter(ctx context.Context, entryPoint string, delay time.Duration) error
	CancelAll(ctx context.Context) error
}

// ResultSink receives one record per item outcome. Append-only; the engine
// never reads results back. The run kind accompanies every record so
// consumers can tell revocations from audit inventories: the removed tag is
// shared by both.
type ResultSink interface {
	Record(ctx context.Context, kind RunKind, outcome Outcome) error
}

// ItemEnumerator produces the full work-item list for a fresh run. It is
// consulted only when no persisted run exists; a resumed run's original
// list is authoritative even if the source has since changed.
type ItemEnumerator interface {
	EnumerateItems(ctx context.Context) ([]WorkItem, error)
}
