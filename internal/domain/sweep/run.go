package sweep

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// TimeProvider abstracts wall-clock access so time-dependent invariants can
// be tested deterministically.
type TimeProvider interface {
	Now() time.Time
}

type realTimeProvider struct{}

func (realTimeProvider) Now() time.Time { return time.Now() }

// RealTimeProvider returns a TimeProvider backed by time.Now.
func RealTimeProvider() TimeProvider { return realTimeProvider{} }

// Run is the aggregate root for one sweep pass over an enumerated item
// list. It owns the order of the items, the resume cursor, and the
// cumulative counters. The item list is fixed at creation and never
// reordered; the cursor only advances after a shard's outcomes have been
// folded into the counters (or the items were deliberately skipped via the
// scan cache) — never speculatively.
type Run struct {
	// Identity.
	id   uuid.UUID
	kind RunKind

	// Enumerated work, fixed at creation.
	items []WorkItem

	// Progress.
	cursor  int
	metrics *RunMetrics

	startedAt   time.Time
	lastUpdated time.Time

	timeProvider TimeProvider
}

// NewRun creates a Run aggregate for the given kind over the enumerated
// items. It fails with an input error when the list is empty or contains a
// malformed item; nothing should be persisted in that case.
func NewRun(kind RunKind, items []WorkItem) (*Run, error) {
	if len(items) == 0 {
		return nil, NewEmptyItemListError()
	}
	for _, item := range items {
		if !item.IsValid() {
			return nil, NewMalformedItemError(item)
		}
	}

	now := time.Now()
	return &Run{
		id:           uuid.New(),
		kind:         kind,
		items:        append([]WorkItem(nil), items...),
		metrics:      NewRunMetrics(),
		startedAt:    now,
		lastUpdated:  now,
		timeProvider: realTimeProvider{},
	}, nil
}

// ReconstructRun creates a Run from persisted data without generating new
// identity or enforcing creation-time invariants. Only repositories should
// use this.
func ReconstructRun(
	id uuid.UUID,
	kind RunKind,
	items []WorkItem,
	cursor int,
	metrics *RunMetrics,
	startedAt time.Time,
	lastUpdated time.Time,
) *Run {
	if metrics == nil {
		metrics = NewRunMetrics()
	}
	return &Run{
		id:           id,
		kind:         kind,
		items:        items,
		cursor:       cursor,
		metrics:      metrics,
		startedAt:    startedAt,
		lastUpdated:  lastUpdated,
		timeProvider: realTimeProvider{},
	}
}

// Getters for Run.
func (r *Run) ID() uuid.UUID          { return r.id }
func (r *Run) Kind() RunKind          { return r.kind }
func (r *Run) Cursor() int            { return r.cursor }
func (r *Run) TotalItems() int        { return len(r.items) }
func (r *Run) Metrics() *RunMetrics   { return r.metrics }
func (r *Run) StartedAt() time.Time   { return r.startedAt }
func (r *Run) LastUpdated() time.Time { return r.lastUpdated }

// Items returns a copy of the enumerated item list.
func (r *Run) Items() []WorkItem { return append([]WorkItem(nil), r.items...) }

// NextShard returns the next group of at most size unprocessed items,
// starting at the cursor. It does not advance the cursor.
func (r *Run) NextShard(size int) []WorkItem {
	if size <= 0 || r.cursor >= len(r.items) {
		return nil
	}
	end := r.cursor + size
	if end > len(r.items) {
		end = len(r.items)
	}
	return r.items[r.cursor:end]
}

// Advance moves the cursor forward by n items. The cursor is monotone: it
// never moves backwards and never passes the end of the item list.
func (r *Run) Advance(n int) error {
	if n < 0 || r.cursor+n > len(r.items) {
		return newInvalidCursorError(r.cursor, n, len(r.items))
	}
	r.cursor += n
	r.lastUpdated = r.timeProvider.Now()
	return nil
}

// ApplyOutcomes folds a shard's outcomes into the run counters. The fold is
// order-independent; outcomes from concurrent operations may arrive in any
// completion order. Every tag in the closed set is handled; an unknown tag
// is rejected.
func (r *Run) ApplyOutcomes(outcomes []Outcome) error {
	for _, o := range outcomes {
		switch o.Tag {
		case OutcomeRemoved:
			r.metrics.itemsProcessed++
			r.metrics.devicesAffected += o.Devices
		case OutcomeNoDevices:
			r.metrics.itemsProcessed++
		case OutcomeNotFound:
			r.metrics.itemsProcessed++
			r.metrics.notFound++
		case OutcomeActiveSkip:
			r.metrics.itemsProcessed++
			r.metrics.activeSkips++
		case OutcomeTransientError, OutcomeFatalError:
			r.metrics.errors++
			// Registrations already acted on before the failure still count.
			r.metrics.devicesAffected += o.Devices
		default:
			return newUnknownOutcomeError(o.Tag)
		}
	}
	r.lastUpdated = r.timeProvider.Now()
	return nil
}

// RecordCacheSkips notes n items skipped because the scan cache marked them
// recently completed.
func (r *Run) RecordCacheSkips(n int) {
	if n <= 0 {
		return
	}
	r.metrics.cacheSkips += n
	r.lastUpdated = r.timeProvider.Now()
}

// IsComplete reports whether every enumerated item has been consumed.
func (r *Run) IsComplete() bool { return r.cursor >= len(r.items) }

// Snapshot returns a point-in-time view of run progress for external polling.
func (r *Run) Snapshot() Status {
	return Status{
		Kind:            r.kind,
		Cursor:          r.cursor,
		Total:           len(r.items),
		ItemsProcessed:  r.metrics.itemsProcessed,
		DevicesAffected: r.metrics.devicesAffected,
		Errors:          r.metrics.errors,
		NotFound:        r.metrics.notFound,
		ActiveSkips:     r.metrics.activeSkips,
		CacheSkips:      r.metrics.cacheSkips,
		StartedAt:       r.startedAt,
	}
}

// Status is the externally visible progress report of a run.
type Status struct {
	Kind            RunKind   `json:"kind"`
	Cursor          int       `json:"cursor"`
	Total           int       `json:"total"`
	ItemsProcessed  int       `json:"items_processed"`
	DevicesAffected int       `json:"devices_affected"`
	Errors          int       `json:"errors"`
	NotFound        int       `json:"not_found"`
	ActiveSkips     int       `json:"active_skips"`
	CacheSkips      int       `json:"cache_skips"`
	StartedAt       time.Time `json:"started_at"`
}

// runJSON is the persisted wire form of a Run.
type runJSON struct {
	ID              uuid.UUID  `json:"id"`
	Kind            RunKind    `json:"kind"`
	Items           []WorkItem `json:"items"`
	Cursor          int        `json:"cursor"`
	ItemsProcessed  int        `json:"items_processed"`
	DevicesAffected int        `json:"devices_affected"`
	Errors          int        `json:"errors"`
	NotFound        int        `json:"not_found"`
	ActiveSkips     int        `json:"active_skips"`
	CacheSkips      int        `json:"cache_skips"`
	StartedAt       time.Time  `json:"started_at"`
	LastUpdated     time.Time  `json:"last_updated"`
}

// MarshalJSON serializes the Run for durable storage.
func (r *Run) MarshalJSON() ([]byte, error) {
	return json.Marshal(runJSON{
		ID:              r.id,
		Kind:            r.kind,
		Items:           r.items,
		Cursor:          r.cursor,
		ItemsProcessed:  r.metrics.itemsProcessed,
		DevicesAffected: r.metrics.devicesAffected,
		Errors:          r.metrics.errors,
		NotFound:        r.metrics.notFound,
		ActiveSkips:     r.metrics.activeSkips,
		CacheSkips:      r.metrics.cacheSkips,
		StartedAt:       r.startedAt,
		LastUpdated:     r.lastUpdated,
	})
}

// UnmarshalJSON restores a Run from its persisted form.
func (r *Run) UnmarshalJSON(data []byte) error {
	var aux runJSON
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	r.id = aux.ID
	r.kind = aux.Kind
	r.items = aux.Items
	r.cursor = aux.Cursor
	r.metrics = ReconstructRunMetrics(
		aux.ItemsProcessed,
		aux.DevicesAffected,
		aux.Errors,
		aux.NotFound,
		aux.ActiveSkips,
		aux.CacheSkips,
	)
	r.startedAt = aux.StartedAt
	r.lastUpdated = aux.LastUpdated
	if r.timeProvider == nil {
		r.timeProvider = realTimeProvider{}
	}
	return nil
}

// WithTimeProvider overrides the clock used for lastUpdated bookkeeping.
func (r *Run) WithTimeProvider(tp TimeProvider) *Run {
	r.timeProvider = tp
	return r
}
