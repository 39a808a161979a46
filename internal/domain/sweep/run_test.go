package sweep

import (
	"encoding/json"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testItems(n int) []WorkItem {
	items := make([]WorkItem, n)
	for i := range items {
		items[i] = WorkItem(string(rune('a'+i%26)) + "@example.com")
	}
	return items
}

func TestNewRun(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		kind    RunKind
		items   []WorkItem
		wantErr error
	}{
		{
			name:  "valid purge run",
			kind:  RunKindPurge,
			items: []WorkItem{"alice@example.com", "bob@example.com"},
		},
		{
			name:  "valid audit run",
			kind:  RunKindAudit,
			items: []WorkItem{"carol@example.com"},
		},
		{
			name:    "empty item list",
			kind:    RunKindPurge,
			items:   nil,
			wantErr: NewEmptyItemListError(),
		},
		{
			name:    "malformed item",
			kind:    RunKindPurge,
			items:   []WorkItem{"alice@example.com", "not an address"},
			wantErr: NewMalformedItemError("not an address"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			run, err := NewRun(tt.kind, tt.items)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				assert.True(t, IsInputError(err))
				assert.Nil(t, run)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.kind, run.Kind())
			assert.Equal(t, 0, run.Cursor())
			assert.Equal(t, len(tt.items), run.TotalItems())
			assert.False(t, run.IsComplete())
			assert.False(t, run.StartedAt().IsZero())
		})
	}
}

func TestRunItemsAreFixedAtCreation(t *testing.T) {
	t.Parallel()

	source := []WorkItem{"alice@example.com", "bob@example.com"}
	run, err := NewRun(RunKindAudit, source)
	require.NoError(t, err)

	source[0] = "mutated@example.com"
	assert.Equal(t, WorkItem("alice@example.com"), run.Items()[0],
		"run must own a copy of the enumerated list")

	run.Items()[1] = "mutated@example.com"
	assert.Equal(t, WorkItem("bob@example.com"), run.Items()[1],
		"Items must return a copy")
}

func TestRunNextShard(t *testing.T) {
	t.Parallel()

	run, err := NewRun(RunKindPurge, testItems(7))
	require.NoError(t, err)

	shard := run.NextShard(5)
	assert.Len(t, shard, 5)
	assert.Equal(t, 0, run.Cursor(), "NextShard must not advance the cursor")

	require.NoError(t, run.Advance(5))

	shard = run.NextShard(5)
	assert.Len(t, shard, 2, "final shard is truncated to the remaining items")

	require.NoError(t, run.Advance(2))
	assert.True(t, run.IsComplete())
	assert.Nil(t, run.NextShard(5))
}

func TestRunCursorIsMonotone(t *testing.T) {
	t.Parallel()

	run, err := NewRun(RunKindPurge, testItems(10))
	require.NoError(t, err)

	require.NoError(t, run.Advance(4))
	assert.Equal(t, 4, run.Cursor())

	err = run.Advance(-1)
	require.ErrorIs(t, err, &Error{kind: ErrKindInvalidCursor})
	assert.Equal(t, 4, run.Cursor(), "failed advance must not move the cursor")

	err = run.Advance(7)
	require.ErrorIs(t, err, &Error{kind: ErrKindInvalidCursor})
	assert.Equal(t, 4, run.Cursor())

	require.NoError(t, run.Advance(6))
	assert.Equal(t, 10, run.Cursor())
	assert.True(t, run.IsComplete())
}

func TestRunApplyOutcomesFoldsEveryTag(t *testing.T) {
	t.Parallel()

	run, err := NewRun(RunKindPurge, testItems(6))
	require.NoError(t, err)

	outcomes := []Outcome{
		RemovedOutcome("a@example.com", 3),
		NoDevicesOutcome("b@example.com"),
		NotFoundOutcome("c@example.com"),
		ActiveSkipOutcome("d@example.com"),
		ErrorOutcome("e@example.com", true, 1, assert.AnError),
		ErrorOutcome("f@example.com", false, 0, assert.AnError),
	}
	require.NoError(t, run.ApplyOutcomes(outcomes))

	m := run.Metrics()
	assert.Equal(t, 4, m.ItemsProcessed())
	assert.Equal(t, 4, m.DevicesAffected(), "partial progress on failed items still counts")
	assert.Equal(t, 2, m.Errors())
	assert.Equal(t, 1, m.NotFound())
	assert.Equal(t, 1, m.ActiveSkips())
}

func TestRunApplyOutcomesIsOrderIndependent(t *testing.T) {
	t.Parallel()

	outcomes := []Outcome{
		RemovedOutcome("a@example.com", 2),
		RemovedOutcome("b@example.com", 5),
		NoDevicesOutcome("c@example.com"),
		ErrorOutcome("d@example.com", true, 1, assert.AnError),
		ErrorOutcome("e@example.com", false, 0, assert.AnError),
	}

	fold := func(outcomes []Outcome) *RunMetrics {
		run, err := NewRun(RunKindPurge, testItems(5))
		require.NoError(t, err)
		require.NoError(t, run.ApplyOutcomes(outcomes))
		return run.Metrics()
	}

	want := fold(outcomes)

	rng := rand.New(rand.NewSource(42))
	for range 10 {
		shuffled := append([]Outcome(nil), outcomes...)
		rng.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
		assert.Equal(t, want, fold(shuffled))
	}
}

func TestRunApplyOutcomesRejectsUnknownTag(t *testing.T) {
	t.Parallel()

	run, err := NewRun(RunKindPurge, testItems(1))
	require.NoError(t, err)

	err = run.ApplyOutcomes([]Outcome{{Item: "a@example.com", Tag: "BOGUS"}})
	require.ErrorIs(t, err, &Error{kind: ErrKindUnknownOutcome})
}

func TestRunRecordCacheSkips(t *testing.T) {
	t.Parallel()

	run, err := NewRun(RunKindAudit, testItems(5))
	require.NoError(t, err)

	run.RecordCacheSkips(3)
	run.RecordCacheSkips(0)
	run.RecordCacheSkips(-1)
	assert.Equal(t, 3, run.Metrics().CacheSkips())
}

func TestRunJSONRoundTrip(t *testing.T) {
	t.Parallel()

	run, err := NewRun(RunKindPurge, testItems(5))
	require.NoError(t, err)

	require.NoError(t, run.ApplyOutcomes([]Outcome{
		RemovedOutcome("a@example.com", 2),
		ErrorOutcome("b@example.com", false, 0, assert.AnError),
	}))
	require.NoError(t, run.Advance(2))
	run.RecordCacheSkips(1)

	data, err := json.Marshal(run)
	require.NoError(t, err)

	var restored Run
	require.NoError(t, json.Unmarshal(data, &restored))

	assert.Equal(t, run.ID(), restored.ID())
	assert.Equal(t, run.Kind(), restored.Kind())
	assert.Equal(t, run.Items(), restored.Items())
	assert.Equal(t, run.Cursor(), restored.Cursor())
	assert.Equal(t, run.Metrics(), restored.Metrics())
	assert.WithinDuration(t, run.StartedAt(), restored.StartedAt(), time.Millisecond)
}

func TestRunSnapshot(t *testing.T) {
	t.Parallel()

	run, err := NewRun(RunKindAudit, testItems(4))
	require.NoError(t, err)

	require.NoError(t, run.ApplyOutcomes([]Outcome{
		FoundOutcome("a@example.com", 7),
		NotFoundOutcome("b@example.com"),
	}))
	require.NoError(t, run.Advance(2))

	status := run.Snapshot()
	assert.Equal(t, RunKindAudit, status.Kind)
	assert.Equal(t, 2, status.Cursor)
	assert.Equal(t, 4, status.Total)
	assert.Equal(t, 2, status.ItemsProcessed)
	assert.Equal(t, 7, status.DevicesAffected)
	assert.Equal(t, 1, status.NotFound)
	assert.Equal(t, 0, status.Errors)
}

func TestWorkItemValidity(t *testing.T) {
	t.Parallel()

	tests := []struct {
		item  WorkItem
		valid bool
	}{
		{"alice@example.com", true},
		{"a@b", true},
		{"", false},
		{"@example.com", false},
		{"alice@", false},
		{"no-at-sign", false},
		{"spaced address@example.com", false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.valid, tt.item.IsValid(), "item %q", tt.item)
	}
}

func TestWorkItemKeyIsCaseInsensitive(t *testing.T) {
	t.Parallel()

	assert.Equal(t, WorkItem("Alice@Example.COM").Key(), WorkItem("alice@example.com").Key())
}

func TestRunKind(t *testing.T) {
	t.Parallel()

	assert.True(t, RunKindPurge.Destructive())
	assert.False(t, RunKindAudit.Destructive())
	assert.True(t, RunKindPurge.IsValid())
	assert.True(t, RunKindAudit.IsValid())
	assert.False(t, RunKind("OTHER").IsValid())
}
