package sweep

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devsweep/devsweep/internal/domain/directory"
	domain "github.com/devsweep/devsweep/internal/domain/sweep"
	"github.com/devsweep/devsweep/internal/infra/storage"
	"github.com/devsweep/devsweep/internal/infra/storage/sweep/memory"
)

type staticEnumerator struct {
	items []domain.WorkItem
	err   error
}

func (e *staticEnumerator) EnumerateItems(ctx context.Context) ([]domain.WorkItem, error) {
	return e.items, e.err
}

type scheduledCall struct {
	entryPoint string
	delay      time.Duration
}

type fakeScheduler struct {
	mu        sync.Mutex
	scheduled []scheduledCall
	cancels   int
}

func (s *fakeScheduler) ScheduleAfter(ctx context.Context, entryPoint string, delay time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scheduled = append(s.scheduled, scheduledCall{entryPoint: entryPoint, delay: delay})
	return nil
}

func (s *fakeScheduler) CancelAll(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancels++
	return nil
}

type collectingSink struct {
	mu       sync.Mutex
	kinds    []domain.RunKind
	outcomes []domain.Outcome
}

func (s *collectingSink) Record(ctx context.Context, kind domain.RunKind, outcome domain.Outcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.kinds = append(s.kinds, kind)
	s.outcomes = append(s.outcomes, outcome)
	return nil
}

func (s *collectingSink) byTag(tag domain.OutcomeTag) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, o := range s.outcomes {
		if o.Tag == tag {
			n++
		}
	}
	return n
}

// clockAdvancingProcessor moves the fake clock forward after each shard so
// budget checks see wall-clock progress.
type clockAdvancingProcessor struct {
	inner Processor
	clock *fakeClock
	step  time.Duration
}

func (p *clockAdvancingProcessor) ProcessShard(
	ctx context.Context, kind domain.RunKind, items []domain.WorkItem, concurrency int,
) []domain.Outcome {
	defer p.clock.Advance(p.step)
	return p.inner.ProcessShard(ctx, kind, items, concurrency)
}

type engineFixture struct {
	engine    *Engine
	runRepo   *memory.RunStore
	cacheRepo *memory.ScanCacheStore
	scheduler *fakeScheduler
	sink      *collectingSink
	clock     *fakeClock
	directory *fakeDirectory
}

type fixtureOption func(*engineFixture)

func withShardStep(step time.Duration) fixtureOption {
	return func(f *engineFixture) {
		f.engine.processor = &clockAdvancingProcessor{
			inner: f.engine.processor, clock: f.clock, step: step,
		}
	}
}

func newEngineFixture(t *testing.T, cfg Config, items []domain.WorkItem, opts ...fixtureOption) *engineFixture {
	t.Helper()

	f := &engineFixture{
		runRepo:   memory.NewRunStore(),
		cacheRepo: memory.NewScanCacheStore(),
		scheduler: &fakeScheduler{},
		sink:      &collectingSink{},
		clock:     newFakeClock(),
		directory: newFakeDirectory(),
	}

	log := testLogger()
	tracer := storage.NoOpTracer()
	retrier := NewRetrier(cfg.MaxAttempts, time.Millisecond)
	processor := NewShardProcessor(f.directory, retrier, log, tracer, NoopSweepMetrics{})
	cache := NewScanCache(f.cacheRepo, cfg.CacheTTL, f.clock, log, tracer)

	f.engine = NewEngine(cfg,
		f.runRepo, &staticEnumerator{items: items}, processor, cache,
		f.scheduler, f.sink, f.clock, log, tracer, NoopSweepMetrics{})

	for _, opt := range opts {
		opt(f)
	}
	return f
}

func suspendedItems(f *engineFixture, n int, devicesEach int) []domain.WorkItem {
	items := make([]domain.WorkItem, n)
	for i := range items {
		email := string(rune('a'+i%26)) + string(rune('a'+i/26)) + "@example.com"
		items[i] = domain.WorkItem(email)
		f.directory.addAccount(email, true, devicesEach)
	}
	return items
}

func TestEngineEmptyItemListFailsWithoutPersisting(t *testing.T) {
	t.Parallel()

	f := newEngineFixture(t, Config{Kind: domain.RunKindPurge, Concurrency: 5}, nil)

	err := f.engine.Run(context.Background())
	require.Error(t, err)
	assert.True(t, domain.IsInputError(err))

	run, loadErr := f.runRepo.Load(context.Background(), domain.RunKindPurge)
	require.NoError(t, loadErr)
	assert.Nil(t, run, "no run record may be persisted on input errors")
}

func TestEngineCompletesInOneInvocation(t *testing.T) {
	t.Parallel()

	cfg := Config{Kind: domain.RunKindPurge, Concurrency: 5}
	f := newEngineFixture(t, cfg, nil)
	items := suspendedItems(f, 25, 2)
	f.engine.enumerator = &staticEnumerator{items: items}

	require.NoError(t, f.engine.Run(context.Background()))

	run, err := f.runRepo.Load(context.Background(), domain.RunKindPurge)
	require.NoError(t, err)
	assert.Nil(t, run, "a completed run's record is destroyed")

	assert.Equal(t, 1, f.scheduler.cancels, "completion cancels pending continuations")
	assert.Empty(t, f.scheduler.scheduled)
	assert.Equal(t, 25, f.sink.byTag(domain.OutcomeRemoved))
	assert.Len(t, f.directory.removed, 50)
	for _, kind := range f.sink.kinds {
		assert.Equal(t, domain.RunKindPurge, kind, "every sink record carries its run kind")
	}

	status, err := f.engine.Status(context.Background())
	require.NoError(t, err)
	assert.Nil(t, status, "completed means definitively idle")
}

func TestEnginePausesOnSafetyBudget(t *testing.T) {
	t.Parallel()

	cfg := Config{
		Kind:              domain.RunKindPurge,
		Concurrency:       5,
		SafetyBudget:      100 * time.Millisecond,
		ContinuationDelay: 45 * time.Second,
	}
	f := newEngineFixture(t, cfg, nil, withShardStep(60*time.Millisecond))
	items := suspendedItems(f, 25, 1)
	f.engine.enumerator = &staticEnumerator{items: items}

	require.NoError(t, f.engine.Run(context.Background()))

	// Two shards fit inside the budget; the third check pauses the run.
	run, err := f.runRepo.Load(context.Background(), domain.RunKindPurge)
	require.NoError(t, err)
	require.NotNil(t, run, "a budget pause never destroys the record")
	assert.Equal(t, 10, run.Cursor())

	require.Len(t, f.scheduler.scheduled, 1)
	assert.Equal(t, EntryPoint(domain.RunKindPurge), f.scheduler.scheduled[0].entryPoint)
	assert.Equal(t, 45*time.Second, f.scheduler.scheduled[0].delay)

	status, err := f.engine.Status(context.Background())
	require.NoError(t, err)
	require.NotNil(t, status)
	assert.Equal(t, 10, status.Cursor)
	assert.Equal(t, 25, status.Total)
	assert.Equal(t, 10, status.ItemsProcessed)
}

func TestEngineResumesFromPersistedCursor(t *testing.T) {
	t.Parallel()

	cfg := Config{
		Kind:         domain.RunKindPurge,
		Concurrency:  5,
		SafetyBudget: 100 * time.Millisecond,
	}
	f := newEngineFixture(t, cfg, nil, withShardStep(60*time.Millisecond))
	items := suspendedItems(f, 25, 1)
	f.engine.enumerator = &staticEnumerator{items: items}

	ctx := context.Background()
	require.NoError(t, f.engine.Run(ctx)) // pauses at 10

	// The source list changing after the run started must not matter.
	f.engine.enumerator = &staticEnumerator{items: nil}

	lastCursor := 10
	for invocation := 0; invocation < 10; invocation++ {
		run, err := f.runRepo.Load(ctx, domain.RunKindPurge)
		require.NoError(t, err)
		if run == nil {
			break
		}

		require.NoError(t, f.engine.Run(ctx))

		if run, err = f.runRepo.Load(ctx, domain.RunKindPurge); err == nil && run != nil {
			assert.GreaterOrEqual(t, run.Cursor(), lastCursor, "cursor never decreases")
			assert.LessOrEqual(t, run.Cursor(), 25)
			lastCursor = run.Cursor()
		}
	}

	run, err := f.runRepo.Load(ctx, domain.RunKindPurge)
	require.NoError(t, err)
	assert.Nil(t, run, "repeated invocations must drive the run to completion")
	assert.Equal(t, 25, f.sink.byTag(domain.OutcomeRemoved))
	assert.Len(t, f.directory.removed, 25)
}

func TestEngineResumeYieldsSameTotalsAsUnbrokenRun(t *testing.T) {
	t.Parallel()

	build := func(opts ...fixtureOption) *engineFixture {
		cfg := Config{Kind: domain.RunKindPurge, Concurrency: 5, SafetyBudget: 100 * time.Millisecond}
		f := newEngineFixture(t, cfg, nil, opts...)
		items := suspendedItems(f, 23, 2)
		// Two accounts are missing, one is active again.
		delete(f.directory.accounts, string(items[3]))
		delete(f.directory.accounts, string(items[17]))
		state := f.directory.accounts[string(items[9])]
		state.Suspended = false
		f.directory.accounts[string(items[9])] = state
		f.engine.enumerator = &staticEnumerator{items: items}
		return f
	}

	ctx := context.Background()

	unbroken := build()
	require.NoError(t, unbroken.engine.Run(ctx))

	// Forced pause between every shard.
	broken := build(withShardStep(200 * time.Millisecond))
	for range 10 {
		require.NoError(t, broken.engine.Run(ctx))
		if run, err := broken.runRepo.Load(ctx, domain.RunKindPurge); err == nil && run == nil {
			break
		}
	}

	for _, tag := range []domain.OutcomeTag{
		domain.OutcomeRemoved, domain.OutcomeNotFound, domain.OutcomeActiveSkip,
	} {
		assert.Equal(t, unbroken.sink.byTag(tag), broken.sink.byTag(tag), "tag %s", tag)
	}
	assert.Equal(t, len(unbroken.directory.removed), len(broken.directory.removed))
}

func TestEngineSkipsRecentlyCompletedItems(t *testing.T) {
	t.Parallel()

	cfg := Config{Kind: domain.RunKindPurge, Concurrency: 5, CacheTTL: time.Hour}
	f := newEngineFixture(t, cfg, nil)
	items := suspendedItems(f, 10, 1)
	f.engine.enumerator = &staticEnumerator{items: items}

	ctx := context.Background()
	require.NoError(t, f.cacheRepo.MarkScanned(ctx, items[2].Key(), f.clock.Now()))
	require.NoError(t, f.cacheRepo.MarkScanned(ctx, items[7].Key(), f.clock.Now()))

	require.NoError(t, f.engine.Run(ctx))

	assert.Equal(t, 0, f.directory.stateCalls[string(items[2])], "cached item must not be processed")
	assert.Equal(t, 0, f.directory.stateCalls[string(items[7])])
	assert.Equal(t, 8, f.sink.byTag(domain.OutcomeRemoved))
}

func TestEngineWithCacheDisabledProcessesEverything(t *testing.T) {
	t.Parallel()

	cfg := Config{Kind: domain.RunKindPurge, Concurrency: 5, CacheTTL: 0}
	f := newEngineFixture(t, cfg, nil)
	items := suspendedItems(f, 10, 1)
	f.engine.enumerator = &staticEnumerator{items: items}

	ctx := context.Background()
	// Stale marks from an earlier configuration must be ignored.
	require.NoError(t, f.cacheRepo.MarkScanned(ctx, items[0].Key(), f.clock.Now()))

	require.NoError(t, f.engine.Run(ctx))
	assert.Equal(t, 10, f.sink.byTag(domain.OutcomeRemoved))
}

func TestEngineMarksSuccessfulItemsInCache(t *testing.T) {
	t.Parallel()

	cfg := Config{Kind: domain.RunKindPurge, Concurrency: 5, CacheTTL: time.Hour}
	f := newEngineFixture(t, cfg, nil)
	items := suspendedItems(f, 5, 1)
	f.directory.stateErrs[string(items[4])] = []error{
		directory.NewInvalidRequestError("broken"),
	}
	f.engine.enumerator = &staticEnumerator{items: items}

	require.NoError(t, f.engine.Run(context.Background()))

	assert.Equal(t, 4, f.cacheRepo.Len(), "error outcomes must not be cached as completed")
}

func TestEnginePersistenceFailureAbortsInvocation(t *testing.T) {
	t.Parallel()

	cfg := Config{Kind: domain.RunKindPurge, Concurrency: 5}
	f := newEngineFixture(t, cfg, nil)
	items := suspendedItems(f, 5, 1)
	f.engine.enumerator = &staticEnumerator{items: items}
	f.engine.runRepo = &failingRunRepo{}

	err := f.engine.Run(context.Background())
	require.Error(t, err)
	assert.False(t, domain.IsInputError(err))
}

func TestEngineReset(t *testing.T) {
	t.Parallel()

	cfg := Config{
		Kind:         domain.RunKindPurge,
		Concurrency:  5,
		CacheTTL:     time.Hour,
		SafetyBudget: 100 * time.Millisecond,
	}
	f := newEngineFixture(t, cfg, nil, withShardStep(200*time.Millisecond))
	items := suspendedItems(f, 10, 1)
	f.engine.enumerator = &staticEnumerator{items: items}

	ctx := context.Background()
	require.NoError(t, f.engine.Run(ctx)) // pauses with a persisted record

	run, err := f.runRepo.Load(ctx, domain.RunKindPurge)
	require.NoError(t, err)
	require.NotNil(t, run)
	require.Positive(t, f.cacheRepo.Len())

	require.NoError(t, f.engine.Reset(ctx, true))

	run, err = f.runRepo.Load(ctx, domain.RunKindPurge)
	require.NoError(t, err)
	assert.Nil(t, run)
	assert.Equal(t, 0, f.cacheRepo.Len(), "a full reset clears the scan cache")
	assert.Equal(t, 1, f.scheduler.cancels)
}

type failingRunRepo struct{}

func (r *failingRunRepo) Load(ctx context.Context, kind domain.RunKind) (*domain.Run, error) {
	return nil, assert.AnError
}

func (r *failingRunRepo) Save(ctx context.Context, run *domain.Run) error { return assert.AnError }

func (r *failingRunRepo) Delete(ctx context.Context, kind domain.RunKind) error {
	return assert.AnError
}
