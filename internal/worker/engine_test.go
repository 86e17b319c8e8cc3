package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"mindsync/internal/conflict"
	"mindsync/internal/domain"
	"mindsync/internal/events"
	"mindsync/internal/models"
	"mindsync/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// fakeTransport answers with fn and remembers every id it saw.
type fakeTransport struct {
	mu    sync.Mutex
	fn    func(ctx context.Context, rec *models.StagedRecord) error
	calls []string
}

func (f *fakeTransport) Send(ctx context.Context, rec *models.StagedRecord) error {
	f.mu.Lock()
	f.calls = append(f.calls, rec.ID)
	fn := f.fn
	f.mu.Unlock()
	if fn == nil {
		return nil
	}
	return fn(ctx, rec)
}

func (f *fakeTransport) set(fn func(ctx context.Context, rec *models.StagedRecord) error) {
	f.mu.Lock()
	f.fn = fn
	f.mu.Unlock()
}

func (f *fakeTransport) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

type memoryDeadLetter struct {
	mu   sync.Mutex
	recs []*models.StagedRecord
}

func (m *memoryDeadLetter) Push(_ context.Context, rec *models.StagedRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recs = append(m.recs, rec)
	return nil
}

type harness struct {
	engine     *Engine
	store      *repository.MemoryRecordStore
	transport  *fakeTransport
	deadLetter *memoryDeadLetter
	clock      *fakeClock
}

func newHarness(t *testing.T, mutate ...func(o *Options)) *harness {
	t.Helper()
	clock := &fakeClock{now: time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)}
	store := repository.NewMemoryRecordStore().WithClock(clock.Now)
	transport := &fakeTransport{}
	dl := &memoryDeadLetter{}

	opts := Options{
		Store:      store,
		Transport:  transport,
		DeadLetter: dl,
		Policy: RetryPolicy{
			MaxAttempts:   5,
			BaseDelay:     time.Second,
			MaxDelay:      time.Minute,
			BackoffFactor: 2,
		},
		ConcurrencyLimit: 3,
		TransportTimeout: time.Second,
		Now:              clock.Now,
	}
	for _, m := range mutate {
		m(&opts)
	}

	e, err := NewEngine(opts)
	require.NoError(t, err)
	return &harness{engine: e, store: store, transport: transport, deadLetter: dl, clock: clock}
}

func (h *harness) put(t *testing.T, dataType, payload string, p models.Priority) string {
	t.Helper()
	id, err := h.engine.Put(context.Background(), dataType, json.RawMessage(payload), "user1", p)
	require.NoError(t, err)
	h.clock.Advance(time.Millisecond)
	return id
}

func (h *harness) record(t *testing.T, id string) *models.StagedRecord {
	t.Helper()
	rec, err := h.store.Get(context.Background(), id)
	require.NoError(t, err)
	return rec
}

func unavailable(context.Context, *models.StagedRecord) error {
	return domain.Transient(errors.New("503 service unavailable"))
}

func TestNewEngineRequiresCollaborators(t *testing.T) {
	_, err := NewEngine(Options{Transport: &fakeTransport{}})
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)

	_, err = NewEngine(Options{Store: repository.NewMemoryRecordStore()})
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
}

func TestRetryThenSuccess(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := h.put(t, "mood-entry", `{"mood":7}`, models.PriorityMedium)

	h.transport.set(unavailable)
	res, err := h.engine.SyncAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Synced)
	assert.Equal(t, 1, res.Failed)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, id, res.Errors[0].ID)

	rec := h.record(t, id)
	assert.Equal(t, models.StatusPending, rec.SyncStatus)
	assert.Equal(t, 1, rec.Attempts)
	require.NotNil(t, rec.BackoffUntil)
	assert.Equal(t, h.clock.Now().Add(time.Second), *rec.BackoffUntil)

	// still inside the backoff window
	res, err = h.engine.SyncAll(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.Synced+res.Failed)
	assert.Len(t, h.transport.Calls(), 1)

	h.clock.Advance(2 * time.Second)
	h.transport.set(nil)
	res, err = h.engine.SyncAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Synced)

	rec = h.record(t, id)
	assert.Equal(t, models.StatusSynced, rec.SyncStatus)
	assert.Equal(t, 0, rec.Attempts)
	assert.Nil(t, rec.BackoffUntil)
}

func TestSyncAllEmptyIsNoop(t *testing.T) {
	h := newHarness(t)
	for i := 0; i < 2; i++ {
		res, err := h.engine.SyncAll(context.Background())
		require.NoError(t, err)
		assert.Equal(t, models.SyncResult{Errors: []models.SyncError{}}, res)
	}
}

func TestConcurrentSyncReturnsEmptyResult(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.put(t, "journal", `{}`, models.PriorityMedium)

	entered := make(chan struct{}, 1)
	release := make(chan struct{})
	h.transport.set(func(context.Context, *models.StagedRecord) error {
		entered <- struct{}{}
		<-release
		return nil
	})

	first := make(chan models.SyncResult, 1)
	go func() {
		res, _ := h.engine.SyncAll(ctx)
		first <- res
	}()
	<-entered

	assert.Equal(t, PhaseSyncing, h.engine.State().Phase)
	res, err := h.engine.ProcessSyncQueue(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.SyncResult{Errors: []models.SyncError{}}, res)

	close(release)
	assert.Equal(t, 1, (<-first).Synced)
	assert.Equal(t, PhaseIdle, h.engine.State().Phase)
}

func TestConflictRoundTrip(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	r1 := h.put(t, "journal", `{"text":"a"}`, models.PriorityMedium)
	r2 := h.put(t, "journal", `{"text":"local"}`, models.PriorityMedium)

	var detected []models.ConflictRecord
	dispose := h.engine.Bus().Subscribe(events.EventConflictDetected, func(e *events.Event) error {
		var c models.ConflictRecord
		require.NoError(t, e.Decode(&c))
		detected = append(detected, c)
		return nil
	})
	defer dispose()

	h.transport.set(func(_ context.Context, rec *models.StagedRecord) error {
		if rec.ID == r2 {
			return &domain.ConflictError{Remote: json.RawMessage(`{"text":"remote"}`)}
		}
		return nil
	})

	res, err := h.engine.SyncAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Synced)
	assert.Equal(t, 1, res.Conflicts)

	assert.Equal(t, models.StatusSynced, h.record(t, r1).SyncStatus)
	assert.Equal(t, models.StatusConflict, h.record(t, r2).SyncStatus)
	require.Len(t, detected, 1)
	assert.Equal(t, r2, detected[0].ID)
	assert.JSONEq(t, `{"text":"local"}`, string(detected[0].LocalPayload))
	assert.JSONEq(t, `{"text":"remote"}`, string(detected[0].RemotePayload))

	// conflicts are never retried automatically
	h.clock.Advance(time.Hour)
	calls := len(h.transport.Calls())
	_, err = h.engine.SyncAll(ctx)
	require.NoError(t, err)
	assert.Len(t, h.transport.Calls(), calls)

	conflicts, err := h.engine.ListConflicts(ctx)
	require.NoError(t, err)
	assert.Len(t, conflicts, 1)

	require.NoError(t, h.engine.ResolveConflict(ctx, r2, conflict.Resolution{Strategy: conflict.KeepLocal}))
	assert.Equal(t, models.StatusPending, h.record(t, r2).SyncStatus)
	conflicts, err = h.engine.ListConflicts(ctx)
	require.NoError(t, err)
	assert.Empty(t, conflicts)

	h.transport.set(nil)
	res, err = h.engine.SyncAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Synced)
	assert.Equal(t, models.StatusSynced, h.record(t, r2).SyncStatus)

	err = h.engine.ResolveConflict(ctx, r2, conflict.Resolution{Strategy: conflict.KeepLocal})
	assert.ErrorIs(t, err, domain.ErrNotInConflict)
}

func TestTerminalConvergenceAndRetryFailed(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.Policy.MaxAttempts = 3 })
	ctx := context.Background()
	id := h.put(t, "journal", `{}`, models.PriorityHigh)

	h.transport.set(unavailable)
	for i := 0; i < 3; i++ {
		_, err := h.engine.SyncAll(ctx)
		require.NoError(t, err)
		h.clock.Advance(time.Hour)
	}

	rec := h.record(t, id)
	assert.Equal(t, models.StatusFailed, rec.SyncStatus)
	assert.Equal(t, 3, rec.Attempts)
	require.Len(t, h.deadLetter.recs, 1)
	assert.Equal(t, id, h.deadLetter.recs[0].ID)

	calls := len(h.transport.Calls())
	_, err := h.engine.SyncAll(ctx)
	require.NoError(t, err)
	assert.Len(t, h.transport.Calls(), calls, "failed records are not retried automatically")

	caps, err := h.engine.GetCapabilities(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, caps.FailedItems)

	h.transport.set(nil)
	res, err := h.engine.RetryFailed(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Synced)
	assert.Equal(t, models.StatusSynced, h.record(t, id).SyncStatus)
}

func TestTerminalErrorFailsImmediately(t *testing.T) {
	h := newHarness(t)
	id := h.put(t, "journal", `{}`, models.PriorityMedium)
	h.transport.set(func(context.Context, *models.StagedRecord) error {
		return domain.Terminal(errors.New("400 validation failed"))
	})

	res, err := h.engine.SyncAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0].Error, "validation failed")

	rec := h.record(t, id)
	assert.Equal(t, models.StatusFailed, rec.SyncStatus)
	assert.Equal(t, 1, rec.Attempts)
	require.NotNil(t, rec.LastError)
	assert.Len(t, h.deadLetter.recs, 1)
}

func TestDispatchFollowsPriority(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.ConcurrencyLimit = 1 })
	low := h.put(t, "journal", `{}`, models.PriorityLow)
	med := h.put(t, "mood-entry", `{}`, models.PriorityMedium)
	imm := h.put(t, "crisis-report", `{}`, models.PriorityImmediate)
	high := h.put(t, "journal", `{}`, models.PriorityHigh)

	res, err := h.engine.SyncAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, res.Synced)
	assert.Equal(t, []string{imm, high, med, low}, h.transport.Calls())
}

func TestSyncType(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	mood := h.put(t, "mood-entry", `{}`, models.PriorityMedium)
	journal := h.put(t, "journal", `{}`, models.PriorityMedium)

	res, err := h.engine.SyncType(ctx, "mood-entry")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Synced)
	assert.Equal(t, []string{mood}, h.transport.Calls())
	assert.Equal(t, models.StatusPending, h.record(t, journal).SyncStatus)

	_, err = h.engine.SyncType(ctx, "")
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
}

func TestOfflineStartsNoBatch(t *testing.T) {
	h := newHarness(t)
	id := h.put(t, "journal", `{}`, models.PriorityMedium)

	h.engine.NoteConnectivity(false)
	assert.False(t, h.engine.State().Online)

	res, err := h.engine.SyncAll(context.Background())
	require.NoError(t, err)
	assert.Zero(t, res.Synced)
	assert.Empty(t, h.transport.Calls())
	assert.Equal(t, models.StatusPending, h.record(t, id).SyncStatus)

	h.engine.NoteConnectivity(true)
	res, err = h.engine.SyncAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Synced)
}

func TestAbortLeavesRecordPending(t *testing.T) {
	h := newHarness(t)
	id := h.put(t, "journal", `{}`, models.PriorityMedium)

	entered := make(chan struct{}, 1)
	h.transport.set(func(ctx context.Context, _ *models.StagedRecord) error {
		entered <- struct{}{}
		<-ctx.Done()
		return ctx.Err()
	})

	done := make(chan error, 1)
	go func() {
		_, err := h.engine.SyncAll(context.Background())
		done <- err
	}()
	<-entered
	h.engine.Abort()
	require.NoError(t, <-done)

	rec := h.record(t, id)
	assert.Equal(t, models.StatusPending, rec.SyncStatus)
	assert.Equal(t, 0, rec.Attempts)
}

func TestTransportTimeoutIsRetryable(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.TransportTimeout = 20 * time.Millisecond })
	id := h.put(t, "journal", `{}`, models.PriorityMedium)
	h.transport.set(func(ctx context.Context, _ *models.StagedRecord) error {
		<-ctx.Done()
		return ctx.Err()
	})

	res, err := h.engine.SyncAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)

	rec := h.record(t, id)
	assert.Equal(t, models.StatusPending, rec.SyncStatus)
	assert.Equal(t, 1, rec.Attempts)
}

func TestHungTransportIsAbandonedAfterTimeout(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.TransportTimeout = 50 * time.Millisecond })
	id := h.put(t, "journal", `{}`, models.PriorityMedium)

	block := make(chan struct{})
	t.Cleanup(func() { close(block) })
	h.transport.set(func(context.Context, *models.StagedRecord) error {
		<-block
		return nil
	})

	type outcome struct {
		res models.SyncResult
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := h.engine.SyncAll(context.Background())
		done <- outcome{res, err}
	}()

	var got outcome
	select {
	case got = <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("SyncAll still blocked after a 50ms transport timeout")
	}
	require.NoError(t, got.err)
	assert.Equal(t, 1, got.res.Failed)
	require.Len(t, got.res.Errors, 1)
	assert.Contains(t, got.res.Errors[0].Error, context.DeadlineExceeded.Error())

	rec := h.record(t, id)
	assert.Equal(t, models.StatusPending, rec.SyncStatus)
	assert.Equal(t, 1, rec.Attempts)
	assert.Equal(t, PhaseIdle, h.engine.State().Phase)

	// the guard was released, so the next cycle delivers
	h.transport.set(nil)
	h.clock.Advance(2 * time.Minute)
	res, err := h.engine.SyncAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Synced)
	assert.Equal(t, models.StatusSynced, h.record(t, id).SyncStatus)
}

func TestRecordClearedMidDeliveryIsNotCounted(t *testing.T) {
	h := newHarness(t)
	h.put(t, "journal", `{}`, models.PriorityMedium)
	h.transport.set(func(ctx context.Context, _ *models.StagedRecord) error {
		return h.engine.ClearAll(context.WithoutCancel(ctx))
	})

	res, err := h.engine.SyncAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, res.Synced)
	assert.Empty(t, res.Errors)
}

func TestNoDataLossUnderConcurrentPuts(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	var sent sync.Map
	h.transport.set(func(_ context.Context, rec *models.StagedRecord) error {
		sent.Store(rec.ID, true)
		time.Sleep(time.Millisecond)
		return nil
	})

	const n = 40
	ids := make(chan string, n)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < n; i++ {
			id, err := h.engine.Put(ctx, "mood-entry", json.RawMessage(fmt.Sprintf(`{"mood":%d}`, i)), "user1", models.PriorityMedium)
			if err == nil {
				ids <- id
			}
		}
	}()

	for i := 0; i < 5; i++ {
		_, err := h.engine.SyncAll(ctx)
		require.NoError(t, err)
	}
	wg.Wait()
	close(ids)

	for i := 0; i < 5; i++ {
		_, err := h.engine.SyncAll(ctx)
		require.NoError(t, err)
	}

	count := 0
	for id := range ids {
		count++
		assert.Equal(t, models.StatusSynced, h.record(t, id).SyncStatus, id)
		_, ok := sent.Load(id)
		assert.True(t, ok, id)
	}
	assert.Equal(t, n, count)
}

func TestPutValidation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.engine.Put(ctx, "", json.RawMessage(`{}`), "u", models.PriorityLow)
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)

	_, err = h.engine.Put(ctx, "journal", json.RawMessage(`{oops`), "u", models.PriorityLow)
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)

	_, err = h.engine.Put(ctx, "journal", json.RawMessage(`{}`), "u", "urgent")
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)

	id, err := h.engine.Put(ctx, "journal", json.RawMessage(`{}`), "u", "")
	require.NoError(t, err)
	assert.Equal(t, models.PriorityMedium, h.record(t, id).Priority)
}

func TestStageTypedPayload(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	type moodEntry struct {
		Mood int    `json:"mood"`
		Note string `json:"note"`
	}
	id, err := Stage(ctx, h.engine, "mood-entry", moodEntry{Mood: 7, Note: "ok"}, "user1", models.PriorityMedium)
	require.NoError(t, err)

	rec, err := h.engine.Get(ctx, id)
	require.NoError(t, err)
	got, err := models.DecodePayload[moodEntry](rec)
	require.NoError(t, err)
	assert.Equal(t, moodEntry{Mood: 7, Note: "ok"}, got)

	byType, err := h.engine.GetByType(ctx, "mood-entry", "user1")
	require.NoError(t, err)
	assert.Len(t, byType, 1)

	_, err = h.engine.GetByType(ctx, "", "")
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
}

func TestCapabilitiesAndClear(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	caps, err := h.engine.GetCapabilities(ctx)
	require.NoError(t, err)
	assert.Nil(t, caps.LastSync)

	h.put(t, "journal", `{}`, models.PriorityMedium)
	_, err = h.engine.SyncAll(ctx)
	require.NoError(t, err)

	h.put(t, "journal", `{}`, models.PriorityMedium)
	h.put(t, "journal", `{}`, models.PriorityLow)

	caps, err = h.engine.GetCapabilities(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, caps.PendingItems)
	require.NotNil(t, caps.LastSync)
	assert.True(t, caps.LastSync.Before(h.clock.Now()))

	require.NoError(t, h.engine.ClearPending(ctx))
	caps, err = h.engine.GetCapabilities(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, caps.PendingItems)

	res, err := h.engine.SyncAll(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.Synced)

	require.NoError(t, h.engine.ClearAll(ctx))
	all, err := h.engine.GetByType(ctx, "journal", "")
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestEventsAndStateNotifications(t *testing.T) {
	h := newHarness(t)
	h.put(t, "journal", `{}`, models.PriorityMedium)

	var completed []models.SyncResult
	h.engine.Bus().Subscribe(events.EventSyncComplete, func(e *events.Event) error {
		var r models.SyncResult
		require.NoError(t, e.Decode(&r))
		completed = append(completed, r)
		return nil
	})

	var phases []Phase
	dispose := h.engine.Subscribe(func(s State) { phases = append(phases, s.Phase) })

	_, err := h.engine.SyncAll(context.Background())
	require.NoError(t, err)
	dispose()
	_, err = h.engine.SyncAll(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []Phase{PhaseSyncing, PhaseIdle}, phases)
	require.Len(t, completed, 2)
	assert.Equal(t, 1, completed[0].Synced)
	assert.NotNil(t, h.engine.State().LastSync)
}

type brokenStore struct {
	*repository.MemoryRecordStore
}

func (b brokenStore) ListByStatus(context.Context, ...models.SyncStatus) ([]*models.StagedRecord, error) {
	return nil, domain.WrapStorage("list by status", errors.New("disk I/O error"))
}

func TestStorageFailurePublishesSyncFailed(t *testing.T) {
	store := brokenStore{repository.NewMemoryRecordStore()}
	bus := events.NewEventBus()
	e, err := NewEngine(Options{Store: store, Transport: &fakeTransport{}, Bus: bus})
	require.NoError(t, err)

	var failures []events.SyncFailedPayload
	bus.Subscribe(events.EventSyncFailed, func(ev *events.Event) error {
		var p events.SyncFailedPayload
		require.NoError(t, ev.Decode(&p))
		failures = append(failures, p)
		return nil
	})

	_, err = e.SyncAll(context.Background())
	var se *domain.StorageError
	require.True(t, errors.As(err, &se))
	require.Len(t, failures, 1)
	assert.Contains(t, failures[0].Error, "disk I/O error")
	assert.NotEmpty(t, e.State().LastError)
}

func TestRunDrainsImmediateWrites(t *testing.T) {
	h := newHarness(t)
	var delivered atomic.Int32
	h.transport.set(func(context.Context, *models.StagedRecord) error {
		delivered.Add(1)
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stopped := make(chan error, 1)
	go func() { stopped <- h.engine.Run(ctx) }()

	id := h.put(t, "crisis-report", `{"level":"high"}`, models.PriorityImmediate)
	assert.Eventually(t, func() bool {
		rec, err := h.store.Get(context.Background(), id)
		return err == nil && rec.SyncStatus == models.StatusSynced
	}, 2*time.Second, 10*time.Millisecond)

	h.engine.Stop()
	select {
	case err := <-stopped:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after Stop")
	}
	assert.Equal(t, int32(1), delivered.Load())
}

func TestRunPurgesPastRetention(t *testing.T) {
	h := newHarness(t, func(o *Options) {
		o.SyncInterval = 10 * time.Millisecond
		o.Retention = time.Hour
	})
	id := h.put(t, "journal", `{}`, models.PriorityMedium)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = h.engine.Run(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool {
		rec, err := h.store.Get(context.Background(), id)
		return err == nil && rec.SyncStatus == models.StatusSynced
	}, 2*time.Second, 5*time.Millisecond)

	h.clock.Advance(2 * time.Hour)
	assert.Eventually(t, func() bool {
		_, err := h.store.Get(context.Background(), id)
		return errors.Is(err, domain.ErrNotFound)
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	<-done
}
