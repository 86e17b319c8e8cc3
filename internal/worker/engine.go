package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"mindsync/internal/conflict"
	"mindsync/internal/domain"
	"mindsync/internal/events"
	"mindsync/internal/keylock"
	"mindsync/internal/metrics"
	"mindsync/internal/models"
	"mindsync/internal/queue"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Options wires the engine to its collaborators.
type Options struct {
	Store      domain.RecordStore
	Transport  domain.Transport
	Bus        *events.EventBus
	DeadLetter domain.DeadLetterSink
	Policy     RetryPolicy

	ConcurrencyLimit int
	TransportTimeout time.Duration
	// SyncInterval drives the periodic cycle in Run. Zero disables the timer.
	SyncInterval time.Duration
	// Retention purges synced records older than this in Run. Zero keeps them.
	Retention time.Duration

	Now    func() time.Time
	Logger *zerolog.Logger
}

// Engine stages writes locally and drains them to the remote transport.
type Engine struct {
	store      domain.RecordStore
	transport  domain.Transport
	bus        *events.EventBus
	deadLetter domain.DeadLetterSink
	queue      *queue.Queue
	tracker    *conflict.Tracker
	locks      *keylock.Locker
	policy     RetryPolicy

	limit     int
	timeout   time.Duration
	interval  time.Duration
	retention time.Duration
	now       func() time.Time
	logger    *zerolog.Logger

	running atomic.Bool
	online  atomic.Bool
	kick    chan struct{}
	done    chan struct{}
	stop    sync.Once

	mu          sync.Mutex
	cancelCycle context.CancelFunc
	state       State
	listeners   map[uint64]func(State)
	nextID      uint64
}

func NewEngine(opts Options) (*Engine, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("engine store: %w", domain.ErrInvalidArgument)
	}
	if opts.Transport == nil {
		return nil, fmt.Errorf("engine transport: %w", domain.ErrInvalidArgument)
	}
	if opts.ConcurrencyLimit <= 0 {
		opts.ConcurrencyLimit = models.DefaultConcurrencyLimit
	}
	if opts.TransportTimeout <= 0 {
		opts.TransportTimeout = 15 * time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Bus == nil {
		opts.Bus = events.NewEventBus()
	}
	logger := opts.Logger
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	l := logger.With().Str("component", "sync-engine").Logger()
	policy := opts.Policy.normalized()

	e := &Engine{
		store:      opts.Store,
		transport:  opts.Transport,
		bus:        opts.Bus,
		deadLetter: opts.DeadLetter,
		tracker:    conflict.NewTracker(opts.Store, opts.Bus, opts.Now, &l),
		locks:      keylock.New(),
		policy:     policy,
		limit:      opts.ConcurrencyLimit,
		timeout:    opts.TransportTimeout,
		interval:   opts.SyncInterval,
		retention:  opts.Retention,
		now:        opts.Now,
		logger:     &l,
		kick:       make(chan struct{}, 1),
		done:       make(chan struct{}),
		listeners:  make(map[uint64]func(State)),
	}
	e.queue = queue.New(opts.Store, queue.Options{
		MaxAttempts: policy.MaxAttempts,
		Backoff:     policy.Delay,
		Now:         opts.Now,
		Logger:      &l,
	})
	e.online.Store(true)
	e.state = State{Phase: PhaseIdle, Online: true}
	return e, nil
}

// Bus exposes the notification bus for subscribers.
func (e *Engine) Bus() *events.EventBus { return e.bus }

// Put stages a record as pending and returns its id.
func (e *Engine) Put(ctx context.Context, dataType string, payload json.RawMessage, ownerID string, priority models.Priority) (string, error) {
	if dataType == "" {
		return "", fmt.Errorf("data type is required: %w", domain.ErrInvalidArgument)
	}
	if !json.Valid(payload) {
		return "", fmt.Errorf("payload must be valid JSON: %w", domain.ErrInvalidArgument)
	}
	if priority == "" {
		priority = models.PriorityMedium
	}
	if !priority.Valid() {
		return "", fmt.Errorf("unknown priority %q: %w", priority, domain.ErrInvalidArgument)
	}

	now := e.now()
	rec := &models.StagedRecord{
		ID:         uuid.NewString(),
		DataType:   dataType,
		Payload:    append(json.RawMessage(nil), payload...),
		OwnerID:    ownerID,
		Priority:   priority,
		SyncStatus: models.StatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := e.store.Put(ctx, rec); err != nil {
		return "", err
	}

	e.queue.Enqueue(rec.Task())
	metrics.IncStaged(string(priority))
	e.logger.Debug().Str("id", rec.ID).Str("data_type", dataType).Str("priority", string(priority)).Msg("record staged")

	if priority == models.PriorityImmediate {
		e.Kick()
	}
	return rec.ID, nil
}

// Stage marshals a typed payload and stages it.
func Stage[T any](ctx context.Context, e *Engine, dataType string, payload T, ownerID string, priority models.Priority) (string, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encode payload: %w: %w", err, domain.ErrInvalidArgument)
	}
	return e.Put(ctx, dataType, raw, ownerID, priority)
}

func (e *Engine) Get(ctx context.Context, id string) (*models.StagedRecord, error) {
	return e.store.Get(ctx, id)
}

// GetByType lists records of a data type; an empty ownerID matches all owners.
func (e *Engine) GetByType(ctx context.Context, dataType, ownerID string) ([]*models.StagedRecord, error) {
	if dataType == "" {
		return nil, fmt.Errorf("data type is required: %w", domain.ErrInvalidArgument)
	}
	return e.store.GetByType(ctx, dataType, ownerID)
}

// RetryFailed moves failed records back to pending with a fresh attempt budget, then syncs.
func (e *Engine) RetryFailed(ctx context.Context) (models.SyncResult, error) {
	failed, err := e.store.ListByStatus(ctx, models.StatusFailed)
	if err != nil {
		return newResult(), err
	}

	reset := 0
	for _, rec := range failed {
		unlock := e.locks.Lock(rec.ID)
		updated, err := e.store.Update(ctx, rec.ID, func(r *models.StagedRecord) error {
			if r.SyncStatus != models.StatusFailed {
				return errSkip
			}
			r.SyncStatus = models.StatusPending
			r.Attempts = 0
			r.BackoffUntil = nil
			r.LastError = nil
			return nil
		})
		unlock()
		if errors.Is(err, errSkip) || errors.Is(err, domain.ErrNotFound) {
			continue
		}
		if err != nil {
			return newResult(), err
		}
		e.queue.Enqueue(updated.Task())
		reset++
	}
	e.logger.Info().Int("count", reset).Msg("failed records reset for retry")

	return e.SyncAll(ctx)
}

// ResolveConflict applies the host's resolution and re-enqueues the record.
func (e *Engine) ResolveConflict(ctx context.Context, id string, res conflict.Resolution) error {
	unlock := e.locks.Lock(id)
	defer unlock()

	rec, err := e.tracker.Resolve(ctx, id, res)
	if err != nil {
		return err
	}
	e.queue.Enqueue(rec.Task())
	return nil
}

func (e *Engine) ListConflicts(ctx context.Context) ([]*models.ConflictRecord, error) {
	return e.tracker.List(ctx)
}

// ClearAll deletes every record and conflict.
func (e *Engine) ClearAll(ctx context.Context) error {
	if err := e.store.ClearAll(ctx); err != nil {
		return err
	}
	e.queue.Clear()
	e.logger.Warn().Msg("all staged records cleared")
	return nil
}

// ClearPending deletes records that have not been dispatched yet.
func (e *Engine) ClearPending(ctx context.Context) error {
	ids, err := e.store.RemoveByStatus(ctx, models.StatusPending)
	if err != nil {
		return err
	}
	for _, id := range ids {
		e.queue.Remove(id)
	}
	e.logger.Info().Int("count", len(ids)).Msg("pending records cleared")
	return nil
}

// GetCapabilities summarizes queue health.
func (e *Engine) GetCapabilities(ctx context.Context) (models.CapabilitySnapshot, error) {
	counts, err := e.store.CountByStatus(ctx)
	if err != nil {
		return models.CapabilitySnapshot{}, err
	}
	snap := models.CapabilitySnapshot{
		PendingItems: counts[models.StatusPending] + counts[models.StatusSyncing],
		FailedItems:  counts[models.StatusFailed],
		Conflicts:    counts[models.StatusConflict],
	}

	raw, err := e.store.GetMeta(ctx, models.MetaLastSync)
	if err != nil {
		return models.CapabilitySnapshot{}, err
	}
	if raw != "" {
		t, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			e.logger.Warn().Err(err).Str("value", raw).Msg("unreadable last sync stamp")
		} else {
			snap.LastSync = &t
		}
	}
	return snap, nil
}

// Kick asks Run to drain the queue soon. It never blocks.
func (e *Engine) Kick() {
	select {
	case e.kick <- struct{}{}:
	default:
	}
}

// NoteConnectivity records the network state. While offline no new batch starts.
func (e *Engine) NoteConnectivity(online bool) {
	if e.online.Swap(online) == online {
		return
	}
	e.logger.Info().Bool("online", online).Msg("connectivity changed")
	e.updateState(func(s *State) { s.Online = online })
}

func (e *Engine) IsOnline() bool {
	return e.online.Load()
}

func newResult() models.SyncResult {
	return models.SyncResult{Errors: []models.SyncError{}}
}

var errSkip = errors.New("skip")
