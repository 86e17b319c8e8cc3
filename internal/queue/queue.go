// Package queue orders staged records for delivery and settles their outcomes in the store.
package queue

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"mindsync/internal/domain"
	"mindsync/internal/metrics"
	"mindsync/internal/models"

	"github.com/rs/zerolog"
)

// Options configures settlement of failed deliveries.
type Options struct {
	MaxAttempts int
	// Backoff returns the wait before retrying after the given 0-based failed attempt.
	Backoff func(attempt int) time.Duration
	Now     func() time.Time
	Logger  *zerolog.Logger
}

// Queue is an in-memory priority index over the pending records of a RecordStore.
// The store stays the source of truth; the queue only decides what goes next.
type Queue struct {
	store  domain.RecordStore
	opts   Options
	logger *zerolog.Logger

	mu       sync.Mutex
	heap     taskHeap
	entries  map[string]*item
	inflight map[string]struct{}
}

func New(store domain.RecordStore, opts Options) *Queue {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = models.DefaultMaxAttempts
	}
	if opts.Backoff == nil {
		opts.Backoff = func(int) time.Duration { return time.Second }
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Queue{
		store:    store,
		opts:     opts,
		logger:   logger,
		entries:  make(map[string]*item),
		inflight: make(map[string]struct{}),
	}
}

// Load indexes every pending record of the store. Records stuck in syncing from
// an interrupted run go back to pending without an attempt being counted.
func (q *Queue) Load(ctx context.Context) (int, error) {
	records, err := q.store.ListByStatus(ctx, models.StatusPending, models.StatusSyncing)
	if err != nil {
		return 0, err
	}

	loaded := 0
	for _, rec := range records {
		if rec.SyncStatus == models.StatusSyncing {
			if q.isInflight(rec.ID) {
				continue
			}
			if err := q.store.UpdateStatus(ctx, rec.ID, models.StatusPending, ""); err != nil {
				if errors.Is(err, domain.ErrNotFound) {
					continue
				}
				return loaded, err
			}
			q.logger.Info().Str("id", rec.ID).Msg("recovered record interrupted mid-sync")
		}
		if q.Enqueue(rec.Task()) {
			loaded++
		}
	}
	return loaded, nil
}

// Enqueue adds a task. It reports false when the id is already queued or in flight.
func (q *Queue) Enqueue(task models.SyncTask) bool {
	if task.ID == "" {
		return false
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, busy := q.inflight[task.ID]; busy {
		return false
	}
	if it, ok := q.entries[task.ID]; ok {
		// refresh ordering data in place
		it.task = task
		heap.Fix(&q.heap, it.index)
		return false
	}

	it := &item{task: task}
	heap.Push(&q.heap, it)
	q.entries[task.ID] = it
	metrics.SetQueueDepth(len(q.entries))
	return true
}

// DequeueBatch removes up to max eligible tasks in priority order and marks them in flight.
// Tasks still in backoff, or rejected by filter, stay queued.
func (q *Queue) DequeueBatch(max int, filter func(models.SyncTask) bool) []models.SyncTask {
	if max <= 0 {
		return nil
	}
	now := q.opts.Now()

	q.mu.Lock()
	defer q.mu.Unlock()

	var (
		batch   []models.SyncTask
		skipped []*item
	)
	for len(batch) < max && q.heap.Len() > 0 {
		it := heap.Pop(&q.heap).(*item)
		if it.task.ScheduledAt.After(now) || (filter != nil && !filter(it.task)) {
			skipped = append(skipped, it)
			continue
		}
		delete(q.entries, it.task.ID)
		q.inflight[it.task.ID] = struct{}{}
		batch = append(batch, it.task)
	}
	for _, it := range skipped {
		heap.Push(&q.heap, it)
	}
	metrics.SetQueueDepth(len(q.entries))
	return batch
}

// Ack records a successful delivery.
func (q *Queue) Ack(ctx context.Context, id string) error {
	defer q.settle(id)
	return q.store.UpdateStatus(ctx, id, models.StatusSynced, "")
}

// Nack records a failed delivery attempt. A retryable failure below the attempt
// ceiling goes back to pending with a backoff; anything else becomes failed.
func (q *Queue) Nack(ctx context.Context, id string, retryable bool, cause error) (*models.StagedRecord, error) {
	defer q.settle(id)

	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	now := q.opts.Now()

	rec, err := q.store.Update(ctx, id, func(rec *models.StagedRecord) error {
		rec.Attempts++
		if msg != "" {
			rec.LastError = &msg
		}
		if retryable && rec.Attempts < q.opts.MaxAttempts {
			until := now.Add(q.opts.Backoff(rec.Attempts - 1))
			rec.SyncStatus = models.StatusPending
			rec.BackoffUntil = &until
			return nil
		}
		rec.SyncStatus = models.StatusFailed
		rec.BackoffUntil = nil
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("nack %s: %w", id, err)
	}

	if rec.SyncStatus == models.StatusPending {
		q.settle(id)
		q.Enqueue(rec.Task())
	}
	return rec, nil
}

// Release returns an in-flight task to pending without counting an attempt.
func (q *Queue) Release(ctx context.Context, id string) error {
	defer q.settle(id)

	rec, err := q.store.Update(ctx, id, func(rec *models.StagedRecord) error {
		if rec.SyncStatus == models.StatusSyncing {
			rec.SyncStatus = models.StatusPending
		}
		return nil
	})
	if err != nil {
		return err
	}
	if rec.SyncStatus == models.StatusPending {
		q.settle(id)
		q.Enqueue(rec.Task())
	}
	return nil
}

// Remove forgets an id whether it is queued or in flight.
func (q *Queue) Remove(id string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if it, ok := q.entries[id]; ok {
		heap.Remove(&q.heap, it.index)
		delete(q.entries, id)
	}
	delete(q.inflight, id)
	metrics.SetQueueDepth(len(q.entries))
}

// Clear drops every queued entry. In-flight ids are kept until they settle.
func (q *Queue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.heap = nil
	q.entries = make(map[string]*item)
	metrics.SetQueueDepth(0)
}

// Len is the number of queued tasks, eligible or not.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// Inflight is the number of dequeued tasks not yet settled.
func (q *Queue) Inflight() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.inflight)
}

// NextReady returns the earliest time a queued task becomes eligible, if any.
func (q *Queue) NextReady() (time.Time, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var (
		next  time.Time
		found bool
	)
	for _, it := range q.entries {
		if !found || it.task.ScheduledAt.Before(next) {
			next = it.task.ScheduledAt
			found = true
		}
	}
	return next, found
}

func (q *Queue) settle(id string) {
	q.mu.Lock()
	delete(q.inflight, id)
	q.mu.Unlock()
}

func (q *Queue) isInflight(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.inflight[id]
	return ok
}

type item struct {
	task  models.SyncTask
	index int
}

// taskHeap orders by priority rank, then creation time, then id.
type taskHeap []*item

func (h taskHeap) Len() int { return len(h) }

func (h taskHeap) Less(i, j int) bool {
	a, b := h[i].task, h[j].task
	if ra, rb := a.Priority.Rank(), b.Priority.Rank(); ra != rb {
		return ra > rb
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}

func (h taskHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *taskHeap) Push(x any) {
	it := x.(*item)
	it.index = len(*h)
	*h = append(*h, it)
}

func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	it.index = -1
	*h = old[:n-1]
	return it
}
