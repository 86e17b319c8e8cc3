package worker

import (
	"context"
	"errors"
	"time"

	"mindsync/internal/domain"
	"mindsync/internal/events"
	"mindsync/internal/metrics"
	"mindsync/internal/models"

	"golang.org/x/sync/errgroup"
)

type outcome int

const (
	outcomeSkipped outcome = iota
	outcomeSynced
	outcomeRetry
	outcomeFailed
	outcomeConflict
)

type itemResult struct {
	outcome outcome
	err     *models.SyncError
}

// SyncAll indexes every pending record and drains the queue until nothing is eligible.
func (e *Engine) SyncAll(ctx context.Context) (models.SyncResult, error) {
	return e.cycle(ctx, "all", e.loadQueue, nil)
}

// SyncType drains only records of one data type.
func (e *Engine) SyncType(ctx context.Context, dataType string) (models.SyncResult, error) {
	if dataType == "" {
		return newResult(), domain.ErrInvalidArgument
	}
	return e.cycle(ctx, "type", e.loadQueue, func(t models.SyncTask) bool {
		return t.DataType == dataType
	})
}

// ProcessSyncQueue drains what is already queued and eligible.
func (e *Engine) ProcessSyncQueue(ctx context.Context) (models.SyncResult, error) {
	return e.cycle(ctx, "queue", nil, nil)
}

func (e *Engine) loadQueue(ctx context.Context) error {
	n, err := e.queue.Load(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		e.logger.Debug().Int("loaded", n).Msg("queue reloaded from store")
	}
	return nil
}

// cycle runs one guarded drain. A concurrent call gets an empty result.
func (e *Engine) cycle(ctx context.Context, kind string, prepare func(context.Context) error, filter func(models.SyncTask) bool) (models.SyncResult, error) {
	if !e.running.CompareAndSwap(false, true) {
		e.logger.Debug().Str("kind", kind).Msg("sync already running, skipping")
		return newResult(), nil
	}
	defer e.running.Store(false)

	cycleCtx, cancel := context.WithCancel(ctx)
	e.mu.Lock()
	e.cancelCycle = cancel
	e.mu.Unlock()
	defer func() {
		cancel()
		e.mu.Lock()
		e.cancelCycle = nil
		e.mu.Unlock()
	}()

	started := time.Now()
	e.updateState(func(s *State) { s.Phase = PhaseSyncing })

	result, err := e.drain(cycleCtx, prepare, filter)
	metrics.ObserveCycle(kind, time.Since(started))

	if err == nil && ctx.Err() != nil {
		err = ctx.Err()
	}
	if err != nil {
		e.logger.Error().Err(err).Str("kind", kind).Msg("sync cycle failed")
		if pubErr := e.bus.PublishJSON(events.EventSyncFailed, events.SyncFailedPayload{Error: err.Error(), At: e.now()}); pubErr != nil {
			e.logger.Error().Err(pubErr).Msg("publish sync-failed")
		}
		e.updateState(func(s *State) {
			s.Phase = PhaseIdle
			s.LastResult = result
			s.LastError = err.Error()
		})
		return result, err
	}

	finished := e.now()
	if err := e.store.SetMeta(context.WithoutCancel(ctx), models.MetaLastSync, finished.Format(time.RFC3339Nano)); err != nil {
		e.logger.Error().Err(err).Msg("persist last sync")
	}
	if err := e.bus.PublishJSON(events.EventSyncComplete, result); err != nil {
		e.logger.Error().Err(err).Msg("publish sync-complete")
	}
	e.updateState(func(s *State) {
		s.Phase = PhaseIdle
		s.LastSync = &finished
		s.LastResult = result
		s.LastError = ""
	})

	e.logger.Info().
		Str("kind", kind).
		Int("synced", result.Synced).
		Int("failed", result.Failed).
		Int("conflicts", result.Conflicts).
		Dur("took", time.Since(started)).
		Msg("sync cycle finished")
	return result, nil
}

func (e *Engine) drain(ctx context.Context, prepare func(context.Context) error, filter func(models.SyncTask) bool) (models.SyncResult, error) {
	result := newResult()
	if prepare != nil {
		if err := prepare(ctx); err != nil {
			return result, err
		}
	}

	for ctx.Err() == nil {
		if !e.IsOnline() {
			e.logger.Info().Int("queued", e.queue.Len()).Msg("offline, no new batch started")
			break
		}
		batch := e.queue.DequeueBatch(e.limit, filter)
		if len(batch) == 0 {
			break
		}
		br, err := e.dispatchBatch(ctx, batch)
		result.Merge(br)
		if err != nil {
			return result, err
		}
	}
	return result, nil
}

// dispatchBatch sends every task of the batch and waits for all of them to settle.
func (e *Engine) dispatchBatch(ctx context.Context, batch []models.SyncTask) (models.SyncResult, error) {
	results := make([]itemResult, len(batch))

	var g errgroup.Group
	g.SetLimit(e.limit)
	for i, task := range batch {
		g.Go(func() error {
			r, err := e.dispatch(ctx, task)
			results[i] = r
			return err
		})
	}
	err := g.Wait()

	out := newResult()
	for _, r := range results {
		switch r.outcome {
		case outcomeSynced:
			out.Synced++
		case outcomeRetry, outcomeFailed:
			out.Failed++
		case outcomeConflict:
			out.Conflicts++
		}
		if r.err != nil {
			out.Errors = append(out.Errors, *r.err)
		}
	}
	return out, err
}

// dispatch delivers one record. Only local storage failures are returned as errors.
func (e *Engine) dispatch(ctx context.Context, task models.SyncTask) (itemResult, error) {
	unlock := e.locks.Lock(task.ID)
	defer unlock()

	// settlement must land even if the cycle is aborted
	settleCtx := context.WithoutCancel(ctx)

	if ctx.Err() != nil {
		return itemResult{}, e.release(settleCtx, task.ID)
	}

	rec, err := e.store.Update(settleCtx, task.ID, func(r *models.StagedRecord) error {
		if r.SyncStatus != models.StatusPending {
			return errSkip
		}
		r.SyncStatus = models.StatusSyncing
		return nil
	})
	if errors.Is(err, errSkip) || errors.Is(err, domain.ErrNotFound) {
		e.queue.Remove(task.ID)
		return itemResult{}, nil
	}
	if err != nil {
		e.queue.Remove(task.ID)
		return itemResult{}, err
	}

	sendErr := e.send(ctx, rec.Clone())

	if sendErr != nil && ctx.Err() != nil {
		e.logger.Debug().Str("id", task.ID).Msg("delivery aborted, record stays pending")
		return itemResult{}, e.release(settleCtx, task.ID)
	}

	kind := domain.Classify(sendErr)
	metrics.IncOutcome(string(kind))

	switch kind {
	case domain.OutcomeSuccess:
		if err := e.queue.Ack(settleCtx, task.ID); err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return itemResult{}, nil
			}
			return itemResult{}, err
		}
		return itemResult{outcome: outcomeSynced}, nil

	case domain.OutcomeConflict:
		var ce *domain.ConflictError
		errors.As(sendErr, &ce)
		e.queue.Remove(task.ID)
		if _, err := e.tracker.Detect(settleCtx, task.ID, ce.Remote, sendErr); err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return itemResult{}, nil
			}
			return itemResult{}, err
		}
		return itemResult{outcome: outcomeConflict, err: e.syncError(task.ID, sendErr)}, nil

	default:
		retryable := kind == domain.OutcomeRetryable
		updated, err := e.queue.Nack(settleCtx, task.ID, retryable, sendErr)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return itemResult{}, nil
			}
			return itemResult{}, err
		}
		if updated.SyncStatus != models.StatusFailed {
			e.logger.Debug().Str("id", task.ID).Int("attempts", updated.Attempts).Time("backoff_until", *updated.BackoffUntil).Err(sendErr).Msg("delivery failed, will retry")
			return itemResult{outcome: outcomeRetry, err: e.syncError(task.ID, sendErr)}, nil
		}

		e.logger.Warn().Str("id", task.ID).Int("attempts", updated.Attempts).Err(sendErr).Msg("record failed")
		e.pushDeadLetter(settleCtx, updated)
		return itemResult{outcome: outcomeFailed, err: e.syncError(task.ID, sendErr)}, nil
	}
}

// send bounds one transport call by the engine timeout. A Send that ignores
// its context is abandoned once the deadline passes; its late result is dropped.
func (e *Engine) send(ctx context.Context, rec *models.StagedRecord) error {
	callCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- e.transport.Send(callCtx, rec) }()

	select {
	case err := <-done:
		return err
	case <-callCtx.Done():
		return domain.Transient(callCtx.Err())
	}
}

func (e *Engine) release(ctx context.Context, id string) error {
	err := e.queue.Release(ctx, id)
	if errors.Is(err, domain.ErrNotFound) {
		return nil
	}
	return err
}

func (e *Engine) pushDeadLetter(ctx context.Context, rec *models.StagedRecord) {
	if e.deadLetter == nil {
		return
	}
	if err := e.deadLetter.Push(ctx, rec); err != nil {
		e.logger.Error().Err(err).Str("id", rec.ID).Msg("push dead letter")
	}
}

func (e *Engine) syncError(id string, err error) *models.SyncError {
	return &models.SyncError{ID: id, Error: err.Error(), Timestamp: e.now()}
}
