package worker

import (
	"context"
	"time"

	"mindsync/internal/models"
)

// Run drives periodic cycles until ctx is done or Stop is called.
// A kick (immediate-priority write) drains the queue without waiting for the timer.
func (e *Engine) Run(ctx context.Context) error {
	e.logger.Info().Dur("interval", e.interval).Int("concurrency", e.limit).Msg("sync engine started")
	defer e.logger.Info().Msg("sync engine stopped")

	e.runCycle(ctx, e.SyncAll)

	var tick <-chan time.Time
	if e.interval > 0 {
		ticker := time.NewTicker(e.interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-e.done:
			return nil
		case <-tick:
			e.runCycle(ctx, e.SyncAll)
			e.purge(ctx)
		case <-e.kick:
			e.runCycle(ctx, e.ProcessSyncQueue)
		}
	}
}

// Stop aborts the active cycle on a best-effort basis and ends Run.
// Records whose delivery was cut short stay pending.
func (e *Engine) Stop() {
	e.stop.Do(func() { close(e.done) })
	e.Abort()
}

// Abort cancels the active cycle, if any, without stopping Run.
func (e *Engine) Abort() {
	e.mu.Lock()
	cancel := e.cancelCycle
	e.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (e *Engine) runCycle(ctx context.Context, fn func(context.Context) (models.SyncResult, error)) {
	if !e.IsOnline() || ctx.Err() != nil {
		return
	}
	// failures are logged and published by cycle
	_, _ = fn(ctx)
}

func (e *Engine) purge(ctx context.Context) {
	if e.retention <= 0 {
		return
	}
	n, err := e.store.PurgeSynced(ctx, e.now().Add(-e.retention))
	if err != nil {
		e.logger.Error().Err(err).Msg("purge synced records")
		return
	}
	if n > 0 {
		e.logger.Info().Int64("purged", n).Msg("synced records past retention removed")
	}
}
