// Package conflict records version mismatches reported by the remote and applies host resolutions.
package conflict

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"mindsync/internal/domain"
	"mindsync/internal/events"
	"mindsync/internal/models"

	"github.com/rs/zerolog"
)

// Strategy picks which payload survives a conflict.
type Strategy string

const (
	KeepLocal  Strategy = "keep-local"
	KeepRemote Strategy = "keep-remote"
	Merged     Strategy = "merged"
)

// ParseStrategy accepts the wire names.
func ParseStrategy(s string) (Strategy, error) {
	switch st := Strategy(s); st {
	case KeepLocal, KeepRemote, Merged:
		return st, nil
	}
	return "", fmt.Errorf("unknown resolution strategy %q: %w", s, domain.ErrInvalidArgument)
}

// Resolution is the host's decision. Payload is used only with Merged.
type Resolution struct {
	Strategy Strategy        `json:"strategy"`
	Payload  json.RawMessage `json:"payload,omitempty"`
}

type Tracker struct {
	store  domain.RecordStore
	bus    domain.EventPublisher
	now    func() time.Time
	logger *zerolog.Logger
}

func NewTracker(store domain.RecordStore, bus domain.EventPublisher, now func() time.Time, logger *zerolog.Logger) *Tracker {
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Tracker{store: store, bus: bus, now: now, logger: logger}
}

// Detect parks the record in conflict, keeps both payloads and notifies subscribers.
func (t *Tracker) Detect(ctx context.Context, id string, remote json.RawMessage, cause error) (*models.ConflictRecord, error) {
	msg := "conflict"
	if cause != nil {
		msg = cause.Error()
	}

	var prev models.SyncStatus
	rec, err := t.store.Update(ctx, id, func(rec *models.StagedRecord) error {
		prev = rec.SyncStatus
		rec.Attempts++
		rec.SyncStatus = models.StatusConflict
		rec.BackoffUntil = nil
		rec.LastError = &msg
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("mark conflict %s: %w", id, err)
	}

	c := &models.ConflictRecord{
		ID:            id,
		LocalPayload:  rec.Payload,
		RemotePayload: remote,
		DetectedAt:    t.now(),
	}
	if len(c.RemotePayload) == 0 {
		c.RemotePayload = json.RawMessage("null")
	}
	if err := t.store.SaveConflict(ctx, c); err != nil {
		t.revert(ctx, id, prev)
		return nil, fmt.Errorf("save conflict %s: %w", id, err)
	}

	t.logger.Warn().Str("id", id).Str("data_type", rec.DataType).Msg("conflict detected")
	if t.bus != nil {
		if err := t.bus.PublishJSON(events.EventConflictDetected, c); err != nil {
			t.logger.Error().Err(err).Str("id", id).Msg("publish conflict event")
		}
	}
	return c, nil
}

// revert undoes the conflict mark so a record never sits in conflict without metadata.
// A record that was syncing goes back to pending and keeps the counted attempt.
func (t *Tracker) revert(ctx context.Context, id string, prev models.SyncStatus) {
	if prev == models.StatusSyncing || prev == "" {
		prev = models.StatusPending
	}
	_, err := t.store.Update(ctx, id, func(rec *models.StagedRecord) error {
		rec.SyncStatus = prev
		return nil
	})
	if err != nil {
		t.logger.Error().Err(err).Str("id", id).Msg("revert conflict mark")
	}
}

// Resolve applies the resolution and puts the record back to pending.
// Records that are not in conflict yield ErrNotInConflict.
func (t *Tracker) Resolve(ctx context.Context, id string, res Resolution) (*models.StagedRecord, error) {
	if _, err := ParseStrategy(string(res.Strategy)); err != nil {
		return nil, err
	}
	if res.Strategy == Merged && !json.Valid(res.Payload) {
		return nil, fmt.Errorf("merged payload must be valid JSON: %w", domain.ErrInvalidArgument)
	}

	c, err := t.store.GetConflict(ctx, id)
	if errors.Is(err, domain.ErrNotFound) {
		c = nil
	} else if err != nil {
		return nil, err
	}

	rec, err := t.store.Update(ctx, id, func(rec *models.StagedRecord) error {
		if rec.SyncStatus != models.StatusConflict {
			return domain.ErrNotInConflict
		}
		switch res.Strategy {
		case KeepRemote:
			if c == nil {
				return fmt.Errorf("remote payload for %s is unknown: %w", id, domain.ErrInvalidArgument)
			}
			rec.Payload = append(json.RawMessage(nil), c.RemotePayload...)
		case Merged:
			rec.Payload = append(json.RawMessage(nil), res.Payload...)
		}
		rec.SyncStatus = models.StatusPending
		rec.BackoffUntil = nil
		rec.LastError = nil
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := t.store.DeleteConflict(ctx, id); err != nil {
		return nil, err
	}
	t.logger.Info().Str("id", id).Str("strategy", string(res.Strategy)).Msg("conflict resolved")
	return rec, nil
}

func (t *Tracker) List(ctx context.Context) ([]*models.ConflictRecord, error) {
	return t.store.ListConflicts(ctx)
}
