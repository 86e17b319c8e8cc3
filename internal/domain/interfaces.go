package domain

import (
	"context"
	"time"

	"mindsync/internal/models"
)

// RecordStore is the durable keyed storage behind the sync queue.
// Implementations must make Update an atomic read-modify-write per id.
type RecordStore interface {
	Put(ctx context.Context, rec *models.StagedRecord) error
	Get(ctx context.Context, id string) (*models.StagedRecord, error)
	GetByType(ctx context.Context, dataType, ownerID string) ([]*models.StagedRecord, error)
	ListByStatus(ctx context.Context, statuses ...models.SyncStatus) ([]*models.StagedRecord, error)
	Update(ctx context.Context, id string, fn func(rec *models.StagedRecord) error) (*models.StagedRecord, error)
	UpdateStatus(ctx context.Context, id string, status models.SyncStatus, errMsg string) error
	Remove(ctx context.Context, id string) error
	RemoveByStatus(ctx context.Context, statuses ...models.SyncStatus) ([]string, error)
	ClearAll(ctx context.Context) error
	CountByStatus(ctx context.Context) (map[models.SyncStatus]int, error)
	PurgeSynced(ctx context.Context, before time.Time) (int64, error)

	SaveConflict(ctx context.Context, c *models.ConflictRecord) error
	GetConflict(ctx context.Context, id string) (*models.ConflictRecord, error)
	DeleteConflict(ctx context.Context, id string) error
	ListConflicts(ctx context.Context) ([]*models.ConflictRecord, error)

	GetMeta(ctx context.Context, key string) (string, error)
	SetMeta(ctx context.Context, key, value string) error

	Close() error
}

// Transport delivers one record to the remote system.
// A nil error means the remote applied the record. Errors are classified with Classify.
type Transport interface {
	Send(ctx context.Context, rec *models.StagedRecord) error
}

// TransportFunc adapts a function to Transport.
type TransportFunc func(ctx context.Context, rec *models.StagedRecord) error

func (f TransportFunc) Send(ctx context.Context, rec *models.StagedRecord) error {
	return f(ctx, rec)
}

// DeadLetterSink receives records that ended up failed.
type DeadLetterSink interface {
	Push(ctx context.Context, rec *models.StagedRecord) error
}

// EventPublisher is the part of the notification bus the core depends on.
type EventPublisher interface {
	PublishJSON(eventType string, payload interface{}) error
}
