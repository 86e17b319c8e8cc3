package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"mindsync/internal/domain"
	"mindsync/internal/models"
)

// MemoryRecordStore is a non-durable RecordStore for tests and diskless runs.
type MemoryRecordStore struct {
	mu        sync.RWMutex
	records   map[string]*models.StagedRecord
	conflicts map[string]*models.ConflictRecord
	meta      map[string]string
	now       func() time.Time
}

func NewMemoryRecordStore() *MemoryRecordStore {
	return &MemoryRecordStore{
		records:   make(map[string]*models.StagedRecord),
		conflicts: make(map[string]*models.ConflictRecord),
		meta:      make(map[string]string),
		now:       time.Now,
	}
}

// WithClock replaces the clock used for UpdatedAt stamps.
func (r *MemoryRecordStore) WithClock(now func() time.Time) *MemoryRecordStore {
	r.now = now
	return r
}

func (r *MemoryRecordStore) Put(ctx context.Context, rec *models.StagedRecord) error {
	if rec == nil || rec.ID == "" {
		return fmt.Errorf("put record: %w", domain.ErrInvalidArgument)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.records[rec.ID]; exists {
		return domain.WrapStorage("put", fmt.Errorf("record %s already exists", rec.ID))
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = r.now()
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = rec.CreatedAt
	}
	r.records[rec.ID] = rec.Clone()
	return nil
}

func (r *MemoryRecordStore) Get(ctx context.Context, id string) (*models.StagedRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.records[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return rec.Clone(), nil
}

func (r *MemoryRecordStore) GetByType(ctx context.Context, dataType, ownerID string) ([]*models.StagedRecord, error) {
	return r.collect(func(rec *models.StagedRecord) bool {
		return rec.DataType == dataType && (ownerID == "" || rec.OwnerID == ownerID)
	}), nil
}

func (r *MemoryRecordStore) ListByStatus(ctx context.Context, statuses ...models.SyncStatus) ([]*models.StagedRecord, error) {
	return r.collect(func(rec *models.StagedRecord) bool {
		return len(statuses) == 0 || hasStatus(rec.SyncStatus, statuses)
	}), nil
}

func (r *MemoryRecordStore) collect(match func(*models.StagedRecord) bool) []*models.StagedRecord {
	r.mu.RLock()
	var out []*models.StagedRecord
	for _, rec := range r.records {
		if match(rec) {
			out = append(out, rec.Clone())
		}
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (r *MemoryRecordStore) Update(ctx context.Context, id string, fn func(rec *models.StagedRecord) error) (*models.StagedRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.records[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	next := cur.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	next.ID = cur.ID
	next.DataType = cur.DataType
	next.OwnerID = cur.OwnerID
	next.CreatedAt = cur.CreatedAt
	next.UpdatedAt = r.now()
	r.records[id] = next
	return next.Clone(), nil
}

func (r *MemoryRecordStore) UpdateStatus(ctx context.Context, id string, status models.SyncStatus, errMsg string) error {
	if !status.Valid() {
		return fmt.Errorf("update status %q: %w", status, domain.ErrInvalidArgument)
	}
	_, err := r.Update(ctx, id, func(rec *models.StagedRecord) error {
		rec.SyncStatus = status
		rec.LastError = nil
		if errMsg != "" {
			rec.LastError = &errMsg
		}
		if status == models.StatusSynced {
			rec.Attempts = 0
			rec.BackoffUntil = nil
		}
		return nil
	})
	return err
}

func (r *MemoryRecordStore) Remove(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.records, id)
	delete(r.conflicts, id)
	return nil
}

func (r *MemoryRecordStore) RemoveByStatus(ctx context.Context, statuses ...models.SyncStatus) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var removed []string
	for id, rec := range r.records {
		if hasStatus(rec.SyncStatus, statuses) {
			delete(r.records, id)
			delete(r.conflicts, id)
			removed = append(removed, id)
		}
	}
	sort.Strings(removed)
	return removed, nil
}

func (r *MemoryRecordStore) ClearAll(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = make(map[string]*models.StagedRecord)
	r.conflicts = make(map[string]*models.ConflictRecord)
	return nil
}

func (r *MemoryRecordStore) CountByStatus(ctx context.Context) (map[models.SyncStatus]int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	counts := make(map[models.SyncStatus]int)
	for _, rec := range r.records {
		counts[rec.SyncStatus]++
	}
	return counts, nil
}

func (r *MemoryRecordStore) PurgeSynced(ctx context.Context, before time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for id, rec := range r.records {
		if rec.SyncStatus == models.StatusSynced && rec.UpdatedAt.Before(before) {
			delete(r.records, id)
			n++
		}
	}
	return n, nil
}

func (r *MemoryRecordStore) SaveConflict(ctx context.Context, c *models.ConflictRecord) error {
	if c == nil || c.ID == "" {
		return fmt.Errorf("save conflict: %w", domain.ErrInvalidArgument)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.records[c.ID]; !ok {
		return domain.ErrNotFound
	}
	cp := *c
	cp.LocalPayload = append([]byte(nil), c.LocalPayload...)
	cp.RemotePayload = append([]byte(nil), c.RemotePayload...)
	r.conflicts[c.ID] = &cp
	return nil
}

func (r *MemoryRecordStore) GetConflict(ctx context.Context, id string) (*models.ConflictRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conflicts[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (r *MemoryRecordStore) DeleteConflict(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.conflicts, id)
	return nil
}

func (r *MemoryRecordStore) ListConflicts(ctx context.Context) ([]*models.ConflictRecord, error) {
	r.mu.RLock()
	out := make([]*models.ConflictRecord, 0, len(r.conflicts))
	for _, c := range r.conflicts {
		cp := *c
		out = append(out, &cp)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].DetectedAt.Equal(out[j].DetectedAt) {
			return out[i].DetectedAt.Before(out[j].DetectedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (r *MemoryRecordStore) GetMeta(ctx context.Context, key string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.meta[key], nil
}

func (r *MemoryRecordStore) SetMeta(ctx context.Context, key, value string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.meta[key] = value
	return nil
}

func (r *MemoryRecordStore) Close() error { return nil }

func hasStatus(s models.SyncStatus, statuses []models.SyncStatus) bool {
	for _, want := range statuses {
		if s == want {
			return true
		}
	}
	return false
}

var _ domain.RecordStore = (*MemoryRecordStore)(nil)
