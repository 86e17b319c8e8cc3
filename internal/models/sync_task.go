package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// StagedRecord is one unit of application data held durably until it reaches the remote.
type StagedRecord struct {
	ID           string          `json:"id"`
	DataType     string          `json:"data_type"`
	Payload      json.RawMessage `json:"payload"`
	OwnerID      string          `json:"owner_id"`
	Priority     Priority        `json:"priority"`
	SyncStatus   SyncStatus      `json:"sync_status"`
	Attempts     int             `json:"attempts"`
	BackoffUntil *time.Time      `json:"backoff_until,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
	LastError    *string         `json:"last_error,omitempty"`
}

// Clone returns a deep copy so stores never hand out shared slices or pointers.
func (r *StagedRecord) Clone() *StagedRecord {
	if r == nil {
		return nil
	}
	c := *r
	if r.Payload != nil {
		c.Payload = append(json.RawMessage(nil), r.Payload...)
	}
	if r.BackoffUntil != nil {
		t := *r.BackoffUntil
		c.BackoffUntil = &t
	}
	if r.LastError != nil {
		s := *r.LastError
		c.LastError = &s
	}
	return &c
}

// Task projects the record into its queue-visible form.
func (r *StagedRecord) Task() SyncTask {
	t := SyncTask{
		ID:          r.ID,
		DataType:    r.DataType,
		Priority:    r.Priority,
		CreatedAt:   r.CreatedAt,
		ScheduledAt: r.CreatedAt,
	}
	if r.BackoffUntil != nil {
		t.ScheduledAt = *r.BackoffUntil
	}
	return t
}

// DecodePayload unmarshals the opaque payload into T.
func DecodePayload[T any](r *StagedRecord) (T, error) {
	var v T
	if r == nil {
		return v, fmt.Errorf("decode payload: nil record")
	}
	if err := json.Unmarshal(r.Payload, &v); err != nil {
		return v, fmt.Errorf("decode payload of %s: %w", r.ID, err)
	}
	return v, nil
}

// SyncTask is the queue-visible projection of a StagedRecord.
type SyncTask struct {
	ID          string    `json:"id"`
	DataType    string    `json:"data_type"`
	Priority    Priority  `json:"priority"`
	CreatedAt   time.Time `json:"created_at"`
	ScheduledAt time.Time `json:"scheduled_at"`
}

// SyncError describes a single item that did not sync during a cycle.
type SyncError struct {
	ID        string    `json:"id"`
	Error     string    `json:"error"`
	Timestamp time.Time `json:"timestamp"`
}

// SyncResult aggregates per-item outcomes of one drain cycle.
type SyncResult struct {
	Synced    int         `json:"synced"`
	Failed    int         `json:"failed"`
	Conflicts int         `json:"conflicts"`
	Errors    []SyncError `json:"errors"`
}

// Merge adds other's counters and errors into r.
func (r *SyncResult) Merge(other SyncResult) {
	r.Synced += other.Synced
	r.Failed += other.Failed
	r.Conflicts += other.Conflicts
	r.Errors = append(r.Errors, other.Errors...)
}

// CapabilitySnapshot summarizes queue health.
type CapabilitySnapshot struct {
	PendingItems int        `json:"pending_items"`
	FailedItems  int        `json:"failed_items"`
	Conflicts    int        `json:"conflicts"`
	LastSync     *time.Time `json:"last_sync,omitempty"`
}

// ConflictRecord holds both sides of a version mismatch until the host resolves it.
type ConflictRecord struct {
	ID            string          `json:"id"`
	LocalPayload  json.RawMessage `json:"local_payload"`
	RemotePayload json.RawMessage `json:"remote_payload"`
	DetectedAt    time.Time       `json:"detected_at"`
}
