package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"mindsync/internal/domain"
	"mindsync/internal/models"
)

const recordColumns = `id, data_type, owner_id, payload, priority, sync_status, attempts, backoff_until, last_error, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*models.StagedRecord, error) {
	var (
		rec          models.StagedRecord
		payload      []byte
		backoffUntil sql.NullInt64
		lastError    sql.NullString
		createdAt    int64
		updatedAt    int64
	)
	err := row.Scan(
		&rec.ID, &rec.DataType, &rec.OwnerID, &payload, &rec.Priority, &rec.SyncStatus,
		&rec.Attempts, &backoffUntil, &lastError, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}
	rec.Payload = payload
	if backoffUntil.Valid {
		t := fromNanos(backoffUntil.Int64)
		rec.BackoffUntil = &t
	}
	if lastError.Valid {
		s := lastError.String
		rec.LastError = &s
	}
	rec.CreatedAt = fromNanos(createdAt)
	rec.UpdatedAt = fromNanos(updatedAt)
	return &rec, nil
}

func recordArgs(rec *models.StagedRecord) (backoff sql.NullInt64, lastErr sql.NullString) {
	if rec.BackoffUntil != nil {
		backoff = sql.NullInt64{Int64: toNanos(*rec.BackoffUntil), Valid: true}
	}
	if rec.LastError != nil {
		lastErr = sql.NullString{String: *rec.LastError, Valid: true}
	}
	return backoff, lastErr
}

// Put inserts a new staged record. The caller assigns the id.
func (db *DB) Put(ctx context.Context, rec *models.StagedRecord) error {
	if rec == nil || rec.ID == "" {
		return fmt.Errorf("put record: %w", domain.ErrInvalidArgument)
	}
	now := db.now()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = rec.CreatedAt
	}
	backoff, lastErr := recordArgs(rec)

	query := `INSERT INTO staged_records (` + recordColumns + `)
              VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := db.db.ExecContext(ctx, query,
		rec.ID,
		rec.DataType,
		rec.OwnerID,
		[]byte(rec.Payload),
		rec.Priority,
		rec.SyncStatus,
		rec.Attempts,
		backoff,
		lastErr,
		toNanos(rec.CreatedAt),
		toNanos(rec.UpdatedAt),
	)
	if err != nil {
		return domain.WrapStorage("put", fmt.Errorf("failed to create staged record: %w", err))
	}
	return nil
}

func (db *DB) Get(ctx context.Context, id string) (*models.StagedRecord, error) {
	row := db.db.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM staged_records WHERE id = ?`, id)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, domain.WrapStorage("get", err)
	}
	return rec, nil
}

// GetByType lists records of one data type. An empty ownerID matches every owner.
func (db *DB) GetByType(ctx context.Context, dataType, ownerID string) ([]*models.StagedRecord, error) {
	query := `SELECT ` + recordColumns + ` FROM staged_records WHERE data_type = ?`
	args := []any{dataType}
	if ownerID != "" {
		query += ` AND owner_id = ?`
		args = append(args, ownerID)
	}
	query += ` ORDER BY created_at ASC, id ASC`
	return db.queryRecords(ctx, "get by type", query, args...)
}

func (db *DB) ListByStatus(ctx context.Context, statuses ...models.SyncStatus) ([]*models.StagedRecord, error) {
	query := `SELECT ` + recordColumns + ` FROM staged_records`
	var args []any
	if len(statuses) > 0 {
		query += ` WHERE sync_status IN (` + placeholders(len(statuses)) + `)`
		for _, s := range statuses {
			args = append(args, s)
		}
	}
	query += ` ORDER BY created_at ASC, id ASC`
	return db.queryRecords(ctx, "list by status", query, args...)
}

func (db *DB) queryRecords(ctx context.Context, op, query string, args ...any) ([]*models.StagedRecord, error) {
	rows, err := db.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, domain.WrapStorage(op, err)
	}
	defer rows.Close()

	var records []*models.StagedRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, domain.WrapStorage(op, fmt.Errorf("failed to scan staged record: %w", err))
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.WrapStorage(op, err)
	}
	return records, nil
}

// Update applies fn to the current row inside a transaction and writes the result back.
// The id, data type, owner and creation time are immutable.
func (db *DB) Update(ctx context.Context, id string, fn func(rec *models.StagedRecord) error) (*models.StagedRecord, error) {
	tx, err := db.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, domain.WrapStorage("update", err)
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM staged_records WHERE id = ?`, id)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, domain.WrapStorage("update", err)
	}

	if err := fn(rec); err != nil {
		return nil, err
	}
	rec.ID = id
	rec.UpdatedAt = db.now()
	backoff, lastErr := recordArgs(rec)

	_, err = tx.ExecContext(ctx,
		`UPDATE staged_records
         SET payload = ?, priority = ?, sync_status = ?, attempts = ?, backoff_until = ?, last_error = ?, updated_at = ?
         WHERE id = ?`,
		[]byte(rec.Payload), rec.Priority, rec.SyncStatus, rec.Attempts, backoff, lastErr, toNanos(rec.UpdatedAt), id,
	)
	if err != nil {
		return nil, domain.WrapStorage("update", fmt.Errorf("failed to update staged record: %w", err))
	}
	if err := tx.Commit(); err != nil {
		return nil, domain.WrapStorage("update", err)
	}
	return rec, nil
}

// UpdateStatus sets the status and last error. A synced record also gets its attempts and backoff reset.
func (db *DB) UpdateStatus(ctx context.Context, id string, status models.SyncStatus, errMsg string) error {
	if !status.Valid() {
		return fmt.Errorf("update status %q: %w", status, domain.ErrInvalidArgument)
	}
	var lastErr sql.NullString
	if errMsg != "" {
		lastErr = sql.NullString{String: errMsg, Valid: true}
	}

	var query string
	switch status {
	case models.StatusSynced:
		query = `UPDATE staged_records SET sync_status = ?, last_error = ?, attempts = 0, backoff_until = NULL, updated_at = ? WHERE id = ?`
	default:
		query = `UPDATE staged_records SET sync_status = ?, last_error = ?, updated_at = ? WHERE id = ?`
	}

	res, err := db.db.ExecContext(ctx, query, status, lastErr, toNanos(db.now()), id)
	if err != nil {
		return domain.WrapStorage("update status", fmt.Errorf("failed to update sync status: %w", err))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (db *DB) Remove(ctx context.Context, id string) error {
	_, err := db.db.ExecContext(ctx, `DELETE FROM staged_records WHERE id = ?`, id)
	return domain.WrapStorage("remove", err)
}

// RemoveByStatus deletes every record in the given statuses and returns their ids.
func (db *DB) RemoveByStatus(ctx context.Context, statuses ...models.SyncStatus) ([]string, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	args := make([]any, 0, len(statuses))
	for _, s := range statuses {
		args = append(args, s)
	}
	in := placeholders(len(statuses))

	tx, err := db.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, domain.WrapStorage("remove by status", err)
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx, `SELECT id FROM staged_records WHERE sync_status IN (`+in+`)`, args...)
	if err != nil {
		return nil, domain.WrapStorage("remove by status", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, domain.WrapStorage("remove by status", err)
		}
		ids = append(ids, id)
	}
	rows.Close()

	if _, err := tx.ExecContext(ctx, `DELETE FROM staged_records WHERE sync_status IN (`+in+`)`, args...); err != nil {
		return nil, domain.WrapStorage("remove by status", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, domain.WrapStorage("remove by status", err)
	}
	return ids, nil
}

func (db *DB) ClearAll(ctx context.Context) error {
	tx, err := db.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.WrapStorage("clear all", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, q := range []string{`DELETE FROM sync_conflicts`, `DELETE FROM staged_records`} {
		if _, err := tx.ExecContext(ctx, q); err != nil {
			return domain.WrapStorage("clear all", err)
		}
	}
	return domain.WrapStorage("clear all", tx.Commit())
}

func (db *DB) CountByStatus(ctx context.Context) (map[models.SyncStatus]int, error) {
	rows, err := db.db.QueryContext(ctx, `SELECT sync_status, COUNT(*) FROM staged_records GROUP BY sync_status`)
	if err != nil {
		return nil, domain.WrapStorage("count", err)
	}
	defer rows.Close()

	counts := make(map[models.SyncStatus]int)
	for rows.Next() {
		var (
			status models.SyncStatus
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, domain.WrapStorage("count", err)
		}
		counts[status] = n
	}
	return counts, domain.WrapStorage("count", rows.Err())
}

// PurgeSynced removes synced records last updated before the cutoff.
func (db *DB) PurgeSynced(ctx context.Context, before time.Time) (int64, error) {
	res, err := db.db.ExecContext(ctx,
		`DELETE FROM staged_records WHERE sync_status = ? AND updated_at < ?`,
		models.StatusSynced, toNanos(before))
	if err != nil {
		return 0, domain.WrapStorage("purge", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		db.logger.Debug().Int64("purged", n).Msg("purged synced records")
	}
	return n, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}
