package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"mindsync/internal/domain"
	"mindsync/internal/models"
)

// SaveConflict stores or replaces the conflict metadata for a record.
func (db *DB) SaveConflict(ctx context.Context, c *models.ConflictRecord) error {
	if c == nil || c.ID == "" {
		return fmt.Errorf("save conflict: %w", domain.ErrInvalidArgument)
	}
	_, err := db.db.ExecContext(ctx,
		`INSERT INTO sync_conflicts (id, local_payload, remote_payload, detected_at) VALUES (?, ?, ?, ?)
         ON CONFLICT(id) DO UPDATE SET
            local_payload = excluded.local_payload,
            remote_payload = excluded.remote_payload,
            detected_at = excluded.detected_at`,
		c.ID, []byte(c.LocalPayload), []byte(c.RemotePayload), toNanos(c.DetectedAt),
	)
	if err != nil {
		return domain.WrapStorage("save conflict", fmt.Errorf("failed to save conflict: %w", err))
	}
	return nil
}

func (db *DB) GetConflict(ctx context.Context, id string) (*models.ConflictRecord, error) {
	row := db.db.QueryRowContext(ctx,
		`SELECT id, local_payload, remote_payload, detected_at FROM sync_conflicts WHERE id = ?`, id)
	c, err := scanConflict(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, domain.WrapStorage("get conflict", err)
	}
	return c, nil
}

func (db *DB) DeleteConflict(ctx context.Context, id string) error {
	_, err := db.db.ExecContext(ctx, `DELETE FROM sync_conflicts WHERE id = ?`, id)
	return domain.WrapStorage("delete conflict", err)
}

func (db *DB) ListConflicts(ctx context.Context) ([]*models.ConflictRecord, error) {
	rows, err := db.db.QueryContext(ctx,
		`SELECT id, local_payload, remote_payload, detected_at FROM sync_conflicts ORDER BY detected_at ASC, id ASC`)
	if err != nil {
		return nil, domain.WrapStorage("list conflicts", err)
	}
	defer rows.Close()

	var out []*models.ConflictRecord
	for rows.Next() {
		c, err := scanConflict(rows)
		if err != nil {
			return nil, domain.WrapStorage("list conflicts", err)
		}
		out = append(out, c)
	}
	return out, domain.WrapStorage("list conflicts", rows.Err())
}

func scanConflict(row rowScanner) (*models.ConflictRecord, error) {
	var (
		c          models.ConflictRecord
		local      []byte
		remote     []byte
		detectedAt int64
	)
	if err := row.Scan(&c.ID, &local, &remote, &detectedAt); err != nil {
		return nil, err
	}
	c.LocalPayload = local
	c.RemotePayload = remote
	c.DetectedAt = fromNanos(detectedAt)
	return &c, nil
}
