package database

import (
	"context"
	"io"
	"testing"
	"time"

	"mindsync/internal/domain"
	"mindsync/internal/models"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDB_ErrorPaths(t *testing.T) {
	logger := zerolog.New(io.Discard)
	db, err := NewDB(":memory:", &logger)
	require.NoError(t, err)
	db.Close() // Close the DB to trigger errors

	ctx := context.Background()

	assertStorage := func(t *testing.T, err error) {
		t.Helper()
		var se *domain.StorageError
		assert.ErrorAs(t, err, &se)
	}

	t.Run("Put", func(t *testing.T) {
		assertStorage(t, db.Put(ctx, newRecord("x", "t", "o", models.PriorityLow, time.Now())))
	})

	t.Run("Get", func(t *testing.T) {
		_, err := db.Get(ctx, "x")
		assertStorage(t, err)
	})

	t.Run("GetByType", func(t *testing.T) {
		_, err := db.GetByType(ctx, "t", "")
		assertStorage(t, err)
	})

	t.Run("UpdateStatus", func(t *testing.T) {
		assertStorage(t, db.UpdateStatus(ctx, "x", models.StatusFailed, "boom"))
	})

	t.Run("Update", func(t *testing.T) {
		_, err := db.Update(ctx, "x", func(*models.StagedRecord) error { return nil })
		assertStorage(t, err)
	})

	t.Run("CountByStatus", func(t *testing.T) {
		_, err := db.CountByStatus(ctx)
		assertStorage(t, err)
	})

	t.Run("ListConflicts", func(t *testing.T) {
		_, err := db.ListConflicts(ctx)
		assertStorage(t, err)
	})
}

func TestDB_InvalidArguments(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	ctx := context.Background()

	assert.ErrorIs(t, db.Put(ctx, &models.StagedRecord{}), domain.ErrInvalidArgument)
	assert.ErrorIs(t, db.UpdateStatus(ctx, "x", "bogus", ""), domain.ErrInvalidArgument)
	assert.ErrorIs(t, db.SaveConflict(ctx, nil), domain.ErrInvalidArgument)
}
