package database

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"mindsync/internal/config"
	"mindsync/internal/models"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackupService(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	ctx := context.Background()
	require.NoError(t, db.Put(ctx, newRecord("r1", "mood-entry", "user1", models.PriorityMedium, time.Now())))

	storagePath := filepath.Join(t.TempDir(), "backups")
	cfg := config.BackupConfig{
		Enabled:       true,
		StoragePath:   storagePath,
		RetentionDays: 1,
	}
	logger := zerolog.Nop()
	s := NewBackupService(db, cfg, &logger)

	t.Run("PerformBackup", func(t *testing.T) {
		path, err := s.PerformBackup(ctx)
		require.NoError(t, err)
		assert.FileExists(t, path)

		snapshot, err := NewDB(path, &logger)
		require.NoError(t, err)
		defer snapshot.Close()
		rec, err := snapshot.Get(ctx, "r1")
		require.NoError(t, err)
		assert.Equal(t, "mood-entry", rec.DataType)
	})

	t.Run("CleanupOldBackups", func(t *testing.T) {
		oldFile := filepath.Join(storagePath, "records_old.db")
		require.NoError(t, os.WriteFile(oldFile, []byte("old"), 0o644))
		oldTime := time.Now().AddDate(0, 0, -2)
		require.NoError(t, os.Chtimes(oldFile, oldTime, oldTime))

		s.CleanupOldBackups()

		_, err := os.Stat(oldFile)
		assert.True(t, os.IsNotExist(err))
	})

	t.Run("Disabled", func(t *testing.T) {
		disabled := NewBackupService(db, config.BackupConfig{Enabled: false}, &logger)
		// returns immediately
		disabled.Start(ctx)
	})
}
