package storage

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/cppla/mediastage/models"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "test.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.MediaFile{}, &models.StagedUpload{}))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

func mirrorRow(t *testing.T, db *gorm.DB, p string) (models.MediaFile, bool) {
	t.Helper()
	var row models.MediaFile
	err := db.Where("path = ?", p).First(&row).Error
	if err == gorm.ErrRecordNotFound {
		return row, false
	}
	require.NoError(t, err)
	return row, true
}

func TestDBMirrorSaveFileUpserts(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	local := newTestLocal(t)
	m := NewDBMirror(db, local)

	_, err := local.Write(ctx, "tmp/images/p/h/photo.png", strings.NewReader("v1"))
	require.NoError(t, err)
	require.NoError(t, m.SaveFile(ctx, "tmp/images/p/h/photo.png"))

	_, err = local.Write(ctx, "tmp/images/p/h/photo.png", strings.NewReader("version2"))
	require.NoError(t, err)
	require.NoError(t, m.SaveFile(ctx, "tmp/images/p/h/photo.png"))

	row, ok := mirrorRow(t, db, "tmp/images/p/h/photo.png")
	require.True(t, ok)
	assert.Equal(t, "version2", string(row.Content))
	assert.EqualValues(t, 8, row.Size)
	assert.Equal(t, "tmp/images/p/h", row.Directory)
	assert.Equal(t, "photo.png", row.Filename)

	var count int64
	require.NoError(t, db.Model(&models.MediaFile{}).Count(&count).Error)
	assert.EqualValues(t, 1, count)
}

func TestDBMirrorSaveFileMissingSource(t *testing.T) {
	m := NewDBMirror(newTestDB(t), newTestLocal(t))
	assert.ErrorIs(t, m.SaveFile(context.Background(), "tmp/none.png"), ErrNotExist)
}

func TestDBMirrorCopyFile(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	local := newTestLocal(t)
	m := NewDBMirror(db, local)

	t.Run("from mirrored row", func(t *testing.T) {
		_, err := local.Write(ctx, "tmp/a.png", strings.NewReader("a"))
		require.NoError(t, err)
		require.NoError(t, m.SaveFile(ctx, "tmp/a.png"))
		require.NoError(t, local.Delete(ctx, "tmp/a.png"))

		require.NoError(t, m.CopyFile(ctx, "tmp/a.png", "images/a.png"))
		row, ok := mirrorRow(t, db, "images/a.png")
		require.True(t, ok)
		assert.Equal(t, "a", string(row.Content))
	})

	t.Run("falls back to primary", func(t *testing.T) {
		_, err := local.Write(ctx, "tmp/b.png", strings.NewReader("b"))
		require.NoError(t, err)

		require.NoError(t, m.CopyFile(ctx, "tmp/b.png", "images/b.png"))
		row, ok := mirrorRow(t, db, "images/b.png")
		require.True(t, ok)
		assert.Equal(t, "b", string(row.Content))
	})
}

func TestDBMirrorDeleteAndRestore(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	local := newTestLocal(t)
	m := NewDBMirror(db, local)

	_, err := local.Write(ctx, "images/r.png", strings.NewReader("restore-me"))
	require.NoError(t, err)
	require.NoError(t, m.SaveFile(ctx, "images/r.png"))

	other := newTestLocal(t)
	require.NoError(t, m.Restore(ctx, "images/r.png", other))
	assert.Equal(t, "restore-me", readAll(t, other, "images/r.png"))

	require.NoError(t, m.DeleteFile(ctx, "images/r.png"))
	_, ok := mirrorRow(t, db, "images/r.png")
	assert.False(t, ok)
	assert.ErrorIs(t, m.Restore(ctx, "images/r.png", other), ErrNotExist)
}

func TestNopMirror(t *testing.T) {
	ctx := context.Background()
	var m NopMirror
	assert.NoError(t, m.SaveFile(ctx, "x"))
	assert.NoError(t, m.CopyFile(ctx, "x", "y"))
	assert.NoError(t, m.DeleteFile(ctx, "x"))
	assert.ErrorIs(t, m.Restore(ctx, "x", newTestLocal(t)), ErrNotExist)
}

func TestDBLedger(t *testing.T) {
	ctx := context.Background()
	l := NewDBLedger(newTestDB(t))
	now := time.Now()

	require.NoError(t, l.Track(ctx, "tmp/old.png", now.Add(-2*time.Hour)))
	require.NoError(t, l.Track(ctx, "tmp/older.png", now.Add(-3*time.Hour)))
	require.NoError(t, l.Track(ctx, "tmp/fresh.png", now.Add(time.Hour)))

	paths, err := l.Expired(ctx, now, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"tmp/older.png", "tmp/old.png"}, paths)

	paths, err = l.Expired(ctx, now, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"tmp/older.png"}, paths)

	// re-tracking refreshes the expiry
	require.NoError(t, l.Track(ctx, "tmp/old.png", now.Add(time.Hour)))
	require.NoError(t, l.Forget(ctx, "tmp/older.png"))
	paths, err = l.Expired(ctx, now, 10)
	require.NoError(t, err)
	assert.Empty(t, paths)
}
