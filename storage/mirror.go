package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/cppla/mediastage/models"
)

// DBMirror replicates primary storage files into the media_files table.
type DBMirror struct {
	db     *gorm.DB
	source Storage
}

// NewDBMirror reads file content from source when saving.
func NewDBMirror(db *gorm.DB, source Storage) *DBMirror {
	return &DBMirror{db: db, source: source}
}

// SaveFile stores the current primary content of p.
func (m *DBMirror) SaveFile(ctx context.Context, p string) error {
	content, err := m.readSource(ctx, p)
	if err != nil {
		return err
	}
	return m.upsert(ctx, p, content)
}

// CopyFile duplicates the mirror row of from under to. When from was never mirrored
// the content is read from primary storage instead.
func (m *DBMirror) CopyFile(ctx context.Context, from, to string) error {
	var row models.MediaFile
	err := m.db.WithContext(ctx).Where("path = ?", from).First(&row).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		content, err := m.readSource(ctx, from)
		if err != nil {
			return err
		}
		return m.upsert(ctx, to, content)
	case err != nil:
		return fmt.Errorf("mirror lookup %s: %w", from, err)
	}
	return m.upsert(ctx, to, row.Content)
}

// DeleteFile drops the mirror row of p, if any.
func (m *DBMirror) DeleteFile(ctx context.Context, p string) error {
	if err := m.db.WithContext(ctx).Where("path = ?", p).Delete(&models.MediaFile{}).Error; err != nil {
		return fmt.Errorf("mirror delete %s: %w", p, err)
	}
	return nil
}

// Restore writes the mirrored content of p back into dst.
func (m *DBMirror) Restore(ctx context.Context, p string, dst Storage) error {
	var row models.MediaFile
	err := m.db.WithContext(ctx).Where("path = ?", p).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%w: %s", ErrNotExist, p)
	}
	if err != nil {
		return fmt.Errorf("mirror lookup %s: %w", p, err)
	}
	_, err = dst.Write(ctx, p, bytes.NewReader(row.Content))
	return err
}

func (m *DBMirror) readSource(ctx context.Context, p string) ([]byte, error) {
	rc, err := m.source.Open(ctx, p)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

func (m *DBMirror) upsert(ctx context.Context, p string, content []byte) error {
	row := models.MediaFile{
		Path:      p,
		Directory: path.Dir(p),
		Filename:  path.Base(p),
		Content:   content,
		Size:      int64(len(content)),
	}
	err := m.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "path"}},
		DoUpdates: clause.AssignmentColumns([]string{"directory", "filename", "content", "size", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("mirror save %s: %w", p, err)
	}
	return nil
}

// NopMirror is used on single-node installs where no replica is kept.
type NopMirror struct{}

func (NopMirror) SaveFile(context.Context, string) error         { return nil }
func (NopMirror) CopyFile(context.Context, string, string) error { return nil }
func (NopMirror) DeleteFile(context.Context, string) error       { return nil }

func (NopMirror) Restore(_ context.Context, p string, _ Storage) error {
	return fmt.Errorf("%w: %s", ErrNotExist, p)
}
