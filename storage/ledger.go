package storage

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/cppla/mediastage/models"
)

// DBLedger tracks staged files and when they may be swept.
type DBLedger struct {
	db *gorm.DB
}

func NewDBLedger(db *gorm.DB) *DBLedger {
	return &DBLedger{db: db}
}

// Track records p, refreshing the expiry when it is already known.
func (l *DBLedger) Track(ctx context.Context, p string, expireAt time.Time) error {
	return l.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "path"}},
		DoUpdates: clause.AssignmentColumns([]string{"expire_at", "updated_at"}),
	}).Create(&models.StagedUpload{Path: p, ExpireAt: expireAt}).Error
}

func (l *DBLedger) Forget(ctx context.Context, p string) error {
	return l.db.WithContext(ctx).Where("path = ?", p).Delete(&models.StagedUpload{}).Error
}

// Expired lists up to limit paths whose expiry is at or before the given time, oldest first.
func (l *DBLedger) Expired(ctx context.Context, before time.Time, limit int) ([]string, error) {
	var paths []string
	err := l.db.WithContext(ctx).Model(&models.StagedUpload{}).
		Where("expire_at <= ?", before).
		Order("expire_at").
		Limit(limit).
		Pluck("path", &paths).Error
	return paths, err
}
