package models

import "time"

// MediaFile is the database mirror of one file in primary media storage.
// Nodes without the file on disk restore it from Content.
type MediaFile struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Path      string    `gorm:"size:512;not null;uniqueIndex" json:"path"` // relative to the media root
	Directory string    `gorm:"size:512;not null;index" json:"directory"`
	Filename  string    `gorm:"size:255;not null" json:"filename"`
	Content   []byte    `gorm:"not null" json:"-"`
	Size      int64     `gorm:"not null;default:0" json:"size"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
