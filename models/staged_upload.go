package models

import "time"

// StagedUpload records a file written into the staging area so abandoned uploads can be swept.
type StagedUpload struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Path      string    `gorm:"size:512;not null;uniqueIndex" json:"path"` // relative to the media root
	ExpireAt  time.Time `gorm:"index" json:"expire_at"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
