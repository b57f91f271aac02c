package models

import "time"

const (
	StatusEnabled  = "1"
	StatusDisabled = "0"
)

// Banner is an admin-managed record carrying one image field.
type Banner struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Title     string    `gorm:"size:255;not null" json:"title"`
	Status    string    `gorm:"size:1;not null;default:'1'" json:"status"`
	Image     string    `gorm:"size:512" json:"image"` // name relative to the permanent media base path
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// StatusClass maps the grid status value to the css class used by the admin grid.
func StatusClass(status string) string {
	switch status {
	case StatusEnabled:
		return "status-enabled"
	case StatusDisabled:
		return "status-disabled"
	default:
		return "status-unknown"
	}
}
