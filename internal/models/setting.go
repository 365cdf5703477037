package models

import "time"

// Setting is one row of the append-only settings table. Settings are never
// updated in place; a new row is appended and reads take the latest row per key.
type Setting struct {
	ID        uint64    `gorm:"primarykey" json:"id"`
	Key       string    `gorm:"not null;size:255;index" json:"key"`
	Value     string    `gorm:"type:text" json:"value"`
	CreatedAt time.Time `json:"created_at"`
}

// TableName returns the table name for Setting.
func (Setting) TableName() string {
	return "settings"
}
