// Package models defines the GORM models of the relay's delivery journal.
package models

import "time"

// Delivery records how one repository event was handled. Rows are written
// once per dispatched event and never read back to restore relay state.
type Delivery struct {
	ID        uint      `gorm:"primaryKey;autoIncrement"`
	EventID   int64     `gorm:"not null;index"`
	EventType string    `gorm:"size:64;not null"`
	Status    string    `gorm:"size:16;not null;index"` // delivered, delivered_plain, skipped, failed
	Text      string    `gorm:"type:text"`              // rendered message, kept for manual recovery
	Error     string    `gorm:"type:text"`
	CreatedAt time.Time `gorm:"index"`
}
