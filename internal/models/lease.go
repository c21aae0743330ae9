package models

import "time"

// RelayLease marks the relay instance currently forwarding a repository into
// a chat channel. The lease system uses it to keep two relays sharing a
// journal database from double-posting.
type RelayLease struct {
	ID            uint      `gorm:"primaryKey;autoIncrement"`
	Repo          string    `gorm:"size:255;not null;index:idx_repo_channel"`
	ChannelID     string    `gorm:"size:128;not null;index:idx_repo_channel"`
	Holder        string    `gorm:"size:128;not null"`           // hostname:pid of the holder
	Status        string    `gorm:"size:16;default:active;index"` // active, released, expired
	LastHeartbeat time.Time `gorm:"index"`
	CreatedAt     time.Time
	ReleasedAt    *time.Time
}
