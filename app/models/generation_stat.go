package models

import "time"

// GenerationStat holds operational per-user counters: how many generation
// attempts were made and how many were rejected for lack of balance. They
// are batched through Redis and flushed periodically, so values trail
// reality by up to one flush interval.
type GenerationStat struct {
	ID        uint      `gorm:"primaryKey" json:"-"`
	UserID    uint      `gorm:"not null;uniqueIndex" json:"-"`
	Attempted int64     `gorm:"not null;default:0" json:"attempted"`
	Rejected  int64     `gorm:"not null;default:0" json:"rejected"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
