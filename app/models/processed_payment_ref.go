package models

import "time"

// ProcessedPaymentRef is the dedup set guarding against double crediting.
// The composite unique index is the actual idempotency mechanism: inserting
// with ON CONFLICT DO NOTHING tells the caller atomically whether this
// reference has been credited before, even when a webhook and a redirect
// confirmation race each other.
type ProcessedPaymentRef struct {
	ID         uint      `gorm:"primaryKey" json:"-"`
	UserID     uint      `gorm:"not null;index:ux_processed_refs_user_ref,unique,priority:1" json:"-"`
	PaymentRef string    `gorm:"type:varchar(191);not null;index:ux_processed_refs_user_ref,unique,priority:2" json:"payment_ref"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
}
