package models

import "time"

const (
	SubscriptionStatusActive    = "active"
	SubscriptionStatusCancelled = "cancelled"
)

// Subscription mirrors a Stripe subscription and anchors the monthly accrual
// schedule. Rows are never deleted; cancellation flips Status so the grant
// history stays auditable.
type Subscription struct {
	ID                   uint      `gorm:"primaryKey" json:"-"`
	UserID               uint      `gorm:"not null;index" json:"-"`
	PlanTier             string    `gorm:"type:varchar(32);not null;default:'basic'" json:"plan_type"`
	Name                 string    `gorm:"type:varchar(100);not null" json:"name"`
	PriceCents           int64     `gorm:"not null;default:0" json:"price_cents"`
	MonthlyGrant         int64     `gorm:"not null;default:0" json:"monthly_generations"`
	ActivatedAt          time.Time `gorm:"type:timestamp;not null" json:"start_date"`
	PeriodsGranted       int64     `gorm:"not null;default:0" json:"months_granted"`
	StripeSessionID      string    `gorm:"type:varchar(191);index" json:"-"`
	StripeSubscriptionID string    `gorm:"type:varchar(191);index" json:"-"`
	Status               string    `gorm:"type:varchar(32);not null;default:'active';index" json:"status"`
	CreatedAt            time.Time `gorm:"autoCreateTime" json:"-"`
	UpdatedAt            time.Time `gorm:"autoUpdateTime" json:"-"`
}

// IsActive reports whether the subscription still entitles its holder.
func (s *Subscription) IsActive() bool {
	return s != nil && s.Status == SubscriptionStatusActive
}
