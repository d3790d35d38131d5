package models

import "time"

type BalanceKind string

const (
	BalanceNormal BalanceKind = "normal"
	BalanceClean  BalanceKind = "clean"
)

// ValidBalanceKind reports whether a raw kind string names a known balance.
func ValidBalanceKind(raw string) (BalanceKind, bool) {
	switch BalanceKind(raw) {
	case BalanceNormal, "":
		return BalanceNormal, true
	case BalanceClean:
		return BalanceClean, true
	default:
		return "", false
	}
}

// CreditEvent is the append-only record of one confirmed payment credit.
// Rows are written exactly once per payment reference and never mutated.
type CreditEvent struct {
	ID            uint        `gorm:"primaryKey" json:"id"`
	UserID        uint        `gorm:"not null;index" json:"-"`
	PaymentRef    string      `gorm:"type:varchar(191);not null;index" json:"payment_ref"`
	AmountGranted int64       `gorm:"not null" json:"amount_granted"`
	CreditedTo    BalanceKind `gorm:"type:varchar(16);not null;default:'normal'" json:"credited_to"`
	CreatedAt     time.Time   `gorm:"autoCreateTime;index" json:"created_at"`
}
