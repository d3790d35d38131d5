package ledger

import (
	"time"

	"github.com/LukasBergmann/InvoForge/app/models"
)

// monthDuration is a fixed 30-day approximation of a billing month. The
// original product billed on this schedule rather than calendar months, so
// the drift over a year is intentional and must not be "fixed" silently.
const monthDuration = 30 * 24 * time.Hour

// ApplyAccrual grants every monthly allowance the subscription has earned
// since activation and not yet received, mutating the user balance and the
// subscription's granted-period counter in place. It returns the total
// amount granted.
//
// The function is a pure accrual tick: it is safe to call on every status or
// consume request because periods already counted are never granted again.
// Period one is granted at activation, so periodsElapsed is floor(elapsed /
// 30d) + 1.
func ApplyAccrual(user *models.User, sub *models.Subscription, now time.Time) int64 {
	if user == nil || !sub.IsActive() {
		return 0
	}
	// Unlimited plans use -1 and are never accrued.
	if sub.MonthlyGrant <= 0 {
		return 0
	}
	if sub.ActivatedAt.IsZero() || now.Before(sub.ActivatedAt) {
		return 0
	}

	periodsElapsed := int64(now.Sub(sub.ActivatedAt)/monthDuration) + 1
	delta := periodsElapsed - sub.PeriodsGranted
	if delta <= 0 {
		return 0
	}

	granted := sub.MonthlyGrant * delta
	user.NormalBalance += granted
	sub.PeriodsGranted = periodsElapsed
	return granted
}
