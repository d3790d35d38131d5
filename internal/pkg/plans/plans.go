package plans

import "strings"

type Tier string

const (
	TierBasic        Tier = "basic"
	TierProfessional Tier = "professional"
	TierEnterprise   Tier = "enterprise"
)

// UnlimitedGrant marks a plan whose holders are not metered. No monthly
// accrual is applied for it; the consumption guard treats the balance as
// unbounded instead.
const UnlimitedGrant int64 = -1

// Plan describes a monthly subscription tier.
type Plan struct {
	Tier         Tier
	Name         string
	PriceCents   int64
	MonthlyGrant int64
}

// CreditPack describes a one-off credit purchase.
type CreditPack struct {
	Key        string
	Name       string
	PriceCents int64
	Grant      int64
}

var subscriptionPlans = map[Tier]Plan{
	TierBasic:        {Tier: TierBasic, Name: "Basic Plan", PriceCents: 999, MonthlyGrant: 100},
	TierProfessional: {Tier: TierProfessional, Name: "Professional Plan", PriceCents: 2999, MonthlyGrant: 500},
	TierEnterprise:   {Tier: TierEnterprise, Name: "Enterprise Plan", PriceCents: 3999, MonthlyGrant: UnlimitedGrant},
}

var creditPacks = map[string]CreditPack{
	"basic":      {Key: "basic", Name: "Basic Credits", PriceCents: 499, Grant: 50},
	"pro":        {Key: "pro", Name: "Professional Credits", PriceCents: 999, Grant: 150},
	"enterprise": {Key: "enterprise", Name: "Enterprise Credits", PriceCents: 1999, Grant: 500},
}

// ByTier resolves a subscription plan from a raw tier string.
func ByTier(raw string) (Plan, bool) {
	p, ok := subscriptionPlans[NormalizeTier(raw)]
	return p, ok
}

// PackByKey resolves a one-off credit pack from a raw key string.
func PackByKey(raw string) (CreditPack, bool) {
	p, ok := creditPacks[strings.ToLower(strings.TrimSpace(raw))]
	return p, ok
}

// NormalizeTier maps arbitrary input to a known tier, defaulting to basic.
func NormalizeTier(raw string) Tier {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(TierProfessional):
		return TierProfessional
	case string(TierEnterprise):
		return TierEnterprise
	default:
		return TierBasic
	}
}

// TierRank orders tiers so callers can pick the best of several.
func TierRank(t Tier) int {
	switch t {
	case TierEnterprise:
		return 2
	case TierProfessional:
		return 1
	default:
		return 0
	}
}

// IsUnlimited reports whether a monthly grant marks an unmetered plan.
func IsUnlimited(monthlyGrant int64) bool {
	return monthlyGrant == UnlimitedGrant
}
