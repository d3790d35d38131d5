package ledger

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"gorm.io/gorm"

	"github.com/LukasBergmann/InvoForge/app/models"
	"github.com/LukasBergmann/InvoForge/app/repository"
	"github.com/LukasBergmann/InvoForge/internal/pkg/payment"
	"github.com/LukasBergmann/InvoForge/internal/pkg/plans"
)

// Service owns every mutation of the entitlement ledger: monthly accrual,
// consumption, payment confirmation and cancellation. All paths run under a
// per-user lock so concurrent webhook/redirect confirmations cannot lose
// updates, and every multi-row mutation is a single transaction.
type Service struct {
	repo     repository.LedgerRepository
	gateway  payment.Gateway
	lowTrust bool
	locks    *keyLock
	now      func() time.Time
}

// NewService creates a ledger service. lowTrust enables the test-mode path
// that accepts client-declared grants without gateway verification; it must
// be false in production.
func NewService(repo repository.LedgerRepository, gateway payment.Gateway, lowTrust bool) *Service {
	return &Service{
		repo:     repo,
		gateway:  gateway,
		lowTrust: lowTrust,
		locks:    newKeyLock(),
		now:      time.Now,
	}
}

// Balances is the pair of consumable balances reported to clients.
type Balances struct {
	Normal int64 `json:"normal"`
	Clean  int64 `json:"watermark_free"`
}

// Status is the authoritative entitlement snapshot for one user.
type Status struct {
	IsSubscribed bool
	Subscription *models.Subscription
	Balances     Balances
}

// ConfirmResult reports the outcome of a payment confirmation. Credited is
// false for duplicate references, which is a success per the idempotency
// contract, not an error.
type ConfirmResult struct {
	Credited bool
	Granted  int64
	Status   Status
}

// GetStatus applies the accrual tick and returns the current entitlement
// state. Safe to call on every poll.
func (s *Service) GetStatus(ctx context.Context, userID uint) (*Status, error) {
	s.locks.Lock(userID)
	defer s.locks.Unlock(userID)

	user, sub, err := s.loadUser(userID)
	if err != nil {
		return nil, err
	}

	if granted := ApplyAccrual(user, sub, s.now()); granted > 0 {
		if err := s.persistAccrual(user, sub); err != nil {
			return nil, err
		}
	}

	return statusOf(user, sub), nil
}

// Consume decrements the named balance by n, accruing first so freshly
// earned subscription grants are spendable. It rejects atomically when the
// balance is short; holders of an unlimited plan consume without metering.
func (s *Service) Consume(ctx context.Context, userID uint, kind models.BalanceKind, n int64) (*Status, error) {
	if kind != models.BalanceNormal && kind != models.BalanceClean {
		return nil, ErrUnknownBalanceKind
	}
	if n <= 0 {
		return nil, fmt.Errorf("%w: consume amount must be positive", ErrUnknownBalanceKind)
	}

	s.locks.Lock(userID)
	defer s.locks.Unlock(userID)

	user, sub, err := s.loadUser(userID)
	if err != nil {
		return nil, err
	}

	unlimited := kind == models.BalanceNormal && sub.IsActive() && plans.IsUnlimited(sub.MonthlyGrant)
	if kind == models.BalanceNormal && sub.IsActive() {
		ApplyAccrual(user, sub, s.now())
	}

	if !unlimited {
		if user.Balance(kind) < n {
			// Accrued grants still belong to the user even though the
			// consume itself is rejected.
			if err := s.persistAccrual(user, sub); err != nil {
				return nil, err
			}
			return nil, ErrInsufficientFunds
		}
		user.AddBalance(kind, -n)
	}
	user.ConsumedCount += n

	if err := s.persistAccrual(user, sub); err != nil {
		return nil, err
	}
	return statusOf(user, sub), nil
}

// ConfirmCreditPurchase credits a one-off credit-pack payment exactly once.
// Duplicate deliveries (webhook retry, success-page reload, manual re-verify)
// return the current balance with Credited=false.
func (s *Service) ConfirmCreditPurchase(ctx context.Context, userID uint, sessionRef string, expectedGrant int64) (*ConfirmResult, error) {
	if sessionRef == "" {
		return nil, ErrPaymentNotConfirmed
	}

	s.locks.Lock(userID)
	defer s.locks.Unlock(userID)

	user, sub, err := s.loadUser(userID)
	if err != nil {
		return nil, err
	}

	// Duplicate fast path: answer without a gateway round trip.
	seen, err := s.repo.HasProcessedRef(userID, sessionRef)
	if err != nil {
		return nil, err
	}
	if seen {
		return &ConfirmResult{Credited: false, Status: *statusOf(user, sub)}, nil
	}

	grant, err := s.resolveCreditGrant(ctx, user, sessionRef, expectedGrant)
	if err != nil {
		return nil, err
	}

	credited := false
	err = s.repo.Transaction(func(tx repository.LedgerRepository) error {
		first, err := tx.AddProcessedRefIfNew(userID, sessionRef)
		if err != nil {
			return err
		}
		if !first {
			// Lost the race against another confirmation path; nothing
			// more to do.
			return nil
		}
		credited = true
		user.AddBalance(models.BalanceNormal, grant)
		if err := tx.AppendCreditEvent(&models.CreditEvent{
			UserID:        userID,
			PaymentRef:    sessionRef,
			AmountGranted: grant,
			CreditedTo:    models.BalanceNormal,
		}); err != nil {
			return err
		}
		return tx.SaveUser(user)
	})
	if err != nil {
		return nil, err
	}

	result := &ConfirmResult{Credited: credited, Status: *statusOf(user, sub)}
	if credited {
		result.Granted = grant
	}
	return result, nil
}

// ConfirmSubscription verifies a subscription checkout session and activates
// (or re-confirms) the subscription. Confirming the same session again only
// re-runs the accrual tick.
func (s *Service) ConfirmSubscription(ctx context.Context, userID uint, sessionRef string) (*ConfirmResult, error) {
	if sessionRef == "" {
		return nil, ErrPaymentNotConfirmed
	}

	s.locks.Lock(userID)
	defer s.locks.Unlock(userID)

	user, sub, err := s.loadUser(userID)
	if err != nil {
		return nil, err
	}

	// Already verified for this user, or a low-trust re-confirm with any
	// subscription in place: idempotent re-confirm, accrual tick only.
	if (sub != nil && sub.StripeSessionID == sessionRef) || (s.lowTrust && sub.IsActive()) {
		if granted := ApplyAccrual(user, sub, s.now()); granted > 0 {
			if err := s.persistAccrual(user, sub); err != nil {
				return nil, err
			}
		}
		return &ConfirmResult{Credited: false, Status: *statusOf(user, sub)}, nil
	}

	plan, externalSubID, err := s.resolveSubscriptionPlan(ctx, user, sessionRef)
	if err != nil {
		return nil, err
	}

	// Webhook and redirect deliveries can arrive out of order. A session
	// for a lower-ranked plan must not replace a subscription the user has
	// since upgraded; its ref is still consumed so the delivery is not
	// retried against us forever.
	if sub.IsActive() && plans.TierRank(plan.Tier) < plans.TierRank(plans.Tier(sub.PlanTier)) {
		if _, err := s.repo.AddProcessedRefIfNew(userID, sessionRef); err != nil {
			return nil, err
		}
		if granted := ApplyAccrual(user, sub, s.now()); granted > 0 {
			if err := s.persistAccrual(user, sub); err != nil {
				return nil, err
			}
		}
		return &ConfirmResult{Credited: false, Status: *statusOf(user, sub)}, nil
	}

	now := s.now()
	newSub := &models.Subscription{
		UserID:               userID,
		PlanTier:             string(plan.Tier),
		Name:                 plan.Name,
		PriceCents:           plan.PriceCents,
		MonthlyGrant:         plan.MonthlyGrant,
		ActivatedAt:          now,
		PeriodsGranted:       0,
		StripeSessionID:      sessionRef,
		StripeSubscriptionID: externalSubID,
		Status:               models.SubscriptionStatusActive,
	}

	credited := false
	var grantedTotal int64
	err = s.repo.Transaction(func(tx repository.LedgerRepository) error {
		first, err := tx.AddProcessedRefIfNew(userID, sessionRef)
		if err != nil {
			return err
		}
		if !first {
			return nil
		}
		credited = true

		// At most one active subscription per user: retire the old row
		// instead of deleting it.
		if sub.IsActive() {
			sub.Status = models.SubscriptionStatusCancelled
			if err := tx.SaveSubscription(sub); err != nil {
				return err
			}
		}

		granted := ApplyAccrual(user, newSub, now)
		grantedTotal = granted
		if err := tx.SaveSubscription(newSub); err != nil {
			return err
		}
		if granted > 0 {
			if err := tx.AppendCreditEvent(&models.CreditEvent{
				UserID:        userID,
				PaymentRef:    sessionRef,
				AmountGranted: granted,
				CreditedTo:    models.BalanceNormal,
			}); err != nil {
				return err
			}
		}
		return tx.SaveUser(user)
	})
	if err != nil {
		return nil, err
	}

	if credited {
		sub = newSub
	}
	return &ConfirmResult{Credited: credited, Granted: grantedTotal, Status: *statusOf(user, sub)}, nil
}

// CancelSubscription cancels the active subscription: earned grants are
// accrued first, the provider-side subscription must be cancelled before any
// local state changes (fail closed), then the row is marked cancelled and
// the watermark-free balance is zeroed. The normal balance is untouched.
func (s *Service) CancelSubscription(ctx context.Context, userID uint) (*Status, error) {
	s.locks.Lock(userID)
	defer s.locks.Unlock(userID)

	user, sub, err := s.loadUser(userID)
	if err != nil {
		return nil, err
	}
	if !sub.IsActive() {
		return nil, ErrNoSubscription
	}

	ApplyAccrual(user, sub, s.now())

	if !s.lowTrust {
		externalID := sub.StripeSubscriptionID
		if externalID == "" && sub.StripeSessionID != "" {
			// Derive the provider subscription ID from the stored
			// checkout session.
			sess, err := s.gateway.RetrieveSession(ctx, sub.StripeSessionID)
			if err == nil && sess.SubscriptionID != "" {
				externalID = sess.SubscriptionID
				sub.StripeSubscriptionID = externalID
			}
		}
		if externalID == "" {
			return nil, ErrMissingExternalRef
		}
		if err := s.gateway.CancelSubscription(ctx, externalID); err != nil {
			if errors.Is(err, payment.ErrUnreachable) {
				return nil, fmt.Errorf("%w: %v", ErrGatewayUnreachable, err)
			}
			return nil, fmt.Errorf("%w: provider cancellation failed: %v", ErrGatewayUnreachable, err)
		}
	}

	err = s.repo.Transaction(func(tx repository.LedgerRepository) error {
		sub.Status = models.SubscriptionStatusCancelled
		user.CleanBalance = 0
		if err := tx.SaveSubscription(sub); err != nil {
			return err
		}
		return tx.SaveUser(user)
	})
	if err != nil {
		return nil, err
	}
	return statusOf(user, sub), nil
}

// GrantDirect applies a trusted direct credit. Only reachable through the
// low-trust endpoints; production routing never exposes it.
func (s *Service) GrantDirect(ctx context.Context, userID uint, kind models.BalanceKind, n int64) (*Status, error) {
	if n <= 0 {
		return nil, ErrGrantRequired
	}

	s.locks.Lock(userID)
	defer s.locks.Unlock(userID)

	user, sub, err := s.loadUser(userID)
	if err != nil {
		return nil, err
	}
	user.AddBalance(kind, n)
	if err := s.repo.SaveUser(user); err != nil {
		return nil, err
	}
	return statusOf(user, sub), nil
}

// ActivateDirect installs a subscription without payment verification. Only
// reachable through the low-trust endpoints.
func (s *Service) ActivateDirect(ctx context.Context, userID uint, tier string) (*Status, error) {
	plan, ok := plans.ByTier(tier)
	if !ok {
		return nil, ErrNoSubscription
	}

	s.locks.Lock(userID)
	defer s.locks.Unlock(userID)

	user, sub, err := s.loadUser(userID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	newSub := &models.Subscription{
		UserID:         userID,
		PlanTier:       string(plan.Tier),
		Name:           plan.Name,
		PriceCents:     plan.PriceCents,
		MonthlyGrant:   plan.MonthlyGrant,
		ActivatedAt:    now,
		PeriodsGranted: 0,
		Status:         models.SubscriptionStatusActive,
	}

	err = s.repo.Transaction(func(tx repository.LedgerRepository) error {
		if sub.IsActive() {
			sub.Status = models.SubscriptionStatusCancelled
			if err := tx.SaveSubscription(sub); err != nil {
				return err
			}
		}
		ApplyAccrual(user, newSub, now)
		if err := tx.SaveSubscription(newSub); err != nil {
			return err
		}
		return tx.SaveUser(user)
	})
	if err != nil {
		return nil, err
	}
	return statusOf(user, newSub), nil
}

// resolveCreditGrant determines how many generations a credit session is
// worth. Production verifies with the gateway and fails closed; the
// low-trust path accepts the client-declared amount.
func (s *Service) resolveCreditGrant(ctx context.Context, user *models.User, sessionRef string, expectedGrant int64) (int64, error) {
	if s.lowTrust {
		if expectedGrant <= 0 {
			return 0, ErrGrantRequired
		}
		return expectedGrant, nil
	}

	sess, err := s.gateway.RetrieveSession(ctx, sessionRef)
	if err != nil {
		if errors.Is(err, payment.ErrUnreachable) {
			return 0, fmt.Errorf("%w: %v", ErrGatewayUnreachable, err)
		}
		return 0, fmt.Errorf("%w: %v", ErrPaymentNotConfirmed, err)
	}
	if !sess.Paid {
		return 0, ErrPaymentNotConfirmed
	}
	if owner := sess.Metadata["clientId"]; owner != "" && owner != user.PublicID {
		return 0, ErrSessionOwnership
	}

	grant, _ := strconv.ParseInt(sess.Metadata["generations"], 10, 64)
	if grant <= 0 {
		return 0, ErrGrantRequired
	}
	return grant, nil
}

// resolveSubscriptionPlan validates a subscription session and maps its
// metadata to an internal plan.
func (s *Service) resolveSubscriptionPlan(ctx context.Context, user *models.User, sessionRef string) (plans.Plan, string, error) {
	if s.lowTrust {
		plan, _ := plans.ByTier(string(plans.TierBasic))
		return plan, "", nil
	}

	sess, err := s.gateway.RetrieveSession(ctx, sessionRef)
	if err != nil {
		if errors.Is(err, payment.ErrUnreachable) {
			return plans.Plan{}, "", fmt.Errorf("%w: %v", ErrGatewayUnreachable, err)
		}
		return plans.Plan{}, "", fmt.Errorf("%w: %v", ErrPaymentNotConfirmed, err)
	}
	if !sess.Paid {
		return plans.Plan{}, "", ErrPaymentNotConfirmed
	}
	if owner := sess.Metadata["clientId"]; owner != "" && owner != user.PublicID {
		return plans.Plan{}, "", ErrSessionOwnership
	}

	plan, _ := plans.ByTier(sess.Metadata["planType"])
	// A session may carry an explicit grant override in its metadata.
	if raw := sess.Metadata["generations"]; raw != "" {
		if grant, err := strconv.ParseInt(raw, 10, 64); err == nil && (grant > 0 || plans.IsUnlimited(grant)) {
			plan.MonthlyGrant = grant
		}
	}
	return plan, sess.SubscriptionID, nil
}

// loadUser fetches the user and their newest subscription row. A missing
// subscription is normal and returned as nil.
func (s *Service) loadUser(userID uint) (*models.User, *models.Subscription, error) {
	user, err := s.repo.GetUserByID(userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, ErrUserNotFound
		}
		return nil, nil, err
	}

	sub, err := s.repo.GetSubscription(userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return user, nil, nil
		}
		return nil, nil, err
	}
	return user, sub, nil
}

// persistAccrual writes back user and subscription together so an accrual
// tick is all-or-nothing.
func (s *Service) persistAccrual(user *models.User, sub *models.Subscription) error {
	return s.repo.Transaction(func(tx repository.LedgerRepository) error {
		if err := tx.SaveUser(user); err != nil {
			return err
		}
		if sub != nil {
			return tx.SaveSubscription(sub)
		}
		return nil
	})
}

func statusOf(user *models.User, sub *models.Subscription) *Status {
	st := &Status{
		IsSubscribed: sub.IsActive(),
		Balances: Balances{
			Normal: user.NormalBalance,
			Clean:  user.CleanBalance,
		},
	}
	if st.IsSubscribed {
		st.Subscription = sub
	}
	return st
}
