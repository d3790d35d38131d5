package reconcile

import (
	"context"
	"errors"
	"time"
)

// State of a purchase reconciliation cycle.
type State int

const (
	// StateOptimistic: the local balance was bumped, no server round trip
	// has started yet.
	StateOptimistic State = iota
	// StateReconciling: server confirmation in flight.
	StateReconciling
	// StateSettled: authoritative balance received and merged.
	StateSettled
	// StateFailed: retries exhausted. The optimistic value is kept locally
	// but is unconfirmed; the UI should surface a support path.
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateOptimistic:
		return "optimistic"
	case StateReconciling:
		return "reconciling"
	case StateSettled:
		return "settled"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// ErrExhausted is returned when a cycle runs out of confirmation attempts.
var ErrExhausted = errors.New("reconciliation attempts exhausted")

// RetryPolicy bounds the confirmation loop: fixed delay between attempts,
// no backoff, matching the original client's polling.
type RetryPolicy struct {
	Attempts int
	Delay    time.Duration
}

// DefaultRetryPolicy mirrors the original 6 x 800ms polling loop.
var DefaultRetryPolicy = RetryPolicy{Attempts: 6, Delay: 800 * time.Millisecond}

// Cycle tracks one purchase from optimistic bump to settlement. A new
// purchase starts a new cycle layered on the last settled value; a settled
// cycle never downgrades.
type Cycle struct {
	SessionRef      string
	ExpectedGrant   int64
	OptimisticFloor int64

	state State
}

// State returns the cycle's current state.
func (c *Cycle) State() State {
	return c.state
}

// NeedsSupport reports whether the cycle ended unconfirmed, meaning the
// locally kept bonus rests on trust until support or a later sync settles it.
func (c *Cycle) NeedsSupport() bool {
	return c.state == StateFailed
}

// Reconciler drives purchase cycles: optimistic local update, server
// confirmation with bounded retries, floor-guarded merge of the
// authoritative balance.
type Reconciler struct {
	api    *Client
	cache  *Cache
	policy RetryPolicy
}

// NewReconciler wires a reconciler. A zero policy falls back to the default.
func NewReconciler(api *Client, cache *Cache, policy RetryPolicy) *Reconciler {
	if policy.Attempts <= 0 {
		policy = DefaultRetryPolicy
	}
	return &Reconciler{api: api, cache: cache, policy: policy}
}

// Cache exposes the balance cache the reconciler maintains.
func (r *Reconciler) Cache() *Cache {
	return r.cache
}

// BeginCreditPurchase starts a cycle for a credit-pack purchase: the grant
// is applied locally right away so the user sees it, and the bumped value
// becomes the floor no later merge may regress below.
func (r *Reconciler) BeginCreditPurchase(sessionRef string, grant int64) *Cycle {
	floor := r.cache.applyOptimistic(grant)
	return &Cycle{
		SessionRef:      sessionRef,
		ExpectedGrant:   grant,
		OptimisticFloor: floor,
		state:           StateOptimistic,
	}
}

// ReconcileCredits confirms a credit purchase against the server and merges
// the authoritative balance. On exhausted retries the cycle goes Failed and
// the optimistic value stays in the cache.
func (r *Reconciler) ReconcileCredits(ctx context.Context, cycle *Cycle) error {
	return r.run(ctx, cycle, func(ctx context.Context) (BalancesPayload, error) {
		resp, err := r.api.VerifyCredits(ctx, cycle.SessionRef, cycle.ExpectedGrant)
		if err != nil {
			return BalancesPayload{}, err
		}
		return resp.Generations, nil
	})
}

// BeginSubscriptionPurchase starts a cycle for a subscription checkout that
// grants firstMonthGrant generations up front. Unlimited plans pass 0.
func (r *Reconciler) BeginSubscriptionPurchase(sessionRef string, firstMonthGrant int64) *Cycle {
	floor := r.cache.applyOptimistic(firstMonthGrant)
	return &Cycle{
		SessionRef:      sessionRef,
		ExpectedGrant:   firstMonthGrant,
		OptimisticFloor: floor,
		state:           StateOptimistic,
	}
}

// ReconcileSubscription confirms a subscription purchase.
func (r *Reconciler) ReconcileSubscription(ctx context.Context, cycle *Cycle) error {
	return r.run(ctx, cycle, func(ctx context.Context) (BalancesPayload, error) {
		resp, err := r.api.VerifySubscription(ctx, cycle.SessionRef)
		if err != nil {
			return BalancesPayload{}, err
		}
		return resp.Generations, nil
	})
}

// Sync folds the authoritative status into the cache outside any purchase
// cycle, e.g. on page load. Regressions are allowed only downward-safe:
// the merge keeps the higher of local and server values.
func (r *Reconciler) Sync(ctx context.Context) error {
	var lastErr error
	for attempt := 0; attempt < r.policy.Attempts; attempt++ {
		if attempt > 0 {
			if err := sleep(ctx, r.policy.Delay); err != nil {
				return err
			}
		}
		st, err := r.api.Status(ctx)
		if err != nil {
			lastErr = err
			continue
		}
		r.cache.mergeAuthoritative(Balances{
			Normal:        st.Generations.Normal,
			WatermarkFree: st.Generations.WatermarkFree,
		}, 0)
		return nil
	}
	return lastErr
}

// Consume spends one generation server-side and adopts the authoritative
// result. When the server cannot be reached at all the generation is
// debited locally so the user is not blocked, and a later Sync settles it.
func (r *Reconciler) Consume(ctx context.Context, kind string) error {
	resp, err := r.api.ConsumeGeneration(ctx, kind)
	if err != nil {
		if errors.Is(err, ErrInsufficientFunds) || errors.Is(err, ErrUnauthorized) {
			return err
		}
		r.cache.debitLocal(1)
		return nil
	}
	r.cache.setAuthoritative(Balances{
		Normal:        resp.Generations.Normal,
		WatermarkFree: resp.Generations.WatermarkFree,
	})
	return nil
}

// run is the shared confirmation loop: verify until it succeeds once, then
// merge the returned authoritative balances under the cycle's floor.
func (r *Reconciler) run(ctx context.Context, cycle *Cycle, verify func(context.Context) (BalancesPayload, error)) error {
	cycle.state = StateReconciling

	var lastErr error
	for attempt := 0; attempt < r.policy.Attempts; attempt++ {
		if attempt > 0 {
			if err := sleep(ctx, r.policy.Delay); err != nil {
				cycle.state = StateFailed
				return err
			}
		}

		balances, err := verify(ctx)
		if err != nil {
			// Definitive rejections will not improve with retries.
			if errors.Is(err, ErrPaymentIncomplete) || errors.Is(err, ErrUnauthorized) {
				cycle.state = StateFailed
				return err
			}
			lastErr = err
			continue
		}

		r.cache.mergeAuthoritative(Balances{
			Normal:        balances.Normal,
			WatermarkFree: balances.WatermarkFree,
		}, cycle.OptimisticFloor)
		cycle.state = StateSettled
		return nil
	}

	// Keep the optimistic value; the cycle is terminal but the local cache
	// is not reverted.
	cycle.state = StateFailed
	if lastErr != nil {
		return errors.Join(ErrExhausted, lastErr)
	}
	return ErrExhausted
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
