package reconcile

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastPolicy(attempts int) RetryPolicy {
	return RetryPolicy{Attempts: attempts, Delay: time.Millisecond}
}

func writeJSON(t *testing.T, w http.ResponseWriter, status int, body any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	require.NoError(t, json.NewEncoder(w).Encode(body))
}

func TestReconcileCredits_SettlesWithServerBalance(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/credits/verify", r.URL.Path)
		require.Equal(t, "Bearer tok_abc", r.Header.Get("Authorization"))
		writeJSON(t, w, http.StatusOK, VerifyResponse{
			OK:       true,
			Credited: true,
			Generations: BalancesPayload{
				Normal:        60,
				WatermarkFree: 2,
			},
		})
	}))
	defer srv.Close()

	cache := NewCache()
	cache.Load(Balances{Normal: 10})
	rec := NewReconciler(NewClient(srv.URL, "tok_abc"), cache, fastPolicy(3))

	cycle := rec.BeginCreditPurchase("cs_test_1", 50)
	assert.Equal(t, StateOptimistic, cycle.State())
	assert.Equal(t, int64(60), cache.Balances().Normal)

	require.NoError(t, rec.ReconcileCredits(context.Background(), cycle))
	assert.Equal(t, StateSettled, cycle.State())
	assert.False(t, cycle.NeedsSupport())
	assert.Equal(t, int64(60), cache.Balances().Normal)
	assert.Equal(t, int64(2), cache.Balances().WatermarkFree)
}

func TestReconcileCredits_StaleServerReadNeverRegresses(t *testing.T) {
	// Server answers with a snapshot taken before the credit landed. The
	// merge must keep the optimistic floor, not adopt the stale value.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, http.StatusOK, VerifyResponse{
			OK:          true,
			Credited:    true,
			Generations: BalancesPayload{Normal: 10},
		})
	}))
	defer srv.Close()

	cache := NewCache()
	cache.Load(Balances{Normal: 10})
	rec := NewReconciler(NewClient(srv.URL, "tok_abc"), cache, fastPolicy(3))

	cycle := rec.BeginCreditPurchase("cs_test_2", 50)
	require.NoError(t, rec.ReconcileCredits(context.Background(), cycle))

	assert.Equal(t, StateSettled, cycle.State())
	assert.Equal(t, int64(60), cache.Balances().Normal)
}

func TestReconcileCredits_ExhaustedKeepsOptimisticValue(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		writeJSON(t, w, http.StatusInternalServerError, errorResponse{Error: "storage_unavailable"})
	}))
	defer srv.Close()

	cache := NewCache()
	cache.Load(Balances{Normal: 5})
	rec := NewReconciler(NewClient(srv.URL, "tok_abc"), cache, fastPolicy(4))

	cycle := rec.BeginCreditPurchase("cs_test_3", 50)
	err := rec.ReconcileCredits(context.Background(), cycle)

	require.ErrorIs(t, err, ErrExhausted)
	assert.Equal(t, StateFailed, cycle.State())
	assert.True(t, cycle.NeedsSupport())
	assert.Equal(t, int64(4), calls.Load())
	// The bumped value stays visible even though it is unconfirmed.
	assert.Equal(t, int64(55), cache.Balances().Normal)
}

func TestReconcileCredits_PaymentRejectedDoesNotRetry(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		writeJSON(t, w, http.StatusBadRequest, errorResponse{Error: "payment_not_completed"})
	}))
	defer srv.Close()

	rec := NewReconciler(NewClient(srv.URL, "tok_abc"), NewCache(), fastPolicy(5))
	cycle := rec.BeginCreditPurchase("cs_test_4", 50)

	err := rec.ReconcileCredits(context.Background(), cycle)
	require.ErrorIs(t, err, ErrPaymentIncomplete)
	assert.Equal(t, StateFailed, cycle.State())
	assert.Equal(t, int64(1), calls.Load())
}

func TestReconcileCredits_TransientErrorThenSuccess(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			writeJSON(t, w, http.StatusBadGateway, errorResponse{Error: "gateway_unreachable"})
			return
		}
		writeJSON(t, w, http.StatusOK, VerifyResponse{
			OK:          true,
			Credited:    true,
			Generations: BalancesPayload{Normal: 50},
		})
	}))
	defer srv.Close()

	cache := NewCache()
	rec := NewReconciler(NewClient(srv.URL, "tok_abc"), cache, fastPolicy(6))

	cycle := rec.BeginCreditPurchase("cs_test_5", 50)
	require.NoError(t, rec.ReconcileCredits(context.Background(), cycle))
	assert.Equal(t, StateSettled, cycle.State())
	assert.Equal(t, int64(3), calls.Load())
	assert.Equal(t, int64(50), cache.Balances().Normal)
}

func TestReconcileSubscription_Settles(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/subscription/verify", r.URL.Path)
		writeJSON(t, w, http.StatusOK, VerifyResponse{
			OK:           true,
			IsSubscribed: true,
			Subscription: &SubscriptionPayload{PlanTier: "professional", Status: "active"},
			Generations:  BalancesPayload{Normal: 500},
		})
	}))
	defer srv.Close()

	cache := NewCache()
	rec := NewReconciler(NewClient(srv.URL, "tok_abc"), cache, fastPolicy(3))

	cycle := rec.BeginSubscriptionPurchase("cs_sub_1", 500)
	require.NoError(t, rec.ReconcileSubscription(context.Background(), cycle))
	assert.Equal(t, StateSettled, cycle.State())
	assert.Equal(t, int64(500), cache.Balances().Normal)
}

func TestReconcile_ContextCancelStopsRetrying(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, http.StatusInternalServerError, errorResponse{Error: "storage_unavailable"})
	}))
	defer srv.Close()

	rec := NewReconciler(NewClient(srv.URL, "tok_abc"), NewCache(), RetryPolicy{Attempts: 10, Delay: 50 * time.Millisecond})
	cycle := rec.BeginCreditPurchase("cs_test_6", 50)

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()

	err := rec.ReconcileCredits(ctx, cycle)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, StateFailed, cycle.State())
}

func TestSync_MergesHigherServerValue(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/subscription/status", r.URL.Path)
		writeJSON(t, w, http.StatusOK, StatusResponse{
			IsSubscribed: true,
			Generations:  BalancesPayload{Normal: 120, WatermarkFree: 7},
		})
	}))
	defer srv.Close()

	cache := NewCache()
	cache.Load(Balances{Normal: 80, WatermarkFree: 3})
	rec := NewReconciler(NewClient(srv.URL, "tok_abc"), cache, fastPolicy(2))

	require.NoError(t, rec.Sync(context.Background()))
	assert.Equal(t, Balances{Normal: 120, WatermarkFree: 7}, cache.Balances())
}

func TestSync_KeepsHigherLocalValue(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, http.StatusOK, StatusResponse{
			Generations: BalancesPayload{Normal: 40},
		})
	}))
	defer srv.Close()

	cache := NewCache()
	cache.Load(Balances{Normal: 90})
	rec := NewReconciler(NewClient(srv.URL, "tok_abc"), cache, fastPolicy(2))

	require.NoError(t, rec.Sync(context.Background()))
	assert.Equal(t, int64(90), cache.Balances().Normal)
}

func TestConsume_AdoptsAuthoritativeDecrement(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/user/consume-generation", r.URL.Path)
		writeJSON(t, w, http.StatusOK, ConsumeResponse{
			OK:          true,
			Generations: BalancesPayload{Normal: 41},
		})
	}))
	defer srv.Close()

	cache := NewCache()
	cache.Load(Balances{Normal: 42})
	rec := NewReconciler(NewClient(srv.URL, "tok_abc"), cache, fastPolicy(2))

	require.NoError(t, rec.Consume(context.Background(), "normal"))
	assert.Equal(t, int64(41), cache.Balances().Normal)
}

func TestConsume_InsufficientFundsPassesThrough(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, http.StatusPaymentRequired, errorResponse{Error: "insufficient_generations"})
	}))
	defer srv.Close()

	cache := NewCache()
	rec := NewReconciler(NewClient(srv.URL, "tok_abc"), cache, fastPolicy(2))

	err := rec.Consume(context.Background(), "normal")
	require.ErrorIs(t, err, ErrInsufficientFunds)
	assert.Equal(t, int64(0), cache.Balances().Normal)
}

func TestConsume_OfflineFallsBackToLocalDebit(t *testing.T) {
	srv := httptest.NewServer(nil)
	srv.Close() // unreachable

	cache := NewCache()
	cache.Load(Balances{Normal: 3})
	rec := NewReconciler(NewClient(srv.URL, "tok_abc"), cache, fastPolicy(2))

	require.NoError(t, rec.Consume(context.Background(), "normal"))
	assert.Equal(t, int64(2), cache.Balances().Normal)
}

func TestCache_SubscribersSeeEveryChange(t *testing.T) {
	cache := NewCache()
	var seen []Balances
	cache.Subscribe(func(b Balances) { seen = append(seen, b) })

	cache.Load(Balances{Normal: 10})
	cache.applyOptimistic(5)
	cache.debitLocal(20)

	require.Len(t, seen, 3)
	assert.Equal(t, int64(10), seen[0].Normal)
	assert.Equal(t, int64(15), seen[1].Normal)
	assert.Equal(t, int64(0), seen[2].Normal)
}

func TestClient_UnauthorizedClassified(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, http.StatusUnauthorized, errorResponse{Error: "unauthorized"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "")
	_, err := c.Status(context.Background())
	require.ErrorIs(t, err, ErrUnauthorized)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "optimistic", StateOptimistic.String())
	assert.Equal(t, "reconciling", StateReconciling.String())
	assert.Equal(t, "settled", StateSettled.String())
	assert.Equal(t, "failed", StateFailed.String())
}
