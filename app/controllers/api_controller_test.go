package controllers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LukasBergmann/InvoForge/app/models"
	"github.com/LukasBergmann/InvoForge/internal/pkg/ledger"
	"github.com/LukasBergmann/InvoForge/internal/pkg/usercontext"
)

type stubLedger struct {
	status     *ledger.Status
	confirm    *ledger.ConfirmResult
	err        error
	lastKind   models.BalanceKind
	lastAmount int64
}

func (s *stubLedger) GetStatus(ctx context.Context, userID uint) (*ledger.Status, error) {
	return s.status, s.err
}

func (s *stubLedger) Consume(ctx context.Context, userID uint, kind models.BalanceKind, n int64) (*ledger.Status, error) {
	s.lastKind = kind
	s.lastAmount = n
	return s.status, s.err
}

func (s *stubLedger) ConfirmCreditPurchase(ctx context.Context, userID uint, sessionRef string, expectedGrant int64) (*ledger.ConfirmResult, error) {
	return s.confirm, s.err
}

func (s *stubLedger) ConfirmSubscription(ctx context.Context, userID uint, sessionRef string) (*ledger.ConfirmResult, error) {
	return s.confirm, s.err
}

func (s *stubLedger) CancelSubscription(ctx context.Context, userID uint) (*ledger.Status, error) {
	return s.status, s.err
}

func (s *stubLedger) GrantDirect(ctx context.Context, userID uint, kind models.BalanceKind, n int64) (*ledger.Status, error) {
	s.lastKind = kind
	s.lastAmount = n
	return s.status, s.err
}

func (s *stubLedger) ActivateDirect(ctx context.Context, userID uint, tier string) (*ledger.Status, error) {
	return s.status, s.err
}

func newTestApp(stub *stubLedger) *fiber.App {
	SetLedgerService(stub)

	app := fiber.New()
	app.Use(func(c *fiber.Ctx) error {
		usercontext.SetUserContext(c, usercontext.UserContext{
			UserID:     1,
			PublicID:   "user_abc",
			Email:      "t@example.com",
			IsLoggedIn: true,
		})
		return c.Next()
	})
	app.Get("/api/subscription/status", HandleSubscriptionStatus)
	app.Post("/api/subscription/verify", HandleVerifySubscription)
	app.Post("/api/subscription/cancel", HandleCancelSubscription)
	app.Post("/api/credits/verify", HandleVerifyCredits)
	app.Post("/api/user/consume-generation", HandleConsumeGeneration)
	app.Post("/api/user/add-credits", HandleAddCredits)
	return app
}

func doJSON(t *testing.T, app *fiber.App, method, path string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := app.Test(req)
	require.NoError(t, err)

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var decoded map[string]any
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &decoded))
	}
	return resp, decoded
}

func TestHandleSubscriptionStatus(t *testing.T) {
	stub := &stubLedger{status: &ledger.Status{
		IsSubscribed: true,
		Subscription: &models.Subscription{PlanTier: "professional", Status: "active"},
		Balances:     ledger.Balances{Normal: 42, Clean: 3},
	}}
	app := newTestApp(stub)

	resp, body := doJSON(t, app, http.MethodGet, "/api/subscription/status", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["is_subscribed"])

	gens := body["generations"].(map[string]any)
	assert.Equal(t, float64(42), gens["normal"])
	assert.Equal(t, float64(3), gens["watermark_free"])
}

func TestHandleVerifyCredits(t *testing.T) {
	stub := &stubLedger{confirm: &ledger.ConfirmResult{
		Credited: true,
		Status:   ledger.Status{Balances: ledger.Balances{Normal: 50}},
	}}
	app := newTestApp(stub)

	resp, body := doJSON(t, app, http.MethodPost, "/api/credits/verify", map[string]any{
		"session_id":           "cs_test_1",
		"expected_generations": 50,
	})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["ok"])
	assert.Equal(t, true, body["credited"])
}

func TestHandleVerifyCredits_MissingSessionID(t *testing.T) {
	app := newTestApp(&stubLedger{})

	resp, body := doJSON(t, app, http.MethodPost, "/api/credits/verify", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "invalid_request", body["error"])
}

func TestHandleVerifyCredits_ErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantError  string
	}{
		{"unpaid session", ledger.ErrPaymentNotConfirmed, http.StatusBadRequest, "payment_not_completed"},
		{"gateway down", ledger.ErrGatewayUnreachable, http.StatusBadGateway, "gateway_unreachable"},
		{"foreign session", ledger.ErrSessionOwnership, http.StatusForbidden, "session_not_owned_by_user"},
		{"missing grant", ledger.ErrGrantRequired, http.StatusBadRequest, "expected_generations_required"},
		{"unknown user", ledger.ErrUserNotFound, http.StatusNotFound, "not_found"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			app := newTestApp(&stubLedger{err: tc.err})
			resp, body := doJSON(t, app, http.MethodPost, "/api/credits/verify", map[string]any{"session_id": "cs_x"})
			assert.Equal(t, tc.wantStatus, resp.StatusCode)
			assert.Equal(t, tc.wantError, body["error"])
		})
	}
}

func TestHandleConsumeGeneration(t *testing.T) {
	stub := &stubLedger{status: &ledger.Status{Balances: ledger.Balances{Normal: 9}}}
	app := newTestApp(stub)

	resp, body := doJSON(t, app, http.MethodPost, "/api/user/consume-generation", map[string]any{"type": "clean"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["ok"])
	assert.Equal(t, models.BalanceClean, stub.lastKind)
	assert.Equal(t, int64(1), stub.lastAmount)
}

func TestHandleConsumeGeneration_DefaultsToNormal(t *testing.T) {
	stub := &stubLedger{status: &ledger.Status{}}
	app := newTestApp(stub)

	resp, _ := doJSON(t, app, http.MethodPost, "/api/user/consume-generation", map[string]any{})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, models.BalanceNormal, stub.lastKind)
}

func TestHandleConsumeGeneration_UnknownType(t *testing.T) {
	stub := &stubLedger{status: &ledger.Status{}}
	app := newTestApp(stub)

	resp, body := doJSON(t, app, http.MethodPost, "/api/user/consume-generation", map[string]any{"type": "ai"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "invalid_generation_type", body["error"])
}

func TestHandleConsumeGeneration_Insufficient(t *testing.T) {
	app := newTestApp(&stubLedger{err: ledger.ErrInsufficientFunds})

	resp, body := doJSON(t, app, http.MethodPost, "/api/user/consume-generation", map[string]any{"type": "normal"})
	assert.Equal(t, http.StatusPaymentRequired, resp.StatusCode)
	assert.Equal(t, "insufficient_generations", body["error"])
}

func TestHandleCancelSubscription_NoSubscription(t *testing.T) {
	app := newTestApp(&stubLedger{err: ledger.ErrNoSubscription})

	resp, body := doJSON(t, app, http.MethodPost, "/api/subscription/cancel", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "no_active_subscription", body["error"])
}

func TestHandleVerifySubscription(t *testing.T) {
	stub := &stubLedger{confirm: &ledger.ConfirmResult{
		Credited: true,
		Status: ledger.Status{
			IsSubscribed: true,
			Subscription: &models.Subscription{PlanTier: "basic", Status: "active"},
			Balances:     ledger.Balances{Normal: 100},
		},
	}}
	app := newTestApp(stub)

	resp, body := doJSON(t, app, http.MethodPost, "/api/subscription/verify", map[string]any{"session_id": "cs_sub"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["is_subscribed"])

	sub := body["subscription"].(map[string]any)
	assert.Equal(t, "basic", sub["plan_type"])
}

func TestHandleSubscriptionStatus_Anonymous(t *testing.T) {
	// A ledger that errors on any call proves the handler never consults it
	// for anonymous requests.
	stub := &stubLedger{err: ledger.ErrUserNotFound}
	SetLedgerService(stub)

	app := fiber.New()
	app.Get("/api/subscription/status", HandleSubscriptionStatus)

	resp, body := doJSON(t, app, http.MethodGet, "/api/subscription/status", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, false, body["is_subscribed"])
	assert.Nil(t, body["subscription"])

	gens := body["generations"].(map[string]any)
	assert.Equal(t, float64(0), gens["normal"])
	assert.Equal(t, float64(0), gens["watermark_free"])
}

func TestHandleAddCredits_UnknownType(t *testing.T) {
	t.Setenv("TEST_MODE", "true")
	stub := &stubLedger{status: &ledger.Status{}}
	app := newTestApp(stub)

	resp, body := doJSON(t, app, http.MethodPost, "/api/user/add-credits", fiber.Map{"amount": 10, "type": "bogus"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "invalid_generation_type", body["error"])
	assert.Equal(t, int64(0), stub.lastAmount)
}

func TestHandleAddCredits_CleanKind(t *testing.T) {
	t.Setenv("TEST_MODE", "true")
	stub := &stubLedger{status: &ledger.Status{Balances: ledger.Balances{Clean: 10}}}
	app := newTestApp(stub)

	resp, body := doJSON(t, app, http.MethodPost, "/api/user/add-credits", fiber.Map{"amount": 10, "type": "clean"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["ok"])
	assert.Equal(t, models.BalanceClean, stub.lastKind)
	assert.Equal(t, int64(10), stub.lastAmount)
}
