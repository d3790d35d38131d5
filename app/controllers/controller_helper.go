package controllers

import (
	"context"
	"errors"
	"sync"

	"github.com/gofiber/fiber/v2"

	"github.com/LukasBergmann/InvoForge/app/models"
	"github.com/LukasBergmann/InvoForge/app/repository"
	"github.com/LukasBergmann/InvoForge/internal/pkg/env"
	"github.com/LukasBergmann/InvoForge/internal/pkg/ledger"
	"github.com/LukasBergmann/InvoForge/internal/pkg/payment"
)

// ledgerAPI is the slice of the ledger service the controllers call.
type ledgerAPI interface {
	GetStatus(ctx context.Context, userID uint) (*ledger.Status, error)
	Consume(ctx context.Context, userID uint, kind models.BalanceKind, n int64) (*ledger.Status, error)
	ConfirmCreditPurchase(ctx context.Context, userID uint, sessionRef string, expectedGrant int64) (*ledger.ConfirmResult, error)
	ConfirmSubscription(ctx context.Context, userID uint, sessionRef string) (*ledger.ConfirmResult, error)
	CancelSubscription(ctx context.Context, userID uint) (*ledger.Status, error)
	GrantDirect(ctx context.Context, userID uint, kind models.BalanceKind, n int64) (*ledger.Status, error)
	ActivateDirect(ctx context.Context, userID uint, tier string) (*ledger.Status, error)
}

var (
	ledgerOnce sync.Once
	ledgerSvc  ledgerAPI
)

// getLedgerService returns the shared ledger service. Shared because the
// per-user locks inside it only work when every request goes through the
// same instance.
func getLedgerService() ledgerAPI {
	ledgerOnce.Do(func() {
		if ledgerSvc == nil {
			repo := repository.GetGlobalFactory().GetLedgerRepository()
			ledgerSvc = ledger.NewService(repo, payment.NewStripeGateway(), env.IsTestMode())
		}
	})
	return ledgerSvc
}

// SetLedgerService overrides the shared service, used by tests.
func SetLedgerService(svc ledgerAPI) {
	ledgerOnce.Do(func() {})
	ledgerSvc = svc
}

// respondLedgerError maps classified ledger errors onto the API's error
// contract. Anything unclassified becomes a generic 500 so storage details
// never leak to clients.
func respondLedgerError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, ledger.ErrInsufficientFunds):
		return c.Status(fiber.StatusPaymentRequired).JSON(fiber.Map{"error": "insufficient_generations", "message": "Not enough generations left"})
	case errors.Is(err, ledger.ErrPaymentNotConfirmed):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "payment_not_completed", "message": "Payment has not completed"})
	case errors.Is(err, ledger.ErrGatewayUnreachable):
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "gateway_unreachable", "message": "Payment provider unreachable, try again"})
	case errors.Is(err, ledger.ErrSessionOwnership):
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "session_not_owned_by_user", "message": "Checkout session belongs to a different account"})
	case errors.Is(err, ledger.ErrGrantRequired):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "expected_generations_required", "message": "Expected generation amount required"})
	case errors.Is(err, ledger.ErrNoSubscription):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "no_active_subscription", "message": "No active subscription"})
	case errors.Is(err, ledger.ErrMissingExternalRef):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "missing_subscription_reference", "message": "No provider subscription reference on record"})
	case errors.Is(err, ledger.ErrUserNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found", "message": "User not found"})
	case errors.Is(err, ledger.ErrUnknownBalanceKind):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_generation_type", "message": "Unsupported generation type"})
	default:
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Request failed"})
	}
}

// statusPayload renders a ledger status in the wire shape all entitlement
// endpoints share.
func statusPayload(st *ledger.Status) fiber.Map {
	return fiber.Map{
		"is_subscribed": st.IsSubscribed,
		"subscription":  st.Subscription,
		"generations":   st.Balances,
	}
}
