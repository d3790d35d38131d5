package controllers

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/LukasBergmann/InvoForge/internal/pkg/ledger"
	"github.com/LukasBergmann/InvoForge/internal/pkg/mail"
	"github.com/LukasBergmann/InvoForge/internal/pkg/plans"
	"github.com/LukasBergmann/InvoForge/internal/pkg/usercontext"
)

type verifySessionRequest struct {
	SessionID string `json:"session_id"`
}

// HandleSubscriptionStatus returns the authoritative entitlement snapshot,
// applying any monthly accrual that has become due since the last call.
// Callers without a recognized token get the empty snapshot so the client
// can render the logged-out state from the same response shape.
func HandleSubscriptionStatus(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	if !userCtx.IsLoggedIn {
		return c.JSON(statusPayload(&ledger.Status{}))
	}

	st, err := getLedgerService().GetStatus(c.Context(), userCtx.UserID)
	if err != nil {
		return respondLedgerError(c, err)
	}

	return c.JSON(statusPayload(st))
}

// HandleVerifySubscription confirms a subscription checkout session and
// activates the plan. Re-verifying an already activated session is a
// success no-op.
func HandleVerifySubscription(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)

	var req verifySessionRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_request", "message": "Malformed JSON body"})
	}
	req.SessionID = strings.TrimSpace(req.SessionID)
	if req.SessionID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_request", "message": "session_id is required"})
	}

	res, err := getLedgerService().ConfirmSubscription(c.Context(), userCtx.UserID, req.SessionID)
	if err != nil {
		return respondLedgerError(c, err)
	}

	if res.Credited && userCtx.Email != "" {
		name := "Subscription"
		grant := res.Granted
		if res.Status.Subscription != nil {
			name = res.Status.Subscription.Name
			if plans.IsUnlimited(res.Status.Subscription.MonthlyGrant) {
				grant = res.Status.Subscription.MonthlyGrant
			}
		}
		mail.SendPurchaseReceipt(userCtx.Email, name, grant)
	}

	out := statusPayload(&res.Status)
	out["ok"] = true
	out["credited"] = res.Credited
	return c.JSON(out)
}

// HandleCancelSubscription cancels the active subscription at the payment
// provider and locally. Remaining normal generations stay spendable;
// watermark-free ones are forfeited.
func HandleCancelSubscription(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)

	st, err := getLedgerService().CancelSubscription(c.Context(), userCtx.UserID)
	if err != nil {
		return respondLedgerError(c, err)
	}

	out := statusPayload(st)
	out["ok"] = true
	return c.JSON(out)
}
