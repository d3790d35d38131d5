package controllers

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/LukasBergmann/InvoForge/app/models"
	"github.com/LukasBergmann/InvoForge/internal/pkg/env"
	"github.com/LukasBergmann/InvoForge/internal/pkg/usercontext"
)

type addCreditsRequest struct {
	Amount int64  `json:"amount"`
	Type   string `json:"type"`
}

type addSubscriptionRequest struct {
	PlanType string `json:"plan_type"`
}

// HandleAddCredits grants generations directly, bypassing payment. Only
// reachable in test mode; in production the route does not exist.
func HandleAddCredits(c *fiber.Ctx) error {
	if !env.IsTestMode() {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found"})
	}
	userCtx := usercontext.GetUserContext(c)

	var req addCreditsRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_request", "message": "Malformed JSON body"})
	}
	if req.Amount <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_request", "message": "amount must be positive"})
	}
	kind, ok := models.ValidBalanceKind(strings.TrimSpace(req.Type))
	if !ok {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_generation_type", "message": "Unsupported generation type"})
	}

	st, err := getLedgerService().GrantDirect(c.Context(), userCtx.UserID, kind, req.Amount)
	if err != nil {
		return respondLedgerError(c, err)
	}

	out := statusPayload(st)
	out["ok"] = true
	return c.JSON(out)
}

// HandleAddSubscription activates a plan directly, bypassing payment. Only
// reachable in test mode.
func HandleAddSubscription(c *fiber.Ctx) error {
	if !env.IsTestMode() {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found"})
	}
	userCtx := usercontext.GetUserContext(c)

	var req addSubscriptionRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_request", "message": "Malformed JSON body"})
	}

	st, err := getLedgerService().ActivateDirect(c.Context(), userCtx.UserID, req.PlanType)
	if err != nil {
		return respondLedgerError(c, err)
	}

	out := statusPayload(st)
	out["ok"] = true
	return c.JSON(out)
}
