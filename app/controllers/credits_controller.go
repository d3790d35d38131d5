package controllers

import (
	"errors"
	"log"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/LukasBergmann/InvoForge/app/models"
	"github.com/LukasBergmann/InvoForge/internal/pkg/ledger"
	"github.com/LukasBergmann/InvoForge/internal/pkg/mail"
	"github.com/LukasBergmann/InvoForge/internal/pkg/metrics/counter"
	"github.com/LukasBergmann/InvoForge/internal/pkg/usercontext"
)

type verifyCreditsRequest struct {
	SessionID           string `json:"session_id"`
	ExpectedGenerations int64  `json:"expected_generations"`
}

type consumeRequest struct {
	Type string `json:"type"`
}

// HandleVerifyCredits confirms a credit-pack checkout session and credits
// the generations exactly once. Duplicate calls for the same session are
// answered from the dedup set without touching the payment provider.
func HandleVerifyCredits(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)

	var req verifyCreditsRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_request", "message": "Malformed JSON body"})
	}
	req.SessionID = strings.TrimSpace(req.SessionID)
	if req.SessionID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_request", "message": "session_id is required"})
	}

	res, err := getLedgerService().ConfirmCreditPurchase(c.Context(), userCtx.UserID, req.SessionID, req.ExpectedGenerations)
	if err != nil {
		return respondLedgerError(c, err)
	}

	if res.Credited && userCtx.Email != "" {
		mail.SendPurchaseReceipt(userCtx.Email, "Credit pack", res.Granted)
	}

	out := statusPayload(&res.Status)
	out["ok"] = true
	out["credited"] = res.Credited
	return c.JSON(out)
}

// HandleConsumeGeneration spends one generation of the requested type.
// Unknown types are rejected rather than silently falling back to the
// normal balance.
func HandleConsumeGeneration(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)

	var req consumeRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_request", "message": "Malformed JSON body"})
	}
	kind, ok := models.ValidBalanceKind(strings.TrimSpace(req.Type))
	if !ok {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_generation_type", "message": "Unsupported generation type"})
	}

	// Best-effort operational counters, batched to the database later.
	if err := counter.AddGenerationAttempt(userCtx.UserID); err != nil {
		log.Printf("failed to count generation attempt for user %d: %v", userCtx.UserID, err)
	}

	st, err := getLedgerService().Consume(c.Context(), userCtx.UserID, kind, 1)
	if err != nil {
		if errors.Is(err, ledger.ErrInsufficientFunds) {
			if cerr := counter.AddGenerationRejection(userCtx.UserID); cerr != nil {
				log.Printf("failed to count generation rejection for user %d: %v", userCtx.UserID, cerr)
			}
		}
		return respondLedgerError(c, err)
	}

	return c.JSON(fiber.Map{
		"ok":          true,
		"generations": st.Balances,
	})
}
