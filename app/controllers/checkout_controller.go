package controllers

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/LukasBergmann/InvoForge/internal/pkg/env"
	"github.com/LukasBergmann/InvoForge/internal/pkg/payment"
	"github.com/LukasBergmann/InvoForge/internal/pkg/plans"
	"github.com/LukasBergmann/InvoForge/internal/pkg/usercontext"
)

type subscriptionSessionRequest struct {
	PlanType string `json:"plan_type"`
}

type creditsSessionRequest struct {
	CreditType string `json:"credit_type"`
}

// HandleCreateSubscriptionSession creates a recurring checkout session for
// one of the subscription plans. The session carries the plan and the
// buyer's public ID in its metadata so confirmation can verify ownership.
func HandleCreateSubscriptionSession(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)

	var req subscriptionSessionRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_request", "message": "Malformed JSON body"})
	}

	plan, ok := plans.ByTier(req.PlanType)
	if !ok {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_plan", "message": "Unknown plan type"})
	}

	base := publicBaseURL(c)
	link, err := checkoutGateway().CreateCheckoutSession(c.Context(), payment.CheckoutInput{
		Name:        plan.Name,
		Description: subscriptionDescription(plan),
		AmountCents: plan.PriceCents,
		Currency:    "usd",
		Recurring:   true,
		SuccessURL:  base + "/?subscription_success=true&session_id={CHECKOUT_SESSION_ID}",
		CancelURL:   base + "/?canceled=true",
		Metadata: map[string]string{
			"planType":    string(plan.Tier),
			"generations": strconv.FormatInt(plan.MonthlyGrant, 10),
			"clientId":    userCtx.PublicID,
		},
	})
	if err != nil {
		return respondGatewayError(c, err)
	}

	return c.JSON(fiber.Map{"id": link.SessionID, "url": link.URL})
}

// HandleCreateCreditsSession creates a one-time checkout session for a
// credit pack.
func HandleCreateCreditsSession(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)

	var req creditsSessionRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_request", "message": "Malformed JSON body"})
	}

	pack, ok := plans.PackByKey(req.CreditType)
	if !ok {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_credit_type", "message": "Unknown credit pack"})
	}

	base := publicBaseURL(c)
	link, err := checkoutGateway().CreateCheckoutSession(c.Context(), payment.CheckoutInput{
		Name:        pack.Name,
		Description: fmt.Sprintf("%d invoice generations", pack.Grant),
		AmountCents: pack.PriceCents,
		Currency:    "usd",
		Recurring:   false,
		SuccessURL:  base + "/?credits_success=true&session_id={CHECKOUT_SESSION_ID}",
		CancelURL:   base + "/?canceled=true",
		Metadata: map[string]string{
			"creditType":  pack.Key,
			"generations": strconv.FormatInt(pack.Grant, 10),
			"clientId":    userCtx.PublicID,
		},
	})
	if err != nil {
		return respondGatewayError(c, err)
	}

	return c.JSON(fiber.Map{"id": link.SessionID, "url": link.URL})
}

var checkoutGateway = func() payment.Gateway {
	return payment.NewStripeGateway()
}

func respondGatewayError(c *fiber.Ctx, err error) error {
	if errors.Is(err, payment.ErrUnreachable) {
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "gateway_unreachable", "message": "Payment provider unreachable, try again"})
	}
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "checkout_failed", "message": "Could not create checkout session"})
}

func subscriptionDescription(plan plans.Plan) string {
	if plans.IsUnlimited(plan.MonthlyGrant) {
		return "Unlimited invoice generations per month"
	}
	return fmt.Sprintf("%d invoice generations per month", plan.MonthlyGrant)
}

// publicBaseURL prefers the configured public domain and falls back to the
// request origin, matching how checkout redirects are built elsewhere.
func publicBaseURL(c *fiber.Ctx) string {
	if domain := strings.TrimRight(env.GetEnv("PUBLIC_DOMAIN", ""), "/"); domain != "" {
		return domain
	}
	return c.Protocol() + "://" + c.Hostname()
}
