package controllers

import (
	"encoding/json"
	"errors"
	"log"

	"github.com/gofiber/fiber/v2"
	"github.com/stripe/stripe-go/v79"
	"gorm.io/gorm"

	"github.com/LukasBergmann/InvoForge/app/models"
	"github.com/LukasBergmann/InvoForge/app/repository"
	"github.com/LukasBergmann/InvoForge/internal/pkg/ledger"
	"github.com/LukasBergmann/InvoForge/internal/pkg/payment"
)

// HandleStripeWebhook processes checkout completion events pushed by
// Stripe. The webhook and the browser redirect race for the same session;
// both funnel into the same confirmation path whose dedup set makes the
// loser a no-op.
func HandleStripeWebhook(c *fiber.Ctx) error {
	rawBody := append([]byte(nil), c.BodyRaw()...)
	signature := c.Get("Stripe-Signature")

	event, err := payment.VerifyWebhookEvent(rawBody, signature)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_signature"})
	}

	repo := repository.GetGlobalFactory().GetLedgerRepository()
	created, stored, err := repo.CreateWebhookEventIfNotExists(&models.WebhookEvent{
		Provider:        models.ProviderStripe,
		ProviderEventID: event.ID,
		EventType:       string(event.Type),
		PayloadJSON:     string(rawBody),
		SignatureValid:  true,
	})
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "webhook_persist_failed"})
	}
	if shouldSkipRedelivery(created, stored) {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true, "duplicate": true})
	}

	if event.Type != "checkout.session.completed" {
		markWebhook(repo, stored.ID, "")
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true, "ignored": true})
	}

	var session stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		markWebhook(repo, stored.ID, err.Error())
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_payload"})
	}

	user, err := resolveWebhookUser(repo, session.Metadata["clientId"])
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) || errors.Is(err, errNoClientRef) {
			// Sessions minted before account linking carry no client ID.
			// The redirect confirmation path will settle them.
			markWebhook(repo, stored.ID, "no linked account for session")
			return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true, "ignored": true})
		}
		markWebhook(repo, stored.ID, err.Error())
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "account_lookup_failed"})
	}

	var confirmErr error
	switch session.Mode {
	case stripe.CheckoutSessionModeSubscription:
		_, confirmErr = getLedgerService().ConfirmSubscription(c.Context(), user.ID, session.ID)
	case stripe.CheckoutSessionModePayment:
		_, confirmErr = getLedgerService().ConfirmCreditPurchase(c.Context(), user.ID, session.ID, 0)
	default:
		markWebhook(repo, stored.ID, "")
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true, "ignored": true})
	}

	if confirmErr != nil {
		if errors.Is(confirmErr, ledger.ErrGatewayUnreachable) {
			// Leave the event unprocessed and answer non-2xx: Stripe
			// redelivers, and the unprocessed row lets the retry re-run
			// the idempotent confirmation.
			if err := repo.RecordWebhookError(stored.ID, confirmErr.Error()); err != nil {
				log.Printf("failed to record webhook %d error: %v", stored.ID, err)
			}
			return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "gateway_unreachable"})
		}
		markWebhook(repo, stored.ID, confirmErr.Error())
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": false, "error": "confirmation_failed"})
	}

	markWebhook(repo, stored.ID, "")
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true})
}

// shouldSkipRedelivery reports whether a duplicate delivery was already
// fully handled. An unprocessed stored row means the previous attempt hit a
// transient fault and we answered non-2xx; the redelivery that answer
// solicits must run confirmation again, which is safe because confirmation
// is idempotent.
func shouldSkipRedelivery(created bool, stored *models.WebhookEvent) bool {
	return !created && stored.ProcessedAt != nil
}

var errNoClientRef = errors.New("session carries no client reference")

func resolveWebhookUser(repo repository.LedgerRepository, publicID string) (*models.User, error) {
	if publicID == "" {
		return nil, errNoClientRef
	}
	return repo.GetUserByPublicID(publicID)
}

func markWebhook(repo repository.LedgerRepository, id uint, processingError string) {
	if err := repo.MarkWebhookProcessed(id, processingError); err != nil {
		log.Printf("failed to mark webhook %d processed: %v", id, err)
	}
}
