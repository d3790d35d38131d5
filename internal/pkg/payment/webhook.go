package payment

import (
	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/webhook"

	"github.com/LukasBergmann/InvoForge/internal/pkg/env"
)

// VerifyWebhookEvent validates the Stripe signature header against the
// configured webhook secret and parses the event. With no secret configured
// verification fails closed.
func VerifyWebhookEvent(payload []byte, signatureHeader string) (stripe.Event, error) {
	secret := env.GetEnv("STRIPE_WEBHOOK_SECRET", "")
	return webhook.ConstructEventWithOptions(
		payload,
		signatureHeader,
		secret,
		webhook.ConstructEventOptions{
			IgnoreAPIVersionMismatch: true,
		},
	)
}
