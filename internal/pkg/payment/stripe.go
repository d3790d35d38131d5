package payment

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v79"
	checkoutsession "github.com/stripe/stripe-go/v79/checkout/session"
	"github.com/stripe/stripe-go/v79/subscription"

	"github.com/LukasBergmann/InvoForge/internal/pkg/env"
)

// InitStripe wires the Stripe API key from the environment. Call once at
// startup; with no key configured the app must run in TEST_MODE.
func InitStripe() {
	stripe.Key = strings.TrimSpace(env.GetEnv("STRIPE_SECRET_KEY", ""))
}

// IsConfigured reports whether a Stripe secret key is present.
func IsConfigured() bool {
	return stripe.Key != ""
}

type stripeGateway struct{}

// NewStripeGateway returns the production Gateway backed by the Stripe API.
func NewStripeGateway() Gateway {
	return stripeGateway{}
}

func (stripeGateway) RetrieveSession(ctx context.Context, sessionID string) (*CheckoutSession, error) {
	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx

	sess, err := checkoutsession.Get(sessionID, params)
	if err != nil {
		return nil, classifyStripeError(err)
	}

	out := &CheckoutSession{
		ID:       sess.ID,
		Paid:     sess.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid,
		Mode:     string(sess.Mode),
		Metadata: sess.Metadata,
	}
	if sess.Subscription != nil {
		out.SubscriptionID = sess.Subscription.ID
	}
	return out, nil
}

func (stripeGateway) CreateCheckoutSession(ctx context.Context, in CheckoutInput) (*SessionLink, error) {
	priceData := &stripe.CheckoutSessionLineItemPriceDataParams{
		Currency: stripe.String(in.Currency),
		ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
			Name:        stripe.String(in.Name),
			Description: stripe.String(in.Description),
		},
		UnitAmount: stripe.Int64(in.AmountCents),
	}

	mode := stripe.CheckoutSessionModePayment
	if in.Recurring {
		mode = stripe.CheckoutSessionModeSubscription
		priceData.Recurring = &stripe.CheckoutSessionLineItemPriceDataRecurringParams{
			Interval: stripe.String("month"),
		}
	}

	params := &stripe.CheckoutSessionParams{
		Mode:               stripe.String(string(mode)),
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: priceData,
				Quantity:  stripe.Int64(1),
			},
		},
		SuccessURL: stripe.String(in.SuccessURL),
		CancelURL:  stripe.String(in.CancelURL),
	}
	params.Context = ctx
	for k, v := range in.Metadata {
		params.AddMetadata(k, v)
	}

	sess, err := checkoutsession.New(params)
	if err != nil {
		return nil, classifyStripeError(err)
	}
	return &SessionLink{SessionID: sess.ID, URL: sess.URL}, nil
}

func (stripeGateway) CancelSubscription(ctx context.Context, subscriptionID string) error {
	params := &stripe.SubscriptionCancelParams{}
	params.Context = ctx

	if _, err := subscription.Cancel(subscriptionID, params); err != nil {
		return classifyStripeError(err)
	}
	return nil
}

// classifyStripeError separates transient transport faults (retryable) from
// definitive API answers such as an unknown or unpaid session.
func classifyStripeError(err error) error {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		if stripeErr.HTTPStatusCode >= 500 {
			return fmt.Errorf("%w: %v", ErrUnreachable, err)
		}
		return err
	}
	// Anything that never produced an API response is a transport fault.
	return fmt.Errorf("%w: %v", ErrUnreachable, err)
}
