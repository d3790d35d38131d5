package payment

import (
	"context"
	"errors"
)

// ErrUnreachable marks a transport-level gateway fault. Callers treat it as
// retryable and must not credit anything on its strength.
var ErrUnreachable = errors.New("payment gateway unreachable")

// CheckoutSession is the provider-neutral view of a checkout session the
// ledger needs: did the customer pay, and what was the session sold as.
type CheckoutSession struct {
	ID             string
	Paid           bool
	Mode           string
	SubscriptionID string
	Metadata       map[string]string
}

// SessionLink is a freshly created checkout session the browser is sent to.
type SessionLink struct {
	SessionID string
	URL       string
}

// CheckoutInput describes a checkout session to create. Metadata is echoed
// back verbatim when the session is retrieved and carries the grant amount
// and owning client.
type CheckoutInput struct {
	Name        string
	Description string
	AmountCents int64
	Currency    string
	Recurring   bool
	SuccessURL  string
	CancelURL   string
	Metadata    map[string]string
}

// Gateway is the capability contract against the external payment provider:
// create checkout sessions, report authoritatively whether a session was
// paid, and cancel provider subscriptions.
type Gateway interface {
	RetrieveSession(ctx context.Context, sessionID string) (*CheckoutSession, error)
	CreateCheckoutSession(ctx context.Context, in CheckoutInput) (*SessionLink, error)
	CancelSubscription(ctx context.Context, subscriptionID string) error
}
