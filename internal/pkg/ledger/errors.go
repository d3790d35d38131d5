package ledger

import "errors"

// Classified outcomes of ledger operations. Controllers map these onto a
// small set of user-facing responses; raw storage or gateway errors never
// cross the API boundary unclassified.
var (
	// ErrInsufficientFunds means a consume call would underflow a balance.
	// The balance is left untouched.
	ErrInsufficientFunds = errors.New("insufficient generations")

	// ErrPaymentNotConfirmed means the gateway reports the referenced
	// session as unpaid or unknown. Nothing is credited.
	ErrPaymentNotConfirmed = errors.New("payment not completed")

	// ErrGatewayUnreachable is a transient gateway fault. The caller may
	// retry; nothing has been persisted.
	ErrGatewayUnreachable = errors.New("payment gateway unreachable")

	// ErrSessionOwnership means the checkout session was minted for a
	// different account.
	ErrSessionOwnership = errors.New("session not owned by user")

	// ErrGrantRequired means no grant amount could be determined for a
	// credit purchase (missing session metadata, or a low-trust call
	// without an explicit expected amount).
	ErrGrantRequired = errors.New("expected grant amount required")

	// ErrNoSubscription means the user has no active subscription to act on.
	ErrNoSubscription = errors.New("no active subscription")

	// ErrMissingExternalRef means a cancellation cannot be forwarded to the
	// gateway because no provider subscription ID is known.
	ErrMissingExternalRef = errors.New("missing provider subscription reference")

	// ErrUserNotFound hides the storage-level not-found error.
	ErrUserNotFound = errors.New("user not found")

	// ErrUnknownBalanceKind rejects consume calls for balances that do not
	// exist.
	ErrUnknownBalanceKind = errors.New("unsupported balance kind")
)
