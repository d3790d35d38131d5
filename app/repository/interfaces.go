package repository

import (
	"github.com/LukasBergmann/InvoForge/app/models"
)

// LedgerRepository defines the database operations behind the entitlement
// ledger: user records, subscription rows, the processed-payment-reference
// dedup set and the append-only credit event log.
type LedgerRepository interface {
	CreateUser(user *models.User) error
	GetUserByID(id uint) (*models.User, error)
	GetUserByPublicID(publicID string) (*models.User, error)
	GetUserByToken(token string) (*models.User, error)
	GetUserByEmail(email string) (*models.User, error)
	SaveUser(user *models.User) error

	// GetSubscription returns the newest subscription row for a user
	// regardless of status, or gorm.ErrRecordNotFound.
	GetSubscription(userID uint) (*models.Subscription, error)
	SaveSubscription(sub *models.Subscription) error

	// AddProcessedRefIfNew atomically records a payment reference for a user.
	// It reports true only for the first insert; callers must credit a
	// balance only on that path.
	AddProcessedRefIfNew(userID uint, paymentRef string) (bool, error)
	// HasProcessedRef is the read-only fast path used to answer duplicate
	// confirmations without a gateway round trip.
	HasProcessedRef(userID uint, paymentRef string) (bool, error)
	AppendCreditEvent(event *models.CreditEvent) error
	ListCreditEvents(userID uint) ([]models.CreditEvent, error)

	CreateWebhookEventIfNotExists(event *models.WebhookEvent) (bool, *models.WebhookEvent, error)
	MarkWebhookProcessed(id uint, processingError string) error
	// RecordWebhookError stores a failure reason while leaving the event
	// unprocessed, so a provider redelivery runs confirmation again.
	RecordWebhookError(id uint, processingError string) error

	// Transaction runs fn against a repository bound to a database
	// transaction. Either every mutation inside fn persists or none does.
	Transaction(fn func(LedgerRepository) error) error
}
