package repository

import (
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/LukasBergmann/InvoForge/app/models"
)

type gormLedgerRepository struct {
	db *gorm.DB
}

// NewLedgerRepository creates a ledger repository backed by GORM.
func NewLedgerRepository(db *gorm.DB) LedgerRepository {
	return &gormLedgerRepository{db: db}
}

func (r *gormLedgerRepository) CreateUser(user *models.User) error {
	return r.db.Create(user).Error
}

func (r *gormLedgerRepository) GetUserByID(id uint) (*models.User, error) {
	var user models.User
	if err := r.db.First(&user, id).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *gormLedgerRepository) GetUserByPublicID(publicID string) (*models.User, error) {
	var user models.User
	if err := r.db.Where("public_id = ?", publicID).First(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *gormLedgerRepository) GetUserByToken(token string) (*models.User, error) {
	var user models.User
	if err := r.db.Where("token = ?", token).First(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *gormLedgerRepository) GetUserByEmail(email string) (*models.User, error) {
	var user models.User
	if err := r.db.Where("email = ?", strings.ToLower(strings.TrimSpace(email))).First(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *gormLedgerRepository) SaveUser(user *models.User) error {
	return r.db.Save(user).Error
}

func (r *gormLedgerRepository) GetSubscription(userID uint) (*models.Subscription, error) {
	var sub models.Subscription
	err := r.db.Where("user_id = ?", userID).
		Order("id DESC").
		First(&sub).Error
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

func (r *gormLedgerRepository) SaveSubscription(sub *models.Subscription) error {
	return r.db.Save(sub).Error
}

func (r *gormLedgerRepository) AddProcessedRefIfNew(userID uint, paymentRef string) (bool, error) {
	ref := &models.ProcessedPaymentRef{
		UserID:     userID,
		PaymentRef: paymentRef,
	}
	tx := r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "user_id"},
			{Name: "payment_ref"},
		},
		DoNothing: true,
	}).Create(ref)
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected > 0, nil
}

func (r *gormLedgerRepository) HasProcessedRef(userID uint, paymentRef string) (bool, error) {
	var count int64
	err := r.db.Model(&models.ProcessedPaymentRef{}).
		Where("user_id = ? AND payment_ref = ?", userID, paymentRef).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *gormLedgerRepository) AppendCreditEvent(event *models.CreditEvent) error {
	return r.db.Create(event).Error
}

func (r *gormLedgerRepository) ListCreditEvents(userID uint) ([]models.CreditEvent, error) {
	var events []models.CreditEvent
	err := r.db.Where("user_id = ?", userID).Order("id ASC").Find(&events).Error
	return events, err
}

func (r *gormLedgerRepository) CreateWebhookEventIfNotExists(event *models.WebhookEvent) (bool, *models.WebhookEvent, error) {
	tx := r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "provider"},
			{Name: "provider_event_id"},
		},
		DoNothing: true,
	}).Create(event)
	if tx.Error != nil {
		return false, nil, tx.Error
	}

	created := tx.RowsAffected > 0
	var stored models.WebhookEvent
	if err := r.db.Where("provider = ? AND provider_event_id = ?", event.Provider, event.ProviderEventID).
		First(&stored).Error; err != nil {
		return false, nil, err
	}
	return created, &stored, nil
}

func (r *gormLedgerRepository) MarkWebhookProcessed(id uint, processingError string) error {
	now := time.Now()
	updates := map[string]interface{}{
		"processed_at":     &now,
		"processing_error": processingError,
	}
	return r.db.Model(&models.WebhookEvent{}).Where("id = ?", id).Updates(updates).Error
}

func (r *gormLedgerRepository) RecordWebhookError(id uint, processingError string) error {
	return r.db.Model(&models.WebhookEvent{}).Where("id = ?", id).
		Update("processing_error", processingError).Error
}

func (r *gormLedgerRepository) Transaction(fn func(LedgerRepository) error) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		return fn(&gormLedgerRepository{db: tx})
	})
}
