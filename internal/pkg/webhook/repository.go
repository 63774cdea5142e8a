package webhook

import (
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/draftmint/creditledger/app/models"
)

// ErrEventNotFound is returned when a webhook event row does not exist.
var ErrEventNotFound = errors.New("webhook event not found")

// Repository provides storage for webhook event rows. Events are created by
// the ingestion gate and transitioned by the reconciliation worker; they are
// never deleted.
type Repository interface {
	// CreateEventIfNotExists inserts the event relying on the unique index
	// on external_event_id. It reports created=false for duplicates and
	// returns the stored row either way.
	CreateEventIfNotExists(event *models.WebhookEvent) (created bool, stored *models.WebhookEvent, err error)
	GetEvent(id uint) (*models.WebhookEvent, error)
	MarkQueued(id uint) error
	MarkProcessing(id uint) error
	MarkProcessed(id uint) error
	MarkFailed(id uint, processingError string) error
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates a webhook event repository backed by GORM.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) CreateEventIfNotExists(event *models.WebhookEvent) (bool, *models.WebhookEvent, error) {
	tx := r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "external_event_id"}},
		DoNothing: true,
	}).Create(event)
	if tx.Error != nil {
		return false, nil, tx.Error
	}

	created := tx.RowsAffected > 0
	var stored models.WebhookEvent
	if err := r.db.Where("external_event_id = ?", event.ExternalEventID).First(&stored).Error; err != nil {
		return false, nil, err
	}
	return created, &stored, nil
}

func (r *gormRepository) GetEvent(id uint) (*models.WebhookEvent, error) {
	var event models.WebhookEvent
	err := r.db.First(&event, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrEventNotFound
	}
	if err != nil {
		return nil, err
	}
	return &event, nil
}

func (r *gormRepository) MarkQueued(id uint) error {
	return r.updateStatus(id, map[string]interface{}{
		"status": models.WebhookStatusQueued,
	})
}

func (r *gormRepository) MarkProcessing(id uint) error {
	return r.updateStatus(id, map[string]interface{}{
		"status": models.WebhookStatusProcessing,
	})
}

func (r *gormRepository) MarkProcessed(id uint) error {
	now := time.Now()
	return r.updateStatus(id, map[string]interface{}{
		"status":           models.WebhookStatusProcessed,
		"processed_at":     &now,
		"processing_error": "",
	})
}

func (r *gormRepository) MarkFailed(id uint, processingError string) error {
	return r.updateStatus(id, map[string]interface{}{
		"status":           models.WebhookStatusFailed,
		"processing_error": processingError,
	})
}

func (r *gormRepository) updateStatus(id uint, updates map[string]interface{}) error {
	return r.db.Model(&models.WebhookEvent{}).Where("id = ?", id).Updates(updates).Error
}
