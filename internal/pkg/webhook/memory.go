package webhook

import (
	"sync"
	"time"

	"github.com/draftmint/creditledger/app/models"
)

// memoryRepository is a Repository over process memory, used by tests and by
// embedded deployments without an external database.
type memoryRepository struct {
	mu     sync.Mutex
	nextID uint
	byID   map[uint]models.WebhookEvent
	byExt  map[string]uint
}

// NewMemoryRepository creates an empty in-memory webhook event repository.
func NewMemoryRepository() Repository {
	return &memoryRepository{
		nextID: 1,
		byID:   make(map[uint]models.WebhookEvent),
		byExt:  make(map[string]uint),
	}
}

func (r *memoryRepository) CreateEventIfNotExists(event *models.WebhookEvent) (bool, *models.WebhookEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if id, ok := r.byExt[event.ExternalEventID]; ok {
		stored := r.byID[id]
		return false, &stored, nil
	}

	event.ID = r.nextID
	r.nextID++
	event.CreatedAt = time.Now()
	event.UpdatedAt = event.CreatedAt
	r.byID[event.ID] = *event
	r.byExt[event.ExternalEventID] = event.ID

	stored := *event
	return true, &stored, nil
}

func (r *memoryRepository) GetEvent(id uint) (*models.WebhookEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	event, ok := r.byID[id]
	if !ok {
		return nil, ErrEventNotFound
	}
	copied := event
	return &copied, nil
}

func (r *memoryRepository) MarkQueued(id uint) error {
	return r.update(id, func(event *models.WebhookEvent) {
		event.Status = models.WebhookStatusQueued
	})
}

func (r *memoryRepository) MarkProcessing(id uint) error {
	return r.update(id, func(event *models.WebhookEvent) {
		event.Status = models.WebhookStatusProcessing
	})
}

func (r *memoryRepository) MarkProcessed(id uint) error {
	return r.update(id, func(event *models.WebhookEvent) {
		now := time.Now()
		event.Status = models.WebhookStatusProcessed
		event.ProcessedAt = &now
		event.ProcessingError = ""
	})
}

func (r *memoryRepository) MarkFailed(id uint, processingError string) error {
	return r.update(id, func(event *models.WebhookEvent) {
		event.Status = models.WebhookStatusFailed
		event.ProcessingError = processingError
	})
}

func (r *memoryRepository) update(id uint, apply func(*models.WebhookEvent)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	event, ok := r.byID[id]
	if !ok {
		return ErrEventNotFound
	}
	apply(&event)
	event.UpdatedAt = time.Now()
	r.byID[id] = event
	return nil
}
