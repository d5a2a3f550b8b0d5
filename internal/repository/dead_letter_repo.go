package repository

import (
	"context"

	"payment-reconciliation-engine/internal/models"

	"gorm.io/gorm"
)

type DeadLetterRepository struct {
	db *gorm.DB
}

func NewDeadLetterRepository(db *gorm.DB) *DeadLetterRepository {
	return &DeadLetterRepository{db: db}
}

func (r *DeadLetterRepository) Create(ctx context.Context, ev *models.DeadLetterEvent) error {
	return r.db.WithContext(ctx).Create(ev).Error
}

// List returns a tenant's parked events, newest first, for manual
// inspection.
func (r *DeadLetterRepository) List(ctx context.Context, tenant string, limit int) ([]models.DeadLetterEvent, error) {
	var events []models.DeadLetterEvent
	err := r.db.WithContext(ctx).
		Where("tenant_id = ?", tenant).
		Order("created_at DESC").
		Limit(limit).
		Find(&events).Error
	return events, err
}
