package repository

import (
	"context"

	"payment-reconciliation-engine/internal/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type AuditRepository struct {
	db *gorm.DB
}

func NewAuditRepository(db *gorm.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

// Append writes one audit entry. Entries are insert-only.
func (r *AuditRepository) Append(ctx context.Context, entry *models.AuditEntry) error {
	return r.db.WithContext(ctx).Create(entry).Error
}

// ListByTransaction returns the audit trail for one transaction in
// chronological order.
func (r *AuditRepository) ListByTransaction(ctx context.Context, tenant string, txID uuid.UUID) ([]models.AuditEntry, error) {
	var entries []models.AuditEntry
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND transaction_id = ?", tenant, txID).
		Order("created_at ASC, id ASC").
		Find(&entries).Error
	return entries, err
}
