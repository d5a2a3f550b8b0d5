package repository

import (
	"context"

	"payment-reconciliation-engine/internal/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type ProposalRepository struct {
	db *gorm.DB
}

func NewProposalRepository(db *gorm.DB) *ProposalRepository {
	return &ProposalRepository{db: db}
}

func (r *ProposalRepository) GetByID(ctx context.Context, tenant string, id uuid.UUID) (*models.MatchProposal, error) {
	var p models.MatchProposal
	err := r.db.WithContext(ctx).
		First(&p, "tenant_id = ? AND id = ?", tenant, id).Error
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// ListByTransaction returns every proposal for a transaction, highest
// confidence first with the scorer's deterministic tie-break preserved.
func (r *ProposalRepository) ListByTransaction(ctx context.Context, tenant string, txID uuid.UUID) ([]models.MatchProposal, error) {
	var proposals []models.MatchProposal
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND transaction_id = ?", tenant, txID).
		Order("confidence DESC, invoice_due_date ASC, invoice_id ASC").
		Find(&proposals).Error
	return proposals, err
}

// CountPending returns how many undecided proposals remain for a
// transaction.
func (r *ProposalRepository) CountPending(ctx context.Context, tenant string, txID uuid.UUID) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&models.MatchProposal{}).
		Where("tenant_id = ? AND transaction_id = ? AND status = ?", tenant, txID, models.ProposalPending).
		Count(&n).Error
	return n, err
}
