package repository

import (
	"context"
	"errors"

	"payment-reconciliation-engine/internal/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrConflict signals an optimistic-lock failure: another writer advanced
// the transaction's version first. Callers retry; it is never surfaced.
var ErrConflict = errors.New("concurrent modification conflict")

type TransactionRepository struct {
	db *gorm.DB
}

func NewTransactionRepository(db *gorm.DB) *TransactionRepository {
	return &TransactionRepository{db: db}
}

// Admit inserts the transaction iff its (tenant, provider, external_id)
// has not been seen. The insert itself is the dedup check: ON CONFLICT DO
// NOTHING against the unique index, so concurrent redelivery is safe
// without a read-then-write race. Returns false for duplicates, which are
// not errors.
func (r *TransactionRepository) Admit(ctx context.Context, tx *models.Transaction) (bool, error) {
	res := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "tenant_id"}, {Name: "provider"}, {Name: "external_id"},
		},
		DoNothing: true,
	}).Create(tx)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// GetByID fetches one transaction, always tenant-scoped.
func (r *TransactionRepository) GetByID(ctx context.Context, tenant string, id uuid.UUID) (*models.Transaction, error) {
	var tx models.Transaction
	err := r.db.WithContext(ctx).
		First(&tx, "tenant_id = ? AND id = ?", tenant, id).Error
	if err != nil {
		return nil, err
	}
	return &tx, nil
}

// List returns tenant transactions with optional status filter and cursor
// pagination, plus a next cursor when more rows remain.
func (r *TransactionRepository) List(ctx context.Context, tenant, status, cursor string, limit int) ([]models.Transaction, string, bool, error) {
	var txs []models.Transaction

	query := r.db.WithContext(ctx).
		Where("tenant_id = ?", tenant).
		Order("id ASC").
		Limit(limit + 1)

	if status != "" && status != "all" {
		query = query.Where("status = ?", status)
	}
	if cursor != "" {
		query = query.Where("id > ?", cursor)
	}

	if err := query.Find(&txs).Error; err != nil {
		return nil, "", false, err
	}

	hasMore := false
	var nextCursor string
	if len(txs) > limit {
		hasMore = true
		nextCursor = txs[limit-1].ID.String()
		txs = txs[:limit]
	}
	return txs, nextCursor, hasMore, nil
}

// ListByStatus returns all tenant transactions in one status. Used by the
// reconciliation sweep over pending_review rows.
func (r *TransactionRepository) ListByStatus(ctx context.Context, tenant, status string) ([]models.Transaction, error) {
	var txs []models.Transaction
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND status = ?", tenant, status).
		Order("id ASC").
		Find(&txs).Error
	return txs, err
}

// updateVersioned applies field updates guarded by the version column.
// Zero rows affected means another writer won; the caller gets ErrConflict
// and must re-read before retrying.
func updateVersioned(db *gorm.DB, tx *models.Transaction, fields map[string]interface{}) error {
	fields["version"] = tx.Version + 1
	res := db.Model(&models.Transaction{}).
		Where("id = ? AND tenant_id = ? AND version = ?", tx.ID, tx.TenantID, tx.Version).
		Updates(fields)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrConflict
	}
	tx.Version++
	return nil
}
