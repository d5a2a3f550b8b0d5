package repository

import (
	"context"
	"time"

	"payment-reconciliation-engine/internal/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Store bundles the repositories and owns the multi-table commits the
// state machine needs to be atomic. Every commit is guarded by the
// transaction row's version, so at most one writer per transaction wins.
type Store struct {
	db           *gorm.DB
	Transactions *TransactionRepository
	Proposals    *ProposalRepository
	Audits       *AuditRepository
	DeadLetters  *DeadLetterRepository
}

func NewStore(db *gorm.DB) *Store {
	return &Store{
		db:           db,
		Transactions: NewTransactionRepository(db),
		Proposals:    NewProposalRepository(db),
		Audits:       NewAuditRepository(db),
		DeadLetters:  NewDeadLetterRepository(db),
	}
}

// DB exposes the underlying connection for migration at startup.
func (s *Store) DB() *gorm.DB { return s.db }

// Delegating accessors so Store satisfies the state machine's interface.

func (s *Store) GetTransaction(ctx context.Context, tenant string, id uuid.UUID) (*models.Transaction, error) {
	return s.Transactions.GetByID(ctx, tenant, id)
}

func (s *Store) GetProposal(ctx context.Context, tenant string, id uuid.UUID) (*models.MatchProposal, error) {
	return s.Proposals.GetByID(ctx, tenant, id)
}

func (s *Store) PendingProposalCount(ctx context.Context, tenant string, txID uuid.UUID) (int64, error) {
	return s.Proposals.CountPending(ctx, tenant, txID)
}

func (s *Store) ProposalsByTransaction(ctx context.Context, tenant string, txID uuid.UUID) ([]models.MatchProposal, error) {
	return s.Proposals.ListByTransaction(ctx, tenant, txID)
}

func (s *Store) TransactionsByStatus(ctx context.Context, tenant, status string) ([]models.Transaction, error) {
	return s.Transactions.ListByStatus(ctx, tenant, status)
}

func (s *Store) AdmitTransaction(ctx context.Context, tx *models.Transaction) (bool, error) {
	return s.Transactions.Admit(ctx, tx)
}

func (s *Store) CreateDeadLetter(ctx context.Context, ev *models.DeadLetterEvent) error {
	return s.DeadLetters.Create(ctx, ev)
}

func (s *Store) AppendAudit(ctx context.Context, entry *models.AuditEntry) error {
	return s.Audits.Append(ctx, entry)
}

// SaveMatchingOutcome commits the result of one matching pass: the
// transaction's new status and attempt count, any persisted proposals and
// the audit entries, all or nothing.
func (s *Store) SaveMatchingOutcome(ctx context.Context, tx *models.Transaction, newStatus string, attempts int, proposals []models.MatchProposal, audits []models.AuditEntry) error {
	return s.db.WithContext(ctx).Transaction(func(dbtx *gorm.DB) error {
		err := updateVersioned(dbtx, tx, map[string]interface{}{
			"status":         newStatus,
			"match_attempts": attempts,
		})
		if err != nil {
			return err
		}
		if len(proposals) > 0 {
			if err := dbtx.Create(&proposals).Error; err != nil {
				return err
			}
		}
		if len(audits) > 0 {
			if err := dbtx.Create(&audits).Error; err != nil {
				return err
			}
		}
		tx.Status = newStatus
		tx.MatchAttempts = attempts
		return nil
	})
}

// CommitApply records a confirmed write-back: proposal applied, pending
// siblings rejected, transaction matched. Runs only after the billing call
// succeeded; the version guard stops a concurrent apply from committing
// twice.
func (s *Store) CommitApply(ctx context.Context, tx *models.Transaction, proposal *models.MatchProposal, decidedBy string, now time.Time, audits []models.AuditEntry) error {
	return s.db.WithContext(ctx).Transaction(func(dbtx *gorm.DB) error {
		err := updateVersioned(dbtx, tx, map[string]interface{}{
			"status":             models.TxMatched,
			"matched_invoice_id": proposal.InvoiceID,
			"needs_attention":    false,
			"decided_at":         now,
		})
		if err != nil {
			return err
		}

		// the status guard makes deciding a proposal a one-time event
		res := dbtx.Model(&models.MatchProposal{}).
			Where("id = ? AND status = ?", proposal.ID, models.ProposalPending).
			Updates(map[string]interface{}{
				"status":     models.ProposalApplied,
				"decided_by": decidedBy,
				"decided_at": now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrConflict
		}

		err = dbtx.Model(&models.MatchProposal{}).
			Where("transaction_id = ? AND status = ? AND id <> ?",
				proposal.TransactionID, models.ProposalPending, proposal.ID).
			Updates(map[string]interface{}{
				"status":     models.ProposalRejected,
				"decided_by": models.ActorSystem,
				"decided_at": now,
			}).Error
		if err != nil {
			return err
		}

		if err := dbtx.Create(&audits).Error; err != nil {
			return err
		}

		tx.Status = models.TxMatched
		tx.MatchedInvoiceID = &proposal.InvoiceID
		proposal.Status = models.ProposalApplied
		proposal.DecidedBy = decidedBy
		proposal.DecidedAt = &now
		return nil
	})
}

// CommitReject marks one proposal rejected and, when it was the last
// pending one, moves the transaction per txStatus (empty means leave it).
func (s *Store) CommitReject(ctx context.Context, tx *models.Transaction, proposal *models.MatchProposal, decidedBy, txStatus string, now time.Time, audits []models.AuditEntry) error {
	return s.db.WithContext(ctx).Transaction(func(dbtx *gorm.DB) error {
		res := dbtx.Model(&models.MatchProposal{}).
			Where("id = ? AND status = ?", proposal.ID, models.ProposalPending).
			Updates(map[string]interface{}{
				"status":     models.ProposalRejected,
				"decided_by": decidedBy,
				"decided_at": now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrConflict
		}

		if txStatus != "" {
			err := updateVersioned(dbtx, tx, map[string]interface{}{
				"status": txStatus,
			})
			if err != nil {
				return err
			}
			tx.Status = txStatus
		}

		if err := dbtx.Create(&audits).Error; err != nil {
			return err
		}

		proposal.Status = models.ProposalRejected
		proposal.DecidedBy = decidedBy
		proposal.DecidedAt = &now
		return nil
	})
}

// MarkNeedsAttention flags a transaction after write-back retry
// exhaustion without touching its lifecycle status.
func (s *Store) MarkNeedsAttention(ctx context.Context, tx *models.Transaction, audit *models.AuditEntry) error {
	return s.db.WithContext(ctx).Transaction(func(dbtx *gorm.DB) error {
		err := updateVersioned(dbtx, tx, map[string]interface{}{
			"needs_attention": true,
		})
		if err != nil {
			return err
		}
		tx.NeedsAttention = true
		return dbtx.Create(audit).Error
	})
}
