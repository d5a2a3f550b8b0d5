package reconciliation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"payment-reconciliation-engine/internal/billing"
	"payment-reconciliation-engine/internal/config"
	"payment-reconciliation-engine/internal/models"
	"payment-reconciliation-engine/internal/normalize"
	"payment-reconciliation-engine/internal/repository"
	"payment-reconciliation-engine/internal/services/matching"
	"payment-reconciliation-engine/internal/services/resolver"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"gorm.io/datatypes"
)

// ErrInvalidState rejects an operation the lifecycle does not allow, e.g.
// applying a proposal whose transaction is not in pending_review.
var ErrInvalidState = errors.New("operation not valid in current state")

// ErrProposalDecided rejects a second decision on an already-decided
// proposal. The usual cause is losing an apply race to a sibling.
var ErrProposalDecided = errors.New("proposal already decided")

// Store is the persistence surface the state machine drives. Implemented
// by repository.Store; faked in tests.
type Store interface {
	GetTransaction(ctx context.Context, tenant string, id uuid.UUID) (*models.Transaction, error)
	GetProposal(ctx context.Context, tenant string, id uuid.UUID) (*models.MatchProposal, error)
	PendingProposalCount(ctx context.Context, tenant string, txID uuid.UUID) (int64, error)
	ProposalsByTransaction(ctx context.Context, tenant string, txID uuid.UUID) ([]models.MatchProposal, error)
	TransactionsByStatus(ctx context.Context, tenant, status string) ([]models.Transaction, error)

	AdmitTransaction(ctx context.Context, tx *models.Transaction) (bool, error)
	CreateDeadLetter(ctx context.Context, ev *models.DeadLetterEvent) error
	AppendAudit(ctx context.Context, entry *models.AuditEntry) error

	SaveMatchingOutcome(ctx context.Context, tx *models.Transaction, newStatus string, attempts int, proposals []models.MatchProposal, audits []models.AuditEntry) error
	CommitApply(ctx context.Context, tx *models.Transaction, proposal *models.MatchProposal, decidedBy string, now time.Time, audits []models.AuditEntry) error
	CommitReject(ctx context.Context, tx *models.Transaction, proposal *models.MatchProposal, decidedBy, txStatus string, now time.Time, audits []models.AuditEntry) error
	MarkNeedsAttention(ctx context.Context, tx *models.Transaction, audit *models.AuditEntry) error
}

// CandidateSource yields the invoices eligible to match one transaction.
type CandidateSource interface {
	Resolve(ctx context.Context, tenant string, tx *models.Transaction) ([]billing.Invoice, error)
}

// Service owns the transaction and proposal lifecycle. Apply, Reject and
// matching passes for one transaction are mutually exclusive: an
// in-process per-transaction lock serializes them, and the version column
// guards against writers in other processes. Locks are per transaction id
// only; work on other transactions and tenants never waits.
type Service struct {
	store     Store
	resolver  CandidateSource
	billing   billing.Client
	settings  *config.Settings
	scorerCfg matching.Config

	locks sync.Map // transaction id -> *sync.Mutex
	now   func() time.Time
}

func NewService(store Store, res CandidateSource, bc billing.Client, settings *config.Settings) *Service {
	return &Service{
		store:    store,
		resolver: res,
		billing:  bc,
		settings: settings,
		scorerCfg: matching.Config{
			ConfidenceFloor:  settings.ConfidenceFloor,
			FuzzyMaxDistance: settings.FuzzyMaxDistance,
		},
		now: time.Now,
	}
}

func (s *Service) lockTransaction(id uuid.UUID) func() {
	v, _ := s.locks.LoadOrStore(id, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// Ingest runs the post-verification half of the webhook pipeline:
// normalize, dead-letter on failure, admit through the dedup store, audit.
// The returned duplicate flag is informational; duplicates are
// acknowledged upstream exactly like fresh events.
func (s *Service) Ingest(ctx context.Context, tenant string, provider models.Provider, payload []byte) (tx *models.Transaction, duplicate bool, err error) {
	now := s.now()

	tx, control, err := normalize.Normalize(tenant, provider, payload, now)
	if err != nil {
		dead := &models.DeadLetterEvent{
			ID:         uuid.New(),
			TenantID:   tenant,
			Provider:   provider,
			RawPayload: datatypes.JSON(payload),
			Reason:     err.Error(),
			CreatedAt:  now,
		}
		if dlErr := s.store.CreateDeadLetter(ctx, dead); dlErr != nil {
			log.WithError(dlErr).WithField("tenant", tenant).Error("failed to dead-letter event")
		}
		_ = s.store.AppendAudit(ctx, &models.AuditEntry{
			ID:        uuid.New(),
			TenantID:  tenant,
			Action:    models.AuditDeadLettered,
			Actor:     models.ActorSystem,
			Detail:    mustJSON(map[string]interface{}{"reason": err.Error(), "provider": provider}),
			CreatedAt: now,
		})
		return nil, false, err
	}

	if control != nil {
		s.handleControlEvent(ctx, control, now)
		return nil, false, nil
	}

	admitted, err := s.store.AdmitTransaction(ctx, tx)
	if err != nil {
		return nil, false, err
	}
	if !admitted {
		log.WithFields(log.Fields{
			"tenant":      tenant,
			"provider":    provider,
			"external_id": tx.ExternalID,
		}).Info("duplicate event acknowledged")
		return nil, true, nil
	}

	if err := s.store.AppendAudit(ctx, &models.AuditEntry{
		ID:            uuid.New(),
		TenantID:      tenant,
		TransactionID: tx.ID,
		Action:        models.AuditTransactionIngested,
		Actor:         models.ActorSystem,
		Detail: mustJSON(map[string]interface{}{
			"provider":     provider,
			"external_id":  tx.ExternalID,
			"amount_minor": tx.AmountMinor,
			"currency":     tx.Currency,
		}),
		CreatedAt: now,
	}); err != nil {
		return nil, false, err
	}

	log.WithFields(log.Fields{
		"tenant":         tenant,
		"provider":       provider,
		"transaction_id": tx.ID,
	}).Info("transaction ingested")
	return tx, false, nil
}

// handleControlEvent routes non-transaction notifications: audited and
// logged, never stored as transactions.
func (s *Service) handleControlEvent(ctx context.Context, ev *normalize.ControlEvent, now time.Time) {
	log.WithFields(log.Fields{
		"tenant":   ev.Tenant,
		"provider": ev.Provider,
		"kind":     ev.Kind,
	}).Warn("control event received")

	_ = s.store.AppendAudit(ctx, &models.AuditEntry{
		ID:        uuid.New(),
		TenantID:  ev.Tenant,
		Action:    models.AuditControlEvent,
		Actor:     models.ActorSystem,
		Detail:    mustJSON(map[string]interface{}{"kind": ev.Kind, "provider": ev.Provider}),
		CreatedAt: now,
	})
}

// RunMatchingPass scores candidates for an unmatched transaction. With at
// least one proposal above the floor the transaction moves to
// pending_review; otherwise it stays unmatched until the configured pass
// count is exhausted, then moves to ignored. An invoice may simply not
// exist yet at ingestion time, which is why passes retry.
func (s *Service) RunMatchingPass(ctx context.Context, tenant string, txID uuid.UUID) error {
	unlock := s.lockTransaction(txID)
	defer unlock()

	return s.retryOnConflict(func() error {
		return s.runMatchingPassLocked(ctx, tenant, txID)
	})
}

func (s *Service) runMatchingPassLocked(ctx context.Context, tenant string, txID uuid.UUID) error {
	tx, err := s.store.GetTransaction(ctx, tenant, txID)
	if err != nil {
		return err
	}
	if tx.Status != models.TxUnmatched {
		return fmt.Errorf("%w: matching pass on %s transaction", ErrInvalidState, tx.Status)
	}

	invoices, err := s.resolveWithRetry(ctx, tenant, tx)
	if err != nil {
		return err
	}

	scored := matching.Score(tx, invoices, s.scorerCfg)
	now := s.now()
	attempts := tx.MatchAttempts + 1

	if len(scored) == 0 {
		newStatus := models.TxUnmatched
		var audits []models.AuditEntry
		if attempts >= s.settings.MaxMatchPasses {
			newStatus = models.TxIgnored
			audits = append(audits, models.AuditEntry{
				ID:            uuid.New(),
				TenantID:      tenant,
				TransactionID: tx.ID,
				Action:        models.AuditTransactionIgnored,
				Actor:         models.ActorSystem,
				Detail:        mustJSON(map[string]interface{}{"match_attempts": attempts}),
				CreatedAt:     now,
			})
		}
		return s.store.SaveMatchingOutcome(ctx, tx, newStatus, attempts, nil, audits)
	}

	proposals := make([]models.MatchProposal, 0, len(scored))
	audits := make([]models.AuditEntry, 0, len(scored))
	for _, p := range scored {
		row := models.MatchProposal{
			ID:             uuid.New(),
			TenantID:       tenant,
			TransactionID:  tx.ID,
			InvoiceID:      p.InvoiceID,
			InvoiceNumber:  p.InvoiceNumber,
			InvoiceDueDate: p.InvoiceDueDate,
			Confidence:     p.Confidence,
			Rationale:      mustJSON(p.Rationale),
			Status:         models.ProposalPending,
			CreatedAt:      now,
		}
		proposals = append(proposals, row)
		audits = append(audits, models.AuditEntry{
			ID:            uuid.New(),
			TenantID:      tenant,
			TransactionID: tx.ID,
			ProposalID:    &row.ID,
			Action:        models.AuditProposalCreated,
			Actor:         models.ActorSystem,
			Detail: mustJSON(map[string]interface{}{
				"invoice_id": p.InvoiceID,
				"confidence": p.Confidence,
				"rationale":  p.Rationale,
			}),
			CreatedAt: now,
		})
	}

	if err := s.store.SaveMatchingOutcome(ctx, tx, models.TxPendingReview, attempts, proposals, audits); err != nil {
		return err
	}

	log.WithFields(log.Fields{
		"tenant":         tenant,
		"transaction_id": tx.ID,
		"proposals":      len(proposals),
		"top_confidence": proposals[0].Confidence,
	}).Info("matching pass complete")

	threshold := s.settings.Tenant(tenant).AutoApplyThreshold
	if threshold > 0 && proposals[0].Confidence >= threshold {
		if err := s.applyLocked(ctx, tenant, proposals[0].ID, models.ActorSystem); err != nil {
			log.WithError(err).WithFields(log.Fields{
				"tenant":      tenant,
				"proposal_id": proposals[0].ID,
			}).Error("auto-apply failed, left for operator review")
		}
	}
	return nil
}

// Apply decides a pending proposal: billing write-back first, local
// commit only after confirmed success. The write-back call carries a
// deterministic idempotency key, so retrying a timed-out apply cannot pay
// an invoice twice.
func (s *Service) Apply(ctx context.Context, tenant string, proposalID uuid.UUID, actor string) error {
	proposal, err := s.store.GetProposal(ctx, tenant, proposalID)
	if err != nil {
		return err
	}

	unlock := s.lockTransaction(proposal.TransactionID)
	defer unlock()

	return s.retryOnConflict(func() error {
		return s.applyLocked(ctx, tenant, proposalID, actor)
	})
}

func (s *Service) applyLocked(ctx context.Context, tenant string, proposalID uuid.UUID, actor string) error {
	// re-read under the lock: a sibling apply may have decided this
	// proposal while we waited
	proposal, err := s.store.GetProposal(ctx, tenant, proposalID)
	if err != nil {
		return err
	}
	if proposal.Status != models.ProposalPending {
		return fmt.Errorf("%w: proposal is %s", ErrProposalDecided, proposal.Status)
	}

	tx, err := s.store.GetTransaction(ctx, tenant, proposal.TransactionID)
	if err != nil {
		return err
	}
	if tx.Status != models.TxPendingReview {
		return fmt.Errorf("%w: apply on %s transaction", ErrInvalidState, tx.Status)
	}

	application, err := s.writeBackWithRetry(ctx, billing.ApplyPaymentRequest{
		TenantID:      tenant,
		InvoiceID:     proposal.InvoiceID,
		TransactionID: tx.ID.String(),
		AmountMinor:   tx.AmountMinor,
		Currency:      tx.Currency,
	})
	now := s.now()
	if err != nil {
		attentionErr := s.store.MarkNeedsAttention(ctx, tx, &models.AuditEntry{
			ID:            uuid.New(),
			TenantID:      tenant,
			TransactionID: tx.ID,
			ProposalID:    &proposal.ID,
			Action:        models.AuditWriteBackFailed,
			Actor:         actor,
			Detail:        mustJSON(map[string]interface{}{"error": err.Error()}),
			CreatedAt:     now,
		})
		if attentionErr != nil {
			log.WithError(attentionErr).Error("failed to flag transaction for attention")
		}
		return err
	}

	audits := []models.AuditEntry{
		{
			ID:            uuid.New(),
			TenantID:      tenant,
			TransactionID: tx.ID,
			ProposalID:    &proposal.ID,
			Action:        models.AuditWriteBackSucceeded,
			Actor:         actor,
			Detail: mustJSON(map[string]interface{}{
				"billing_transaction_id": application.BillingTransactionID,
			}),
			CreatedAt: now,
		},
		{
			ID:            uuid.New(),
			TenantID:      tenant,
			TransactionID: tx.ID,
			ProposalID:    &proposal.ID,
			Action:        models.AuditProposalApplied,
			Actor:         actor,
			Detail: mustJSON(map[string]interface{}{
				"invoice_id": proposal.InvoiceID,
				"confidence": proposal.Confidence,
			}),
			CreatedAt: now,
		},
	}

	if err := s.store.CommitApply(ctx, tx, proposal, actor, now, audits); err != nil {
		return err
	}

	log.WithFields(log.Fields{
		"tenant":         tenant,
		"transaction_id": tx.ID,
		"proposal_id":    proposal.ID,
		"invoice_id":     proposal.InvoiceID,
		"actor":          actor,
	}).Info("proposal applied")
	return nil
}

// Reject decides a pending proposal negatively. When it was the last
// pending proposal the transaction either returns to unmatched for
// re-scoring or parks as ignored, per tenant configuration.
func (s *Service) Reject(ctx context.Context, tenant string, proposalID uuid.UUID, actor string) error {
	proposal, err := s.store.GetProposal(ctx, tenant, proposalID)
	if err != nil {
		return err
	}

	unlock := s.lockTransaction(proposal.TransactionID)
	defer unlock()

	return s.retryOnConflict(func() error {
		return s.rejectLocked(ctx, tenant, proposalID, actor)
	})
}

func (s *Service) rejectLocked(ctx context.Context, tenant string, proposalID uuid.UUID, actor string) error {
	proposal, err := s.store.GetProposal(ctx, tenant, proposalID)
	if err != nil {
		return err
	}
	if proposal.Status != models.ProposalPending {
		return fmt.Errorf("%w: proposal is %s", ErrProposalDecided, proposal.Status)
	}

	tx, err := s.store.GetTransaction(ctx, tenant, proposal.TransactionID)
	if err != nil {
		return err
	}

	pending, err := s.store.PendingProposalCount(ctx, tenant, tx.ID)
	if err != nil {
		return err
	}

	now := s.now()
	txStatus := ""
	audits := []models.AuditEntry{{
		ID:            uuid.New(),
		TenantID:      tenant,
		TransactionID: tx.ID,
		ProposalID:    &proposal.ID,
		Action:        models.AuditProposalRejected,
		Actor:         actor,
		Detail:        mustJSON(map[string]interface{}{"invoice_id": proposal.InvoiceID}),
		CreatedAt:     now,
	}}

	if pending <= 1 && tx.Status == models.TxPendingReview {
		txStatus = models.TxUnmatched
		if s.settings.Tenant(tenant).OnExhausted == models.TxIgnored {
			txStatus = models.TxIgnored
			audits = append(audits, models.AuditEntry{
				ID:            uuid.New(),
				TenantID:      tenant,
				TransactionID: tx.ID,
				Action:        models.AuditTransactionIgnored,
				Actor:         actor,
				Detail:        mustJSON(map[string]interface{}{"reason": "all proposals rejected"}),
				CreatedAt:     now,
			})
		}
	}

	return s.store.CommitReject(ctx, tx, proposal, actor, txStatus, now, audits)
}

// Ignore parks an unmatched transaction at an operator's request, before
// its retry passes run out.
func (s *Service) Ignore(ctx context.Context, tenant string, txID uuid.UUID, actor string) error {
	unlock := s.lockTransaction(txID)
	defer unlock()

	return s.retryOnConflict(func() error {
		tx, err := s.store.GetTransaction(ctx, tenant, txID)
		if err != nil {
			return err
		}
		if tx.Status != models.TxUnmatched {
			return fmt.Errorf("%w: ignore on %s transaction", ErrInvalidState, tx.Status)
		}
		return s.store.SaveMatchingOutcome(ctx, tx, models.TxIgnored, tx.MatchAttempts, nil, []models.AuditEntry{{
			ID:            uuid.New(),
			TenantID:      tenant,
			TransactionID: tx.ID,
			Action:        models.AuditTransactionIgnored,
			Actor:         actor,
			Detail:        mustJSON(map[string]interface{}{"reason": "operator ignored"}),
			CreatedAt:     s.now(),
		}})
	})
}

// ReconcileSweep repairs applied-but-uncommitted divergence: the billing
// system confirms a payment application that the local commit never
// recorded (crash between write-back success and commit). Returns the
// number of repaired transactions.
func (s *Service) ReconcileSweep(ctx context.Context, tenant string) (int, error) {
	txs, err := s.store.TransactionsByStatus(ctx, tenant, models.TxPendingReview)
	if err != nil {
		return 0, err
	}

	repaired := 0
	for i := range txs {
		tx := &txs[i]
		proposals, err := s.store.ProposalsByTransaction(ctx, tenant, tx.ID)
		if err != nil {
			return repaired, err
		}
		for j := range proposals {
			p := &proposals[j]
			if p.Status != models.ProposalPending {
				continue
			}
			application, err := s.billing.PaymentStatus(ctx, tenant, p.InvoiceID, tx.ID.String())
			if err != nil || application == nil {
				continue
			}

			unlock := s.lockTransaction(tx.ID)
			now := s.now()
			commitErr := s.store.CommitApply(ctx, tx, p, models.ActorSystem, now, []models.AuditEntry{{
				ID:            uuid.New(),
				TenantID:      tenant,
				TransactionID: tx.ID,
				ProposalID:    &p.ID,
				Action:        models.AuditSweepRepaired,
				Actor:         models.ActorSystem,
				Detail: mustJSON(map[string]interface{}{
					"billing_transaction_id": application.BillingTransactionID,
				}),
				CreatedAt: now,
			}})
			unlock()

			if commitErr != nil {
				if errors.Is(commitErr, repository.ErrConflict) {
					continue
				}
				return repaired, commitErr
			}
			repaired++
			break
		}
	}
	return repaired, nil
}

// retryOnConflict re-runs an operation that lost the optimistic version
// race. Conflicts are expected and never surface to callers; the retry
// count only guards against livelock.
func (s *Service) retryOnConflict(fn func() error) error {
	const maxAttempts = 3
	var err error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		err = fn()
		if !errors.Is(err, repository.ErrConflict) {
			return err
		}
	}
	return err
}

// resolveWithRetry retries transient candidate-lookup failures with a
// capped backoff.
func (s *Service) resolveWithRetry(ctx context.Context, tenant string, tx *models.Transaction) ([]billing.Invoice, error) {
	const maxAttempts = 3
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		invoices, err := s.resolver.Resolve(ctx, tenant, tx)
		if err == nil {
			return invoices, nil
		}
		lastErr = err
		var resErr *resolver.ResolutionError
		if !errors.As(err, &resErr) {
			return nil, err
		}
		if !sleepCtx(ctx, backoffDelay(attempt)) {
			return nil, ctx.Err()
		}
	}
	return nil, lastErr
}

// writeBackWithRetry posts the payment application, retrying retryable
// billing failures up to the configured attempt count, each attempt under
// its own bounded timeout.
func (s *Service) writeBackWithRetry(ctx context.Context, req billing.ApplyPaymentRequest) (*billing.PaymentApplication, error) {
	attempts := s.settings.WriteBackAttempts
	if attempts <= 0 {
		attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		callCtx := ctx
		var cancel context.CancelFunc
		if s.settings.WriteBackTimeout > 0 {
			callCtx, cancel = context.WithTimeout(ctx, s.settings.WriteBackTimeout)
		}
		application, err := s.billing.ApplyPayment(callCtx, req)
		if cancel != nil {
			cancel()
		}
		if err == nil {
			return application, nil
		}
		lastErr = err

		var wbErr *billing.WriteBackError
		if !errors.As(err, &wbErr) || !wbErr.Retryable {
			return nil, err
		}
		if !sleepCtx(ctx, backoffDelay(attempt)) {
			return nil, ctx.Err()
		}
	}
	return nil, lastErr
}

func backoffDelay(attempt int) time.Duration {
	return time.Duration(attempt+1) * 200 * time.Millisecond
}

// sleepCtx waits for d unless the context ends first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	select {
	case <-time.After(d):
		return true
	case <-ctx.Done():
		return false
	}
}

func mustJSON(v interface{}) datatypes.JSON {
	b, err := json.Marshal(v)
	if err != nil {
		return datatypes.JSON([]byte(`{}`))
	}
	return datatypes.JSON(b)
}
