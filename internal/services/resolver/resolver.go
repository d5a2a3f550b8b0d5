package resolver

import (
	"context"
	"fmt"
	"time"

	"payment-reconciliation-engine/internal/billing"
	"payment-reconciliation-engine/internal/config"
	"payment-reconciliation-engine/internal/models"

	log "github.com/sirupsen/logrus"
)

// ResolutionError is a transient candidate-lookup failure. Retryable.
type ResolutionError struct {
	Tenant string
	Cause  error
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("candidate resolution failed for tenant=%s: %v", e.Tenant, e.Cause)
}

func (e *ResolutionError) Unwrap() error { return e.Cause }

// Resolver fetches the bounded set of open invoices eligible to match a
// transaction. Every filter is mandatory; the tenant filter in particular
// is hard isolation and never relaxed.
type Resolver struct {
	source    billing.InvoiceSource
	lookBack  time.Duration
	lookAhead time.Duration
}

func New(source billing.InvoiceSource, settings *config.Settings) *Resolver {
	return &Resolver{
		source:    source,
		lookBack:  settings.LookBack,
		lookAhead: settings.LookAhead,
	}
}

// Resolve returns open invoices of the transaction's tenant and currency
// whose due date falls inside the configured window around the event date.
// Ordering is unspecified here; ranking belongs to the scorer.
func (r *Resolver) Resolve(ctx context.Context, tenant string, tx *models.Transaction) ([]billing.Invoice, error) {
	if tx.TenantID != tenant {
		return nil, &ResolutionError{Tenant: tenant, Cause: fmt.Errorf("transaction belongs to another tenant")}
	}

	query := billing.InvoiceQuery{
		TenantID: tenant,
		Currency: tx.Currency,
		Status:   "open",
		DueFrom:  tx.EventAt.Add(-r.lookBack),
		DueTo:    tx.EventAt.Add(r.lookAhead),
	}

	invoices, err := r.source.OpenInvoices(ctx, query)
	if err != nil {
		return nil, &ResolutionError{Tenant: tenant, Cause: err}
	}

	// rows outside the query bounds never reach scoring, whatever the
	// source returned
	eligible := invoices[:0]
	for _, inv := range invoices {
		if inv.TenantID != tenant || inv.Currency != tx.Currency || inv.Status != "open" {
			continue
		}
		eligible = append(eligible, inv)
	}

	log.WithFields(log.Fields{
		"tenant":         tenant,
		"transaction_id": tx.ID,
		"candidates":     len(eligible),
	}).Debug("candidate invoices resolved")

	return eligible, nil
}
