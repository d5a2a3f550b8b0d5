package billing

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Invoice is the read-only view of a billing-system invoice used during a
// matching pass. Not owned or persisted by this engine.
type Invoice struct {
	ID             string    `json:"id"`
	TenantID       string    `json:"tenant_id"`
	Number         string    `json:"number"`
	ClientName     string    `json:"client_name"`
	AmountDueMinor int64     `json:"amount_due_minor"`
	Currency       string    `json:"currency"`
	DueDate        time.Time `json:"due_date"`
	Status         string    `json:"status"`
}

// InvoiceQuery bounds a candidate lookup. Every field is mandatory; the
// tenant filter in particular is never relaxed.
type InvoiceQuery struct {
	TenantID string
	Currency string
	Status   string
	DueFrom  time.Time
	DueTo    time.Time
}

// InvoiceSource is the read-only invoice lookup collaborator.
type InvoiceSource interface {
	OpenInvoices(ctx context.Context, q InvoiceQuery) ([]Invoice, error)
}

// ApplyPaymentRequest posts one payment application to the billing system.
type ApplyPaymentRequest struct {
	TenantID      string `json:"tenant_id"`
	InvoiceID     string `json:"invoice_id"`
	TransactionID string `json:"transaction_id"`
	AmountMinor   int64  `json:"amount_minor"`
	Currency      string `json:"currency"`
}

// PaymentApplication is the billing system's confirmation of an applied
// payment.
type PaymentApplication struct {
	BillingTransactionID string    `json:"billing_transaction_id"`
	AppliedAt            time.Time `json:"applied_at"`
}

// Client is the billing write-back collaborator. ApplyPayment must be
// idempotent for a given (invoice, transaction) pair: the engine sends a
// deterministic idempotency key so provider-side retries cannot
// double-apply funds.
type Client interface {
	ApplyPayment(ctx context.Context, req ApplyPaymentRequest) (*PaymentApplication, error)

	// PaymentStatus reports whether a payment application already exists,
	// returning nil with no error when it does not. Used by the
	// reconciliation sweep to detect applied-but-uncommitted divergence.
	PaymentStatus(ctx context.Context, tenant, invoiceID, transactionID string) (*PaymentApplication, error)
}

// WriteBackError is a billing-system failure. Retryable failures (5xx,
// timeouts) are retried with backoff up to a bounded attempt count; the
// rest surface immediately.
type WriteBackError struct {
	StatusCode int
	Retryable  bool
	Cause      error
}

func (e *WriteBackError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("billing write-back failed: %v", e.Cause)
	}
	return fmt.Sprintf("billing write-back failed: status %d", e.StatusCode)
}

func (e *WriteBackError) Unwrap() error { return e.Cause }

// idempotencyNamespace scopes the deterministic key derivation.
var idempotencyNamespace = uuid.MustParse("9aa9cb52-7a40-4a8e-b2a3-2c1d6f4a9b01")

// IdempotencyKey derives a stable key from (tenant, invoice, transaction)
// so that every retry of the same application carries the same key.
func IdempotencyKey(tenant, invoiceID, transactionID string) string {
	name := tenant + "|" + invoiceID + "|" + transactionID
	return uuid.NewSHA1(idempotencyNamespace, []byte(name)).String()
}
