package models

import (
	"time"

	"github.com/google/uuid"
)

// Provider identifies the upstream payment-event source.
type Provider string

const (
	ProviderBank          Provider = "bank"
	ProviderCardProcessor Provider = "card_processor"
)

// Transaction lifecycle statuses. Status only ever advances; the single
// exception is pending_review -> unmatched when an operator rejects the
// last pending proposal and the tenant is configured to re-score.
const (
	TxUnmatched     = "unmatched"
	TxPendingReview = "pending_review"
	TxMatched       = "matched"
	TxRejected      = "rejected"
	TxIgnored       = "ignored"
)

// Transaction is the canonical record of one inbound payment event.
// (tenant_id, provider, external_id) is unique: the insert on that index is
// what makes ingestion at-most-once. Amounts are integer minor units.
type Transaction struct {
	ID           uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	TenantID     string    `gorm:"index;uniqueIndex:idx_tx_origin" json:"tenant_id"`
	Provider     Provider  `gorm:"uniqueIndex:idx_tx_origin" json:"provider"`
	ExternalID   string    `gorm:"uniqueIndex:idx_tx_origin" json:"external_id"`
	AmountMinor  int64     `json:"amount_minor"`
	Currency     string    `gorm:"size:3" json:"currency"`
	Reference    string    `json:"reference"`
	Counterparty string    `json:"counterparty,omitempty"`
	EventAt      time.Time `json:"event_at"`
	IngestedAt   time.Time `json:"ingested_at"`

	Status           string     `gorm:"index" json:"status"`
	MatchedInvoiceID *string    `json:"matched_invoice_id,omitempty"`
	MatchAttempts    int        `json:"match_attempts"`
	NeedsAttention   bool       `gorm:"index" json:"needs_attention"`
	Version          int64      `json:"-"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
	DecidedAt        *time.Time `json:"decided_at,omitempty"`
}

// Terminal reports whether no further lifecycle transition is allowed.
func (t *Transaction) Terminal() bool {
	switch t.Status {
	case TxMatched, TxRejected, TxIgnored:
		return true
	}
	return false
}
