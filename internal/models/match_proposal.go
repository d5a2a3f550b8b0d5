package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// MatchProposal statuses.
const (
	ProposalPending  = "pending"
	ProposalApplied  = "applied"
	ProposalRejected = "rejected"
)

// MatchProposal is one scored pairing of a transaction to a candidate
// invoice. At most one proposal per transaction ever reaches applied;
// applying one rejects every pending sibling.
type MatchProposal struct {
	ID            uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	TenantID      string    `gorm:"index" json:"tenant_id"`
	TransactionID uuid.UUID `gorm:"index" json:"transaction_id"`

	InvoiceID      string    `json:"invoice_id"`
	InvoiceNumber  string    `json:"invoice_number"`
	InvoiceDueDate time.Time `json:"invoice_due_date"`

	Confidence float64        `json:"confidence"`
	Rationale  datatypes.JSON `json:"rationale"`

	Status    string     `gorm:"index" json:"status"`
	DecidedBy string     `json:"decided_by,omitempty"`
	DecidedAt *time.Time `json:"decided_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}
