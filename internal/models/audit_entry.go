package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Audit actions.
const (
	AuditTransactionIngested = "transaction_ingested"
	AuditProposalCreated     = "proposal_created"
	AuditProposalApplied     = "proposal_applied"
	AuditProposalRejected    = "proposal_rejected"
	AuditTransactionIgnored  = "transaction_ignored"
	AuditWriteBackSucceeded  = "write_back_succeeded"
	AuditWriteBackFailed     = "write_back_failed"
	AuditDeadLettered        = "dead_lettered"
	AuditSweepRepaired       = "sweep_repaired"
	AuditControlEvent        = "control_event"
)

// ActorSystem is the actor recorded for transitions the engine makes on
// its own (auto-apply, sweeps, ingestion).
const ActorSystem = "system"

// AuditEntry is an append-only record of a state transition. Rows are
// never updated or deleted.
type AuditEntry struct {
	ID            uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	TenantID      string         `gorm:"index" json:"tenant_id"`
	TransactionID uuid.UUID      `gorm:"index" json:"transaction_id"`
	ProposalID    *uuid.UUID     `json:"proposal_id,omitempty"`
	Action        string         `gorm:"index" json:"action"`
	Actor         string         `json:"actor"`
	Detail        datatypes.JSON `json:"detail,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
}
