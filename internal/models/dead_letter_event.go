package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// DeadLetterEvent parks a verified but unnormalizable payload for manual
// inspection. Nothing in the engine reads these back; operators do.
type DeadLetterEvent struct {
	ID         uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	TenantID   string         `gorm:"index" json:"tenant_id"`
	Provider   Provider       `json:"provider"`
	RawPayload datatypes.JSON `json:"raw_payload"`
	Reason     string         `json:"reason"`
	CreatedAt  time.Time      `json:"created_at"`
}
