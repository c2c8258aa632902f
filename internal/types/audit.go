package types

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// AuditLogEntry is an append-only record of a state-changing action. Entries
// are never mutated or deleted by normal flow.
type AuditLogEntry struct {
	ID         uuid.UUID       `json:"id"`
	UserID     uuid.UUID       `json:"userId"`
	Action     string          `json:"action"`
	Resource   string          `json:"resource"`
	ResourceID *string         `json:"resourceId,omitempty"`
	OldValues  json.RawMessage `json:"oldValues,omitempty"`
	NewValues  json.RawMessage `json:"newValues,omitempty"`
	IPAddress  *string         `json:"ipAddress,omitempty"`
	UserAgent  *string         `json:"userAgent,omitempty"`
	CreatedAt  time.Time       `json:"createdAt"`

	// ActorUsername is joined in for list views; empty when the actor row is gone.
	ActorUsername string `json:"actorUsername,omitempty"`
}

// AuditRecord is the write-side shape handed to the audit repository.
type AuditRecord struct {
	UserID     uuid.UUID
	Action     string
	Resource   string
	ResourceID *string
	OldValues  any
	NewValues  any
	IPAddress  *string
	UserAgent  *string
}
