package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Audit event types recorded by the reconciliation pipeline and lifecycle API.
const (
	AuditSessionCreated        = "session_created"
	AuditSessionCreationFailed = "session_creation_failed"
	AuditWebhookReceived       = "webhook_received"
	AuditWebhookError          = "webhook_error"
	AuditStatusUpdated         = "status_updated"
	AuditUserDataDeleted       = "user_data_deleted"
)

// Audit results describe the outcome of the recorded action.
const (
	AuditResultSuccess   = "success"
	AuditResultFailure   = "failure"
	AuditResultDuplicate = "duplicate"
	AuditResultIgnored   = "ignored"
	AuditResultInsecure  = "insecure"
)

// AuditEvent is an append-only compliance record. Rows are never mutated and
// are deleted only when a user-data erasure cascades over their session.
type AuditEvent struct {
	ID        string `gorm:"primaryKey;type:uuid" json:"id"`
	EventType string `gorm:"not null;index" json:"event_type"`
	// SessionID links the event to a verification session. Deliberately not a
	// foreign key: audit rows may describe sessions we never stored.
	SessionID *string        `gorm:"index" json:"session_id"`
	Result    string         `gorm:"not null" json:"result"`
	Metadata  datatypes.JSON `json:"metadata"`
	CreatedAt time.Time      `gorm:"index" json:"created_at"`
}

func (a *AuditEvent) BeforeCreate(tx *gorm.DB) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	return nil
}
