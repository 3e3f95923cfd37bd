package models

import "time"

// SessionStatus enumerates the local lifecycle states of a verification session.
type SessionStatus string

const (
	StatusCreated       SessionStatus = "created"
	StatusProcessing    SessionStatus = "processing"
	StatusVerified      SessionStatus = "verified"
	StatusRequiresInput SessionStatus = "requires_input"
	StatusCanceled      SessionStatus = "canceled"
)

// Valid reports whether the status is one of the known lifecycle states.
func (s SessionStatus) Valid() bool {
	switch s {
	case StatusCreated, StatusProcessing, StatusVerified, StatusRequiresInput, StatusCanceled:
		return true
	}
	return false
}

// VerificationSession mirrors one provider-side verification attempt. Only
// non-sensitive metadata is persisted: the provider vaults all captured
// documents, we keep the session id, a pseudonymous user reference, and the
// reconciled status.
type VerificationSession struct {
	// SessionID is the provider-assigned identifier and is immutable once created.
	SessionID        string        `gorm:"primaryKey" json:"session_id"`
	UserReference    string        `gorm:"index" json:"user_reference"`
	Status           SessionStatus `gorm:"not null;index" json:"status"`
	VerificationType string        `json:"verification_type"`
	// LastEventID holds the most recent provider event applied to this record.
	// The dispatcher uses it for idempotency checks and traceability.
	LastEventID string    `gorm:"index" json:"last_event_id"`
	CreatedAt   time.Time `gorm:"index" json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	// VerifiedAt is set the first time the session reaches verified and is
	// never cleared, even when a later event regresses the status.
	VerifiedAt *time.Time `json:"verified_at"`
}
