package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/charlesng35/idbridge/internal/models"
)

// ManualSyncEventID tags status updates produced by the provider resync path
// rather than a webhook delivery. Resync deliberately bypasses the event
// idempotency log, so this synthetic id is reusable.
const ManualSyncEventID = "manual_sync"

// ApplyOutcome describes what an event application did to stored state.
type ApplyOutcome int

const (
	// ApplyApplied means the status transition was written.
	ApplyApplied ApplyOutcome = iota
	// ApplyDuplicate means the event id was already applied; state untouched.
	ApplyDuplicate
	// ApplyNotFound means no local session matches the event's object id.
	ApplyNotFound
)

// Stats aggregates session counts by outcome bucket plus the audit trail size.
type Stats struct {
	TotalSessions int64 `json:"total_sessions"`
	Verified      int64 `json:"verified"`
	Pending       int64 `json:"pending"`
	Failed        int64 `json:"failed"`
	AuditEvents   int64 `json:"audit_events"`
}

// SessionStore owns all persistence for verification sessions and, through the
// injected audit service, the audit rows written alongside state transitions.
// No other component writes to the underlying tables directly.
type SessionStore struct {
	db    *gorm.DB
	audit *AuditService

	// beforeSessionDelete runs inside the erasure transaction between the two
	// deletes; tests inject failures here to prove the cascade is atomic.
	beforeSessionDelete func(tx *gorm.DB) error
}

// StoreOption customises the SessionStore.
type StoreOption func(*SessionStore)

// WithDeleteHook injects a callback between the audit and session deletes of
// the erasure transaction.
func WithDeleteHook(hook func(tx *gorm.DB) error) StoreOption {
	return func(s *SessionStore) {
		s.beforeSessionDelete = hook
	}
}

// NewSessionStore constructs a SessionStore.
func NewSessionStore(db *gorm.DB, audit *AuditService, opts ...StoreOption) (*SessionStore, error) {
	if db == nil {
		return nil, errors.New("session store: db is required")
	}
	if audit == nil {
		return nil, errors.New("session store: audit service is required")
	}

	store := &SessionStore{db: db, audit: audit}
	for _, opt := range opts {
		opt(store)
	}
	return store, nil
}

// Create inserts the initial record for a freshly created provider session.
func (s *SessionStore) Create(ctx context.Context, session *models.VerificationSession) error {
	if session == nil || strings.TrimSpace(session.SessionID) == "" {
		return errors.New("session store: session id is required")
	}
	if session.Status == "" {
		session.Status = models.StatusCreated
	}
	return s.db.WithContext(ensureContext(ctx)).Create(session).Error
}

// Get returns the session with the given provider id, or gorm.ErrRecordNotFound.
func (s *SessionStore) Get(ctx context.Context, sessionID string) (*models.VerificationSession, error) {
	var session models.VerificationSession
	err := s.db.WithContext(ensureContext(ctx)).
		First(&session, "session_id = ?", sessionID).Error
	if err != nil {
		return nil, err
	}
	return &session, nil
}

// IsEventProcessed reports whether any session already carries the event id.
func (s *SessionStore) IsEventProcessed(ctx context.Context, eventID string) (bool, error) {
	var count int64
	err := s.db.WithContext(ensureContext(ctx)).
		Model(&models.VerificationSession{}).
		Where("last_event_id = ?", eventID).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("session store: idempotency check: %w", err)
	}
	return count > 0, nil
}

// ApplyEvent performs the idempotency check and status transition as one
// transaction. Two concurrent deliveries of the same event cannot both apply:
// the embedded store serializes writers and the second transaction observes
// the first one's last_event_id.
func (s *SessionStore) ApplyEvent(ctx context.Context, eventID, sessionID string, status models.SessionStatus) (ApplyOutcome, error) {
	if eventID == "" || sessionID == "" {
		return ApplyNotFound, errors.New("session store: event id and session id are required")
	}

	outcome := ApplyApplied
	err := s.db.WithContext(ensureContext(ctx)).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&models.VerificationSession{}).
			Where("last_event_id = ?", eventID).
			Count(&count).Error; err != nil {
			return fmt.Errorf("idempotency check: %w", err)
		}
		if count > 0 {
			outcome = ApplyDuplicate
			return nil
		}

		var session models.VerificationSession
		if err := tx.First(&session, "session_id = ?", sessionID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				outcome = ApplyNotFound
				return nil
			}
			return err
		}

		if err := s.transition(tx, &session, status, eventID); err != nil {
			return err
		}

		return s.audit.RecordTx(tx, AuditEntry{
			EventType: models.AuditStatusUpdated,
			SessionID: &session.SessionID,
			Result:    models.AuditResultSuccess,
			Metadata: map[string]any{
				"status":   string(status),
				"event_id": eventID,
			},
		})
	})
	if err != nil {
		return outcome, fmt.Errorf("session store: apply event %s: %w", eventID, err)
	}
	return outcome, nil
}

// Resync applies a provider-reported status through the manual side path. It
// bypasses the event idempotency log and only writes when the status actually
// differs. Returns true when the stored status changed.
func (s *SessionStore) Resync(ctx context.Context, sessionID string, status models.SessionStatus) (bool, error) {
	changed := false
	err := s.db.WithContext(ensureContext(ctx)).Transaction(func(tx *gorm.DB) error {
		var session models.VerificationSession
		if err := tx.First(&session, "session_id = ?", sessionID).Error; err != nil {
			return err
		}

		if session.Status == status {
			return nil
		}
		changed = true

		if err := s.transition(tx, &session, status, ManualSyncEventID); err != nil {
			return err
		}

		return s.audit.RecordTx(tx, AuditEntry{
			EventType: models.AuditStatusUpdated,
			SessionID: &session.SessionID,
			Result:    models.AuditResultSuccess,
			Metadata: map[string]any{
				"status":   string(status),
				"event_id": ManualSyncEventID,
			},
		})
	})
	if err != nil {
		return false, err
	}
	return changed, nil
}

// transition writes the new status onto the session row. verified_at is set
// only on the first transition into verified and is never cleared afterwards.
func (s *SessionStore) transition(tx *gorm.DB, session *models.VerificationSession, status models.SessionStatus, eventID string) error {
	now := time.Now().UTC()

	updates := map[string]any{
		"status":        status,
		"last_event_id": eventID,
		"updated_at":    now,
	}
	if status == models.StatusVerified && session.VerifiedAt == nil {
		updates["verified_at"] = now
	}

	return tx.Model(&models.VerificationSession{}).
		Where("session_id = ?", session.SessionID).
		Updates(updates).Error
}

// DeleteUserData erases every session owned by the user reference together
// with the audit rows referencing those sessions. Both deletes commit or roll
// back as one unit; a crash can never leave one table cleaned and the other
// not. Deleting an unknown reference is a no-op.
func (s *SessionStore) DeleteUserData(ctx context.Context, userReference string) (int64, error) {
	var deleted int64
	err := s.db.WithContext(ensureContext(ctx)).Transaction(func(tx *gorm.DB) error {
		var sessionIDs []string
		if err := tx.Model(&models.VerificationSession{}).
			Where("user_reference = ?", userReference).
			Pluck("session_id", &sessionIDs).Error; err != nil {
			return fmt.Errorf("collect sessions: %w", err)
		}
		if len(sessionIDs) == 0 {
			return nil
		}

		if err := tx.Where("session_id IN ?", sessionIDs).
			Delete(&models.AuditEvent{}).Error; err != nil {
			return fmt.Errorf("delete audit events: %w", err)
		}

		if s.beforeSessionDelete != nil {
			if err := s.beforeSessionDelete(tx); err != nil {
				return err
			}
		}

		result := tx.Where("session_id IN ?", sessionIDs).
			Delete(&models.VerificationSession{})
		if result.Error != nil {
			return fmt.Errorf("delete sessions: %w", result.Error)
		}
		deleted = result.RowsAffected
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("session store: delete user data: %w", err)
	}
	return deleted, nil
}

// ListStale returns sessions still awaiting a terminal status whose last
// update is older than the cutoff. Used by the resync sweeper.
func (s *SessionStore) ListStale(ctx context.Context, olderThan time.Duration, limit int) ([]models.VerificationSession, error) {
	if limit <= 0 {
		limit = 100
	}
	cutoff := time.Now().UTC().Add(-olderThan)

	var sessions []models.VerificationSession
	err := s.db.WithContext(ensureContext(ctx)).
		Where("status IN ?", []models.SessionStatus{models.StatusCreated, models.StatusProcessing}).
		Where("updated_at < ?", cutoff).
		Order("updated_at ASC").
		Limit(limit).
		Find(&sessions).Error
	if err != nil {
		return nil, fmt.Errorf("session store: list stale: %w", err)
	}
	return sessions, nil
}

// Stats aggregates session counts by bucket plus the audit trail size.
func (s *SessionStore) Stats(ctx context.Context) (*Stats, error) {
	ctx = ensureContext(ctx)
	stats := &Stats{}

	counts := []struct {
		dest     *int64
		statuses []models.SessionStatus
	}{
		{&stats.Verified, []models.SessionStatus{models.StatusVerified}},
		{&stats.Pending, []models.SessionStatus{models.StatusCreated, models.StatusProcessing}},
		{&stats.Failed, []models.SessionStatus{models.StatusRequiresInput, models.StatusCanceled}},
	}

	if err := s.db.WithContext(ctx).
		Model(&models.VerificationSession{}).
		Count(&stats.TotalSessions).Error; err != nil {
		return nil, fmt.Errorf("session store: count sessions: %w", err)
	}

	for _, c := range counts {
		if err := s.db.WithContext(ctx).
			Model(&models.VerificationSession{}).
			Where("status IN ?", c.statuses).
			Count(c.dest).Error; err != nil {
			return nil, fmt.Errorf("session store: count by status: %w", err)
		}
	}

	audits, err := s.audit.Count(ctx)
	if err != nil {
		return nil, err
	}
	stats.AuditEvents = audits

	return stats, nil
}
