package services

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/charlesng35/idbridge/internal/models"
	"github.com/charlesng35/idbridge/internal/provider"
	appErrors "github.com/charlesng35/idbridge/pkg/errors"
	"github.com/charlesng35/idbridge/pkg/logger"
	"github.com/charlesng35/idbridge/pkg/metrics"
)

// DefaultVerificationType is used when a caller does not request a specific
// check kind.
const DefaultVerificationType = "document"

// CreatedSession is returned to the caller after a successful provider call.
type CreatedSession struct {
	SessionID string `json:"session_id"`
	URL       string `json:"url"`
}

// VerificationService implements the synchronous session lifecycle: create,
// status query with provider resync, user-data erasure, and statistics.
type VerificationService struct {
	store    *SessionStore
	audit    *AuditService
	provider provider.Client
	log      *zap.Logger
}

// NewVerificationService constructs a VerificationService. The provider client
// is required: every lifecycle flow starts with a provider session.
func NewVerificationService(store *SessionStore, audit *AuditService, client provider.Client) (*VerificationService, error) {
	if store == nil {
		return nil, errors.New("verification service: session store is required")
	}
	if audit == nil {
		return nil, errors.New("verification service: audit service is required")
	}
	if client == nil {
		return nil, errors.New("verification service: provider client is required")
	}

	return &VerificationService{
		store:    store,
		audit:    audit,
		provider: client,
		log:      logger.WithModule("verification"),
	}, nil
}

// CreateSession asks the provider for a new hosted verification session and
// records the local shadow row with status created. A failed provider call
// leaves no local record; the failure is audited and surfaced.
func (s *VerificationService) CreateSession(ctx context.Context, userReference, verificationType string) (*CreatedSession, error) {
	ctx = ensureContext(ctx)

	userReference = strings.TrimSpace(userReference)
	verificationType = strings.TrimSpace(verificationType)
	if verificationType == "" {
		verificationType = DefaultVerificationType
	}

	session, err := s.provider.CreateSession(ctx, userReference, verificationType)
	if err != nil {
		metrics.SessionsCreated.WithLabelValues("failure").Inc()
		if auditErr := s.audit.Record(ctx, AuditEntry{
			EventType: models.AuditSessionCreationFailed,
			Result:    models.AuditResultFailure,
			Metadata:  map[string]any{"error": err.Error()},
		}); auditErr != nil {
			s.log.Error("failed to audit session creation failure", zap.Error(auditErr))
		}
		return nil, err
	}

	record := &models.VerificationSession{
		SessionID:        session.ID,
		UserReference:    userReference,
		Status:           models.StatusCreated,
		VerificationType: verificationType,
	}
	if err := s.store.Create(ctx, record); err != nil {
		return nil, appErrors.Wrap(err, "failed to record verification session")
	}

	if err := s.audit.Record(ctx, AuditEntry{
		EventType: models.AuditSessionCreated,
		SessionID: &record.SessionID,
		Result:    models.AuditResultSuccess,
		Metadata: map[string]any{
			"verification_type": verificationType,
		},
	}); err != nil {
		s.log.Error("failed to audit session creation", zap.Error(err))
	}

	metrics.SessionsCreated.WithLabelValues("success").Inc()
	s.log.Info("verification session created", zap.String("session_id", record.SessionID))

	return &CreatedSession{SessionID: session.ID, URL: session.URL}, nil
}

// GetStatus returns the locally stored session, optionally reconciling it with
// the provider first. Resync compensates for missed or delayed webhook
// delivery: when the provider reports a different status it is applied through
// the same update-and-audit path as the dispatcher, tagged manual_sync. A
// provider failure during an explicit resync is surfaced, not swallowed.
func (s *VerificationService) GetStatus(ctx context.Context, sessionID string, resync bool) (*models.VerificationSession, error) {
	ctx = ensureContext(ctx)

	session, err := s.store.Get(ctx, sessionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, appErrors.ErrNotFound
		}
		return nil, appErrors.Wrap(err, "failed to load verification session")
	}

	if !resync {
		return session, nil
	}

	remote, err := s.provider.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	status := models.SessionStatus(remote.Status)
	if !status.Valid() {
		s.log.Warn("provider reported unknown status; keeping local state",
			zap.String("session_id", sessionID),
			zap.String("status", remote.Status))
		return session, nil
	}

	changed, err := s.store.Resync(ctx, sessionID, status)
	if err != nil {
		return nil, appErrors.Wrap(err, "failed to apply resynced status")
	}
	if !changed {
		return session, nil
	}

	s.log.Info("session status resynced from provider",
		zap.String("session_id", sessionID),
		zap.String("status", string(status)))

	return s.GetStatus(ctx, sessionID, false)
}

// DeleteUserData erases every session and associated audit row for the user
// reference as one atomic unit, then writes a single global audit record that
// survives the cascade. Idempotent: unknown references succeed trivially.
func (s *VerificationService) DeleteUserData(ctx context.Context, userReference string) (int64, error) {
	ctx = ensureContext(ctx)

	deleted, err := s.store.DeleteUserData(ctx, userReference)
	if err != nil {
		return 0, appErrors.Wrap(err, "failed to delete user data")
	}

	if err := s.audit.Record(ctx, AuditEntry{
		EventType: models.AuditUserDataDeleted,
		Result:    models.AuditResultSuccess,
		Metadata: map[string]any{
			"user_reference":   userReference,
			"sessions_deleted": deleted,
		},
	}); err != nil {
		s.log.Error("failed to audit user data deletion", zap.Error(err))
	}

	s.log.Info("user data deleted",
		zap.String("user_reference", userReference),
		zap.Int64("sessions", deleted))

	return deleted, nil
}

// GetStatistics returns session counts by bucket and the audit trail size.
func (s *VerificationService) GetStatistics(ctx context.Context) (*Stats, error) {
	stats, err := s.store.Stats(ensureContext(ctx))
	if err != nil {
		return nil, appErrors.Wrap(err, "failed to aggregate statistics")
	}
	return stats, nil
}
