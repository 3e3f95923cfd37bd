package services

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/charlesng35/idbridge/internal/models"
	"github.com/charlesng35/idbridge/internal/webhook"
	"github.com/charlesng35/idbridge/pkg/logger"
	"github.com/charlesng35/idbridge/pkg/metrics"
)

// DispatchOutcome labels how a verified webhook event was handled.
type DispatchOutcome string

const (
	OutcomeApplied          DispatchOutcome = "applied"
	OutcomeAlreadyProcessed DispatchOutcome = "already_processed"
	OutcomeIgnored          DispatchOutcome = "ignored"
	OutcomeSessionNotFound  DispatchOutcome = "session_not_found"
)

// DispatchResult is returned to the webhook handler so the acknowledgment can
// describe what happened without ever failing the delivery.
type DispatchResult struct {
	Outcome DispatchOutcome
	Status  models.SessionStatus
}

// eventStatusMap fixes the provider event types the broker reconciles into
// local statuses. Anything else is acknowledged and ignored.
var eventStatusMap = map[string]models.SessionStatus{
	"identity.verification_session.verified":       models.StatusVerified,
	"identity.verification_session.requires_input": models.StatusRequiresInput,
	"identity.verification_session.processing":     models.StatusProcessing,
	"identity.verification_session.canceled":       models.StatusCanceled,
}

// Dispatcher is the reconciliation engine: it consumes verified provider
// events and drives the session store and audit trail under at-least-once,
// possibly reordered delivery.
type Dispatcher struct {
	store *SessionStore
	audit *AuditService
	log   *zap.Logger
}

// NewDispatcher constructs a Dispatcher.
func NewDispatcher(store *SessionStore, audit *AuditService) (*Dispatcher, error) {
	if store == nil {
		return nil, errors.New("dispatcher: session store is required")
	}
	if audit == nil {
		return nil, errors.New("dispatcher: audit service is required")
	}

	return &Dispatcher{
		store: store,
		audit: audit,
		log:   logger.WithModule("dispatcher"),
	}, nil
}

// Handle processes one trusted event. The receipt audit is written before any
// other step so every delivery attempt leaves a trace, including duplicates
// that are later short-circuited. Once the event is trusted the dispatcher
// never rejects it: unknown types and unknown sessions are acknowledged so the
// provider does not redeliver.
func (d *Dispatcher) Handle(ctx context.Context, event *webhook.Event) (*DispatchResult, error) {
	ctx = ensureContext(ctx)
	if event == nil {
		return nil, errors.New("dispatcher: event is required")
	}

	receiptResult := models.AuditResultSuccess
	if event.Insecure {
		receiptResult = models.AuditResultInsecure
	}

	if err := d.audit.Record(ctx, AuditEntry{
		EventType: models.AuditWebhookReceived,
		SessionID: optionalID(event.ObjectID),
		Result:    receiptResult,
		Metadata: map[string]any{
			"event_id":   event.ID,
			"event_type": event.Type,
		},
	}); err != nil {
		return nil, err
	}

	if event.Insecure {
		d.log.Warn("webhook accepted without signature verification; configure a webhook secret",
			zap.String("event_id", event.ID))
	}

	status, known := eventStatusMap[event.Type]
	if !known {
		d.log.Info("ignoring unhandled event type",
			zap.String("event_id", event.ID),
			zap.String("event_type", event.Type))
		metrics.WebhookEvents.WithLabelValues(string(OutcomeIgnored)).Inc()
		return &DispatchResult{Outcome: OutcomeIgnored}, nil
	}

	outcome, err := d.store.ApplyEvent(ctx, event.ID, event.ObjectID, status)
	if err != nil {
		return nil, err
	}

	result := &DispatchResult{Status: status}
	switch outcome {
	case ApplyDuplicate:
		result.Outcome = OutcomeAlreadyProcessed
		d.log.Info("event already processed",
			zap.String("event_id", event.ID),
			zap.String("session_id", event.ObjectID))
	case ApplyNotFound:
		result.Outcome = OutcomeSessionNotFound
		d.log.Warn("event references unknown session",
			zap.String("event_id", event.ID),
			zap.String("session_id", event.ObjectID))
	default:
		result.Outcome = OutcomeApplied
		d.log.Info("status transition applied",
			zap.String("event_id", event.ID),
			zap.String("session_id", event.ObjectID),
			zap.String("status", string(status)))
	}

	metrics.WebhookEvents.WithLabelValues(string(result.Outcome)).Inc()
	return result, nil
}

func optionalID(id string) *string {
	if id == "" {
		return nil
	}
	return &id
}
