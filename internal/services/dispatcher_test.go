package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/charlesng35/idbridge/internal/models"
	"github.com/charlesng35/idbridge/internal/webhook"
)

func newTestDispatcher(t *testing.T) (*Dispatcher, *SessionStore, *AuditService) {
	t.Helper()

	store, audit, _ := newTestStore(t)
	dispatcher, err := NewDispatcher(store, audit)
	require.NoError(t, err)
	return dispatcher, store, audit
}

func verifiedEvent(id, sessionID string) *webhook.Event {
	return &webhook.Event{
		ID:           id,
		Type:         "identity.verification_session.verified",
		Created:      time.Now(),
		ObjectID:     sessionID,
		ObjectStatus: "verified",
	}
}

func auditCountByType(t *testing.T, audit *AuditService, eventType string) int64 {
	t.Helper()
	_, total, err := audit.List(context.Background(), AuditListOptions{
		Filters: AuditFilters{EventType: eventType},
	})
	require.NoError(t, err)
	return total
}

func TestHandleAppliesTransition(t *testing.T) {
	dispatcher, store, audit := newTestDispatcher(t)
	ctx := context.Background()
	seedSession(t, store, "vs_1", "user-1")

	result, err := dispatcher.Handle(ctx, verifiedEvent("evt_1", "vs_1"))
	require.NoError(t, err)
	require.Equal(t, OutcomeApplied, result.Outcome)
	require.Equal(t, models.StatusVerified, result.Status)

	session, err := store.Get(ctx, "vs_1")
	require.NoError(t, err)
	require.Equal(t, models.StatusVerified, session.Status)
	require.NotNil(t, session.VerifiedAt)

	require.Equal(t, int64(1), auditCountByType(t, audit, models.AuditWebhookReceived))
	require.Equal(t, int64(1), auditCountByType(t, audit, models.AuditStatusUpdated))
}

func TestHandleRedeliveryShortCircuits(t *testing.T) {
	dispatcher, store, audit := newTestDispatcher(t)
	ctx := context.Background()
	seedSession(t, store, "vs_1", "user-1")

	_, err := dispatcher.Handle(ctx, verifiedEvent("evt_1", "vs_1"))
	require.NoError(t, err)

	result, err := dispatcher.Handle(ctx, verifiedEvent("evt_1", "vs_1"))
	require.NoError(t, err)
	require.Equal(t, OutcomeAlreadyProcessed, result.Outcome)

	// Every delivery attempt is logged, but the transition applied only once.
	require.Equal(t, int64(2), auditCountByType(t, audit, models.AuditWebhookReceived))
	require.Equal(t, int64(1), auditCountByType(t, audit, models.AuditStatusUpdated))
}

func TestHandleUnknownTypeIsAcknowledged(t *testing.T) {
	dispatcher, store, audit := newTestDispatcher(t)
	ctx := context.Background()
	seedSession(t, store, "vs_1", "user-1")

	result, err := dispatcher.Handle(ctx, &webhook.Event{
		ID:       "evt_1",
		Type:     "identity.verification_session.redacted",
		ObjectID: "vs_1",
	})
	require.NoError(t, err)
	require.Equal(t, OutcomeIgnored, result.Outcome)

	// No mutation, but the receipt trail exists.
	session, err := store.Get(ctx, "vs_1")
	require.NoError(t, err)
	require.Equal(t, models.StatusCreated, session.Status)
	require.Empty(t, session.LastEventID)

	require.Equal(t, int64(1), auditCountByType(t, audit, models.AuditWebhookReceived))
	require.Zero(t, auditCountByType(t, audit, models.AuditStatusUpdated))
}

func TestHandleUnknownSessionIsAcknowledged(t *testing.T) {
	dispatcher, _, audit := newTestDispatcher(t)

	result, err := dispatcher.Handle(context.Background(), verifiedEvent("evt_1", "vs_ghost"))
	require.NoError(t, err)
	require.Equal(t, OutcomeSessionNotFound, result.Outcome)

	require.Equal(t, int64(1), auditCountByType(t, audit, models.AuditWebhookReceived))
}

func TestHandleInsecureEventFlagsReceipt(t *testing.T) {
	dispatcher, store, audit := newTestDispatcher(t)
	ctx := context.Background()
	seedSession(t, store, "vs_1", "user-1")

	event := verifiedEvent("evt_1", "vs_1")
	event.Insecure = true

	_, err := dispatcher.Handle(ctx, event)
	require.NoError(t, err)

	events, total, err := audit.List(ctx, AuditListOptions{
		Filters: AuditFilters{EventType: models.AuditWebhookReceived},
	})
	require.NoError(t, err)
	require.Equal(t, int64(1), total)
	require.Equal(t, models.AuditResultInsecure, events[0].Result)
}

func TestHandleEventTypeMapping(t *testing.T) {
	cases := map[string]models.SessionStatus{
		"identity.verification_session.verified":       models.StatusVerified,
		"identity.verification_session.requires_input": models.StatusRequiresInput,
		"identity.verification_session.processing":     models.StatusProcessing,
		"identity.verification_session.canceled":       models.StatusCanceled,
	}

	dispatcher, store, _ := newTestDispatcher(t)
	ctx := context.Background()

	i := 0
	for eventType, want := range cases {
		i++
		sessionID := "vs_" + string(rune('a'+i))
		seedSession(t, store, sessionID, "user-1")

		result, err := dispatcher.Handle(ctx, &webhook.Event{
			ID:       "evt_" + sessionID,
			Type:     eventType,
			ObjectID: sessionID,
		})
		require.NoError(t, err)
		require.Equal(t, OutcomeApplied, result.Outcome)

		session, err := store.Get(ctx, sessionID)
		require.NoError(t, err)
		require.Equal(t, want, session.Status, "event type %s", eventType)
	}
}
