package handlers

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/charlesng35/idbridge/internal/models"
	"github.com/charlesng35/idbridge/internal/webhook"
)

func signedHeaders(payload string) map[string]string {
	return map[string]string{
		SignatureHeader: webhook.Sign(testWebhookSecret, time.Now(), []byte(payload)),
	}
}

func TestWebhookAppliesTransition(t *testing.T) {
	env := newTestEnv(t)
	seedSessionRow(t, env.db, "vs_100", "user-1", models.StatusCreated)

	payload := eventPayload("evt_1", "identity.verification_session.verified", "vs_100")
	rec := env.do(t, http.MethodPost, "/webhook", payload, signedHeaders(payload))

	require.Equal(t, http.StatusOK, rec.Code)
	data := dataField(t, rec)
	require.Equal(t, true, data["received"])
	require.Equal(t, "verified", data["status"])

	var session models.VerificationSession
	require.NoError(t, env.db.First(&session, "session_id = ?", "vs_100").Error)
	require.Equal(t, models.StatusVerified, session.Status)
	require.NotNil(t, session.VerifiedAt)
}

func TestWebhookDuplicateDelivery(t *testing.T) {
	env := newTestEnv(t)
	seedSessionRow(t, env.db, "vs_100", "user-1", models.StatusCreated)

	payload := eventPayload("evt_1", "identity.verification_session.verified", "vs_100")

	first := env.do(t, http.MethodPost, "/webhook", payload, signedHeaders(payload))
	require.Equal(t, http.StatusOK, first.Code)

	second := env.do(t, http.MethodPost, "/webhook", payload, signedHeaders(payload))
	require.Equal(t, http.StatusOK, second.Code)
	require.Equal(t, true, dataField(t, second)["already_processed"])
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	env := newTestEnv(t)
	seedSessionRow(t, env.db, "vs_100", "user-1", models.StatusCreated)

	payload := eventPayload("evt_1", "identity.verification_session.verified", "vs_100")
	rec := env.do(t, http.MethodPost, "/webhook", payload, map[string]string{
		SignatureHeader: webhook.Sign("wrong-secret", time.Now(), []byte(payload)),
	})

	require.Equal(t, http.StatusBadRequest, rec.Code)
	parsed := decodeBody(t, rec)
	require.Equal(t, false, parsed["success"])

	// The rejection leaves an error audit and no state change.
	var errorAudits int64
	require.NoError(t, env.db.Model(&models.AuditEvent{}).
		Where("event_type = ?", models.AuditWebhookError).
		Count(&errorAudits).Error)
	require.EqualValues(t, 1, errorAudits)

	var session models.VerificationSession
	require.NoError(t, env.db.First(&session, "session_id = ?", "vs_100").Error)
	require.Equal(t, models.StatusCreated, session.Status)
}

func TestWebhookRejectsMissingSignature(t *testing.T) {
	env := newTestEnv(t)

	payload := eventPayload("evt_1", "identity.verification_session.verified", "vs_100")
	rec := env.do(t, http.MethodPost, "/webhook", payload, nil)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestWebhookRejectsMalformedPayload(t *testing.T) {
	env := newTestEnv(t)

	payload := `{"id":"evt_1"`
	rec := env.do(t, http.MethodPost, "/webhook", payload, signedHeaders(payload))

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestWebhookAcknowledgesUnknownEventType(t *testing.T) {
	env := newTestEnv(t)

	payload := eventPayload("evt_1", "identity.verification_report.created", "vr_1")
	rec := env.do(t, http.MethodPost, "/webhook", payload, signedHeaders(payload))

	require.Equal(t, http.StatusOK, rec.Code)
	data := dataField(t, rec)
	require.Equal(t, true, data["received"])
	require.NotContains(t, data, "status")
}

func TestWebhookAcknowledgesUnknownSession(t *testing.T) {
	env := newTestEnv(t)

	payload := eventPayload("evt_1", "identity.verification_session.verified", "vs_missing")
	rec := env.do(t, http.MethodPost, "/webhook", payload, signedHeaders(payload))

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, true, dataField(t, rec)["received"])
}
