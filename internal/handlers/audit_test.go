package handlers

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/charlesng35/idbridge/internal/models"
	"github.com/charlesng35/idbridge/internal/services"
)

func recordAudit(t *testing.T, env *testEnv, eventType, result string, sessionID *string) {
	t.Helper()
	require.NoError(t, env.audit.Record(context.Background(), services.AuditEntry{
		EventType: eventType,
		SessionID: sessionID,
		Result:    result,
	}))
}

func TestAuditListPagination(t *testing.T) {
	env := newTestEnv(t)
	for i := 0; i < 5; i++ {
		recordAudit(t, env, models.AuditWebhookReceived, models.AuditResultSuccess, nil)
	}

	rec := env.do(t, http.MethodGet, "/audit-events?page=1&per_page=2", "", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	parsed := decodeBody(t, rec)

	data, ok := parsed["data"].([]any)
	require.True(t, ok)
	require.Len(t, data, 2)

	meta, ok := parsed["meta"].(map[string]any)
	require.True(t, ok)
	require.EqualValues(t, 5, meta["total"])
}

func TestAuditListFilters(t *testing.T) {
	env := newTestEnv(t)
	sessionID := "vs_1"
	recordAudit(t, env, models.AuditWebhookReceived, models.AuditResultSuccess, &sessionID)
	recordAudit(t, env, models.AuditStatusUpdated, models.AuditResultSuccess, &sessionID)
	recordAudit(t, env, models.AuditWebhookReceived, models.AuditResultSuccess, nil)

	rec := env.do(t, http.MethodGet, "/audit-events?event_type=status_updated", "", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	parsed := decodeBody(t, rec)
	data, ok := parsed["data"].([]any)
	require.True(t, ok)
	require.Len(t, data, 1)
}
