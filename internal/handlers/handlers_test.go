package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/charlesng35/idbridge/internal/database/testutil"
	"github.com/charlesng35/idbridge/internal/models"
	"github.com/charlesng35/idbridge/internal/provider"
	"github.com/charlesng35/idbridge/internal/services"
	"github.com/charlesng35/idbridge/internal/webhook"
)

const testWebhookSecret = "whsec_handler_test"

type fakeProvider struct {
	createFn func(ctx context.Context, userReference, verificationType string) (*provider.Session, error)
	getFn    func(ctx context.Context, sessionID string) (*provider.Session, error)
}

func (f *fakeProvider) CreateSession(ctx context.Context, userReference, verificationType string) (*provider.Session, error) {
	if f.createFn == nil {
		return &provider.Session{ID: "vs_default", URL: "https://verify.example/vs_default", Status: "created"}, nil
	}
	return f.createFn(ctx, userReference, verificationType)
}

func (f *fakeProvider) GetSession(ctx context.Context, sessionID string) (*provider.Session, error) {
	if f.getFn == nil {
		return &provider.Session{ID: sessionID, Status: "created"}, nil
	}
	return f.getFn(ctx, sessionID)
}

type testEnv struct {
	router   *gin.Engine
	db       *gorm.DB
	provider *fakeProvider
	audit    *services.AuditService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db := testutil.MustOpenTestDB(t)

	audit, err := services.NewAuditService(db)
	require.NoError(t, err)

	store, err := services.NewSessionStore(db, audit)
	require.NoError(t, err)

	dispatcher, err := services.NewDispatcher(store, audit)
	require.NoError(t, err)

	fake := &fakeProvider{}
	verification, err := services.NewVerificationService(store, audit, fake)
	require.NoError(t, err)

	sessions, err := NewSessionHandler(verification)
	require.NoError(t, err)

	webhooks, err := NewWebhookHandler(webhook.NewVerifier(testWebhookSecret), dispatcher, audit)
	require.NoError(t, err)

	audits, err := NewAuditHandler(audit)
	require.NoError(t, err)

	router := gin.New()
	router.GET("/health", Health())
	router.POST("/create-session", sessions.Create)
	router.GET("/verification-status/:sessionId", sessions.Status)
	router.DELETE("/user-data/:userReference", sessions.DeleteUserData)
	router.GET("/stats", sessions.Stats)
	router.GET("/audit-events", audits.List)
	router.POST("/webhook", webhooks.Handle)

	return &testEnv{router: router, db: db, provider: fake, audit: audit}
}

func (env *testEnv) do(t *testing.T, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()

	var parsed map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &parsed))
	return parsed
}

func dataField(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()

	parsed := decodeBody(t, rec)
	data, ok := parsed["data"].(map[string]any)
	require.True(t, ok, "response missing data object: %s", rec.Body.String())
	return data
}

func seedSessionRow(t *testing.T, db *gorm.DB, sessionID, userReference string, status models.SessionStatus) {
	t.Helper()

	require.NoError(t, db.Create(&models.VerificationSession{
		SessionID:        sessionID,
		UserReference:    userReference,
		Status:           status,
		VerificationType: "document",
	}).Error)
}

func eventPayload(eventID, eventType, sessionID string) string {
	return fmt.Sprintf(`{"id":%q,"type":%q,"created":1700000000,"data":{"object":{"id":%q,"status":"verified"}}}`,
		eventID, eventType, sessionID)
}

func TestHealthEndpoint(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "ok", dataField(t, rec)["status"])
}
