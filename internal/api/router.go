package api

import (
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"

	"github.com/charlesng35/idbridge/internal/app"
	"github.com/charlesng35/idbridge/internal/handlers"
	"github.com/charlesng35/idbridge/internal/middleware"
	"github.com/charlesng35/idbridge/internal/provider"
	"github.com/charlesng35/idbridge/internal/services"
	"github.com/charlesng35/idbridge/internal/webhook"
)

// NewRouter builds the Gin engine, wires middleware and registers all routes.
// The provider client is injected so the resync sweeper can share it.
func NewRouter(db *gorm.DB, cfg *app.Config, client provider.Client) (*gin.Engine, error) {
	if db == nil {
		return nil, fmt.Errorf("database handle must be provided")
	}
	if cfg == nil {
		return nil, fmt.Errorf("config must be provided")
	}
	if client == nil {
		return nil, fmt.Errorf("provider client must be provided")
	}

	audit, err := services.NewAuditService(db)
	if err != nil {
		return nil, err
	}

	store, err := services.NewSessionStore(db, audit)
	if err != nil {
		return nil, err
	}

	dispatcher, err := services.NewDispatcher(store, audit)
	if err != nil {
		return nil, err
	}

	verification, err := services.NewVerificationService(store, audit, client)
	if err != nil {
		return nil, err
	}

	verifier := webhook.NewVerifier(cfg.Provider.WebhookSecret,
		webhook.WithTolerance(cfg.Provider.SignatureTolerance))

	sessionHandler, err := handlers.NewSessionHandler(verification)
	if err != nil {
		return nil, err
	}

	webhookHandler, err := handlers.NewWebhookHandler(verifier, dispatcher, audit)
	if err != nil {
		return nil, err
	}

	auditHandler, err := handlers.NewAuditHandler(audit)
	if err != nil {
		return nil, err
	}

	r := gin.New()

	// Global middleware
	r.Use(middleware.Recovery())
	r.Use(middleware.Logger())
	r.Use(middleware.Metrics())
	r.Use(middleware.SecurityHeaders())
	r.Use(middleware.CORS())

	if cfg.Monitoring.Health.Enabled {
		r.GET("/health", handlers.Health())
	}

	// Session lifecycle API. Creation is rate limited so one client cannot
	// burn the provider quota.
	create := []gin.HandlerFunc{sessionHandler.Create}
	if limit := cfg.Server.RateLimit; limit.Enabled {
		create = append([]gin.HandlerFunc{middleware.RateLimit(limit.Requests, limit.Window)}, create...)
	}
	r.POST("/create-session", create...)
	r.GET("/verification-status/:sessionId", sessionHandler.Status)
	r.DELETE("/user-data/:userReference", sessionHandler.DeleteUserData)
	r.GET("/stats", sessionHandler.Stats)
	r.GET("/audit-events", auditHandler.List)

	// Webhook ingestion. Never rate limited: rejected deliveries are
	// redelivered by the provider.
	r.POST("/webhook", webhookHandler.Handle)

	if cfg.Monitoring.Prometheus.Enabled {
		endpoint := cfg.Monitoring.Prometheus.Endpoint
		if endpoint == "" {
			endpoint = "/metrics"
		}
		r.GET(endpoint, gin.WrapH(promhttp.Handler()))
	}

	r.NoRoute(middleware.NotFoundHandler)

	return r, nil
}
