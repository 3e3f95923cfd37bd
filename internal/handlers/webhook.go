package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/charlesng35/idbridge/internal/models"
	"github.com/charlesng35/idbridge/internal/services"
	"github.com/charlesng35/idbridge/internal/webhook"
	appErrors "github.com/charlesng35/idbridge/pkg/errors"
	"github.com/charlesng35/idbridge/pkg/logger"
	"github.com/charlesng35/idbridge/pkg/metrics"
	"github.com/charlesng35/idbridge/pkg/response"
)

// SignatureHeader carries the provider's payload signature.
const SignatureHeader = "X-Provider-Signature"

// WebhookHandler receives provider event deliveries. Only signature and parse
// failures are rejected; every other outcome is acknowledged so the provider's
// at-least-once delivery layer stops retrying.
type WebhookHandler struct {
	verifier   *webhook.Verifier
	dispatcher *services.Dispatcher
	audit      *services.AuditService
	log        *zap.Logger
}

// NewWebhookHandler constructs a WebhookHandler.
func NewWebhookHandler(verifier *webhook.Verifier, dispatcher *services.Dispatcher, audit *services.AuditService) (*WebhookHandler, error) {
	if verifier == nil {
		return nil, errors.New("webhook handler: verifier is required")
	}
	if dispatcher == nil {
		return nil, errors.New("webhook handler: dispatcher is required")
	}
	if audit == nil {
		return nil, errors.New("webhook handler: audit service is required")
	}

	return &WebhookHandler{
		verifier:   verifier,
		dispatcher: dispatcher,
		audit:      audit,
		log:        logger.WithModule("webhook"),
	}, nil
}

// POST /webhook
func (h *WebhookHandler) Handle(c *gin.Context) {
	// Signatures cover the exact bytes on the wire, so the payload must be
	// read raw; binding it to a struct first would break verification.
	payload, err := c.GetRawData()
	if err != nil {
		response.Error(c, appErrors.NewBadRequest("unable to read request body"))
		return
	}

	event, err := h.verifier.VerifyAndParse(payload, c.GetHeader(SignatureHeader))
	if err != nil {
		h.rejectDelivery(c, err)
		return
	}

	result, err := h.dispatcher.Handle(c.Request.Context(), event)
	if err != nil {
		h.log.Error("webhook processing failed",
			zap.String("event_id", event.ID),
			zap.Error(err))
		response.Error(c, appErrors.Wrap(err, "failed to process webhook event"))
		return
	}

	ack := gin.H{"received": true}
	switch result.Outcome {
	case services.OutcomeApplied:
		ack["status"] = result.Status
	case services.OutcomeAlreadyProcessed:
		ack["already_processed"] = true
	}

	response.Success(c, http.StatusOK, ack)
}

// rejectDelivery audits the failure and returns a non-2xx so the provider
// retries the delivery.
func (h *WebhookHandler) rejectDelivery(c *gin.Context, err error) {
	h.log.Warn("webhook delivery rejected", zap.Error(err))
	metrics.WebhookEvents.WithLabelValues("rejected").Inc()

	if auditErr := h.audit.Record(c.Request.Context(), services.AuditEntry{
		EventType: models.AuditWebhookError,
		Result:    models.AuditResultFailure,
		Metadata:  map[string]any{"error": appErrors.FromError(err).Code},
	}); auditErr != nil {
		h.log.Error("failed to audit webhook rejection", zap.Error(auditErr))
	}

	response.Error(c, err)
}
