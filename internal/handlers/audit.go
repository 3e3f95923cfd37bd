package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/idbridge/internal/services"
	appErrors "github.com/charlesng35/idbridge/pkg/errors"
	"github.com/charlesng35/idbridge/pkg/response"
)

// AuditHandler exposes read-only access to the audit trail for compliance review.
type AuditHandler struct {
	service *services.AuditService
}

// NewAuditHandler constructs an AuditHandler.
func NewAuditHandler(service *services.AuditService) (*AuditHandler, error) {
	if service == nil {
		return nil, errors.New("audit handler: audit service is required")
	}
	return &AuditHandler{service: service}, nil
}

// GET /audit-events
func (h *AuditHandler) List(c *gin.Context) {
	page := parseIntQuery(c, "page", 1)
	perPage := parseIntQuery(c, "per_page", 50)

	events, total, err := h.service.List(c.Request.Context(), services.AuditListOptions{
		Page:     page,
		PageSize: perPage,
		Filters: services.AuditFilters{
			EventType: strings.TrimSpace(c.Query("event_type")),
			SessionID: strings.TrimSpace(c.Query("session_id")),
			Result:    strings.TrimSpace(c.Query("result")),
		},
	})
	if err != nil {
		response.Error(c, appErrors.ErrInternalServer.WithInternal(err))
		return
	}

	response.SuccessWithMeta(c, http.StatusOK, events, &response.Meta{
		Page:    page,
		PerPage: perPage,
		Total:   int(total),
	})
}
