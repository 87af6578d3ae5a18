package alerts

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/haven-live/backend/internal/middleware"
	"github.com/haven-live/backend/internal/models"
	"github.com/haven-live/backend/internal/safety"
	"github.com/haven-live/backend/pkg/response"
)

// RaiseRequest is the body for POST /sessions/:id/alerts.
type RaiseRequest struct {
	Type        string `json:"type" binding:"required"`
	Severity    string `json:"severity" binding:"required"`
	Description string `json:"description"`
}

// MonitoredFunc reports whether a session opted into content screening.
type MonitoredFunc func(sessionID uuid.UUID) bool

// Handler handles alert HTTP endpoints.
type Handler struct {
	service   *Service
	checker   *safety.Checker
	monitored MonitoredFunc
}

// NewHandler creates an alert handler.
func NewHandler(service *Service, checker *safety.Checker, monitored MonitoredFunc) *Handler {
	return &Handler{service: service, checker: checker, monitored: monitored}
}

// Raise handles POST /sessions/:id/alerts. For sessions with aiMonitoring
// enabled, the content-safety collaborator screens the description; when it
// flags above the reported severity, the higher severity wins. Collaborator
// failure changes nothing.
func (h *Handler) Raise(c *gin.Context) {
	sessionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return
	}
	var req RaiseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)

	severity := models.AlertSeverity(req.Severity)
	if h.checker != nil && req.Description != "" && (h.monitored == nil || h.monitored(sessionID)) {
		if res := h.checker.Check(c.Request.Context(), req.Description); res.Flagged {
			severity = safety.MaxSeverity(severity, res.Severity)
		}
	}

	alert, err := h.service.Raise(c.Request.Context(), RaiseSpec{
		SessionID:     sessionID,
		ParticipantID: userID,
		Type:          models.AlertType(req.Type),
		Severity:      severity,
		Description:   req.Description,
	})
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Created(c, alert)
}

// Resolve handles POST /alerts/:id/resolve.
func (h *Handler) Resolve(c *gin.Context) {
	alertID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid alert id")
		return
	}
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)

	alert, err := h.service.Resolve(c.Request.Context(), alertID, userID)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.OK(c, alert)
}

// ListOpen handles GET /alerts/open (moderator/admin).
func (h *Handler) ListOpen(c *gin.Context) {
	list, err := h.service.ListOpen(c.Request.Context())
	if err != nil {
		response.Internal(c, "failed to list alerts")
		return
	}
	response.OK(c, list)
}
