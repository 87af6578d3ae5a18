package moderation

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/haven-live/backend/internal/middleware"
	"github.com/haven-live/backend/internal/models"
	"github.com/haven-live/backend/pkg/response"
)

// ApplyRequest is the body for POST /sessions/:id/moderation.
type ApplyRequest struct {
	TargetID        string `json:"target_id" binding:"required,uuid"`
	Action          string `json:"action" binding:"required"`
	Reason          string `json:"reason"`
	DurationSeconds int    `json:"duration_seconds"`
}

// Handler handles moderation HTTP endpoints.
type Handler struct {
	engine *Engine
}

// NewHandler creates a moderation handler.
func NewHandler(engine *Engine) *Handler {
	return &Handler{engine: engine}
}

// Apply handles POST /sessions/:id/moderation.
func (h *Handler) Apply(c *gin.Context) {
	sessionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return
	}
	var req ApplyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	targetID, _ := uuid.Parse(req.TargetID)
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)
	role, _ := c.MustGet(middleware.ContextUserRole).(string)

	entry, err := h.engine.Apply(c.Request.Context(), ActionSpec{
		SessionID:   sessionID,
		ModeratorID: userID,
		TargetID:    targetID,
		Action:      models.ModerationActionType(req.Action),
		Reason:      req.Reason,
		Duration:    time.Duration(req.DurationSeconds) * time.Second,
		IsAdmin:     role == "admin",
	})
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Created(c, entry)
}

// Audit handles GET /sessions/:id/moderation.
func (h *Handler) Audit(c *gin.Context) {
	sessionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return
	}
	list, err := h.engine.Audit(c.Request.Context(), sessionID)
	if err != nil {
		response.Internal(c, "failed to load audit log")
		return
	}
	response.OK(c, list)
}
