package sessions

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/haven-live/backend/internal/middleware"
	"github.com/haven-live/backend/internal/models"
	"github.com/haven-live/backend/pkg/response"
)

// CreateRequest is the body for POST /sessions.
type CreateRequest struct {
	Topic           string `json:"topic" binding:"required"`
	MaxParticipants int    `json:"max_participants"`
	TTLMinutes      int    `json:"ttl_minutes"`
	AudioOnly       *bool  `json:"audio_only"`
	AllowAnonymous  *bool  `json:"allow_anonymous"`
	ModerationLevel string `json:"moderation_level"`
	AIMonitoring    bool   `json:"ai_monitoring"`
}

// JoinRequest is the body for POST /sessions/:id/join.
type JoinRequest struct {
	ConnectionID string `json:"connection_id"`
	WantHost     bool   `json:"want_host"`
}

// Handler handles session HTTP endpoints.
type Handler struct {
	registry *Registry
}

// NewHandler creates a session handler.
func NewHandler(registry *Registry) *Handler {
	return &Handler{registry: registry}
}

// Create handles POST /sessions.
func (h *Handler) Create(c *gin.Context) {
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	hostID := c.MustGet(middleware.ContextUserID).(uuid.UUID)

	settings := models.SessionSettings{
		AudioOnly:       true,
		AllowAnonymous:  true,
		ModerationLevel: models.ModerationMedium,
		AIMonitoring:    req.AIMonitoring,
	}
	if req.AudioOnly != nil {
		settings.AudioOnly = *req.AudioOnly
	}
	if req.AllowAnonymous != nil {
		settings.AllowAnonymous = *req.AllowAnonymous
	}
	switch req.ModerationLevel {
	case "":
	case string(models.ModerationLow), string(models.ModerationMedium), string(models.ModerationHigh):
		settings.ModerationLevel = models.ModerationLevel(req.ModerationLevel)
	default:
		response.BadRequest(c, "invalid moderation_level")
		return
	}

	s, err := h.registry.Create(c.Request.Context(), CreateSpec{
		Topic:           req.Topic,
		HostID:          hostID,
		MaxParticipants: req.MaxParticipants,
		TTL:             time.Duration(req.TTLMinutes) * time.Minute,
		Settings:        settings,
	})
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Created(c, s)
}

// List handles GET /sessions.
func (h *Handler) List(c *gin.Context) {
	response.OK(c, h.registry.List())
}

// GetByID handles GET /sessions/:id.
func (h *Handler) GetByID(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return
	}
	s, err := h.registry.Get(id)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.OK(c, s)
}

// Start handles POST /sessions/:id/start.
func (h *Handler) Start(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return
	}
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)
	role, _ := c.MustGet(middleware.ContextUserRole).(string)
	if err := h.registry.Start(id, userID, role == "admin"); err != nil {
		response.FromError(c, err)
		return
	}
	response.OK(c, gin.H{"session_id": id, "status": models.SessionActive})
}

// End handles POST /sessions/:id/end.
func (h *Handler) End(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return
	}
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)
	role, _ := c.MustGet(middleware.ContextUserRole).(string)
	if err := h.registry.End(c.Request.Context(), id, userID, role == "admin"); err != nil {
		response.FromError(c, err)
		return
	}
	response.OK(c, gin.H{"session_id": id, "status": models.SessionEnded})
}

// Join handles POST /sessions/:id/join for clients joining over REST before
// opening the audio channel.
func (h *Handler) Join(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return
	}
	var req JoinRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)
	role, _ := c.MustGet(middleware.ContextUserRole).(string)
	alias, _ := c.MustGet(middleware.ContextAlias).(string)

	p, err := h.registry.Join(id, JoinSpec{
		ParticipantID: userID,
		Alias:         alias,
		ConnectionID:  req.ConnectionID,
		WantHost:      req.WantHost,
		IsGuest:       role == "guest",
	})
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.OK(c, p)
}

// Leave handles POST /sessions/:id/leave.
func (h *Handler) Leave(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return
	}
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)
	if err := h.registry.Leave(id, userID); err != nil {
		response.FromError(c, err)
		return
	}
	response.NoContent(c)
}

// RoleRequest is the body for POST /sessions/:id/role.
type RoleRequest struct {
	TargetID  string `json:"target_id" binding:"required,uuid"`
	Moderator bool   `json:"moderator"`
}

// SetRole handles POST /sessions/:id/role (host/admin grants or revokes the
// moderator role).
func (h *Handler) SetRole(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return
	}
	var req RoleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	targetID, _ := uuid.Parse(req.TargetID)
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)
	role, _ := c.MustGet(middleware.ContextUserRole).(string)

	if err := h.registry.SetModerator(id, userID, targetID, req.Moderator, role == "admin"); err != nil {
		response.FromError(c, err)
		return
	}
	response.OK(c, gin.H{"session_id": id, "target_id": targetID, "moderator": req.Moderator})
}

// Snapshot handles GET /sessions/:id/snapshot (full state resync).
func (h *Handler) Snapshot(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return
	}
	snap, err := h.registry.GetSnapshot(id)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.OK(c, snap)
}
