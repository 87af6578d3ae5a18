package rtctoken

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/haven-live/backend/internal/middleware"
	"github.com/haven-live/backend/internal/models"
	"github.com/haven-live/backend/internal/sessions"
	"github.com/haven-live/backend/pkg/apperr"
	"github.com/haven-live/backend/pkg/response"
)

// Handler handles audio token endpoints.
type Handler struct {
	issuer   *Issuer
	registry *sessions.Registry
	logger   *zap.Logger
}

// NewHandler creates a token handler.
func NewHandler(issuer *Issuer, registry *sessions.Registry, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{issuer: issuer, registry: registry, logger: logger}
}

// GetToken handles GET /sessions/:id/token. The caller must be a present
// participant; muted participants without a moderation role only get a
// listener token regardless of what they ask for.
func (h *Handler) GetToken(c *gin.Context) {
	sessionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return
	}
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)

	snap, err := h.registry.GetSnapshot(sessionID)
	if err != nil {
		response.FromError(c, err)
		return
	}
	if snap.Session.Status == models.SessionEnded {
		response.FromError(c, apperr.New(apperr.InvalidState, "session has ended"))
		return
	}
	var me *models.Participant
	for idx := range snap.Participants {
		if snap.Participants[idx].ID == userID {
			me = &snap.Participants[idx]
			break
		}
	}
	if me == nil {
		response.FromError(c, apperr.New(apperr.Forbidden, "join the session before requesting a token"))
		return
	}

	speaker := me.Role == models.RoleHost || me.Role == models.RoleModerator || !me.IsMuted

	ttl := h.issuer.cfg.MaxTokenTTL
	if remaining := time.Until(snap.Session.ExpiresAt); remaining > 0 && remaining < ttl {
		ttl = remaining
	}

	grant, err := h.issuer.Issue(snap.Session.ChannelName, userID.String(), speaker, ttl)
	if err != nil {
		h.logger.Error("issue audio token", zap.Error(err), zap.String("session_id", sessionID.String()))
		response.FromError(c, err)
		return
	}
	response.OK(c, grant)
}

// GetBreakoutToken handles GET /sessions/:id/breakouts/:breakoutId/token.
// Each breakout room carries its own channel, so members need a credential
// scoped to that channel; TTL never outlives the room.
func (h *Handler) GetBreakoutToken(c *gin.Context) {
	sessionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return
	}
	breakoutID, err := uuid.Parse(c.Param("breakoutId"))
	if err != nil {
		response.BadRequest(c, "invalid breakout id")
		return
	}
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)

	snap, err := h.registry.GetSnapshot(sessionID)
	if err != nil {
		response.FromError(c, err)
		return
	}
	if snap.Session.Status == models.SessionEnded {
		response.FromError(c, apperr.New(apperr.InvalidState, "session has ended"))
		return
	}
	var room *models.BreakoutRoom
	for idx := range snap.Breakouts {
		if snap.Breakouts[idx].ID == breakoutID {
			room = &snap.Breakouts[idx]
			break
		}
	}
	// The snapshot carries active rooms only, so a closed room reads as
	// not found here.
	if room == nil {
		response.FromError(c, apperr.New(apperr.NotFound, "breakout room %s not found", breakoutID))
		return
	}
	member := room.FacilitatorID == userID
	for _, pid := range room.ParticipantIDs {
		if pid == userID {
			member = true
			break
		}
	}
	if !member {
		response.FromError(c, apperr.New(apperr.Forbidden, "not assigned to this breakout room"))
		return
	}
	var me *models.Participant
	for idx := range snap.Participants {
		if snap.Participants[idx].ID == userID {
			me = &snap.Participants[idx]
			break
		}
	}
	if me == nil {
		response.FromError(c, apperr.New(apperr.Forbidden, "join the session before requesting a token"))
		return
	}

	speaker := room.FacilitatorID == userID ||
		me.Role == models.RoleHost || me.Role == models.RoleModerator || !me.IsMuted

	ttl := h.issuer.cfg.MaxTokenTTL
	if remaining := time.Until(room.ExpiresAt); remaining > 0 && remaining < ttl {
		ttl = remaining
	}

	grant, err := h.issuer.Issue(room.ChannelName, userID.String(), speaker, ttl)
	if err != nil {
		h.logger.Error("issue breakout audio token", zap.Error(err),
			zap.String("session_id", sessionID.String()), zap.String("breakout_id", breakoutID.String()))
		response.FromError(c, err)
		return
	}
	response.OK(c, grant)
}
