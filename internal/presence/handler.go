package presence

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/haven-live/backend/pkg/response"
)

// Handler handles attendance endpoints.
type Handler struct {
	repo *Repository
}

// NewHandler creates a presence handler.
func NewHandler(repo *Repository) *Handler {
	return &Handler{repo: repo}
}

// GetPresence handles GET /sessions/:id/presence (moderator/admin).
func (h *Handler) GetPresence(c *gin.Context) {
	sessionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return
	}
	list, err := h.repo.ListBySession(c.Request.Context(), sessionID)
	if err != nil {
		response.Internal(c, "failed to list presence")
		return
	}
	agg, err := h.repo.GetAggregates(c.Request.Context(), sessionID)
	if err != nil {
		response.Internal(c, "failed to aggregate presence")
		return
	}
	response.OK(c, gin.H{"entries": list, "aggregates": agg})
}
