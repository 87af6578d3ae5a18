package channelstats

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/haven-live/backend/pkg/response"
)

// OccupancyFunc reports the number of live connections for a session.
type OccupancyFunc func(sessionID uuid.UUID) int

// Handler handles channel stats endpoints.
type Handler struct {
	repo      *Repository
	occupancy OccupancyFunc
}

// NewHandler creates a channel stats handler.
func NewHandler(repo *Repository, occupancy OccupancyFunc) *Handler {
	return &Handler{repo: repo, occupancy: occupancy}
}

// GetStats handles GET /sessions/:id/stats (moderator/admin). Persisted peak
// and join counters are paired with the live connection count.
func (h *Handler) GetStats(c *gin.Context) {
	sessionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return
	}
	stats, err := h.repo.GetBySession(c.Request.Context(), sessionID)
	if err != nil {
		response.Internal(c, "failed to load channel stats")
		return
	}
	if stats == nil {
		response.NotFound(c, "no stats for session")
		return
	}
	live := 0
	if h.occupancy != nil {
		live = h.occupancy(sessionID)
	}
	response.OK(c, gin.H{"stats": stats, "live_occupancy": live})
}
