package breakouts

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/haven-live/backend/internal/middleware"
	"github.com/haven-live/backend/pkg/response"
)

// CreateRequest is the body for POST /sessions/:id/breakouts.
type CreateRequest struct {
	ParticipantIDs  []string `json:"participant_ids" binding:"required,min=1"`
	MaxParticipants int      `json:"max_participants"`
	TTLMinutes      int      `json:"ttl_minutes"`
}

// Handler handles breakout HTTP endpoints.
type Handler struct {
	coordinator *Coordinator
}

// NewHandler creates a breakout handler.
func NewHandler(coordinator *Coordinator) *Handler {
	return &Handler{coordinator: coordinator}
}

// Create handles POST /sessions/:id/breakouts.
func (h *Handler) Create(c *gin.Context) {
	parentID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return
	}
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	ids := make([]uuid.UUID, 0, len(req.ParticipantIDs))
	for _, s := range req.ParticipantIDs {
		id, err := uuid.Parse(s)
		if err != nil {
			response.BadRequest(c, "invalid participant id: "+s)
			return
		}
		ids = append(ids, id)
	}
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)
	role, _ := c.MustGet(middleware.ContextUserRole).(string)

	room, err := h.coordinator.Create(c.Request.Context(), CreateSpec{
		ParentID:        parentID,
		FacilitatorID:   userID,
		ParticipantIDs:  ids,
		MaxParticipants: req.MaxParticipants,
		TTL:             time.Duration(req.TTLMinutes) * time.Minute,
		IsAdmin:         role == "admin",
	})
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Created(c, room)
}

// Close handles POST /sessions/:id/breakouts/:breakoutId/close.
func (h *Handler) Close(c *gin.Context) {
	parentID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return
	}
	breakoutID, err := uuid.Parse(c.Param("breakoutId"))
	if err != nil {
		response.BadRequest(c, "invalid breakout id")
		return
	}
	room, err := h.coordinator.Close(c.Request.Context(), parentID, breakoutID)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.OK(c, room)
}

// List handles GET /sessions/:id/breakouts.
func (h *Handler) List(c *gin.Context) {
	parentID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return
	}
	if h.coordinator.store == nil {
		response.OK(c, nil)
		return
	}
	list, err := h.coordinator.store.ListByParent(c.Request.Context(), parentID)
	if err != nil {
		response.Internal(c, "failed to list breakout rooms")
		return
	}
	response.OK(c, list)
}
