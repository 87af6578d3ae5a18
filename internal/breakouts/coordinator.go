package breakouts

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/haven-live/backend/internal/models"
	"github.com/haven-live/backend/internal/sessions"
	"github.com/haven-live/backend/pkg/apperr"
)

// Store persists breakout room rows.
type Store interface {
	InsertRoom(ctx context.Context, b *models.BreakoutRoom) error
	CloseRoom(ctx context.Context, id uuid.UUID, closedAt time.Time) error
	ListByParent(ctx context.Context, parentID uuid.UUID) ([]models.BreakoutRoom, error)
}

// EventPublisher mirrors the session bus.
type EventPublisher interface {
	PublishSession(sessionID uuid.UUID, event string, payload interface{})
}

// Coordinator spawns and closes breakout rooms. Active rooms of one parent
// keep pairwise-disjoint participant sets; the check runs under the parent
// session's lock so concurrent creates cannot overlap.
type Coordinator struct {
	registry *sessions.Registry
	store    Store
	bus      EventPublisher
	logger   *zap.Logger
}

// NewCoordinator creates the breakout coordinator.
func NewCoordinator(registry *sessions.Registry, store Store, bus EventPublisher, logger *zap.Logger) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{registry: registry, store: store, bus: bus, logger: logger}
}

// CreateSpec is the input for Create. IsAdmin lets platform admins open
// rooms without holding a slot in the parent session.
type CreateSpec struct {
	ParentID        uuid.UUID
	FacilitatorID   uuid.UUID
	ParticipantIDs  []uuid.UUID
	MaxParticipants int
	TTL             time.Duration
	IsAdmin         bool
}

// Create spawns a breakout room on an active parent session.
func (c *Coordinator) Create(ctx context.Context, spec CreateSpec) (*models.BreakoutRoom, error) {
	if len(spec.ParticipantIDs) == 0 {
		return nil, apperr.New(apperr.Validation, "breakout room needs at least one participant")
	}
	capacity := spec.MaxParticipants
	if capacity == 0 {
		capacity = len(spec.ParticipantIDs)
	}
	if len(spec.ParticipantIDs) > capacity {
		return nil, apperr.New(apperr.Validation, "participant subset exceeds max_participants")
	}

	id := uuid.New()
	now := time.Now()
	room := &models.BreakoutRoom{
		ID:              id,
		ParentSessionID: spec.ParentID,
		FacilitatorID:   spec.FacilitatorID,
		ParticipantIDs:  append([]uuid.UUID(nil), spec.ParticipantIDs...),
		MaxParticipants: capacity,
		IsActive:        true,
		ChannelName:     ChannelName(id),
		CreatedAt:       now,
	}

	err := c.registry.UpdateBreakouts(spec.ParentID, func(tx *sessions.BreakoutTx) error {
		if tx.SessionStatus() != models.SessionActive {
			return apperr.New(apperr.InvalidState, "parent session is not active")
		}
		if !spec.IsAdmin {
			switch tx.Role(spec.FacilitatorID) {
			case models.RoleHost, models.RoleModerator:
			default:
				return apperr.New(apperr.Forbidden, "only the host or a moderator can open breakout rooms")
			}
		}
		for _, pid := range spec.ParticipantIDs {
			if !tx.HasParticipant(pid) {
				return apperr.New(apperr.NotFound, "participant %s not in parent session", pid)
			}
		}
		assigned := make(map[uuid.UUID]bool)
		for _, sibling := range tx.ActiveRooms() {
			for _, pid := range sibling.ParticipantIDs {
				assigned[pid] = true
			}
		}
		for _, pid := range spec.ParticipantIDs {
			if assigned[pid] {
				return apperr.New(apperr.Conflict, "participant %s is already in an active breakout room", pid)
			}
		}

		// Breakout lifetime never outlives the parent.
		expires := now.Add(spec.TTL)
		if spec.TTL <= 0 || expires.After(tx.SessionExpiresAt()) {
			expires = tx.SessionExpiresAt()
		}
		room.ExpiresAt = expires
		tx.Add(room)
		return nil
	})
	if err != nil {
		return nil, err
	}

	if c.store != nil {
		if err := c.store.InsertRoom(ctx, room); err != nil {
			c.logger.Error("persist breakout room", zap.Error(err), zap.String("breakout_id", id.String()))
		}
	}
	if c.bus != nil {
		c.bus.PublishSession(spec.ParentID, "breakout.created", eventPayload(*room))
	}
	c.logger.Info("breakout room created",
		zap.String("breakout_id", id.String()),
		zap.String("parent_id", spec.ParentID.String()),
		zap.Int("participants", len(room.ParticipantIDs)))
	return room, nil
}

// Close marks a breakout room inactive; its members return to the parent
// room's membership view.
func (c *Coordinator) Close(ctx context.Context, parentID, breakoutID uuid.UUID) (*models.BreakoutRoom, error) {
	var closed models.BreakoutRoom
	err := c.registry.UpdateBreakouts(parentID, func(tx *sessions.BreakoutTx) error {
		room, err := tx.Close(breakoutID)
		if err != nil {
			return err
		}
		closed = room
		return nil
	})
	if err != nil {
		return nil, err
	}

	if c.store != nil && closed.ClosedAt != nil {
		if err := c.store.CloseRoom(ctx, breakoutID, *closed.ClosedAt); err != nil {
			c.logger.Error("persist breakout close", zap.Error(err), zap.String("breakout_id", breakoutID.String()))
		}
	}
	if c.bus != nil {
		c.bus.PublishSession(parentID, "breakout.closed", eventPayload(closed))
	}
	return &closed, nil
}

// ChannelName returns the deterministic audio channel name for a breakout.
func ChannelName(id uuid.UUID) string {
	return "sanctuary-breakout-" + id.String()
}

func eventPayload(b models.BreakoutRoom) map[string]interface{} {
	return map[string]interface{}{
		"breakout_id":  b.ID,
		"parent_id":    b.ParentSessionID,
		"participants": b.ParticipantIDs,
	}
}
