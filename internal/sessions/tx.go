package sessions

import (
	"time"

	"github.com/google/uuid"

	"github.com/haven-live/backend/internal/models"
	"github.com/haven-live/backend/pkg/apperr"
)

// RosterTx is a serialized view of one session's roster handed to the
// moderation engine. All reads and writes inside one UpdateRoster call are
// atomic with respect to every other mutation of that session.
type RosterTx struct {
	s *session
}

// SessionStatus returns the session's lifecycle state.
func (tx *RosterTx) SessionStatus() models.SessionStatus { return tx.s.state.Status }

// Role returns a participant's role, or empty if absent.
func (tx *RosterTx) Role(id uuid.UUID) models.Role {
	if p, ok := tx.s.roster[id]; ok {
		return p.Role
	}
	return ""
}

// Exists reports whether a participant holds a slot (connected or within the
// reconnect grace).
func (tx *RosterTx) Exists(id uuid.UUID) bool {
	p, ok := tx.s.roster[id]
	return ok && p.ConnectionStatus != models.Disconnected
}

// IsMuted returns the participant's live mute flag.
func (tx *RosterTx) IsMuted(id uuid.UUID) bool {
	if p, ok := tx.s.roster[id]; ok {
		return p.IsMuted
	}
	return false
}

// SetMuted applies the live mute flag. Conflicting concurrent actions
// resolve last-write-wins here while every audit entry is retained.
func (tx *RosterTx) SetMuted(id uuid.UUID, muted bool) {
	if p, ok := tx.s.roster[id]; ok {
		p.IsMuted = muted
	}
}

// Block puts the identity on the session's persistent block list and evicts
// it. The identity can never re-enter connected state for this session.
func (tx *RosterTx) Block(id uuid.UUID) {
	tx.s.blocked[id] = true
	if p, ok := tx.s.roster[id]; ok {
		p.IsBlocked = true
		tx.s.finalizeDepartureLocked(p)
	}
}

// Kick evicts a participant without blocking the identity.
func (tx *RosterTx) Kick(id uuid.UUID) {
	if p, ok := tx.s.roster[id]; ok {
		tx.s.finalizeDepartureLocked(p)
	}
}

// UpdateRoster runs fn under the session's lock. Broadcasting is the
// caller's job after the update commits. An update that evicts the last
// host (an admin kick or block) starts the hostless end window.
func (r *Registry) UpdateRoster(id uuid.UUID, fn func(tx *RosterTx) error) error {
	s, err := r.lookup(id)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := fn(&RosterTx{s: s}); err != nil {
		return err
	}
	s.armIdleIfHostlessLocked(r, id)
	return nil
}

// BreakoutTx is a serialized view of one session's breakout rooms handed to
// the breakout coordinator.
type BreakoutTx struct {
	s *session
}

// SessionStatus returns the parent session's lifecycle state.
func (tx *BreakoutTx) SessionStatus() models.SessionStatus { return tx.s.state.Status }

// SessionExpiresAt returns the parent session's expiry.
func (tx *BreakoutTx) SessionExpiresAt() time.Time { return tx.s.state.ExpiresAt }

// HasParticipant reports whether the identity currently holds a slot in the
// parent session.
func (tx *BreakoutTx) HasParticipant(id uuid.UUID) bool {
	p, ok := tx.s.roster[id]
	return ok && p.ConnectionStatus != models.Disconnected
}

// Role returns a present participant's role in the parent session, or empty
// if the identity holds no slot.
func (tx *BreakoutTx) Role(id uuid.UUID) models.Role {
	p, ok := tx.s.roster[id]
	if !ok || p.ConnectionStatus == models.Disconnected {
		return ""
	}
	return p.Role
}

// ActiveRooms returns copies of the parent's active breakout rooms.
func (tx *BreakoutTx) ActiveRooms() []models.BreakoutRoom {
	var out []models.BreakoutRoom
	for _, room := range tx.s.breakouts {
		if room.IsActive {
			out = append(out, *room)
		}
	}
	return out
}

// Add registers a new breakout room on the parent.
func (tx *BreakoutTx) Add(room *models.BreakoutRoom) {
	cp := *room
	tx.s.breakouts[room.ID] = &cp
}

// Close marks a breakout room inactive and returns its final state.
func (tx *BreakoutTx) Close(breakoutID uuid.UUID) (models.BreakoutRoom, error) {
	room, ok := tx.s.breakouts[breakoutID]
	if !ok {
		return models.BreakoutRoom{}, apperr.New(apperr.NotFound, "breakout room %s not found", breakoutID)
	}
	if !room.IsActive {
		return models.BreakoutRoom{}, apperr.New(apperr.InvalidState, "breakout room already closed")
	}
	now := time.Now()
	room.IsActive = false
	room.ClosedAt = &now
	return *room, nil
}

// UpdateBreakouts runs fn under the session's lock, keeping breakout
// mutations serialized with everything else touching the session.
func (r *Registry) UpdateBreakouts(id uuid.UUID, fn func(tx *BreakoutTx) error) error {
	s, err := r.lookup(id)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(&BreakoutTx{s: s})
}
