package models

import (
	"time"

	"github.com/google/uuid"
)

// BreakoutRoom is a facilitated sub-room of an active session. Active
// breakout rooms of the same parent never share participants.
type BreakoutRoom struct {
	ID              uuid.UUID   `json:"id"`
	ParentSessionID uuid.UUID   `json:"parent_session_id"`
	FacilitatorID   uuid.UUID   `json:"facilitator_id"`
	ParticipantIDs  []uuid.UUID `json:"participant_ids"`
	MaxParticipants int         `json:"max_participants"`
	IsActive        bool        `json:"is_active"`
	ChannelName     string      `json:"channel_name"`
	CreatedAt       time.Time   `json:"created_at"`
	ExpiresAt       time.Time   `json:"expires_at"`
	ClosedAt        *time.Time  `json:"closed_at,omitempty"`
}
