package models

import (
	"time"

	"github.com/google/uuid"
)

// Role is a participant's authority within a session.
type Role string

const (
	RoleHost        Role = "host"
	RoleModerator   Role = "moderator"
	RoleParticipant Role = "participant"
)

// ConnectionStatus tracks a participant's live connection.
type ConnectionStatus string

const (
	Connected    ConnectionStatus = "connected"
	Disconnected ConnectionStatus = "disconnected"
	Reconnecting ConnectionStatus = "reconnecting"
)

// Participant is one member of a session's roster. The SessionID is a weak
// back-reference; the session aggregate owns the roster.
type Participant struct {
	ID               uuid.UUID        `json:"id"`
	SessionID        uuid.UUID        `json:"session_id"`
	Alias            string           `json:"alias"`
	Role             Role             `json:"role"`
	ConnectionStatus ConnectionStatus `json:"connection_status"`
	IsMuted          bool             `json:"is_muted"`
	IsBlocked        bool             `json:"is_blocked"`
	HandRaised       bool             `json:"hand_raised"`
	JoinedAt         time.Time        `json:"joined_at"`
	AudioLevel       int              `json:"audio_level"`
	SpeakingSeconds  int64            `json:"speaking_seconds"`
}
