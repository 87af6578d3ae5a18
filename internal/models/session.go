package models

import (
	"time"

	"github.com/google/uuid"
)

// SessionStatus is the lifecycle state of a live session.
type SessionStatus string

const (
	SessionWaiting SessionStatus = "waiting"
	SessionActive  SessionStatus = "active"
	SessionEnded   SessionStatus = "ended"
)

// ModerationLevel controls how aggressively a session is moderated.
type ModerationLevel string

const (
	ModerationLow    ModerationLevel = "low"
	ModerationMedium ModerationLevel = "medium"
	ModerationHigh   ModerationLevel = "high"
)

// SessionSettings are host-chosen options for a live session.
type SessionSettings struct {
	AudioOnly       bool            `json:"audio_only"`
	AllowAnonymous  bool            `json:"allow_anonymous"`
	ModerationLevel ModerationLevel `json:"moderation_level"`
	AIMonitoring    bool            `json:"ai_monitoring"`
}

// LiveSession represents an ephemeral live audio room (a "sanctuary").
// The session exclusively owns its participant roster and breakout rooms;
// both live in the in-memory registry and are snapshotted to storage.
type LiveSession struct {
	ID              uuid.UUID       `json:"id"`
	Topic           string          `json:"topic"`
	HostID          uuid.UUID       `json:"host_id"`
	Status          SessionStatus   `json:"status"`
	MaxParticipants int             `json:"max_participants"`
	Settings        SessionSettings `json:"settings"`
	ChannelName     string          `json:"channel_name"`
	CreatedAt       time.Time       `json:"created_at"`
	ExpiresAt       time.Time       `json:"expires_at"`
	EndedAt         *time.Time      `json:"ended_at,omitempty"`
}
