package models

import (
	"time"

	"github.com/google/uuid"
)

// ModerationActionType is the kind of moderation action.
type ModerationActionType string

const (
	ActionMute    ModerationActionType = "mute"
	ActionUnmute  ModerationActionType = "unmute"
	ActionBlock   ModerationActionType = "block"
	ActionTimeout ModerationActionType = "timeout"
	ActionKick    ModerationActionType = "kick"
	ActionWarn    ModerationActionType = "warn"
)

// ModerationOutcome records whether an attempted action was applied.
type ModerationOutcome string

const (
	OutcomeApplied  ModerationOutcome = "applied"
	OutcomeRejected ModerationOutcome = "rejected"
	OutcomeExpired  ModerationOutcome = "expired"
)

// ModerationAction is one append-only audit entry. Rejected attempts are
// recorded too; rows are never mutated after insert.
type ModerationAction struct {
	ID                  uuid.UUID            `json:"id"`
	SessionID           uuid.UUID            `json:"session_id"`
	ModeratorID         uuid.UUID            `json:"moderator_id"`
	TargetParticipantID uuid.UUID            `json:"target_participant_id"`
	Action              ModerationActionType `json:"action"`
	Reason              string               `json:"reason"`
	Duration            *time.Duration       `json:"duration,omitempty"`
	Outcome             ModerationOutcome    `json:"outcome"`
	Automated           bool                 `json:"automated"`
	CreatedAt           time.Time            `json:"created_at"`
}
