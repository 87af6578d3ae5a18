package models

import (
	"time"

	"github.com/google/uuid"
)

// AlertType categorizes a safety alert.
type AlertType string

const (
	AlertCrisis     AlertType = "crisis"
	AlertHarassment AlertType = "harassment"
	AlertSelfHarm   AlertType = "self_harm"
	AlertSpam       AlertType = "spam"
	AlertOther      AlertType = "other"
)

// AlertSeverity ranks how urgently an alert needs attention.
type AlertSeverity string

const (
	SeverityLow      AlertSeverity = "low"
	SeverityMedium   AlertSeverity = "medium"
	SeverityHigh     AlertSeverity = "high"
	SeverityCritical AlertSeverity = "critical"
)

// SanctuaryAlert is a flagged safety event. Alerts never auto-expire and
// outlive the session they were raised in.
type SanctuaryAlert struct {
	ID            uuid.UUID     `json:"id"`
	SessionID     uuid.UUID     `json:"session_id"`
	ParticipantID uuid.UUID     `json:"participant_id"`
	Type          AlertType     `json:"type"`
	Severity      AlertSeverity `json:"severity"`
	Description   string        `json:"description,omitempty"`
	Escalated     bool          `json:"escalated"`
	Resolved      bool          `json:"resolved"`
	ResolvedBy    *uuid.UUID    `json:"resolved_by,omitempty"`
	ResolvedAt    *time.Time    `json:"resolved_at,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
}
