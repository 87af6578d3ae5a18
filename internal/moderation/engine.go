package moderation

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/haven-live/backend/internal/models"
	"github.com/haven-live/backend/internal/sessions"
	"github.com/haven-live/backend/pkg/apperr"
)

// AuditStore appends moderation actions. The log is append-only: every
// attempt is recorded with its outcome and rows are never mutated.
type AuditStore interface {
	InsertAction(ctx context.Context, a *models.ModerationAction) error
	ListBySession(ctx context.Context, sessionID uuid.UUID) ([]models.ModerationAction, error)
}

// EventPublisher mirrors the session bus; the engine broadcasts applied
// actions after they commit.
type EventPublisher interface {
	PublishSession(sessionID uuid.UUID, event string, payload interface{})
}

// Engine validates and applies moderation actions against the session
// registry, keeping the audit trail and scheduled timeout reverts.
type Engine struct {
	registry *sessions.Registry
	audit    AuditStore
	bus      EventPublisher
	logger   *zap.Logger

	mu     sync.Mutex
	timers map[timerKey]*time.Timer
}

type timerKey struct {
	sessionID uuid.UUID
	targetID  uuid.UUID
}

// NewEngine creates the moderation engine.
func NewEngine(registry *sessions.Registry, audit AuditStore, bus EventPublisher, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		registry: registry,
		audit:    audit,
		bus:      bus,
		logger:   logger,
		timers:   make(map[timerKey]*time.Timer),
	}
}

// ActionSpec is the input for Apply.
type ActionSpec struct {
	SessionID   uuid.UUID
	ModeratorID uuid.UUID
	TargetID    uuid.UUID
	Action      models.ModerationActionType
	Reason      string
	Duration    time.Duration // required for timeout
	IsAdmin     bool          // platform admin acting from outside the roster
}

// Apply validates permissions under the session's lock, applies the action,
// and appends the audit entry. Rejections are audited too.
func (e *Engine) Apply(ctx context.Context, spec ActionSpec) (*models.ModerationAction, error) {
	entry := &models.ModerationAction{
		ID:                  uuid.New(),
		SessionID:           spec.SessionID,
		ModeratorID:         spec.ModeratorID,
		TargetParticipantID: spec.TargetID,
		Action:              spec.Action,
		Reason:              spec.Reason,
		CreatedAt:           time.Now(),
	}
	if spec.Duration > 0 {
		d := spec.Duration
		entry.Duration = &d
	}

	applyErr := e.registry.UpdateRoster(spec.SessionID, func(tx *sessions.RosterTx) error {
		if tx.SessionStatus() == models.SessionEnded {
			return apperr.New(apperr.InvalidState, "session has ended")
		}
		if !tx.Exists(spec.TargetID) {
			return apperr.New(apperr.NotFound, "target participant not in session")
		}
		if err := checkPermission(tx, spec); err != nil {
			return err
		}
		switch spec.Action {
		case models.ActionMute:
			tx.SetMuted(spec.TargetID, true)
		case models.ActionUnmute:
			tx.SetMuted(spec.TargetID, false)
		case models.ActionTimeout:
			if spec.Duration <= 0 {
				return apperr.New(apperr.Validation, "timeout requires a positive duration")
			}
			tx.SetMuted(spec.TargetID, true)
		case models.ActionBlock:
			tx.Block(spec.TargetID)
		case models.ActionKick:
			tx.Kick(spec.TargetID)
		case models.ActionWarn:
			// audit-only, no roster mutation
		default:
			return apperr.New(apperr.Validation, "unknown action %q", spec.Action)
		}
		return nil
	})

	if applyErr != nil {
		entry.Outcome = models.OutcomeRejected
		e.appendAudit(ctx, entry)
		return nil, applyErr
	}

	entry.Outcome = models.OutcomeApplied
	e.appendAudit(ctx, entry)

	if spec.Action == models.ActionTimeout {
		e.scheduleRevert(spec.SessionID, spec.TargetID, spec.Duration)
	}
	if spec.Action == models.ActionMute || spec.Action == models.ActionUnmute ||
		spec.Action == models.ActionBlock || spec.Action == models.ActionKick {
		// A manual action supersedes any pending timeout revert on the target.
		e.cancelRevert(spec.SessionID, spec.TargetID)
	}

	if e.bus != nil {
		e.bus.PublishSession(spec.SessionID, "moderation.applied", map[string]interface{}{
			"session_id":   spec.SessionID,
			"moderator_id": spec.ModeratorID,
			"target_id":    spec.TargetID,
			"action":       spec.Action,
			"reason":       spec.Reason,
		})
	}
	return entry, nil
}

// checkPermission enforces the matrix: host/admin unrestricted; moderators
// cannot act on the host or other moderators; anyone may mute themselves.
func checkPermission(tx *sessions.RosterTx, spec ActionSpec) error {
	if spec.IsAdmin {
		return nil
	}
	if spec.ModeratorID == spec.TargetID && spec.Action == models.ActionMute {
		return nil
	}
	switch tx.Role(spec.ModeratorID) {
	case models.RoleHost:
		return nil
	case models.RoleModerator:
		targetRole := tx.Role(spec.TargetID)
		if targetRole == models.RoleHost || targetRole == models.RoleModerator {
			return apperr.New(apperr.Forbidden, "moderators cannot act on the host or other moderators")
		}
		return nil
	default:
		return apperr.New(apperr.Forbidden, "insufficient moderation authority")
	}
}

// scheduleRevert arms the automatic unmute at timestamp + duration. A newer
// timeout on the same target replaces the pending one (last write wins).
func (e *Engine) scheduleRevert(sessionID, targetID uuid.UUID, d time.Duration) {
	key := timerKey{sessionID: sessionID, targetID: targetID}
	e.mu.Lock()
	if t, ok := e.timers[key]; ok {
		t.Stop()
	}
	e.timers[key] = time.AfterFunc(d, func() {
		e.revertTimeout(sessionID, targetID)
	})
	e.mu.Unlock()
}

func (e *Engine) cancelRevert(sessionID, targetID uuid.UUID) {
	key := timerKey{sessionID: sessionID, targetID: targetID}
	e.mu.Lock()
	if t, ok := e.timers[key]; ok {
		t.Stop()
		delete(e.timers, key)
	}
	e.mu.Unlock()
}

// revertTimeout unmutes the target when a timeout lapses, with an automated
// audit entry. No second explicit call is needed.
func (e *Engine) revertTimeout(sessionID, targetID uuid.UUID) {
	e.mu.Lock()
	delete(e.timers, timerKey{sessionID: sessionID, targetID: targetID})
	e.mu.Unlock()

	err := e.registry.UpdateRoster(sessionID, func(tx *sessions.RosterTx) error {
		if tx.SessionStatus() == models.SessionEnded || !tx.Exists(targetID) {
			return apperr.New(apperr.InvalidState, "target no longer present")
		}
		tx.SetMuted(targetID, false)
		return nil
	})
	if err != nil {
		return
	}

	entry := &models.ModerationAction{
		ID:                  uuid.New(),
		SessionID:           sessionID,
		ModeratorID:         targetID,
		TargetParticipantID: targetID,
		Action:              models.ActionUnmute,
		Reason:              "timeout elapsed",
		Outcome:             models.OutcomeExpired,
		Automated:           true,
		CreatedAt:           time.Now(),
	}
	e.appendAudit(context.Background(), entry)

	if e.bus != nil {
		e.bus.PublishSession(sessionID, "moderation.applied", map[string]interface{}{
			"session_id":   sessionID,
			"moderator_id": targetID,
			"target_id":    targetID,
			"action":       models.ActionUnmute,
			"reason":       "timeout elapsed",
		})
	}
}

// Audit returns the session's moderation trail.
func (e *Engine) Audit(ctx context.Context, sessionID uuid.UUID) ([]models.ModerationAction, error) {
	if e.audit == nil {
		return nil, nil
	}
	return e.audit.ListBySession(ctx, sessionID)
}

func (e *Engine) appendAudit(ctx context.Context, entry *models.ModerationAction) {
	if e.audit == nil {
		return
	}
	if err := e.audit.InsertAction(ctx, entry); err != nil {
		e.logger.Error("append moderation audit", zap.Error(err),
			zap.String("session_id", entry.SessionID.String()))
	}
}
