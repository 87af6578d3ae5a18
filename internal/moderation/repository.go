package moderation

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/haven-live/backend/internal/models"
)

// Repository persists the append-only moderation audit log.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a moderation repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// InsertAction appends one audit row. Rows are never updated or deleted.
func (r *Repository) InsertAction(ctx context.Context, a *models.ModerationAction) error {
	const q = `INSERT INTO moderation_actions (id, session_id, moderator_id, target_participant_id, action, reason, duration_seconds, outcome, automated, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`
	var durationSec *int64
	if a.Duration != nil {
		sec := int64(*a.Duration / time.Second)
		durationSec = &sec
	}
	_, err := r.pool.Exec(ctx, q, a.ID, a.SessionID, a.ModeratorID, a.TargetParticipantID,
		string(a.Action), a.Reason, durationSec, string(a.Outcome), a.Automated, a.CreatedAt)
	return err
}

// ListBySession returns a session's audit trail in commit order.
func (r *Repository) ListBySession(ctx context.Context, sessionID uuid.UUID) ([]models.ModerationAction, error) {
	const q = `SELECT id, session_id, moderator_id, target_participant_id, action, reason, duration_seconds, outcome, automated, created_at
		FROM moderation_actions WHERE session_id = $1 ORDER BY created_at`
	rows, err := r.pool.Query(ctx, q, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.ModerationAction
	for rows.Next() {
		var a models.ModerationAction
		var action, outcome string
		var durationSec *int64
		if err := rows.Scan(&a.ID, &a.SessionID, &a.ModeratorID, &a.TargetParticipantID,
			&action, &a.Reason, &durationSec, &outcome, &a.Automated, &a.CreatedAt); err != nil {
			return nil, err
		}
		a.Action = models.ModerationActionType(action)
		a.Outcome = models.ModerationOutcome(outcome)
		if durationSec != nil {
			d := time.Duration(*durationSec) * time.Second
			a.Duration = &d
		}
		list = append(list, a)
	}
	return list, rows.Err()
}
