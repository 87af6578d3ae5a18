package breakouts

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/haven-live/backend/internal/models"
)

// Repository persists breakout room rows.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a breakout repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// InsertRoom inserts a breakout room row.
func (r *Repository) InsertRoom(ctx context.Context, b *models.BreakoutRoom) error {
	const q = `INSERT INTO breakout_rooms (id, parent_session_id, facilitator_id, participant_ids, max_participants, is_active, channel_name, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	_, err := r.pool.Exec(ctx, q, b.ID, b.ParentSessionID, b.FacilitatorID, b.ParticipantIDs,
		b.MaxParticipants, b.IsActive, b.ChannelName, b.CreatedAt, b.ExpiresAt)
	return err
}

// CloseRoom marks a breakout room inactive.
func (r *Repository) CloseRoom(ctx context.Context, id uuid.UUID, closedAt time.Time) error {
	const q = `UPDATE breakout_rooms SET is_active = FALSE, closed_at = $1 WHERE id = $2`
	_, err := r.pool.Exec(ctx, q, closedAt, id)
	return err
}

// ListByParent returns all breakout rooms of a parent session.
func (r *Repository) ListByParent(ctx context.Context, parentID uuid.UUID) ([]models.BreakoutRoom, error) {
	const q = `SELECT id, parent_session_id, facilitator_id, participant_ids, max_participants, is_active, channel_name, created_at, expires_at, closed_at
		FROM breakout_rooms WHERE parent_session_id = $1 ORDER BY created_at`
	rows, err := r.pool.Query(ctx, q, parentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.BreakoutRoom
	for rows.Next() {
		var b models.BreakoutRoom
		if err := rows.Scan(&b.ID, &b.ParentSessionID, &b.FacilitatorID, &b.ParticipantIDs,
			&b.MaxParticipants, &b.IsActive, &b.ChannelName, &b.CreatedAt, &b.ExpiresAt, &b.ClosedAt); err != nil {
			return nil, err
		}
		list = append(list, b)
	}
	return list, rows.Err()
}
