package sessions

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/haven-live/backend/internal/models"
)

// Repository persists session rows. The in-memory registry stays
// authoritative for live state; rows back the sweep and post-hoc reads.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a session repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// InsertSession inserts a new session row.
func (r *Repository) InsertSession(ctx context.Context, s *models.LiveSession) error {
	const q = `INSERT INTO live_sessions (id, topic, host_id, status, max_participants, audio_only, allow_anonymous, moderation_level, ai_monitoring, channel_name, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`
	_, err := r.pool.Exec(ctx, q, s.ID, s.Topic, s.HostID, string(s.Status), s.MaxParticipants,
		s.Settings.AudioOnly, s.Settings.AllowAnonymous, string(s.Settings.ModerationLevel), s.Settings.AIMonitoring,
		s.ChannelName, s.CreatedAt, s.ExpiresAt)
	return err
}

// UpdateSessionStatus updates a session's lifecycle state.
func (r *Repository) UpdateSessionStatus(ctx context.Context, id uuid.UUID, status models.SessionStatus, endedAt *time.Time) error {
	const q = `UPDATE live_sessions SET status = $1, ended_at = $2 WHERE id = $3`
	_, err := r.pool.Exec(ctx, q, string(status), endedAt, id)
	return err
}

// GetByID returns a persisted session row.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.LiveSession, error) {
	const q = `SELECT id, topic, host_id, status, max_participants, audio_only, allow_anonymous, moderation_level, ai_monitoring, channel_name, created_at, expires_at, ended_at
		FROM live_sessions WHERE id = $1`
	var s models.LiveSession
	var status, level string
	err := r.pool.QueryRow(ctx, q, id).Scan(&s.ID, &s.Topic, &s.HostID, &status, &s.MaxParticipants,
		&s.Settings.AudioOnly, &s.Settings.AllowAnonymous, &level, &s.Settings.AIMonitoring,
		&s.ChannelName, &s.CreatedAt, &s.ExpiresAt, &s.EndedAt)
	if err != nil {
		return nil, err
	}
	s.Status = models.SessionStatus(status)
	s.Settings.ModerationLevel = models.ModerationLevel(level)
	return &s, nil
}

// ListByStatus returns persisted sessions in the given state, oldest expiry
// first. Backs the sweep's indexed lookup.
func (r *Repository) ListByStatus(ctx context.Context, status models.SessionStatus) ([]models.LiveSession, error) {
	const q = `SELECT id, topic, host_id, status, max_participants, audio_only, allow_anonymous, moderation_level, ai_monitoring, channel_name, created_at, expires_at, ended_at
		FROM live_sessions WHERE status = $1 ORDER BY expires_at`
	rows, err := r.pool.Query(ctx, q, string(status))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.LiveSession
	for rows.Next() {
		var s models.LiveSession
		var st, level string
		if err := rows.Scan(&s.ID, &s.Topic, &s.HostID, &st, &s.MaxParticipants,
			&s.Settings.AudioOnly, &s.Settings.AllowAnonymous, &level, &s.Settings.AIMonitoring,
			&s.ChannelName, &s.CreatedAt, &s.ExpiresAt, &s.EndedAt); err != nil {
			return nil, err
		}
		s.Status = models.SessionStatus(st)
		s.Settings.ModerationLevel = models.ModerationLevel(level)
		list = append(list, s)
	}
	return list, rows.Err()
}

// DeleteEndedBefore removes ended session rows whose ended_at is older than
// the cutoff. Logical session data (audit, alerts) lives in its own tables
// and is untouched.
func (r *Repository) DeleteEndedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	const q = `DELETE FROM live_sessions WHERE status = 'ended' AND ended_at IS NOT NULL AND ended_at < $1`
	tag, err := r.pool.Exec(ctx, q, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
