package channelstats

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Stats is the audio channel utilization row for one session.
type Stats struct {
	ID               uuid.UUID `json:"id"`
	SessionID        uuid.UUID `json:"session_id"`
	ChannelName      string    `json:"channel_name"`
	PeakParticipants int       `json:"peak_participants"`
	TotalJoins       int       `json:"total_joins"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// Repository handles channel_stats persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a channel stats repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// GetOrCreate returns the stats row for a session, creating it if missing.
func (r *Repository) GetOrCreate(ctx context.Context, sessionID uuid.UUID, channelName string) (*Stats, error) {
	s, err := r.GetBySession(ctx, sessionID)
	if err != nil || s != nil {
		return s, err
	}
	const q = `INSERT INTO channel_stats (id, session_id, channel_name, peak_participants, total_joins, updated_at)
		VALUES (gen_random_uuid(), $1, $2, 0, 0, NOW())
		ON CONFLICT (session_id) DO UPDATE SET updated_at = NOW()
		RETURNING id, session_id, channel_name, peak_participants, total_joins, updated_at`
	var out Stats
	err = r.pool.QueryRow(ctx, q, sessionID, channelName).Scan(
		&out.ID, &out.SessionID, &out.ChannelName, &out.PeakParticipants, &out.TotalJoins, &out.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// GetBySession returns the stats row for a session, or nil when none exists.
func (r *Repository) GetBySession(ctx context.Context, sessionID uuid.UUID) (*Stats, error) {
	const q = `SELECT id, session_id, channel_name, peak_participants, total_joins, updated_at
		FROM channel_stats WHERE session_id = $1`
	var s Stats
	err := r.pool.QueryRow(ctx, q, sessionID).Scan(
		&s.ID, &s.SessionID, &s.ChannelName, &s.PeakParticipants, &s.TotalJoins, &s.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &s, nil
}

// RecordJoin bumps total_joins and raises peak_participants when the current
// occupancy exceeds the stored peak.
func (r *Repository) RecordJoin(ctx context.Context, sessionID uuid.UUID, channelName string, occupancy int) error {
	if _, err := r.GetOrCreate(ctx, sessionID, channelName); err != nil {
		return err
	}
	const q = `UPDATE channel_stats
		SET total_joins = total_joins + 1,
		    peak_participants = GREATEST(peak_participants, $2),
		    updated_at = NOW()
		WHERE session_id = $1`
	_, err := r.pool.Exec(ctx, q, sessionID, occupancy)
	return err
}

// UpdatePeak raises peak_participants (call when occupancy changes without a
// join, e.g. reconnects).
func (r *Repository) UpdatePeak(ctx context.Context, sessionID uuid.UUID, occupancy int) error {
	const q = `UPDATE channel_stats SET peak_participants = $2, updated_at = NOW()
		WHERE session_id = $1 AND $2 > peak_participants`
	_, err := r.pool.Exec(ctx, q, sessionID, occupancy)
	return err
}
