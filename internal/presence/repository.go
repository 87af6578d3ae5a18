package presence

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Row is one attendance entry for GET /sessions/:id/presence.
type Row struct {
	ParticipantID   uuid.UUID  `json:"participant_id"`
	Alias           string     `json:"alias"`
	JoinedAt        time.Time  `json:"joined_at"`
	LeftAt          *time.Time `json:"left_at,omitempty"`
	SpeakingSeconds int64      `json:"speaking_seconds"`
}

// Repository handles presence_logs.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a presence repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// LogJoin inserts a row when a participant joins a session.
func (r *Repository) LogJoin(ctx context.Context, sessionID, participantID uuid.UUID, alias string) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO presence_logs (session_id, participant_id, alias, joined_at) VALUES ($1, $2, $3, NOW())`,
		sessionID, participantID, alias)
	return err
}

// LogLeave closes the most recent open row for this participant in this
// session and records accumulated speaking time.
func (r *Repository) LogLeave(ctx context.Context, sessionID, participantID uuid.UUID, speakingSeconds int64) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE presence_logs p SET left_at = NOW(), speaking_seconds = $3
		 FROM (SELECT id FROM presence_logs WHERE session_id = $1 AND participant_id = $2 AND left_at IS NULL ORDER BY joined_at DESC LIMIT 1) AS sub
		 WHERE p.id = sub.id`,
		sessionID, participantID, speakingSeconds)
	return err
}

// CloseOpenForSession closes every dangling row of an ended session. Rows of
// participants who left normally already carry left_at and stay untouched.
func (r *Repository) CloseOpenForSession(ctx context.Context, sessionID uuid.UUID, endedAt time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE presence_logs SET left_at = $2 WHERE session_id = $1 AND left_at IS NULL`,
		sessionID, endedAt)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// ListBySession returns attendance for a session, newest first.
func (r *Repository) ListBySession(ctx context.Context, sessionID uuid.UUID) ([]Row, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT participant_id, alias, joined_at, left_at, speaking_seconds
		 FROM presence_logs WHERE session_id = $1 ORDER BY joined_at DESC`,
		sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []Row
	for rows.Next() {
		var row Row
		if err := rows.Scan(&row.ParticipantID, &row.Alias, &row.JoinedAt, &row.LeftAt, &row.SpeakingSeconds); err != nil {
			return nil, err
		}
		list = append(list, row)
	}
	return list, rows.Err()
}

// Aggregates holds summed speaking time and distinct attendee count.
type Aggregates struct {
	TotalSpeakingSeconds int64 `json:"total_speaking_seconds"`
	DistinctParticipants int   `json:"distinct_participants"`
}

// GetAggregates returns attendance aggregates for a session.
func (r *Repository) GetAggregates(ctx context.Context, sessionID uuid.UUID) (*Aggregates, error) {
	const q = `SELECT COALESCE(SUM(speaking_seconds), 0), COUNT(DISTINCT participant_id)
		FROM presence_logs WHERE session_id = $1 AND left_at IS NOT NULL`
	var agg Aggregates
	if err := r.pool.QueryRow(ctx, q, sessionID).Scan(&agg.TotalSpeakingSeconds, &agg.DistinctParticipants); err != nil {
		return nil, err
	}
	return &agg, nil
}
