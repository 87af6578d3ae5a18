package alerts

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/haven-live/backend/internal/models"
	"github.com/haven-live/backend/pkg/apperr"
)

// Repository persists sanctuary alerts.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates an alert repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// InsertAlert inserts an alert row.
func (r *Repository) InsertAlert(ctx context.Context, a *models.SanctuaryAlert) error {
	const q = `INSERT INTO sanctuary_alerts (id, session_id, participant_id, alert_type, severity, description, escalated, resolved, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, FALSE, $8)`
	_, err := r.pool.Exec(ctx, q, a.ID, a.SessionID, a.ParticipantID, string(a.Type), string(a.Severity),
		a.Description, a.Escalated, a.CreatedAt)
	return err
}

// GetByID returns an alert by id.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.SanctuaryAlert, error) {
	const q = `SELECT id, session_id, participant_id, alert_type, severity, description, escalated, resolved, resolved_by, resolved_at, created_at
		FROM sanctuary_alerts WHERE id = $1`
	var a models.SanctuaryAlert
	var typ, sev string
	err := r.pool.QueryRow(ctx, q, id).Scan(&a.ID, &a.SessionID, &a.ParticipantID, &typ, &sev,
		&a.Description, &a.Escalated, &a.Resolved, &a.ResolvedBy, &a.ResolvedAt, &a.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.New(apperr.NotFound, "alert %s not found", id)
	}
	if err != nil {
		return nil, err
	}
	a.Type = models.AlertType(typ)
	a.Severity = models.AlertSeverity(sev)
	return &a, nil
}

// MarkResolved resolves an alert once. The WHERE NOT resolved guard makes a
// second resolve a no-op that leaves the original resolved_at untouched;
// the bool reports whether this call did the resolving.
func (r *Repository) MarkResolved(ctx context.Context, id, resolverID uuid.UUID, at time.Time) (bool, error) {
	const q = `UPDATE sanctuary_alerts SET resolved = TRUE, resolved_by = $1, resolved_at = $2
		WHERE id = $3 AND NOT resolved`
	tag, err := r.pool.Exec(ctx, q, resolverID, at, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// ListOpen returns all unresolved alerts, oldest first.
func (r *Repository) ListOpen(ctx context.Context) ([]models.SanctuaryAlert, error) {
	const q = `SELECT id, session_id, participant_id, alert_type, severity, description, escalated, resolved, resolved_by, resolved_at, created_at
		FROM sanctuary_alerts WHERE NOT resolved ORDER BY created_at`
	rows, err := r.pool.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.SanctuaryAlert
	for rows.Next() {
		var a models.SanctuaryAlert
		var typ, sev string
		if err := rows.Scan(&a.ID, &a.SessionID, &a.ParticipantID, &typ, &sev,
			&a.Description, &a.Escalated, &a.Resolved, &a.ResolvedBy, &a.ResolvedAt, &a.CreatedAt); err != nil {
			return nil, err
		}
		a.Type = models.AlertType(typ)
		a.Severity = models.AlertSeverity(sev)
		list = append(list, a)
	}
	return list, rows.Err()
}
