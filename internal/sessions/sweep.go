package sessions

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/haven-live/backend/internal/models"
)

// Sweep periodically reclaims expired and idle sessions and drops ended
// sessions past the retention grace. Synchronous checks catch most expiries;
// the sweep bounds worst-case staleness when nobody touches a session.
func (r *Registry) Sweep(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.sweepOnce(ctx)
		}
	}
}

func (r *Registry) sweepOnce(ctx context.Context) {
	now := time.Now()

	r.mu.RLock()
	ids := make([]uuid.UUID, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	var expired, retired int
	for _, id := range ids {
		s, err := r.lookup(id)
		if err != nil {
			continue
		}
		s.mu.Lock()
		switch {
		case s.state.Status != models.SessionEnded && now.After(s.state.ExpiresAt):
			s.mu.Unlock()
			r.endSystem(id, "expired")
			expired++
		case s.state.Status == models.SessionEnded && s.state.EndedAt != nil &&
			now.Sub(*s.state.EndedAt) > r.cfg.RetentionGrace:
			s.mu.Unlock()
			r.remove(id)
			retired++
		default:
			s.mu.Unlock()
		}
	}

	if r.store != nil {
		if _, err := r.store.DeleteEndedBefore(ctx, now.Add(-r.cfg.RetentionGrace)); err != nil {
			r.logger.Warn("sweep storage cleanup", zap.Error(err))
		}
	}
	if expired > 0 || retired > 0 {
		r.logger.Info("sweep completed", zap.Int("expired", expired), zap.Int("retired", retired))
	}
}
