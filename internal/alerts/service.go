package alerts

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/haven-live/backend/internal/models"
	"github.com/haven-live/backend/pkg/apperr"
	"github.com/haven-live/backend/pkg/queue"
)

// Store persists alerts. Alerts never auto-expire and outlive their session.
type Store interface {
	InsertAlert(ctx context.Context, a *models.SanctuaryAlert) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.SanctuaryAlert, error)
	MarkResolved(ctx context.Context, id, resolverID uuid.UUID, at time.Time) (bool, error)
	ListOpen(ctx context.Context) ([]models.SanctuaryAlert, error)
}

// EventPublisher fans alert events to session and role channels.
type EventPublisher interface {
	PublishSession(sessionID uuid.UUID, event string, payload interface{})
	PublishRole(role string, event string, payload interface{})
}

// Notifier enqueues out-of-band notification jobs for critical alerts.
type Notifier interface {
	EnqueueAlertNotification(ctx context.Context, payload queue.AlertNotificationPayload) error
}

// Service raises and resolves safety alerts with severity-based routing.
type Service struct {
	store    Store
	bus      EventPublisher
	notifier Notifier
	logger   *zap.Logger
}

// NewService creates the alert service.
func NewService(store Store, bus EventPublisher, notifier Notifier, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: store, bus: bus, notifier: notifier, logger: logger}
}

// RaiseSpec is the input for Raise.
type RaiseSpec struct {
	SessionID     uuid.UUID
	ParticipantID uuid.UUID
	Type          models.AlertType
	Severity      models.AlertSeverity
	Description   string
}

// Raise creates an alert and notifies the session's host and moderators.
// Critical alerts additionally escalate to the platform admin channel and
// the on-call notification queue.
func (s *Service) Raise(ctx context.Context, spec RaiseSpec) (*models.SanctuaryAlert, error) {
	if !validType(spec.Type) {
		return nil, apperr.New(apperr.Validation, "unknown alert type %q", spec.Type)
	}
	if !validSeverity(spec.Severity) {
		return nil, apperr.New(apperr.Validation, "unknown alert severity %q", spec.Severity)
	}

	alert := &models.SanctuaryAlert{
		ID:            uuid.New(),
		SessionID:     spec.SessionID,
		ParticipantID: spec.ParticipantID,
		Type:          spec.Type,
		Severity:      spec.Severity,
		Description:   spec.Description,
		Escalated:     spec.Severity == models.SeverityCritical,
		CreatedAt:     time.Now(),
	}
	if s.store != nil {
		if err := s.store.InsertAlert(ctx, alert); err != nil {
			return nil, apperr.Wrap(apperr.ExternalService, err, "failed to record alert")
		}
	}

	payload := eventPayload(*alert)
	if s.bus != nil {
		s.bus.PublishSession(spec.SessionID, "alert.raised", payload)
		s.bus.PublishRole("moderator", "alert.raised", payload)
		if alert.Escalated {
			s.bus.PublishRole("admin", "alert.raised", payload)
		}
	}
	if alert.Escalated && s.notifier != nil {
		err := s.notifier.EnqueueAlertNotification(ctx, queue.AlertNotificationPayload{
			AlertID:   alert.ID,
			SessionID: alert.SessionID,
			Severity:  string(alert.Severity),
			AlertType: string(alert.Type),
		})
		if err != nil {
			// Escalation already reached the admin channel; the queue is
			// best-effort reinforcement.
			s.logger.Warn("enqueue alert notification", zap.Error(err), zap.String("alert_id", alert.ID.String()))
		}
	}
	s.logger.Info("alert raised",
		zap.String("alert_id", alert.ID.String()),
		zap.String("session_id", alert.SessionID.String()),
		zap.String("severity", string(alert.Severity)))
	return alert, nil
}

// Resolve marks an alert resolved. Resolving an already-resolved alert is a
// no-op: the original resolvedAt and resolvedBy stand.
func (s *Service) Resolve(ctx context.Context, alertID, resolverID uuid.UUID) (*models.SanctuaryAlert, error) {
	if s.store == nil {
		return nil, apperr.New(apperr.NotFound, "alert %s not found", alertID)
	}
	changed, err := s.store.MarkResolved(ctx, alertID, resolverID, time.Now())
	if err != nil {
		return nil, err
	}
	alert, err := s.store.GetByID(ctx, alertID)
	if err != nil {
		return nil, err
	}
	if changed && s.bus != nil {
		payload := eventPayload(*alert)
		s.bus.PublishSession(alert.SessionID, "alert.resolved", payload)
		s.bus.PublishRole("moderator", "alert.resolved", payload)
		if alert.Escalated {
			s.bus.PublishRole("admin", "alert.resolved", payload)
		}
	}
	return alert, nil
}

// ListOpen returns all unresolved alerts.
func (s *Service) ListOpen(ctx context.Context) ([]models.SanctuaryAlert, error) {
	if s.store == nil {
		return nil, nil
	}
	return s.store.ListOpen(ctx)
}

func validType(t models.AlertType) bool {
	switch t {
	case models.AlertCrisis, models.AlertHarassment, models.AlertSelfHarm, models.AlertSpam, models.AlertOther:
		return true
	}
	return false
}

func validSeverity(s models.AlertSeverity) bool {
	switch s {
	case models.SeverityLow, models.SeverityMedium, models.SeverityHigh, models.SeverityCritical:
		return true
	}
	return false
}

func eventPayload(a models.SanctuaryAlert) map[string]interface{} {
	return map[string]interface{}{
		"alert_id":   a.ID,
		"session_id": a.SessionID,
		"severity":   a.Severity,
		"type":       a.Type,
		"resolved":   a.Resolved,
	}
}
