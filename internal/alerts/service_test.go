package alerts

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/haven-live/backend/internal/models"
	"github.com/haven-live/backend/pkg/apperr"
	"github.com/haven-live/backend/pkg/queue"
)

type fakeStore struct {
	mu     sync.Mutex
	alerts map[uuid.UUID]*models.SanctuaryAlert
}

func newFakeStore() *fakeStore {
	return &fakeStore{alerts: make(map[uuid.UUID]*models.SanctuaryAlert)}
}

func (s *fakeStore) InsertAlert(_ context.Context, a *models.SanctuaryAlert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *a
	s.alerts[a.ID] = &cp
	return nil
}

func (s *fakeStore) GetByID(_ context.Context, id uuid.UUID) (*models.SanctuaryAlert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.alerts[id]
	if !ok {
		return nil, apperr.New(apperr.NotFound, "alert %s not found", id)
	}
	cp := *a
	return &cp, nil
}

func (s *fakeStore) MarkResolved(_ context.Context, id, resolverID uuid.UUID, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.alerts[id]
	if !ok || a.Resolved {
		return false, nil
	}
	a.Resolved = true
	a.ResolvedBy = &resolverID
	a.ResolvedAt = &at
	return true, nil
}

func (s *fakeStore) ListOpen(_ context.Context) ([]models.SanctuaryAlert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.SanctuaryAlert
	for _, a := range s.alerts {
		if !a.Resolved {
			out = append(out, *a)
		}
	}
	return out, nil
}

type fakeBus struct {
	mu     sync.Mutex
	events []string // "channel/event"
}

func (b *fakeBus) PublishSession(id uuid.UUID, event string, _ interface{}) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, "session/"+event)
}

func (b *fakeBus) PublishRole(role string, event string, _ interface{}) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, role+"/"+event)
}

func (b *fakeBus) count(key string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, e := range b.events {
		if e == key {
			n++
		}
	}
	return n
}

type fakeNotifier struct {
	mu       sync.Mutex
	payloads []queue.AlertNotificationPayload
}

func (n *fakeNotifier) EnqueueAlertNotification(_ context.Context, p queue.AlertNotificationPayload) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.payloads = append(n.payloads, p)
	return nil
}

func TestRaiseNotifiesModerators(t *testing.T) {
	req := require.New(t)
	store := newFakeStore()
	bus := &fakeBus{}
	notifier := &fakeNotifier{}
	svc := NewService(store, bus, notifier, nil)

	alert, err := svc.Raise(context.Background(), RaiseSpec{
		SessionID:     uuid.New(),
		ParticipantID: uuid.New(),
		Type:          models.AlertHarassment,
		Severity:      models.SeverityHigh,
		Description:   "repeated targeting",
	})
	req.NoError(err)
	req.False(alert.Escalated)
	req.Equal(1, bus.count("session/alert.raised"))
	req.Equal(1, bus.count("moderator/alert.raised"))
	req.Equal(0, bus.count("admin/alert.raised"))
	req.Empty(notifier.payloads)
}

func TestRaiseCriticalEscalates(t *testing.T) {
	req := require.New(t)
	store := newFakeStore()
	bus := &fakeBus{}
	notifier := &fakeNotifier{}
	svc := NewService(store, bus, notifier, nil)

	alert, err := svc.Raise(context.Background(), RaiseSpec{
		SessionID:     uuid.New(),
		ParticipantID: uuid.New(),
		Type:          models.AlertCrisis,
		Severity:      models.SeverityCritical,
	})
	req.NoError(err)
	req.True(alert.Escalated)
	req.Equal(1, bus.count("admin/alert.raised"))
	req.Len(notifier.payloads, 1)
	req.Equal(alert.ID, notifier.payloads[0].AlertID)
}

func TestRaiseValidation(t *testing.T) {
	req := require.New(t)
	svc := NewService(newFakeStore(), &fakeBus{}, nil, nil)

	_, err := svc.Raise(context.Background(), RaiseSpec{
		Type:     "gossip",
		Severity: models.SeverityLow,
	})
	req.Equal(apperr.Validation, apperr.KindOf(err))

	_, err = svc.Raise(context.Background(), RaiseSpec{
		Type:     models.AlertSpam,
		Severity: "extreme",
	})
	req.Equal(apperr.Validation, apperr.KindOf(err))
}

func TestResolveIsIdempotent(t *testing.T) {
	req := require.New(t)
	store := newFakeStore()
	bus := &fakeBus{}
	svc := NewService(store, bus, nil, nil)

	alert, err := svc.Raise(context.Background(), RaiseSpec{
		SessionID:     uuid.New(),
		ParticipantID: uuid.New(),
		Type:          models.AlertSpam,
		Severity:      models.SeverityLow,
	})
	req.NoError(err)

	firstResolver := uuid.New()
	resolved, err := svc.Resolve(context.Background(), alert.ID, firstResolver)
	req.NoError(err)
	req.True(resolved.Resolved)
	firstAt := *resolved.ResolvedAt

	// A second resolve is a no-op: no error, no new event, original stamp kept.
	again, err := svc.Resolve(context.Background(), alert.ID, uuid.New())
	req.NoError(err)
	req.Equal(firstAt, *again.ResolvedAt)
	req.Equal(firstResolver, *again.ResolvedBy)
	req.Equal(1, bus.count("session/alert.resolved"))
}

func TestResolveUnknownAlert(t *testing.T) {
	req := require.New(t)
	svc := NewService(newFakeStore(), &fakeBus{}, nil, nil)

	_, err := svc.Resolve(context.Background(), uuid.New(), uuid.New())
	req.Equal(apperr.NotFound, apperr.KindOf(err))
}

func TestListOpenSkipsResolved(t *testing.T) {
	req := require.New(t)
	store := newFakeStore()
	svc := NewService(store, &fakeBus{}, nil, nil)

	open, err := svc.Raise(context.Background(), RaiseSpec{
		SessionID: uuid.New(), ParticipantID: uuid.New(),
		Type: models.AlertOther, Severity: models.SeverityMedium,
	})
	req.NoError(err)
	closed, err := svc.Raise(context.Background(), RaiseSpec{
		SessionID: uuid.New(), ParticipantID: uuid.New(),
		Type: models.AlertSpam, Severity: models.SeverityLow,
	})
	req.NoError(err)
	_, err = svc.Resolve(context.Background(), closed.ID, uuid.New())
	req.NoError(err)

	list, err := svc.ListOpen(context.Background())
	req.NoError(err)
	req.Len(list, 1)
	req.Equal(open.ID, list[0].ID)
}
