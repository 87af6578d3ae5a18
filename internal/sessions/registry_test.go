package sessions

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/haven-live/backend/config"
	"github.com/haven-live/backend/internal/models"
	"github.com/haven-live/backend/pkg/apperr"
)

func testCfg() config.SessionConfig {
	return config.SessionConfig{
		DefaultTTL:      time.Hour,
		MaxTTL:          2 * time.Hour,
		MinParticipants: 2,
		MaxParticipants: 10,
		DefaultCapacity: 4,
		ReconnectGrace:  40 * time.Millisecond,
		IdleEndGrace:    40 * time.Millisecond,
		RetentionGrace:  time.Minute,
		SweepInterval:   time.Minute,
	}
}

type recordedEvent struct {
	channel string
	name    string
	payload interface{}
}

type fakeBus struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (b *fakeBus) PublishSession(id uuid.UUID, event string, payload interface{}) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, recordedEvent{channel: id.String(), name: event, payload: payload})
}

func (b *fakeBus) PublishRole(role string, event string, payload interface{}) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, recordedEvent{channel: "role:" + role, name: event, payload: payload})
}

func (b *fakeBus) names() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, len(b.events))
	for i, e := range b.events {
		out[i] = e.name
	}
	return out
}

func (b *fakeBus) has(name string) bool {
	for _, n := range b.names() {
		if n == name {
			return true
		}
	}
	return false
}

func (b *fakeBus) hasOnChannel(channel, name string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, e := range b.events {
		if e.channel == channel && e.name == name {
			return true
		}
	}
	return false
}

func newTestRegistry(t *testing.T) (*Registry, *fakeBus) {
	t.Helper()
	bus := &fakeBus{}
	return NewRegistry(testCfg(), nil, bus, nil), bus
}

func mustCreate(t *testing.T, r *Registry, hostID uuid.UUID) *models.LiveSession {
	t.Helper()
	s, err := r.Create(context.Background(), CreateSpec{
		Topic:  "late night check-in",
		HostID: hostID,
		Settings: models.SessionSettings{
			AudioOnly:      true,
			AllowAnonymous: true,
		},
	})
	require.NoError(t, err)
	return s
}

func mustJoin(t *testing.T, r *Registry, id uuid.UUID, alias string, wantHost bool) *models.Participant {
	t.Helper()
	p, err := r.Join(id, JoinSpec{
		ParticipantID: uuid.New(),
		Alias:         alias,
		ConnectionID:  uuid.New().String(),
		WantHost:      wantHost,
	})
	require.NoError(t, err)
	return p
}

func TestCreateValidation(t *testing.T) {
	req := require.New(t)
	r, _ := newTestRegistry(t)

	_, err := r.Create(context.Background(), CreateSpec{Topic: "   "})
	req.Equal(apperr.Validation, apperr.KindOf(err))

	_, err = r.Create(context.Background(), CreateSpec{Topic: "too big", MaxParticipants: 99})
	req.Equal(apperr.Validation, apperr.KindOf(err))

	_, err = r.Create(context.Background(), CreateSpec{Topic: "too small", MaxParticipants: 1})
	req.Equal(apperr.Validation, apperr.KindOf(err))
}

func TestCreateDefaultsAndChannelName(t *testing.T) {
	req := require.New(t)
	r, bus := newTestRegistry(t)

	s := mustCreate(t, r, uuid.New())

	req.Equal(models.SessionWaiting, s.Status)
	req.Equal(4, s.MaxParticipants)
	req.Equal("sanctuary-"+s.ID.String(), s.ChannelName)
	req.WithinDuration(time.Now().Add(time.Hour), s.ExpiresAt, 5*time.Second)
	req.True(bus.has("session.created"))
}

func TestCreateClampsTTL(t *testing.T) {
	req := require.New(t)
	r, _ := newTestRegistry(t)

	s, err := r.Create(context.Background(), CreateSpec{Topic: "marathon", TTL: 50 * time.Hour})
	req.NoError(err)
	req.WithinDuration(time.Now().Add(2*time.Hour), s.ExpiresAt, 5*time.Second)
}

func TestEndIsTerminal(t *testing.T) {
	req := require.New(t)
	r, bus := newTestRegistry(t)
	hostID := uuid.New()
	s := mustCreate(t, r, hostID)

	req.NoError(r.End(context.Background(), s.ID, hostID, false))
	req.True(bus.has("session.ended"))

	// Every transition attempted from ended fails.
	err := r.End(context.Background(), s.ID, hostID, false)
	req.Equal(apperr.InvalidState, apperr.KindOf(err))
	err = r.Start(s.ID, hostID, false)
	req.Equal(apperr.InvalidState, apperr.KindOf(err))
	_, err = r.Join(s.ID, JoinSpec{ParticipantID: uuid.New(), Alias: "latecomer"})
	req.Equal(apperr.InvalidState, apperr.KindOf(err))
}

func TestEndRequiresHostOrAdmin(t *testing.T) {
	req := require.New(t)
	r, _ := newTestRegistry(t)
	s := mustCreate(t, r, uuid.New())

	err := r.End(context.Background(), s.ID, uuid.New(), false)
	req.Equal(apperr.Forbidden, apperr.KindOf(err))

	req.NoError(r.End(context.Background(), s.ID, uuid.New(), true))
}

func TestEndCascadeClosesBreakouts(t *testing.T) {
	req := require.New(t)
	r, bus := newTestRegistry(t)
	hostID := uuid.New()
	s := mustCreate(t, r, hostID)
	mustJoin(t, r, s.ID, "anchor", true)

	roomID := uuid.New()
	req.NoError(r.UpdateBreakouts(s.ID, func(tx *BreakoutTx) error {
		tx.Add(&models.BreakoutRoom{
			ID:              roomID,
			ParentSessionID: s.ID,
			IsActive:        true,
			ExpiresAt:       s.ExpiresAt,
		})
		return nil
	}))

	req.NoError(r.End(context.Background(), s.ID, hostID, true))

	req.True(bus.has("breakout.closed"))
	snapErr := r.UpdateBreakouts(s.ID, func(tx *BreakoutTx) error {
		req.Empty(tx.ActiveRooms())
		return nil
	})
	req.NoError(snapErr)
}

func TestEndHookFires(t *testing.T) {
	req := require.New(t)
	r, _ := newTestRegistry(t)
	hostID := uuid.New()
	s := mustCreate(t, r, hostID)

	var ended []uuid.UUID
	r.SetEndHook(func(state models.LiveSession) { ended = append(ended, state.ID) })

	req.NoError(r.End(context.Background(), s.ID, hostID, false))
	req.Equal([]uuid.UUID{s.ID}, ended)
}

func TestGetUnknownSession(t *testing.T) {
	req := require.New(t)
	r, _ := newTestRegistry(t)

	_, err := r.Get(uuid.New())
	req.Equal(apperr.NotFound, apperr.KindOf(err))
}

func TestGetEndedPastRetention(t *testing.T) {
	req := require.New(t)
	cfg := testCfg()
	cfg.RetentionGrace = 20 * time.Millisecond
	r := NewRegistry(cfg, nil, &fakeBus{}, nil)
	hostID := uuid.New()
	s := mustCreate(t, r, hostID)

	req.NoError(r.End(context.Background(), s.ID, hostID, false))

	got, err := r.Get(s.ID)
	req.NoError(err)
	req.Equal(models.SessionEnded, got.Status)

	time.Sleep(30 * time.Millisecond)
	_, err = r.Get(s.ID)
	req.Equal(apperr.NotFound, apperr.KindOf(err))
}

func TestListSkipsEnded(t *testing.T) {
	req := require.New(t)
	r, _ := newTestRegistry(t)
	hostID := uuid.New()
	a := mustCreate(t, r, hostID)
	b := mustCreate(t, r, hostID)
	req.NoError(r.End(context.Background(), a.ID, hostID, false))

	list := r.List()
	req.Len(list, 1)
	req.Equal(b.ID, list[0].ID)
}

func TestSetModerator(t *testing.T) {
	req := require.New(t)
	r, bus := newTestRegistry(t)
	s := mustCreate(t, r, uuid.New())
	host := mustJoin(t, r, s.ID, "anchor", true)
	member := mustJoin(t, r, s.ID, "quiet-river", false)

	// Non-host cannot grant.
	err := r.SetModerator(s.ID, member.ID, member.ID, true, false)
	req.Equal(apperr.Forbidden, apperr.KindOf(err))

	req.NoError(r.SetModerator(s.ID, host.ID, member.ID, true, false))
	req.True(bus.has("participant.role_changed"))

	snap, err := r.GetSnapshot(s.ID)
	req.NoError(err)
	for _, p := range snap.Participants {
		if p.ID == member.ID {
			req.Equal(models.RoleModerator, p.Role)
		}
	}

	// The host's own role is immutable here.
	err = r.SetModerator(s.ID, host.ID, host.ID, false, false)
	req.Equal(apperr.InvalidState, apperr.KindOf(err))
}

func TestSnapshotExcludesDeparted(t *testing.T) {
	req := require.New(t)
	r, _ := newTestRegistry(t)
	s := mustCreate(t, r, uuid.New())
	stay := mustJoin(t, r, s.ID, "stays", true)
	gone := mustJoin(t, r, s.ID, "goes", false)

	req.NoError(r.Leave(s.ID, gone.ID))

	snap, err := r.GetSnapshot(s.ID)
	req.NoError(err)
	req.Len(snap.Participants, 1)
	req.Equal(stay.ID, snap.Participants[0].ID)
}
