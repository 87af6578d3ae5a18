package sessions

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/haven-live/backend/internal/models"
	"github.com/haven-live/backend/pkg/apperr"
)

func TestFirstJoinActivatesSession(t *testing.T) {
	req := require.New(t)
	r, bus := newTestRegistry(t)
	s := mustCreate(t, r, uuid.New())

	p := mustJoin(t, r, s.ID, "first-in", true)

	req.Equal(models.RoleHost, p.Role)
	got, err := r.Get(s.ID)
	req.NoError(err)
	req.Equal(models.SessionActive, got.Status)
	req.True(bus.has("session.started"))
	req.True(bus.has("participant.joined"))
}

func TestJoinAssignsHostOnlyWhenVacant(t *testing.T) {
	req := require.New(t)
	r, _ := newTestRegistry(t)
	s := mustCreate(t, r, uuid.New())

	first := mustJoin(t, r, s.ID, "anchor", true)
	second := mustJoin(t, r, s.ID, "wants-it-too", true)

	req.Equal(models.RoleHost, first.Role)
	req.Equal(models.RoleParticipant, second.Role)
}

func TestJoinCapacityConflict(t *testing.T) {
	req := require.New(t)
	r, _ := newTestRegistry(t)
	s, err := r.Create(context.Background(), CreateSpec{Topic: "tiny room", MaxParticipants: 2})
	req.NoError(err)

	mustJoin(t, r, s.ID, "one", true)
	mustJoin(t, r, s.ID, "two", false)

	_, err = r.Join(s.ID, JoinSpec{ParticipantID: uuid.New(), Alias: "three"})
	req.Equal(apperr.Conflict, apperr.KindOf(err))
}

func TestJoinIdempotentByConnection(t *testing.T) {
	req := require.New(t)
	r, _ := newTestRegistry(t)
	s, err := r.Create(context.Background(), CreateSpec{Topic: "tiny room", MaxParticipants: 2})
	req.NoError(err)

	connID := uuid.New().String()
	spec := JoinSpec{ParticipantID: uuid.New(), Alias: "flaky", ConnectionID: connID}
	first, err := r.Join(s.ID, spec)
	req.NoError(err)

	// A client retry on the same connection must not consume a second slot.
	second, err := r.Join(s.ID, spec)
	req.NoError(err)
	req.Equal(first.ID, second.ID)

	_, err = r.Join(s.ID, JoinSpec{ParticipantID: uuid.New(), Alias: "other"})
	req.NoError(err)
}

func TestJoinGuestRequiresAnonymousAllowed(t *testing.T) {
	req := require.New(t)
	r, _ := newTestRegistry(t)
	s, err := r.Create(context.Background(), CreateSpec{
		Topic:    "members only",
		Settings: models.SessionSettings{AllowAnonymous: false},
	})
	req.NoError(err)

	_, err = r.Join(s.ID, JoinSpec{ParticipantID: uuid.New(), Alias: "drifter", IsGuest: true})
	req.Equal(apperr.Forbidden, apperr.KindOf(err))
}

func TestJoinExpiredSession(t *testing.T) {
	req := require.New(t)
	r, _ := newTestRegistry(t)
	s := mustCreate(t, r, uuid.New())

	// Force the expiry into the past.
	inner, err := r.lookup(s.ID)
	req.NoError(err)
	inner.mu.Lock()
	inner.state.ExpiresAt = time.Now().Add(-time.Second)
	inner.mu.Unlock()

	_, err = r.Join(s.ID, JoinSpec{ParticipantID: uuid.New(), Alias: "late"})
	req.Equal(apperr.InvalidState, apperr.KindOf(err))
}

func TestReconnectWithinGraceKeepsRoleAndMute(t *testing.T) {
	req := require.New(t)
	r, _ := newTestRegistry(t)
	s := mustCreate(t, r, uuid.New())
	host := mustJoin(t, r, s.ID, "anchor", true)

	req.NoError(r.UpdateRoster(s.ID, func(tx *RosterTx) error {
		tx.SetMuted(host.ID, true)
		return nil
	}))
	req.NoError(r.Disconnect(s.ID, host.ID))

	back, err := r.Join(s.ID, JoinSpec{ParticipantID: host.ID, Alias: "anchor", ConnectionID: uuid.New().String()})
	req.NoError(err)
	req.Equal(models.RoleHost, back.Role)
	req.True(back.IsMuted)
	req.Equal(models.Connected, back.ConnectionStatus)
}

func TestReconnectingParticipantHoldsSlot(t *testing.T) {
	req := require.New(t)
	r, _ := newTestRegistry(t)
	s, err := r.Create(context.Background(), CreateSpec{Topic: "tiny room", MaxParticipants: 2})
	req.NoError(err)
	mustJoin(t, r, s.ID, "one", true)
	two := mustJoin(t, r, s.ID, "two", false)

	req.NoError(r.Disconnect(s.ID, two.ID))

	// Slot is held during the grace window.
	_, err = r.Join(s.ID, JoinSpec{ParticipantID: uuid.New(), Alias: "three"})
	req.Equal(apperr.Conflict, apperr.KindOf(err))

	// After the window lapses the slot returns to the pool.
	req.Eventually(func() bool {
		_, err := r.Join(s.ID, JoinSpec{ParticipantID: uuid.New(), Alias: "three"})
		return err == nil
	}, time.Second, 10*time.Millisecond)
}

func TestExplicitLeaveFreesSlotImmediately(t *testing.T) {
	req := require.New(t)
	r, _ := newTestRegistry(t)
	s, err := r.Create(context.Background(), CreateSpec{Topic: "tiny room", MaxParticipants: 2})
	req.NoError(err)
	mustJoin(t, r, s.ID, "one", true)
	two := mustJoin(t, r, s.ID, "two", false)

	req.NoError(r.Leave(s.ID, two.ID))

	_, err = r.Join(s.ID, JoinSpec{ParticipantID: uuid.New(), Alias: "three"})
	req.NoError(err)
}

func TestBlockedIdentityCannotRejoin(t *testing.T) {
	req := require.New(t)
	r, _ := newTestRegistry(t)
	s := mustCreate(t, r, uuid.New())
	mustJoin(t, r, s.ID, "anchor", true)
	troublemaker := mustJoin(t, r, s.ID, "loud", false)

	req.NoError(r.UpdateRoster(s.ID, func(tx *RosterTx) error {
		tx.Block(troublemaker.ID)
		return nil
	}))

	_, err := r.Join(s.ID, JoinSpec{ParticipantID: troublemaker.ID, Alias: "loud"})
	req.Equal(apperr.Forbidden, apperr.KindOf(err))
}

func TestHostLeavePromotesEarliestModerator(t *testing.T) {
	req := require.New(t)
	r, bus := newTestRegistry(t)
	s := mustCreate(t, r, uuid.New())
	host := mustJoin(t, r, s.ID, "anchor", true)
	modA := mustJoin(t, r, s.ID, "first-mod", false)
	modB := mustJoin(t, r, s.ID, "second-mod", false)
	req.NoError(r.SetModerator(s.ID, host.ID, modA.ID, true, false))
	req.NoError(r.SetModerator(s.ID, host.ID, modB.ID, true, false))

	req.NoError(r.Leave(s.ID, host.ID))

	req.True(bus.has("session.host_changed"))
	snap, err := r.GetSnapshot(s.ID)
	req.NoError(err)
	req.Equal(modA.ID, snap.Session.HostID)
	for _, p := range snap.Participants {
		if p.ID == modA.ID {
			req.Equal(models.RoleHost, p.Role)
		}
	}
	// Session stays active through the handoff.
	req.Equal(models.SessionActive, snap.Session.Status)
}

func TestHostLeaveWithoutModeratorEndsIdleSession(t *testing.T) {
	req := require.New(t)
	r, _ := newTestRegistry(t)
	s := mustCreate(t, r, uuid.New())
	host := mustJoin(t, r, s.ID, "anchor", true)

	req.NoError(r.Leave(s.ID, host.ID))

	req.Eventually(func() bool {
		got, err := r.Get(s.ID)
		return err == nil && got.Status == models.SessionEnded
	}, time.Second, 10*time.Millisecond)
}

func TestHostLeaveWithParticipantsEndsAfterGrace(t *testing.T) {
	req := require.New(t)
	r, _ := newTestRegistry(t)
	s := mustCreate(t, r, uuid.New())
	host := mustJoin(t, r, s.ID, "anchor", true)
	mustJoin(t, r, s.ID, "lingerer", false)

	req.NoError(r.Leave(s.ID, host.ID))

	// No moderator to promote: the session must not run hostless forever,
	// even with a plain participant still connected.
	req.Eventually(func() bool {
		got, err := r.Get(s.ID)
		return err == nil && got.Status == models.SessionEnded
	}, time.Second, 10*time.Millisecond)
}

func TestLastParticipantLeaveEndsHostlessSession(t *testing.T) {
	req := require.New(t)
	r, _ := newTestRegistry(t)
	s := mustCreate(t, r, uuid.New())
	host := mustJoin(t, r, s.ID, "anchor", true)
	member := mustJoin(t, r, s.ID, "lingerer", false)

	req.NoError(r.Leave(s.ID, host.ID))
	req.NoError(r.Leave(s.ID, member.ID))

	req.Eventually(func() bool {
		got, err := r.Get(s.ID)
		return err == nil && got.Status == models.SessionEnded
	}, time.Second, 10*time.Millisecond)
}

func TestPlainJoinDoesNotCancelHostlessEnd(t *testing.T) {
	req := require.New(t)
	r, _ := newTestRegistry(t)
	s := mustCreate(t, r, uuid.New())
	host := mustJoin(t, r, s.ID, "anchor", true)
	req.NoError(r.Leave(s.ID, host.ID))

	// A joiner who does not take the host slot leaves the session hostless.
	mustJoin(t, r, s.ID, "bystander", false)

	req.Eventually(func() bool {
		got, err := r.Get(s.ID)
		return err == nil && got.Status == models.SessionEnded
	}, time.Second, 10*time.Millisecond)
}

func TestAdminEvictingHostStartsHostlessEnd(t *testing.T) {
	req := require.New(t)
	r, _ := newTestRegistry(t)
	s := mustCreate(t, r, uuid.New())
	host := mustJoin(t, r, s.ID, "anchor", true)
	mustJoin(t, r, s.ID, "lingerer", false)

	req.NoError(r.UpdateRoster(s.ID, func(tx *RosterTx) error {
		tx.Kick(host.ID)
		return nil
	}))

	req.Eventually(func() bool {
		got, err := r.Get(s.ID)
		return err == nil && got.Status == models.SessionEnded
	}, time.Second, 10*time.Millisecond)
}

func TestJoinCancelsIdleEnd(t *testing.T) {
	req := require.New(t)
	r, _ := newTestRegistry(t)
	s := mustCreate(t, r, uuid.New())
	host := mustJoin(t, r, s.ID, "anchor", true)
	req.NoError(r.Leave(s.ID, host.ID))

	// A join before the idle window lapses keeps the session alive.
	mustJoin(t, r, s.ID, "rescuer", true)
	time.Sleep(80 * time.Millisecond)

	got, err := r.Get(s.ID)
	req.NoError(err)
	req.Equal(models.SessionActive, got.Status)
}

func TestRaiseHandNotifiesModerators(t *testing.T) {
	req := require.New(t)
	r, bus := newTestRegistry(t)
	s := mustCreate(t, r, uuid.New())
	mustJoin(t, r, s.ID, "anchor", true)
	p := mustJoin(t, r, s.ID, "shy", false)

	req.NoError(r.RaiseHand(s.ID, p.ID))

	req.True(bus.hasOnChannel(s.ID.String(), "speaker.requested"))
	req.True(bus.hasOnChannel("role:moderator", "speaker.requested"))
}

func TestApproveSpeakerUnmutesWithoutRoleChange(t *testing.T) {
	req := require.New(t)
	r, bus := newTestRegistry(t)
	s := mustCreate(t, r, uuid.New())
	host := mustJoin(t, r, s.ID, "anchor", true)
	p := mustJoin(t, r, s.ID, "shy", false)
	req.NoError(r.UpdateRoster(s.ID, func(tx *RosterTx) error {
		tx.SetMuted(p.ID, true)
		return nil
	}))
	req.NoError(r.RaiseHand(s.ID, p.ID))

	// A plain participant cannot approve.
	err := r.ApproveSpeaker(s.ID, p.ID, p.ID)
	req.Equal(apperr.Forbidden, apperr.KindOf(err))

	req.NoError(r.ApproveSpeaker(s.ID, host.ID, p.ID))
	req.True(bus.has("speaker.approved"))

	snap, err := r.GetSnapshot(s.ID)
	req.NoError(err)
	for _, got := range snap.Participants {
		if got.ID == p.ID {
			req.False(got.IsMuted)
			req.False(got.HandRaised)
			req.Equal(models.RoleParticipant, got.Role)
		}
	}
}

func TestReportAudioLevelAccruesSpeakingTime(t *testing.T) {
	req := require.New(t)
	r, _ := newTestRegistry(t)
	s := mustCreate(t, r, uuid.New())
	p := mustJoin(t, r, s.ID, "talker", true)

	req.NoError(r.ReportAudioLevel(s.ID, p.ID, 8))

	// Backdate the last report so the next one accrues a full second.
	inner, err := r.lookup(s.ID)
	req.NoError(err)
	inner.mu.Lock()
	inner.lastAudioAt[p.ID] = time.Now().Add(-2 * time.Second)
	inner.mu.Unlock()

	req.NoError(r.ReportAudioLevel(s.ID, p.ID, 7))

	snap, err := r.GetSnapshot(s.ID)
	req.NoError(err)
	req.GreaterOrEqual(snap.Participants[0].SpeakingSeconds, int64(2))
}
