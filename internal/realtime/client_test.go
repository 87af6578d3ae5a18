package realtime

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/haven-live/backend/internal/breakouts"
	"github.com/haven-live/backend/internal/models"
	"github.com/haven-live/backend/internal/sessions"
	"github.com/haven-live/backend/pkg/apperr"
)

func newCommandClient(hub *Hub, dispatch *Dispatcher, role string) *Client {
	return &Client{
		ID:       uuid.New().String(),
		UserID:   uuid.New(),
		Role:     role,
		Alias:    "quiet-river",
		hub:      hub,
		dispatch: dispatch,
		send:     make(chan WSMessage, 16),
	}
}

func command(t *testing.T, event string, payload interface{}) WSMessage {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	return WSMessage{Event: event, Data: data}
}

func drainReply(t *testing.T, c *Client) WSMessage {
	t.Helper()
	select {
	case msg := <-c.send:
		return msg
	default:
		t.Fatal("expected a reply on the connection")
		return WSMessage{}
	}
}

func TestRejectedJoinDoesNotSubscribe(t *testing.T) {
	req := require.New(t)
	hub := NewHub(nil, nil, nil)
	sessionID := uuid.New()
	dispatch := &Dispatcher{
		Join: func(uuid.UUID, sessions.JoinSpec) (*models.Participant, error) {
			return nil, apperr.New(apperr.Forbidden, "you are blocked from this sanctuary")
		},
	}
	c := newCommandClient(hub, dispatch, "member")

	c.handleCommand(command(t, "join_session", map[string]interface{}{"session_id": sessionID}))

	msg := drainReply(t, c)
	req.Equal("error", msg.Event)
	req.Zero(hub.Occupancy(sessionID))

	// A rejected identity must not observe session traffic afterwards.
	hub.PublishSession(sessionID, "participant.joined", map[string]string{"alias": "anchor"})
	req.Empty(c.send)
}

func TestJoinSubscribesAfterAdmission(t *testing.T) {
	req := require.New(t)
	hub := NewHub(nil, nil, nil)
	sessionID := uuid.New()
	dispatch := &Dispatcher{
		Join: func(id uuid.UUID, spec sessions.JoinSpec) (*models.Participant, error) {
			return &models.Participant{ID: spec.ParticipantID, SessionID: id, Alias: spec.Alias}, nil
		},
		Snapshot: func(id uuid.UUID) (*sessions.Snapshot, error) {
			return &sessions.Snapshot{}, nil
		},
	}
	c := newCommandClient(hub, dispatch, "member")

	c.handleCommand(command(t, "join_session", map[string]interface{}{"session_id": sessionID}))

	req.Equal("joined", drainReply(t, c).Event)
	req.Equal("snapshot", drainReply(t, c).Event)
	req.Equal(1, hub.Occupancy(sessionID))

	hub.PublishSession(sessionID, "participant.joined", map[string]string{"alias": "anchor"})
	req.Equal("participant.joined", drainReply(t, c).Event)
}

func TestCreateSessionBindsConnection(t *testing.T) {
	req := require.New(t)
	created := &models.LiveSession{ID: uuid.New(), Topic: "late shift"}
	dispatch := &Dispatcher{
		CreateSession: func(_ context.Context, spec sessions.CreateSpec) (*models.LiveSession, error) {
			req.Equal("late shift", spec.Topic)
			return created, nil
		},
	}
	c := newCommandClient(NewHub(nil, nil, nil), dispatch, "member")

	c.handleCommand(command(t, "create_session", map[string]interface{}{"topic": "late shift"}))

	req.Equal("session.created", drainReply(t, c).Event)
	req.Equal(created.ID, c.SessionID)
}

func TestResolveAlertRequiresPlatformRole(t *testing.T) {
	req := require.New(t)
	var called bool
	dispatch := &Dispatcher{
		ResolveAlert: func(context.Context, uuid.UUID, uuid.UUID) (*models.SanctuaryAlert, error) {
			called = true
			return nil, nil
		},
	}
	c := newCommandClient(NewHub(nil, nil, nil), dispatch, "member")
	c.SessionID = uuid.New()

	c.handleCommand(command(t, "resolve_alert", map[string]interface{}{"alert_id": uuid.New()}))

	msg := drainReply(t, c)
	req.Equal("error", msg.Event)
	var body map[string]string
	req.NoError(json.Unmarshal(msg.Data, &body))
	req.Equal(string(apperr.Forbidden), body["kind"])
	req.False(called)
}

func TestResolveAlertAllowsModerator(t *testing.T) {
	req := require.New(t)
	var called bool
	dispatch := &Dispatcher{
		ResolveAlert: func(context.Context, uuid.UUID, uuid.UUID) (*models.SanctuaryAlert, error) {
			called = true
			return &models.SanctuaryAlert{}, nil
		},
	}
	c := newCommandClient(NewHub(nil, nil, nil), dispatch, "moderator")
	c.SessionID = uuid.New()

	c.handleCommand(command(t, "resolve_alert", map[string]interface{}{"alert_id": uuid.New()}))

	req.True(called)
	req.Empty(c.send)
}

func TestCreateBreakoutCarriesAdminFlag(t *testing.T) {
	req := require.New(t)
	var got breakouts.CreateSpec
	dispatch := &Dispatcher{
		CreateBreakout: func(_ context.Context, spec breakouts.CreateSpec) (*models.BreakoutRoom, error) {
			got = spec
			return &models.BreakoutRoom{ID: uuid.New()}, nil
		},
	}
	c := newCommandClient(NewHub(nil, nil, nil), dispatch, "admin")
	c.SessionID = uuid.New()

	c.handleCommand(command(t, "create_breakout", map[string]interface{}{"max_participants": 4}))

	req.Equal("breakout.ready", drainReply(t, c).Event)
	req.True(got.IsAdmin)
	req.Equal(c.UserID, got.FacilitatorID)
}
