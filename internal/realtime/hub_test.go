package realtime

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func newTestClient(sessionID uuid.UUID, role string) *Client {
	return &Client{
		ID:        uuid.New().String(),
		SessionID: sessionID,
		UserID:    uuid.New(),
		Role:      role,
		send:      make(chan WSMessage, 16),
	}
}

func TestPublishSessionReachesSessionClients(t *testing.T) {
	req := require.New(t)
	hub := NewHub(nil, nil, nil)
	sessionA := uuid.New()
	sessionB := uuid.New()

	// Given clients in two different sessions
	a := newTestClient(sessionA, "member")
	b := newTestClient(sessionB, "member")
	hub.Register(a)
	hub.Register(b)

	// When an event is published to session A
	hub.PublishSession(sessionA, "participant.joined", map[string]string{"alias": "quiet-river"})

	// Then only session A's client receives it
	msg := <-a.send
	req.Equal("participant.joined", msg.Event)
	var payload map[string]string
	req.NoError(json.Unmarshal(msg.Data, &payload))
	req.Equal("quiet-river", payload["alias"])
	req.Empty(b.send)
}

func TestPublishRoleReachesModeratorsAcrossSessions(t *testing.T) {
	req := require.New(t)
	hub := NewHub(nil, nil, nil)

	mod := newTestClient(uuid.New(), "moderator")
	admin := newTestClient(uuid.New(), "admin")
	member := newTestClient(uuid.New(), "member")
	hub.Register(mod)
	hub.Register(admin)
	hub.Register(member)

	hub.PublishRole("moderator", "alert.raised", map[string]string{"severity": "high"})

	// Admins sit on the moderator channel too; plain members do not.
	req.Equal("alert.raised", (<-mod.send).Event)
	req.Equal("alert.raised", (<-admin.send).Event)
	req.Empty(member.send)
}

func TestPublishRoleAdminChannelExcludesModerators(t *testing.T) {
	req := require.New(t)
	hub := NewHub(nil, nil, nil)

	mod := newTestClient(uuid.New(), "moderator")
	admin := newTestClient(uuid.New(), "admin")
	hub.Register(mod)
	hub.Register(admin)

	hub.PublishRole("admin", "alert.raised", map[string]string{"severity": "critical"})

	req.Equal("alert.raised", (<-admin.send).Event)
	req.Empty(mod.send)
}

func TestUnregisterStopsDelivery(t *testing.T) {
	req := require.New(t)
	hub := NewHub(nil, nil, nil)
	sessionID := uuid.New()

	c := newTestClient(sessionID, "member")
	hub.Register(c)
	req.Equal(1, hub.Occupancy(sessionID))

	hub.Unregister(c)
	req.Equal(0, hub.Occupancy(sessionID))

	hub.PublishSession(sessionID, "session.ended", nil)
	req.Empty(c.send)
}

func TestOccupancyHandlerFires(t *testing.T) {
	req := require.New(t)
	hub := NewHub(nil, nil, nil)
	sessionID := uuid.New()

	var counts []int
	hub.SetOccupancyHandler(func(id uuid.UUID, count int) {
		req.Equal(sessionID, id)
		counts = append(counts, count)
	})

	a := newTestClient(sessionID, "member")
	b := newTestClient(sessionID, "member")
	hub.Register(a)
	hub.Register(b)
	hub.Unregister(a)

	req.Equal([]int{1, 2, 1}, counts)
}
