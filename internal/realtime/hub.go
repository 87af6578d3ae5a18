package realtime

import (
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	// PingInterval and PongWait are used for heartbeat, in seconds.
	PingInterval = 30
	PongWait     = 60
)

// OccupancyHandler is called when the connected-client count for a session
// changes (e.g. for peak tracking).
type OccupancyHandler func(sessionID uuid.UUID, count int)

// RedisPublisher publishes events for cross-instance broadcast.
type RedisPublisher interface {
	PublishSessionEvent(sessionID uuid.UUID, event string, payload []byte) error
	PublishRoleEvent(role string, event string, payload []byte) error
}

// RedisSubscriber subscribes to session and role channels and invokes the
// handler for incoming events.
type RedisSubscriber interface {
	SubscribeSession(sessionID uuid.UUID, handler func(event string, payload []byte)) (cancel func(), err error)
	SubscribeRole(role string, handler func(event string, payload []byte)) (cancel func(), err error)
}

// Hub maintains session_id -> set of connections plus per-role channels for
// moderators and admins. Events route through Redis pub/sub when available so
// every instance (including this one) delivers exactly once; without Redis
// the hub broadcasts locally.
type Hub struct {
	mu       sync.RWMutex
	sessions map[uuid.UUID]map[string]*Client
	roles    map[string]map[string]*Client
	subs     map[uuid.UUID]func() // cancel Redis subscription per session
	roleSubs map[string]func()

	logger      *zap.Logger
	redis       RedisPublisher
	redisSub    RedisSubscriber
	onOccupancy OccupancyHandler
}

// NewHub creates a new WebSocket hub.
func NewHub(logger *zap.Logger, redisPub RedisPublisher, redisSub RedisSubscriber) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		sessions: make(map[uuid.UUID]map[string]*Client),
		roles:    make(map[string]map[string]*Client),
		subs:     make(map[uuid.UUID]func()),
		roleSubs: make(map[string]func()),
		logger:   logger,
		redis:    redisPub,
		redisSub: redisSub,
	}
}

// SetOccupancyHandler sets the callback for occupancy changes.
func (h *Hub) SetOccupancyHandler(fn OccupancyHandler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onOccupancy = fn
}

// roleChannels returns the role channels a connection belongs to. Admins also
// sit on the moderator channel so escalations reach them both ways.
func roleChannels(role string) []string {
	switch role {
	case "admin":
		return []string{"admin", "moderator"}
	case "moderator":
		return []string{"moderator"}
	}
	return nil
}

// Register adds a client to its session room and role channels. The first
// client of a session or role starts the matching Redis subscription.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	if h.sessions[c.SessionID] == nil {
		h.sessions[c.SessionID] = make(map[string]*Client)
		if h.redisSub != nil {
			sid := c.SessionID
			cancel, err := h.redisSub.SubscribeSession(sid, func(event string, payload []byte) {
				h.broadcastSession(sid, event, json.RawMessage(payload))
			})
			if err == nil {
				h.subs[sid] = cancel
			} else {
				h.logger.Warn("session subscribe failed", zap.Error(err), zap.String("session_id", sid.String()))
			}
		}
	}
	h.sessions[c.SessionID][c.ID] = c

	for _, role := range roleChannels(c.Role) {
		if h.roles[role] == nil {
			h.roles[role] = make(map[string]*Client)
			if h.redisSub != nil {
				rl := role
				cancel, err := h.redisSub.SubscribeRole(rl, func(event string, payload []byte) {
					h.broadcastRole(rl, event, json.RawMessage(payload))
				})
				if err == nil {
					h.roleSubs[rl] = cancel
				}
			}
		}
		h.roles[role][c.ID] = c
	}

	count := len(h.sessions[c.SessionID])
	onOccupancy := h.onOccupancy
	h.mu.Unlock()

	if onOccupancy != nil {
		onOccupancy(c.SessionID, count)
	}
	h.logger.Debug("client connected",
		zap.String("client_id", c.ID), zap.String("session_id", c.SessionID.String()))
}

// Unregister removes a client. The last client of a session or role cancels
// the matching Redis subscription.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	var count int
	if m, ok := h.sessions[c.SessionID]; ok {
		delete(m, c.ID)
		count = len(m)
		if count == 0 {
			delete(h.sessions, c.SessionID)
			if cancel, ok := h.subs[c.SessionID]; ok {
				cancel()
				delete(h.subs, c.SessionID)
			}
		}
	}
	for _, role := range roleChannels(c.Role) {
		if m, ok := h.roles[role]; ok {
			delete(m, c.ID)
			if len(m) == 0 {
				delete(h.roles, role)
				if cancel, ok := h.roleSubs[role]; ok {
					cancel()
					delete(h.roleSubs, role)
				}
			}
		}
	}
	onOccupancy := h.onOccupancy
	h.mu.Unlock()

	if onOccupancy != nil && count > 0 {
		onOccupancy(c.SessionID, count)
	}
	h.logger.Debug("client disconnected",
		zap.String("client_id", c.ID), zap.String("session_id", c.SessionID.String()))
}

// PublishSession delivers a committed event to every connection in a session.
// With Redis the event goes through pub/sub so the subscriber callback
// broadcasts once per instance; delivery failure never affects session state.
func (h *Hub) PublishSession(sessionID uuid.UUID, event string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	if h.redis != nil {
		if err := h.redis.PublishSessionEvent(sessionID, event, data); err == nil {
			return
		}
	}
	h.broadcastSession(sessionID, event, json.RawMessage(data))
}

// PublishRole delivers a committed event to every connection on a role
// channel across all sessions.
func (h *Hub) PublishRole(role string, event string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	if h.redis != nil {
		if err := h.redis.PublishRoleEvent(role, event, data); err == nil {
			return
		}
	}
	h.broadcastRole(role, event, json.RawMessage(data))
}

// broadcastSession fans out to local clients of a session.
func (h *Hub) broadcastSession(sessionID uuid.UUID, event string, data json.RawMessage) {
	msg := WSMessage{Event: event, Data: data}
	h.mu.RLock()
	clients := h.sessions[sessionID]
	targets := make([]*Client, 0, len(clients))
	for _, c := range clients {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		select {
		case c.send <- msg:
		default:
			// buffer full, skip
		}
	}
}

// broadcastRole fans out to local clients on a role channel.
func (h *Hub) broadcastRole(role string, event string, data json.RawMessage) {
	msg := WSMessage{Event: event, Data: data}
	h.mu.RLock()
	clients := h.roles[role]
	targets := make([]*Client, 0, len(clients))
	for _, c := range clients {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		select {
		case c.send <- msg:
		default:
		}
	}
}

// Occupancy returns the number of connected clients in a session.
func (h *Hub) Occupancy(sessionID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions[sessionID])
}
