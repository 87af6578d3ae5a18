package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/haven-live/backend/internal/alerts"
	"github.com/haven-live/backend/internal/breakouts"
	"github.com/haven-live/backend/internal/models"
	"github.com/haven-live/backend/internal/moderation"
	"github.com/haven-live/backend/internal/sessions"
	"github.com/haven-live/backend/pkg/apperr"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // allow all origins in dev; restrict in production
	},
}

// WSMessage is the WebSocket message envelope.
type WSMessage struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Identity is the authenticated caller behind a connection.
type Identity struct {
	UserID uuid.UUID
	Role   string
	Alias  string
}

// Dispatcher routes connection commands to the domain services. Fields are
// assigned at wiring time so the hub stays free of service imports in its
// construction order.
type Dispatcher struct {
	CreateSession   func(ctx context.Context, spec sessions.CreateSpec) (*models.LiveSession, error)
	Join            func(sessionID uuid.UUID, spec sessions.JoinSpec) (*models.Participant, error)
	Leave           func(sessionID, participantID uuid.UUID) error
	Disconnect      func(sessionID, participantID uuid.UUID) error
	Start           func(sessionID, requesterID uuid.UUID, isAdmin bool) error
	End             func(ctx context.Context, sessionID, requesterID uuid.UUID, isAdmin bool) error
	Snapshot        func(sessionID uuid.UUID) (*sessions.Snapshot, error)
	RaiseHand       func(sessionID, participantID uuid.UUID) error
	ApproveSpeaker  func(sessionID, approverID, targetID uuid.UUID) error
	SetModerator    func(sessionID, granterID, targetID uuid.UUID, grant, isAdmin bool) error
	AudioLevel      func(sessionID, participantID uuid.UUID, level int) error
	ApplyModeration func(ctx context.Context, spec moderation.ActionSpec) (*models.ModerationAction, error)
	CreateBreakout  func(ctx context.Context, spec breakouts.CreateSpec) (*models.BreakoutRoom, error)
	CloseBreakout   func(ctx context.Context, parentID, breakoutID uuid.UUID) (*models.BreakoutRoom, error)
	RaiseAlert      func(ctx context.Context, spec alerts.RaiseSpec) (*models.SanctuaryAlert, error)
	ResolveAlert    func(ctx context.Context, alertID, resolverID uuid.UUID) (*models.SanctuaryAlert, error)
}

// Client represents a single WebSocket connection in a session.
type Client struct {
	ID        string
	SessionID uuid.UUID
	UserID    uuid.UUID
	Role      string
	Alias     string

	hub        *Hub
	dispatch   *Dispatcher
	conn       *websocket.Conn
	send       chan WSMessage
	logger     *zap.Logger
	joined     bool
	registered bool
}

// ServeWs handles the WebSocket upgrade and runs the client loop. The
// connection authenticates with the same JWT as the REST surface, passed as a
// query parameter since browsers cannot set WebSocket headers. A session_id
// query binds the connection immediately; without one the connection starts
// unbound and binds on create_session or join_session. Event delivery only
// begins once a join succeeds, so a rejected identity observes nothing.
func ServeWs(hub *Hub, logger *zap.Logger, authenticate func(token string) (Identity, error), dispatch *Dispatcher) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.Query("token")
		if token == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "token required"})
			return
		}
		var sessionID uuid.UUID
		if raw := c.Query("session_id"); raw != "" {
			var err error
			if sessionID, err = uuid.Parse(raw); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid session_id"})
				return
			}
		}
		identity, err := authenticate(token)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logger.Warn("websocket upgrade failed", zap.Error(err))
			return
		}

		client := &Client{
			ID:        uuid.New().String(),
			SessionID: sessionID,
			UserID:    identity.UserID,
			Role:      identity.Role,
			Alias:     identity.Alias,
			hub:       hub,
			dispatch:  dispatch,
			conn:      conn,
			send:      make(chan WSMessage, 256),
			logger:    logger,
		}
		if client.SessionID != uuid.Nil {
			client.sendSnapshot()
		}
		go client.writePump()
		client.readPump()
	}
}

// reply enqueues a message for this connection only.
func (c *Client) reply(event string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	select {
	case c.send <- WSMessage{Event: event, Data: data}:
	default:
		// buffer full, skip
	}
}

// sendSnapshot pushes the current full session state to this connection.
// Reconnecting clients resync from it instead of replaying missed events.
func (c *Client) sendSnapshot() {
	if c.dispatch == nil || c.dispatch.Snapshot == nil || c.SessionID == uuid.Nil {
		return
	}
	snap, err := c.dispatch.Snapshot(c.SessionID)
	if err != nil {
		c.sendError("snapshot", err)
		return
	}
	c.reply("snapshot", snap)
}

func (c *Client) sendError(command string, err error) {
	c.reply("error", map[string]interface{}{
		"command": command,
		"kind":    string(apperr.KindOf(err)),
		"message": err.Error(),
	})
}

func (c *Client) readPump() {
	defer func() {
		if c.joined && c.dispatch != nil && c.dispatch.Disconnect != nil {
			if err := c.dispatch.Disconnect(c.SessionID, c.UserID); err != nil &&
				apperr.KindOf(err) != apperr.NotFound {
				c.logger.Warn("disconnect", zap.Error(err), zap.String("session_id", c.SessionID.String()))
			}
		}
		if c.registered {
			c.hub.Unregister(c)
		}
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(65536)
	_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))
		return nil
	})

	for {
		var msg WSMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			break
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))
		c.handleCommand(msg)
	}
}

func (c *Client) handleCommand(msg WSMessage) {
	if c.dispatch == nil {
		return
	}
	ctx := context.Background()

	// Everything except creating or joining a session needs a bound session.
	switch msg.Event {
	case "create_session", "join_session":
	default:
		if c.SessionID == uuid.Nil {
			c.sendError(msg.Event, apperr.New(apperr.InvalidState, "no session bound to this connection"))
			return
		}
	}

	switch msg.Event {
	case "create_session":
		var payload struct {
			Topic           string `json:"topic"`
			MaxParticipants int    `json:"max_participants"`
			TTLMinutes      int    `json:"ttl_minutes"`
			AudioOnly       *bool  `json:"audio_only"`
			AllowAnonymous  *bool  `json:"allow_anonymous"`
			ModerationLevel string `json:"moderation_level"`
			AIMonitoring    bool   `json:"ai_monitoring"`
		}
		if err := json.Unmarshal(msg.Data, &payload); err != nil {
			c.sendError(msg.Event, apperr.New(apperr.Validation, "invalid payload"))
			return
		}
		settings := models.SessionSettings{
			AudioOnly:       true,
			AllowAnonymous:  true,
			ModerationLevel: models.ModerationMedium,
			AIMonitoring:    payload.AIMonitoring,
		}
		if payload.AudioOnly != nil {
			settings.AudioOnly = *payload.AudioOnly
		}
		if payload.AllowAnonymous != nil {
			settings.AllowAnonymous = *payload.AllowAnonymous
		}
		if payload.ModerationLevel != "" {
			settings.ModerationLevel = models.ModerationLevel(payload.ModerationLevel)
		}
		s, err := c.dispatch.CreateSession(ctx, sessions.CreateSpec{
			Topic:           payload.Topic,
			HostID:          c.UserID,
			MaxParticipants: payload.MaxParticipants,
			TTL:             time.Duration(payload.TTLMinutes) * time.Minute,
			Settings:        settings,
		})
		if err != nil {
			c.sendError(msg.Event, err)
			return
		}
		if c.SessionID == uuid.Nil {
			c.SessionID = s.ID
		}
		c.reply("session.created", s)

	case "join_session":
		var payload struct {
			SessionID uuid.UUID `json:"session_id"`
			WantHost  bool      `json:"want_host"`
		}
		_ = json.Unmarshal(msg.Data, &payload)
		if c.SessionID == uuid.Nil {
			if payload.SessionID == uuid.Nil {
				c.sendError(msg.Event, apperr.New(apperr.Validation, "session_id required"))
				return
			}
			c.SessionID = payload.SessionID
		} else if payload.SessionID != uuid.Nil && payload.SessionID != c.SessionID {
			c.sendError(msg.Event, apperr.New(apperr.InvalidState, "connection already bound to a session"))
			return
		}
		p, err := c.dispatch.Join(c.SessionID, sessions.JoinSpec{
			ParticipantID: c.UserID,
			Alias:         c.Alias,
			ConnectionID:  c.ID,
			WantHost:      payload.WantHost,
			IsGuest:       c.Role == "guest",
		})
		if err != nil {
			c.sendError(msg.Event, err)
			return
		}
		// Subscribe only once admission succeeded; a blocked or rejected
		// identity must not observe session traffic.
		if !c.registered {
			c.hub.Register(c)
			c.registered = true
		}
		c.joined = true
		c.reply("joined", p)
		c.sendSnapshot()

	case "leave_session":
		if err := c.dispatch.Leave(c.SessionID, c.UserID); err != nil {
			c.sendError(msg.Event, err)
			return
		}
		c.joined = false

	case "start_session":
		if err := c.dispatch.Start(c.SessionID, c.UserID, c.Role == "admin"); err != nil {
			c.sendError(msg.Event, err)
		}

	case "end_session":
		if err := c.dispatch.End(ctx, c.SessionID, c.UserID, c.Role == "admin"); err != nil {
			c.sendError(msg.Event, err)
		}

	case "get_snapshot":
		c.sendSnapshot()

	case "request_speaker":
		if err := c.dispatch.RaiseHand(c.SessionID, c.UserID); err != nil {
			c.sendError(msg.Event, err)
		}

	case "approve_speaker":
		var payload struct {
			TargetID uuid.UUID `json:"target_id"`
		}
		if err := json.Unmarshal(msg.Data, &payload); err != nil {
			c.sendError(msg.Event, apperr.New(apperr.Validation, "invalid payload"))
			return
		}
		if err := c.dispatch.ApproveSpeaker(c.SessionID, c.UserID, payload.TargetID); err != nil {
			c.sendError(msg.Event, err)
		}

	case "set_role":
		var payload struct {
			TargetID  uuid.UUID `json:"target_id"`
			Moderator bool      `json:"moderator"`
		}
		if err := json.Unmarshal(msg.Data, &payload); err != nil {
			c.sendError(msg.Event, apperr.New(apperr.Validation, "invalid payload"))
			return
		}
		if err := c.dispatch.SetModerator(c.SessionID, c.UserID, payload.TargetID, payload.Moderator, c.Role == "admin"); err != nil {
			c.sendError(msg.Event, err)
		}

	case "audio_level":
		var payload struct {
			Level int `json:"level"`
		}
		if err := json.Unmarshal(msg.Data, &payload); err != nil {
			return
		}
		// High-frequency and advisory; errors are not echoed back.
		_ = c.dispatch.AudioLevel(c.SessionID, c.UserID, payload.Level)

	case "apply_moderation":
		var payload struct {
			TargetID        uuid.UUID `json:"target_id"`
			Action          string    `json:"action"`
			Reason          string    `json:"reason"`
			DurationSeconds int       `json:"duration_seconds"`
		}
		if err := json.Unmarshal(msg.Data, &payload); err != nil {
			c.sendError(msg.Event, apperr.New(apperr.Validation, "invalid payload"))
			return
		}
		_, err := c.dispatch.ApplyModeration(ctx, moderation.ActionSpec{
			SessionID:   c.SessionID,
			ModeratorID: c.UserID,
			TargetID:    payload.TargetID,
			Action:      models.ModerationActionType(payload.Action),
			Reason:      payload.Reason,
			Duration:    time.Duration(payload.DurationSeconds) * time.Second,
			IsAdmin:     c.Role == "admin",
		})
		if err != nil {
			c.sendError(msg.Event, err)
		}

	case "create_breakout":
		var payload struct {
			ParticipantIDs  []uuid.UUID `json:"participant_ids"`
			MaxParticipants int         `json:"max_participants"`
			TTLMinutes      int         `json:"ttl_minutes"`
		}
		if err := json.Unmarshal(msg.Data, &payload); err != nil {
			c.sendError(msg.Event, apperr.New(apperr.Validation, "invalid payload"))
			return
		}
		room, err := c.dispatch.CreateBreakout(ctx, breakouts.CreateSpec{
			ParentID:        c.SessionID,
			FacilitatorID:   c.UserID,
			ParticipantIDs:  payload.ParticipantIDs,
			MaxParticipants: payload.MaxParticipants,
			TTL:             time.Duration(payload.TTLMinutes) * time.Minute,
			IsAdmin:         c.Role == "admin",
		})
		if err != nil {
			c.sendError(msg.Event, err)
			return
		}
		c.reply("breakout.ready", room)

	case "close_breakout":
		var payload struct {
			BreakoutID uuid.UUID `json:"breakout_id"`
		}
		if err := json.Unmarshal(msg.Data, &payload); err != nil {
			c.sendError(msg.Event, apperr.New(apperr.Validation, "invalid payload"))
			return
		}
		if _, err := c.dispatch.CloseBreakout(ctx, c.SessionID, payload.BreakoutID); err != nil {
			c.sendError(msg.Event, err)
		}

	case "raise_alert":
		var payload struct {
			Type        string `json:"type"`
			Severity    string `json:"severity"`
			Description string `json:"description"`
		}
		if err := json.Unmarshal(msg.Data, &payload); err != nil {
			c.sendError(msg.Event, apperr.New(apperr.Validation, "invalid payload"))
			return
		}
		if _, err := c.dispatch.RaiseAlert(ctx, alerts.RaiseSpec{
			SessionID:     c.SessionID,
			ParticipantID: c.UserID,
			Type:          models.AlertType(payload.Type),
			Severity:      models.AlertSeverity(payload.Severity),
			Description:   payload.Description,
		}); err != nil {
			c.sendError(msg.Event, err)
		}

	case "resolve_alert":
		// Same gate as the REST route: resolving takes a platform role.
		if c.Role != "admin" && c.Role != "moderator" {
			c.sendError(msg.Event, apperr.New(apperr.Forbidden, "only moderators can resolve alerts"))
			return
		}
		var payload struct {
			AlertID uuid.UUID `json:"alert_id"`
		}
		if err := json.Unmarshal(msg.Data, &payload); err != nil {
			c.sendError(msg.Event, apperr.New(apperr.Validation, "invalid payload"))
			return
		}
		if _, err := c.dispatch.ResolveAlert(ctx, payload.AlertID, c.UserID); err != nil {
			c.sendError(msg.Event, err)
		}

	default:
		// ignore
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(PingInterval * time.Second)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
