package sessions

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/haven-live/backend/config"
	"github.com/haven-live/backend/internal/models"
	"github.com/haven-live/backend/pkg/apperr"
)

// EventPublisher fans committed events out to subscribed connections.
// Publishing happens strictly after a mutation commits and can never roll
// state back; implementations must not block the caller.
type EventPublisher interface {
	PublishSession(sessionID uuid.UUID, event string, payload interface{})
	PublishRole(role string, event string, payload interface{})
}

// Store persists committed session state. Write failures are logged and the
// in-memory state stays authoritative; the sweep reconciles storage later.
type Store interface {
	InsertSession(ctx context.Context, s *models.LiveSession) error
	UpdateSessionStatus(ctx context.Context, id uuid.UUID, status models.SessionStatus, endedAt *time.Time) error
	DeleteEndedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// PresenceHooks receive committed join/leave transitions (e.g. for the
// presence log). Both may be nil.
type PresenceHooks struct {
	OnJoin  func(sessionID, participantID uuid.UUID, alias string)
	OnLeave func(sessionID, participantID uuid.UUID, speakingSeconds int64)
}

// EndHook runs after a session reaches ended (e.g. to schedule deferred
// cleanup). It may be nil.
type EndHook func(s models.LiveSession)

// session is one arena entry: the aggregate plus its own lock. All mutations
// of a session's state, roster and breakout rooms serialize on mu, so
// independent sessions proceed fully in parallel.
type session struct {
	mu    sync.Mutex
	state models.LiveSession

	roster  map[uuid.UUID]*models.Participant
	order   []uuid.UUID // insertion order, promotion tie-break
	blocked map[uuid.UUID]bool
	conns   map[string]uuid.UUID // connectionID -> participant, join idempotency

	breakouts map[uuid.UUID]*models.BreakoutRoom

	graceTimers map[uuid.UUID]*time.Timer // reconnect windows per participant
	idleTimer   *time.Timer
	lastAudioAt map[uuid.UUID]time.Time
}

// Registry owns every live session aggregate. The registry map is the only
// resource shared across requests; it is guarded by its own lock while each
// session serializes independently.
type Registry struct {
	mu       sync.RWMutex
	sessions map[uuid.UUID]*session

	cfg      config.SessionConfig
	store    Store
	bus      EventPublisher
	logger   *zap.Logger
	presence PresenceHooks
	onEnd    EndHook
}

// NewRegistry creates the session registry.
func NewRegistry(cfg config.SessionConfig, store Store, bus EventPublisher, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		sessions: make(map[uuid.UUID]*session),
		cfg:      cfg,
		store:    store,
		bus:      bus,
		logger:   logger,
	}
}

// SetPresenceHooks registers join/leave callbacks.
func (r *Registry) SetPresenceHooks(h PresenceHooks) { r.presence = h }

// SetEndHook registers the session-end callback.
func (r *Registry) SetEndHook(fn EndHook) { r.onEnd = fn }

// CreateSpec is the input for Create.
type CreateSpec struct {
	Topic           string
	HostID          uuid.UUID
	MaxParticipants int
	TTL             time.Duration
	Settings        models.SessionSettings
}

// Create validates the spec and registers a new waiting session. The channel
// name is derived from the session id so re-derivation is deterministic.
func (r *Registry) Create(ctx context.Context, spec CreateSpec) (*models.LiveSession, error) {
	topic := strings.TrimSpace(spec.Topic)
	if topic == "" {
		return nil, apperr.New(apperr.Validation, "topic must not be empty")
	}
	capacity := spec.MaxParticipants
	if capacity == 0 {
		capacity = r.cfg.DefaultCapacity
	}
	if capacity < r.cfg.MinParticipants || capacity > r.cfg.MaxParticipants {
		return nil, apperr.New(apperr.Validation, "max_participants must be between %d and %d",
			r.cfg.MinParticipants, r.cfg.MaxParticipants)
	}
	ttl := spec.TTL
	if ttl <= 0 {
		ttl = r.cfg.DefaultTTL
	}
	if ttl > r.cfg.MaxTTL {
		ttl = r.cfg.MaxTTL
	}

	id := uuid.New()
	now := time.Now()
	state := models.LiveSession{
		ID:              id,
		Topic:           topic,
		HostID:          spec.HostID,
		Status:          models.SessionWaiting,
		MaxParticipants: capacity,
		Settings:        spec.Settings,
		ChannelName:     ChannelName(id),
		CreatedAt:       now,
		ExpiresAt:       now.Add(ttl),
	}

	s := &session{
		state:       state,
		roster:      make(map[uuid.UUID]*models.Participant),
		blocked:     make(map[uuid.UUID]bool),
		conns:       make(map[string]uuid.UUID),
		breakouts:   make(map[uuid.UUID]*models.BreakoutRoom),
		graceTimers: make(map[uuid.UUID]*time.Timer),
		lastAudioAt: make(map[uuid.UUID]time.Time),
	}

	r.mu.Lock()
	r.sessions[id] = s
	r.mu.Unlock()

	if r.store != nil {
		if err := r.store.InsertSession(ctx, &state); err != nil {
			r.logger.Error("persist session", zap.Error(err), zap.String("session_id", id.String()))
		}
	}
	r.publishSession(id, "session.created", sessionEventPayload(state))
	r.logger.Info("session created", zap.String("session_id", id.String()), zap.String("topic", topic))
	return snapshotSession(&state), nil
}

// ChannelName returns the deterministic audio channel name for a session.
func ChannelName(id uuid.UUID) string {
	return "sanctuary-" + id.String()
}

// Get returns a snapshot of a session. Ended sessions stay readable for the
// retention grace, then report NotFound.
func (r *Registry) Get(id uuid.UUID) (*models.LiveSession, error) {
	s, err := r.lookup(id)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Status == models.SessionEnded && s.state.EndedAt != nil &&
		time.Since(*s.state.EndedAt) > r.cfg.RetentionGrace {
		return nil, apperr.New(apperr.NotFound, "session %s not found", id)
	}
	return snapshotSession(&s.state), nil
}

// List returns snapshots of all non-ended sessions.
func (r *Registry) List() []models.LiveSession {
	r.mu.RLock()
	all := make([]*session, 0, len(r.sessions))
	for _, s := range r.sessions {
		all = append(all, s)
	}
	r.mu.RUnlock()

	out := make([]models.LiveSession, 0, len(all))
	for _, s := range all {
		s.mu.Lock()
		if s.state.Status != models.SessionEnded {
			out = append(out, *snapshotSession(&s.state))
		}
		s.mu.Unlock()
	}
	return out
}

// Start transitions waiting -> active on an explicit host/admin start.
func (r *Registry) Start(id, requesterID uuid.UUID, isAdmin bool) error {
	s, err := r.lookup(id)
	if err != nil {
		return err
	}
	s.mu.Lock()
	if s.state.Status == models.SessionEnded {
		s.mu.Unlock()
		return apperr.New(apperr.InvalidState, "session has ended")
	}
	if !isAdmin && s.state.HostID != requesterID {
		s.mu.Unlock()
		return apperr.New(apperr.Forbidden, "only the host can start the session")
	}
	if s.state.Status == models.SessionActive {
		s.mu.Unlock()
		return nil
	}
	s.state.Status = models.SessionActive
	state := s.state
	s.mu.Unlock()

	r.publishSession(id, "session.started", sessionEventPayload(state))
	return nil
}

// End terminates a session: ended is terminal, all active breakout rooms are
// force-closed as one cascade, and deferred cleanup is scheduled.
func (r *Registry) End(ctx context.Context, id, requesterID uuid.UUID, isAdmin bool) error {
	s, err := r.lookup(id)
	if err != nil {
		return err
	}
	s.mu.Lock()
	if s.state.Status == models.SessionEnded {
		s.mu.Unlock()
		return apperr.New(apperr.InvalidState, "session has already ended")
	}
	if !isAdmin && s.state.HostID != requesterID {
		s.mu.Unlock()
		return apperr.New(apperr.Forbidden, "only the host or an admin can end the session")
	}
	closed := s.endLocked()
	state := s.state
	s.mu.Unlock()

	r.commitEnd(ctx, state, closed)
	return nil
}

// endSystem ends a session without a requester (expiry, idle timeout).
func (r *Registry) endSystem(id uuid.UUID, reason string) {
	s, err := r.lookup(id)
	if err != nil {
		return
	}
	s.mu.Lock()
	if s.state.Status == models.SessionEnded {
		s.mu.Unlock()
		return
	}
	closed := s.endLocked()
	state := s.state
	s.mu.Unlock()

	r.logger.Info("session auto-ended", zap.String("session_id", id.String()), zap.String("reason", reason))
	r.commitEnd(context.Background(), state, closed)
}

// endLocked marks the session ended and force-closes breakout rooms.
// Caller holds s.mu.
func (s *session) endLocked() []models.BreakoutRoom {
	now := time.Now()
	s.state.Status = models.SessionEnded
	s.state.EndedAt = &now

	var closed []models.BreakoutRoom
	for _, room := range s.breakouts {
		if room.IsActive {
			room.IsActive = false
			room.ClosedAt = &now
			closed = append(closed, *room)
		}
	}
	for pid, t := range s.graceTimers {
		t.Stop()
		delete(s.graceTimers, pid)
	}
	if s.idleTimer != nil {
		s.idleTimer.Stop()
		s.idleTimer = nil
	}
	for _, p := range s.roster {
		if p.ConnectionStatus != models.Disconnected {
			p.ConnectionStatus = models.Disconnected
		}
	}
	return closed
}

func (r *Registry) commitEnd(ctx context.Context, state models.LiveSession, closed []models.BreakoutRoom) {
	if r.store != nil {
		if err := r.store.UpdateSessionStatus(ctx, state.ID, models.SessionEnded, state.EndedAt); err != nil {
			r.logger.Error("persist session end", zap.Error(err), zap.String("session_id", state.ID.String()))
		}
	}
	for _, room := range closed {
		r.publishSession(state.ID, "breakout.closed", breakoutEventPayload(room))
	}
	r.publishSession(state.ID, "session.ended", sessionEventPayload(state))
	if r.onEnd != nil {
		r.onEnd(state)
	}
}

// Snapshot is the full resync payload sent to a reconnecting client in place
// of historical event replay.
type Snapshot struct {
	Session      models.LiveSession    `json:"session"`
	Participants []models.Participant  `json:"participants"`
	Breakouts    []models.BreakoutRoom `json:"breakouts"`
}

// GetSnapshot returns the current full state of a session for resync.
func (r *Registry) GetSnapshot(id uuid.UUID) (*Snapshot, error) {
	s, err := r.lookup(id)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := &Snapshot{Session: *snapshotSession(&s.state)}
	for _, pid := range s.order {
		if p, ok := s.roster[pid]; ok && p.ConnectionStatus != models.Disconnected {
			snap.Participants = append(snap.Participants, *p)
		}
	}
	for _, room := range s.breakouts {
		if room.IsActive {
			snap.Breakouts = append(snap.Breakouts, *room)
		}
	}
	return snap, nil
}

func (r *Registry) lookup(id uuid.UUID) (*session, error) {
	r.mu.RLock()
	s, ok := r.sessions[id]
	r.mu.RUnlock()
	if !ok {
		return nil, apperr.New(apperr.NotFound, "session %s not found", id)
	}
	return s, nil
}

func (r *Registry) remove(id uuid.UUID) {
	r.mu.Lock()
	delete(r.sessions, id)
	r.mu.Unlock()
}

func (r *Registry) publishSession(id uuid.UUID, event string, payload interface{}) {
	if r.bus != nil {
		r.bus.PublishSession(id, event, payload)
	}
}

func (r *Registry) publishRole(role, event string, payload interface{}) {
	if r.bus != nil {
		r.bus.PublishRole(role, event, payload)
	}
}

func snapshotSession(s *models.LiveSession) *models.LiveSession {
	cp := *s
	return &cp
}

func sessionEventPayload(s models.LiveSession) map[string]interface{} {
	return map[string]interface{}{
		"session_id": s.ID,
		"topic":      s.Topic,
		"host_id":    s.HostID,
		"status":     s.Status,
		"expires_at": s.ExpiresAt,
	}
}

func breakoutEventPayload(b models.BreakoutRoom) map[string]interface{} {
	return map[string]interface{}{
		"breakout_id":  b.ID,
		"parent_id":    b.ParentSessionID,
		"participants": b.ParticipantIDs,
	}
}
