package sessions

import (
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/haven-live/backend/internal/models"
	"github.com/haven-live/backend/pkg/apperr"
)

// speakingLevelThreshold is the reported audio level above which a
// participant counts as speaking.
const speakingLevelThreshold = 5

// JoinSpec is the input for Join. ParticipantID is the stable identity from
// the caller's token (guest id or user id); ConnectionID identifies the
// client connection so abandoned joins retry idempotently.
type JoinSpec struct {
	ParticipantID uuid.UUID
	Alias         string
	ConnectionID  string
	WantHost      bool
	IsGuest       bool
}

// Join admits a participant. A rejoin by the same identity within the
// reconnect grace restores the prior role and mute state without consuming a
// new capacity slot; a retry with a known connection id returns the existing
// participant without double-counting capacity.
func (r *Registry) Join(id uuid.UUID, spec JoinSpec) (*models.Participant, error) {
	s, err := r.lookup(id)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	now := time.Now()

	if s.state.Status == models.SessionEnded {
		s.mu.Unlock()
		return nil, apperr.New(apperr.InvalidState, "session has ended")
	}
	if now.After(s.state.ExpiresAt) {
		s.mu.Unlock()
		return nil, apperr.New(apperr.InvalidState, "session has expired")
	}
	if s.blocked[spec.ParticipantID] {
		s.mu.Unlock()
		return nil, apperr.New(apperr.Forbidden, "participant is blocked from this session")
	}
	if spec.IsGuest && !s.state.Settings.AllowAnonymous {
		s.mu.Unlock()
		return nil, apperr.New(apperr.Forbidden, "session does not allow anonymous participants")
	}

	// Idempotent retry on the same connection.
	if pid, ok := s.conns[spec.ConnectionID]; ok && spec.ConnectionID != "" {
		if p, ok := s.roster[pid]; ok {
			cp := *p
			s.mu.Unlock()
			return &cp, nil
		}
	}

	// Reconnect by stable identity.
	if p, ok := s.roster[spec.ParticipantID]; ok && p.ConnectionStatus != models.Disconnected {
		if t, ok := s.graceTimers[spec.ParticipantID]; ok {
			t.Stop()
			delete(s.graceTimers, spec.ParticipantID)
		}
		p.ConnectionStatus = models.Connected
		if spec.ConnectionID != "" {
			s.conns[spec.ConnectionID] = p.ID
		}
		cp := *p
		s.mu.Unlock()
		r.publishSession(id, "participant.rejoined", participantEventPayload(cp))
		return &cp, nil
	}

	if s.occupiedLocked() >= s.state.MaxParticipants {
		s.mu.Unlock()
		return nil, apperr.New(apperr.Conflict, "session is full")
	}

	role := models.RoleParticipant
	if spec.WantHost && !s.hasHostLocked() {
		role = models.RoleHost
		s.state.HostID = spec.ParticipantID
	}

	p := &models.Participant{
		ID:               spec.ParticipantID,
		SessionID:        id,
		Alias:            spec.Alias,
		Role:             role,
		ConnectionStatus: models.Connected,
		JoinedAt:         now,
	}
	_, rejoined := s.roster[p.ID]
	s.roster[p.ID] = p
	if !rejoined {
		s.order = append(s.order, p.ID)
	}
	if spec.ConnectionID != "" {
		s.conns[spec.ConnectionID] = p.ID
	}
	// Only a join that restores a host calls off a pending hostless end.
	if s.idleTimer != nil && s.hasHostLocked() {
		s.idleTimer.Stop()
		s.idleTimer = nil
	}

	started := false
	if s.state.Status == models.SessionWaiting {
		s.state.Status = models.SessionActive
		started = true
	}
	state := s.state
	cp := *p
	s.mu.Unlock()

	if started {
		r.publishSession(id, "session.started", sessionEventPayload(state))
	}
	r.publishSession(id, "participant.joined", participantEventPayload(cp))
	if r.presence.OnJoin != nil {
		r.presence.OnJoin(id, cp.ID, cp.Alias)
	}
	return &cp, nil
}

// Leave handles an explicit departure: the slot frees immediately.
func (r *Registry) Leave(id, participantID uuid.UUID) error {
	return r.depart(id, participantID, true)
}

// Disconnect handles a dropped connection: the participant enters
// reconnecting and keeps the slot for the grace window.
func (r *Registry) Disconnect(id, participantID uuid.UUID) error {
	return r.depart(id, participantID, false)
}

func (r *Registry) depart(id, participantID uuid.UUID, explicit bool) error {
	s, err := r.lookup(id)
	if err != nil {
		return err
	}

	s.mu.Lock()
	p, ok := s.roster[participantID]
	if !ok || p.ConnectionStatus == models.Disconnected {
		s.mu.Unlock()
		return apperr.New(apperr.NotFound, "participant not in session")
	}
	if s.state.Status == models.SessionEnded {
		s.mu.Unlock()
		return nil
	}

	var events []busEvent
	if explicit {
		s.finalizeDepartureLocked(p)
		events = append(events, busEvent{"participant.left", participantEventPayload(*p)})
	} else {
		p.ConnectionStatus = models.Reconnecting
		pid := participantID
		s.graceTimers[pid] = time.AfterFunc(r.cfg.ReconnectGrace, func() {
			r.expireGrace(id, pid)
		})
		events = append(events, busEvent{"participant.reconnecting", participantEventPayload(*p)})
	}

	// A departing host hands off to the earliest-joined moderator.
	if explicit && p.Role == models.RoleHost {
		events = append(events, s.handleHostDepartureLocked()...)
	}
	s.armIdleIfHostlessLocked(r, id)
	speaking := p.SpeakingSeconds
	s.mu.Unlock()

	for _, e := range events {
		r.publishSession(id, e.name, e.payload)
	}
	if explicit && r.presence.OnLeave != nil {
		r.presence.OnLeave(id, participantID, speaking)
	}
	return nil
}

// expireGrace runs when a reconnect window lapses: the slot returns to the
// pool and the participant must rejoin as new.
func (r *Registry) expireGrace(id, participantID uuid.UUID) {
	s, err := r.lookup(id)
	if err != nil {
		return
	}
	s.mu.Lock()
	delete(s.graceTimers, participantID)
	p, ok := s.roster[participantID]
	if !ok || p.ConnectionStatus != models.Reconnecting || s.state.Status == models.SessionEnded {
		s.mu.Unlock()
		return
	}
	s.finalizeDepartureLocked(p)
	events := []busEvent{{"participant.left", participantEventPayload(*p)}}
	if p.Role == models.RoleHost {
		events = append(events, s.handleHostDepartureLocked()...)
	}
	s.armIdleIfHostlessLocked(r, id)
	speaking := p.SpeakingSeconds
	s.mu.Unlock()

	for _, e := range events {
		r.publishSession(id, e.name, e.payload)
	}
	if r.presence.OnLeave != nil {
		r.presence.OnLeave(id, participantID, speaking)
	}
}

// finalizeDepartureLocked frees the capacity slot. The roster entry stays for
// audit/stats but no longer occupies capacity. Caller holds s.mu.
func (s *session) finalizeDepartureLocked(p *models.Participant) {
	p.ConnectionStatus = models.Disconnected
	p.HandRaised = false
	for connID, pid := range s.conns {
		if pid == p.ID {
			delete(s.conns, connID)
		}
	}
	if t, ok := s.graceTimers[p.ID]; ok {
		t.Stop()
		delete(s.graceTimers, p.ID)
	}
}

type busEvent struct {
	name    string
	payload interface{}
}

// handleHostDepartureLocked promotes the earliest-joined moderator to host.
// Caller holds s.mu.
func (s *session) handleHostDepartureLocked() []busEvent {
	if next := s.promotionCandidateLocked(); next != nil {
		next.Role = models.RoleHost
		s.state.HostID = next.ID
		return []busEvent{{"session.host_changed", map[string]interface{}{
			"session_id": next.SessionID,
			"host_id":    next.ID,
			"alias":      next.Alias,
		}}}
	}
	return nil
}

// armIdleIfHostlessLocked starts the idle-end timer when an active session is
// left without a connected host, whether or not plain participants remain.
// Caller holds s.mu.
func (s *session) armIdleIfHostlessLocked(r *Registry, id uuid.UUID) {
	if s.state.Status != models.SessionActive || s.idleTimer != nil || s.hasHostLocked() {
		return
	}
	s.idleTimer = time.AfterFunc(r.cfg.IdleEndGrace, func() {
		r.endIfStillIdle(id)
	})
}

// promotionCandidateLocked picks the moderator with the earliest joinedAt;
// ties break on insertion order, which the order slice preserves.
func (s *session) promotionCandidateLocked() *models.Participant {
	var candidates []*models.Participant
	for _, pid := range s.order {
		p, ok := s.roster[pid]
		if ok && p.Role == models.RoleModerator && p.ConnectionStatus != models.Disconnected {
			candidates = append(candidates, p)
		}
	}
	if len(candidates) == 0 {
		return nil
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].JoinedAt.Before(candidates[j].JoinedAt)
	})
	return candidates[0]
}

// endIfStillIdle ends the session if the idle window lapsed without a host
// being restored.
func (r *Registry) endIfStillIdle(id uuid.UUID) {
	s, err := r.lookup(id)
	if err != nil {
		return
	}
	s.mu.Lock()
	s.idleTimer = nil
	idle := !s.hasHostLocked() && s.state.Status == models.SessionActive
	s.mu.Unlock()
	if idle {
		r.endSystem(id, "idle")
	}
}

// occupiedLocked counts capacity slots in use: connected and reconnecting
// participants both hold a slot. Caller holds s.mu.
func (s *session) occupiedLocked() int {
	n := 0
	for _, p := range s.roster {
		if p.ConnectionStatus != models.Disconnected {
			n++
		}
	}
	return n
}

func (s *session) hasHostLocked() bool {
	for _, p := range s.roster {
		if p.Role == models.RoleHost && p.ConnectionStatus != models.Disconnected {
			return true
		}
	}
	return false
}

// RaiseHand flags a speaker request and notifies the session and its
// moderators.
func (r *Registry) RaiseHand(id, participantID uuid.UUID) error {
	s, err := r.lookup(id)
	if err != nil {
		return err
	}
	s.mu.Lock()
	p, ok := s.roster[participantID]
	if !ok || p.ConnectionStatus == models.Disconnected {
		s.mu.Unlock()
		return apperr.New(apperr.NotFound, "participant not in session")
	}
	if s.state.Status != models.SessionActive {
		s.mu.Unlock()
		return apperr.New(apperr.InvalidState, "session is not active")
	}
	p.HandRaised = true
	cp := *p
	s.mu.Unlock()

	r.publishSession(id, "speaker.requested", participantEventPayload(cp))
	r.publishRole("moderator", "speaker.requested", participantEventPayload(cp))
	return nil
}

// ApproveSpeaker unmutes a hand-raised participant. Approval requires host
// or moderator authority; it does not change the target's role.
func (r *Registry) ApproveSpeaker(id, approverID, targetID uuid.UUID) error {
	s, err := r.lookup(id)
	if err != nil {
		return err
	}
	s.mu.Lock()
	approver, ok := s.roster[approverID]
	if !ok || (approver.Role != models.RoleHost && approver.Role != models.RoleModerator) {
		s.mu.Unlock()
		return apperr.New(apperr.Forbidden, "only the host or a moderator can approve speakers")
	}
	target, ok := s.roster[targetID]
	if !ok || target.ConnectionStatus == models.Disconnected {
		s.mu.Unlock()
		return apperr.New(apperr.NotFound, "participant not in session")
	}
	target.HandRaised = false
	target.IsMuted = false
	cp := *target
	s.mu.Unlock()

	r.publishSession(id, "speaker.approved", participantEventPayload(cp))
	return nil
}

// SetModerator grants or revokes the moderator role. Only the host or an
// admin may change roles, and the host's own role is immutable here.
func (r *Registry) SetModerator(id, granterID, targetID uuid.UUID, grant, isAdmin bool) error {
	s, err := r.lookup(id)
	if err != nil {
		return err
	}
	s.mu.Lock()
	if s.state.Status == models.SessionEnded {
		s.mu.Unlock()
		return apperr.New(apperr.InvalidState, "session has ended")
	}
	if !isAdmin && s.state.HostID != granterID {
		s.mu.Unlock()
		return apperr.New(apperr.Forbidden, "only the host can change roles")
	}
	target, ok := s.roster[targetID]
	if !ok || target.ConnectionStatus == models.Disconnected {
		s.mu.Unlock()
		return apperr.New(apperr.NotFound, "participant not in session")
	}
	if target.Role == models.RoleHost {
		s.mu.Unlock()
		return apperr.New(apperr.InvalidState, "cannot change the host's role")
	}
	if grant {
		target.Role = models.RoleModerator
	} else {
		target.Role = models.RoleParticipant
	}
	cp := *target
	s.mu.Unlock()

	r.publishSession(id, "participant.role_changed", participantEventPayload(cp))
	return nil
}

// ReportAudioLevel updates a participant's live audio level and accrues
// speaking time while the level stays above the speaking threshold.
func (r *Registry) ReportAudioLevel(id, participantID uuid.UUID, level int) error {
	s, err := r.lookup(id)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.roster[participantID]
	if !ok || p.ConnectionStatus == models.Disconnected {
		return apperr.New(apperr.NotFound, "participant not in session")
	}
	now := time.Now()
	if p.AudioLevel >= speakingLevelThreshold && !p.IsMuted {
		if last, ok := s.lastAudioAt[participantID]; ok {
			p.SpeakingSeconds += int64(now.Sub(last) / time.Second)
		}
	}
	p.AudioLevel = level
	s.lastAudioAt[participantID] = now
	return nil
}

func participantEventPayload(p models.Participant) map[string]interface{} {
	return map[string]interface{}{
		"session_id":     p.SessionID,
		"participant_id": p.ID,
		"alias":          p.Alias,
		"role":           p.Role,
	}
}
