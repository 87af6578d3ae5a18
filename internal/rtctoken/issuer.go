package rtctoken

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/ZEGOCLOUD/zego_server_assistant/token/go/src/token04"
	"go.uber.org/zap"

	"github.com/haven-live/backend/config"
	"github.com/haven-live/backend/pkg/apperr"
)

// Grant is an issued audio channel credential.
type Grant struct {
	Token     string    `json:"token"`
	AppID     uint32    `json:"app_id"`
	Channel   string    `json:"channel"`
	ExpiresAt time.Time `json:"expires_at"`
}

// roomPayload is the token04 room payload. Field names follow the ZEGOCLOUD
// wire format.
type roomPayload struct {
	RoomID    string      `json:"RoomId"`
	Privilege map[int]int `json:"Privilege"`
}

type cacheKey struct {
	channel     string
	participant string
	speaker     bool
}

type cacheEntry struct {
	grant    Grant
	issuedAt time.Time
}

// Issuer mints short-lived audio channel tokens. Repeated requests for the
// same (channel, participant, role) within the idempotency window return the
// cached grant, so a client retrying a flaky call cannot mint a fresh
// credential each time.
type Issuer struct {
	cfg    config.RTCConfig
	logger *zap.Logger

	mu    sync.Mutex
	cache map[cacheKey]cacheEntry

	now func() time.Time
}

// NewIssuer creates a token issuer.
func NewIssuer(cfg config.RTCConfig, logger *zap.Logger) *Issuer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Issuer{
		cfg:    cfg,
		logger: logger,
		cache:  make(map[cacheKey]cacheEntry),
		now:    time.Now,
	}
}

// Configured reports whether the issuer has usable credentials.
func (i *Issuer) Configured() bool {
	return i.cfg.AppID != 0 && len(i.cfg.ServerSecret) == 32
}

// Issue mints a token for a participant on a channel. Speakers get publish
// privilege; listeners can only pull. The TTL is clamped to the configured
// maximum.
func (i *Issuer) Issue(channel, participantID string, speaker bool, ttl time.Duration) (Grant, error) {
	if i.cfg.AppID == 0 || i.cfg.ServerSecret == "" {
		return Grant{}, apperr.New(apperr.Configuration, "audio credentials not configured")
	}
	if len(i.cfg.ServerSecret) != 32 {
		return Grant{}, apperr.New(apperr.Configuration, "audio server secret must be 32 characters")
	}
	if channel == "" || participantID == "" {
		return Grant{}, apperr.New(apperr.Validation, "channel and participant are required")
	}
	if ttl <= 0 || ttl > i.cfg.MaxTokenTTL {
		ttl = i.cfg.MaxTokenTTL
	}

	key := cacheKey{channel: channel, participant: participantID, speaker: speaker}
	now := i.now()

	i.mu.Lock()
	if entry, ok := i.cache[key]; ok && now.Sub(entry.issuedAt) < i.cfg.IdempotencyWindow {
		i.mu.Unlock()
		return entry.grant, nil
	}
	i.mu.Unlock()

	privilege := map[int]int{
		token04.PrivilegeKeyLogin:   token04.PrivilegeEnable,
		token04.PrivilegeKeyPublish: token04.PrivilegeDisable,
	}
	if speaker {
		privilege[token04.PrivilegeKeyPublish] = token04.PrivilegeEnable
	}
	payloadJSON, err := json.Marshal(roomPayload{RoomID: channel, Privilege: privilege})
	if err != nil {
		return Grant{}, apperr.Wrap(apperr.ExternalService, err, "marshal token payload")
	}
	token, err := token04.GenerateToken04(i.cfg.AppID, participantID, i.cfg.ServerSecret,
		int64(ttl/time.Second), string(payloadJSON))
	if err != nil {
		return Grant{}, apperr.Wrap(apperr.ExternalService, err, "generate audio token")
	}

	grant := Grant{
		Token:     token,
		AppID:     i.cfg.AppID,
		Channel:   channel,
		ExpiresAt: now.Add(ttl),
	}

	i.mu.Lock()
	i.cache[key] = cacheEntry{grant: grant, issuedAt: now}
	i.pruneLocked(now)
	i.mu.Unlock()
	return grant, nil
}

// pruneLocked drops cache entries past the idempotency window. Caller holds mu.
func (i *Issuer) pruneLocked(now time.Time) {
	for k, e := range i.cache {
		if now.Sub(e.issuedAt) >= i.cfg.IdempotencyWindow {
			delete(i.cache, k)
		}
	}
}
