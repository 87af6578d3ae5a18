package rtctoken

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/haven-live/backend/config"
	"github.com/haven-live/backend/pkg/apperr"
)

func testConfig() config.RTCConfig {
	return config.RTCConfig{
		AppID:             1234,
		ServerSecret:      "0123456789abcdef0123456789abcdef",
		MaxTokenTTL:       time.Hour,
		IdempotencyWindow: 30 * time.Second,
	}
}

func TestIssueReturnsGrant(t *testing.T) {
	req := require.New(t)
	issuer := NewIssuer(testConfig(), nil)

	grant, err := issuer.Issue("sanctuary-room", "participant-1", true, 10*time.Minute)

	req.NoError(err)
	req.NotEmpty(grant.Token)
	req.Equal(uint32(1234), grant.AppID)
	req.Equal("sanctuary-room", grant.Channel)
	req.WithinDuration(time.Now().Add(10*time.Minute), grant.ExpiresAt, 5*time.Second)
}

func TestIssueUnconfigured(t *testing.T) {
	req := require.New(t)
	issuer := NewIssuer(config.RTCConfig{MaxTokenTTL: time.Hour}, nil)

	_, err := issuer.Issue("sanctuary-room", "participant-1", false, time.Minute)

	req.Error(err)
	req.Equal(apperr.Configuration, apperr.KindOf(err))
}

func TestIssueRejectsShortSecret(t *testing.T) {
	req := require.New(t)
	cfg := testConfig()
	cfg.ServerSecret = "too-short"
	issuer := NewIssuer(cfg, nil)

	_, err := issuer.Issue("sanctuary-room", "participant-1", false, time.Minute)

	req.Equal(apperr.Configuration, apperr.KindOf(err))
}

func TestIssueClampsTTL(t *testing.T) {
	req := require.New(t)
	cfg := testConfig()
	cfg.MaxTokenTTL = 5 * time.Minute
	issuer := NewIssuer(cfg, nil)

	grant, err := issuer.Issue("sanctuary-room", "participant-1", true, 24*time.Hour)

	req.NoError(err)
	req.WithinDuration(time.Now().Add(5*time.Minute), grant.ExpiresAt, 5*time.Second)
}

func TestIssueIdempotentWithinWindow(t *testing.T) {
	req := require.New(t)
	issuer := NewIssuer(testConfig(), nil)

	// Given a grant issued at a fixed instant
	base := time.Now()
	issuer.now = func() time.Time { return base }
	first, err := issuer.Issue("sanctuary-room", "participant-1", true, time.Minute)
	req.NoError(err)

	// When the same request repeats inside the window
	issuer.now = func() time.Time { return base.Add(10 * time.Second) }
	second, err := issuer.Issue("sanctuary-room", "participant-1", true, time.Minute)
	req.NoError(err)

	// Then the cached grant is returned verbatim
	req.Equal(first, second)

	// And a request past the window mints a fresh expiry
	issuer.now = func() time.Time { return base.Add(time.Minute) }
	third, err := issuer.Issue("sanctuary-room", "participant-1", true, time.Minute)
	req.NoError(err)
	req.True(third.ExpiresAt.After(first.ExpiresAt))
}

func TestIssueRoleChangesBypassCache(t *testing.T) {
	req := require.New(t)
	issuer := NewIssuer(testConfig(), nil)

	speaker, err := issuer.Issue("sanctuary-room", "participant-1", true, time.Minute)
	req.NoError(err)
	listener, err := issuer.Issue("sanctuary-room", "participant-1", false, time.Minute)
	req.NoError(err)

	req.NotEqual(speaker.Token, listener.Token)
}
