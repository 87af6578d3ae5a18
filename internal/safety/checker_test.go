package safety

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/haven-live/backend/internal/models"
)

func TestCheckFlagsContent(t *testing.T) {
	req := require.New(t)

	// Given a safety service that flags everything as high severity
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		req.Equal("/v1/classify", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"flagged": true, "severity": "high"}`))
	}))
	defer srv.Close()
	checker := NewChecker(srv.URL, time.Second, nil)

	// When checking content
	res := checker.Check(context.Background(), "worrying message")

	// Then the verdict carries the service's severity
	req.True(res.Flagged)
	req.Equal(models.SeverityHigh, res.Severity)
}

func TestCheckFailsOpenOnServerError(t *testing.T) {
	req := require.New(t)

	// Given a safety service that always errors
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()
	checker := NewChecker(srv.URL, time.Second, nil)

	// When checking content
	res := checker.Check(context.Background(), "anything")

	// Then the content passes as clean
	req.False(res.Flagged)
}

func TestCheckFailsOpenOnTimeout(t *testing.T) {
	req := require.New(t)

	// Given a safety service slower than the client timeout
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()
	checker := NewChecker(srv.URL, 50*time.Millisecond, nil)

	res := checker.Check(context.Background(), "anything")

	req.False(res.Flagged)
}

func TestCheckDisabledWithoutEndpoint(t *testing.T) {
	req := require.New(t)

	checker := NewChecker("", time.Second, nil)

	req.False(checker.Enabled())
	req.False(checker.Check(context.Background(), "anything").Flagged)
}

func TestCheckDefaultsUnknownSeverity(t *testing.T) {
	req := require.New(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"flagged": true, "severity": "bogus"}`))
	}))
	defer srv.Close()
	checker := NewChecker(srv.URL, time.Second, nil)

	res := checker.Check(context.Background(), "anything")

	req.True(res.Flagged)
	req.Equal(models.SeverityMedium, res.Severity)
}

func TestMaxSeverity(t *testing.T) {
	req := require.New(t)

	req.Equal(models.SeverityCritical, MaxSeverity(models.SeverityLow, models.SeverityCritical))
	req.Equal(models.SeverityHigh, MaxSeverity(models.SeverityHigh, models.SeverityMedium))
	req.Equal(models.SeverityLow, MaxSeverity(models.SeverityLow, models.SeverityLow))
}
