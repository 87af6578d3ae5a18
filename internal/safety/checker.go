package safety

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/haven-live/backend/internal/models"
)

// Result is the verdict for a piece of content.
type Result struct {
	Flagged  bool                 `json:"flagged"`
	Severity models.AlertSeverity `json:"severity"`
}

// Checker calls an external content-safety service. Any transport error,
// timeout, or malformed response fails open: content is treated as clean
// so the safety service can never block the room.
type Checker struct {
	baseURL string
	client  *http.Client
	logger  *zap.Logger
}

// NewChecker creates a checker. An empty baseURL disables checking.
func NewChecker(baseURL string, timeout time.Duration, logger *zap.Logger) *Checker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Checker{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

// Enabled reports whether a safety endpoint is configured.
func (c *Checker) Enabled() bool {
	return c != nil && c.baseURL != ""
}

type checkRequest struct {
	Content string `json:"content"`
}

// Check submits content for classification.
func (c *Checker) Check(ctx context.Context, content string) Result {
	if !c.Enabled() || content == "" {
		return Result{}
	}
	body, err := json.Marshal(checkRequest{Content: content})
	if err != nil {
		return Result{}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/classify", bytes.NewReader(body))
	if err != nil {
		return Result{}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Warn("safety check failed", zap.Error(err))
		return Result{}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		c.logger.Warn("safety check rejected", zap.Int("status", resp.StatusCode))
		return Result{}
	}
	var res Result
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		c.logger.Warn("safety check unreadable", zap.Error(err))
		return Result{}
	}
	if res.Flagged && !validSeverity(res.Severity) {
		res.Severity = models.SeverityMedium
	}
	return res
}

var severityRank = map[models.AlertSeverity]int{
	models.SeverityLow:      1,
	models.SeverityMedium:   2,
	models.SeverityHigh:     3,
	models.SeverityCritical: 4,
}

// MaxSeverity returns the more severe of the two.
func MaxSeverity(a, b models.AlertSeverity) models.AlertSeverity {
	if severityRank[b] > severityRank[a] {
		return b
	}
	return a
}

func validSeverity(s models.AlertSeverity) bool {
	return severityRank[s] > 0
}
