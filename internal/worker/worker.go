package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/haven-live/backend/internal/presence"
	"github.com/haven-live/backend/pkg/queue"
)

// Processor drains the background queues: critical-alert notifications go to
// the on-call webhook, session cleanup closes dangling attendance rows.
type Processor struct {
	presenceRepo *presence.Repository
	queue        *queue.Queue
	webhookURL   string
	client       *http.Client
	logger       *zap.Logger
}

// NewProcessor creates a background job processor.
func NewProcessor(presenceRepo *presence.Repository, q *queue.Queue, webhookURL string, logger *zap.Logger) *Processor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Processor{
		presenceRepo: presenceRepo,
		queue:        q,
		webhookURL:   webhookURL,
		client:       &http.Client{Timeout: 10 * time.Second},
		logger:       logger,
	}
}

// Process executes one job.
func (p *Processor) Process(ctx context.Context, job *queue.Job) error {
	switch job.Type {
	case queue.JobTypeAlertNotification:
		return p.processNotification(ctx, job)
	case queue.JobTypeSessionCleanup:
		return p.processCleanup(ctx, job)
	default:
		return fmt.Errorf("unknown job type: %s", job.Type)
	}
}

// processNotification forwards a critical alert to the on-call webhook.
// Without a configured webhook the alert is logged so it still lands
// somewhere visible.
func (p *Processor) processNotification(ctx context.Context, job *queue.Job) error {
	var payload queue.AlertNotificationPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}
	if p.webhookURL == "" {
		p.logger.Warn("critical alert, no webhook configured",
			zap.String("alert_id", payload.AlertID.String()),
			zap.String("session_id", payload.SessionID.String()),
			zap.String("severity", payload.Severity))
		return nil
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal webhook body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook status: %d", resp.StatusCode)
	}
	p.logger.Info("alert notification delivered", zap.String("alert_id", payload.AlertID.String()))
	return nil
}

// processCleanup closes attendance rows left open when a session ended with
// participants still connected. Idempotent: rows closed by a normal leave or
// an earlier run are untouched.
func (p *Processor) processCleanup(ctx context.Context, job *queue.Job) error {
	var payload queue.SessionCleanupPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}
	closed, err := p.presenceRepo.CloseOpenForSession(ctx, payload.SessionID, payload.EndedAt)
	if err != nil {
		return fmt.Errorf("close presence rows: %w", err)
	}
	if closed > 0 {
		p.logger.Info("session cleanup",
			zap.String("session_id", payload.SessionID.String()), zap.Int64("closed_rows", closed))
	}
	return nil
}

// Run starts the worker loop: dequeue, process, retry on error.
func (p *Processor) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("worker stopping")
			return
		default:
		}

		job, key, err := p.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			p.logger.Warn("dequeue error", zap.Error(err))
			time.Sleep(queue.RetryBackoff)
			continue
		}
		if job == nil {
			continue
		}

		p.logger.Debug("processing job", zap.String("job_id", job.ID), zap.String("type", string(job.Type)))
		if err := p.Process(ctx, job); err != nil {
			p.logger.Error("job failed", zap.String("job_id", job.ID), zap.Error(err))
			if reErr := p.queue.Retry(ctx, job, key); reErr != nil {
				p.logger.Error("retry enqueue failed", zap.Error(reErr))
			}
			time.Sleep(queue.RetryBackoff)
			continue
		}
	}
}
