package jobs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"crm-graphql/internal/messagequeue"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// IdempotencyKeyHeader carries the delivery job id to webhook receivers.
const IdempotencyKeyHeader = "Idempotency-Key"

// webhookPayload is the JSON body posted to webhook targets.
type webhookPayload struct {
	EventType      string         `json:"eventType"`
	ObjectMetadata ObjectRef      `json:"objectMetadata"`
	WorkspaceID    string         `json:"workspaceId"`
	WebhookID      string         `json:"webhookId"`
	EventDate      time.Time      `json:"eventDate"`
	Record         map[string]any `json:"record"`
}

// CallWebhookJob posts one event to one webhook target.
type CallWebhookJob struct {
	client *http.Client
	logger *slog.Logger
}

// NewCallWebhookJob creates the delivery job. A zero timeout disables it.
func NewCallWebhookJob(timeout time.Duration, logger *slog.Logger) *CallWebhookJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &CallWebhookJob{
		client: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		logger: logger,
	}
}

// Handle implements messagequeue.Handler. Non-2xx responses fail the job so
// the queue retries it.
func (j *CallWebhookJob) Handle(ctx context.Context, job messagequeue.Job) error {
	var data CallWebhookJobData
	if err := job.Decode(&data); err != nil {
		return err
	}
	if data.TargetURL == "" {
		j.logger.Warn("webhook without target url skipped", slog.String("webhook_id", data.WebhookID))
		return nil
	}

	body, err := json.Marshal(webhookPayload{
		EventType:      data.EventType,
		ObjectMetadata: data.ObjectMetadata,
		WorkspaceID:    data.WorkspaceID,
		WebhookID:      data.WebhookID,
		EventDate:      data.EventDate,
		Record:         data.Record,
	})
	if err != nil {
		return fmt.Errorf("failed to encode webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, data.TargetURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("invalid webhook target %q: %w", data.TargetURL, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(IdempotencyKeyHeader, job.ID)

	resp, err := j.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook %s call failed: %w", data.WebhookID, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook %s returned status %d", data.WebhookID, resp.StatusCode)
	}

	j.logger.Info("webhook delivered",
		slog.String("webhook_id", data.WebhookID),
		slog.String("event_type", data.EventType),
		slog.Int("attempt", job.Attempt),
	)
	return nil
}
