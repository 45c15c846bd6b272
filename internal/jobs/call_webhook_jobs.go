package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"crm-graphql/internal/dbexec"
	"crm-graphql/internal/messagequeue"

	sq "github.com/Masterminds/squirrel"
)

// WebhookTable is the workspace table listing webhook subscriptions.
const WebhookTable = "webhook"

// Webhook is one subscription row.
type Webhook struct {
	ID        string
	TargetURL string
	Operation string
}

// EventType is "<object>.<operation>", the value stored in webhook.operation.
func EventType(objectNameSingular string, op Operation) string {
	return objectNameSingular + "." + string(op)
}

// CallWebhookJobsJob fans a mutation out to every subscribed webhook.
type CallWebhookJobsJob struct {
	store      WorkspaceStore
	queue      Enqueuer
	retryLimit int
	logger     *slog.Logger
	now        func() time.Time
}

// NewCallWebhookJobsJob creates the fan-out job. Delivery jobs inherit retryLimit.
func NewCallWebhookJobsJob(store WorkspaceStore, queue Enqueuer, retryLimit int, logger *slog.Logger) *CallWebhookJobsJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &CallWebhookJobsJob{store: store, queue: queue, retryLimit: retryLimit, logger: logger, now: time.Now}
}

// Handle implements messagequeue.Handler.
func (j *CallWebhookJobsJob) Handle(ctx context.Context, job messagequeue.Job) error {
	var data CallWebhookJobsJobData
	if err := job.Decode(&data); err != nil {
		return err
	}

	eventType := EventType(data.ObjectMetadata.NameSingular, data.Operation)
	webhooks, err := j.findWebhooks(ctx, data.WorkspaceID, eventType, "*."+string(data.Operation))
	if err != nil {
		return err
	}

	eventDate := j.now().UTC()
	var errs []error
	for _, hook := range webhooks {
		// One stable id per (fan-out job, webhook) pair.
		id := job.ID + ":" + hook.ID
		err := j.queue.Add(ctx, CallWebhookJobName, CallWebhookJobData{
			TargetURL:      hook.TargetURL,
			EventType:      eventType,
			ObjectMetadata: data.ObjectMetadata,
			WorkspaceID:    data.WorkspaceID,
			WebhookID:      hook.ID,
			EventDate:      eventDate,
			Record:         data.Record,
		}, messagequeue.JobOptions{RetryLimit: j.retryLimit, ID: id})
		if err != nil {
			errs = append(errs, fmt.Errorf("webhook %s: %w", hook.ID, err))
		}
	}

	j.logger.Debug("webhook jobs dispatched",
		slog.String("workspace_id", data.WorkspaceID),
		slog.String("event_type", eventType),
		slog.Int("webhooks", len(webhooks)),
	)
	return errors.Join(errs...)
}

func (j *CallWebhookJobsJob) findWebhooks(ctx context.Context, workspaceID string, operations ...string) ([]Webhook, error) {
	query, args, err := sq.Select("id", `"targetUrl"`, "operation").
		From(WebhookTable).
		Where(sq.Eq{"operation": operations}).
		OrderBy("id").
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build webhook query: %w", err)
	}

	var hooks []Webhook
	err = j.store.ExecuteRawQuery(ctx, workspaceID, query, args, func(rows dbexec.Rows) error {
		var h Webhook
		if err := rows.Scan(&h.ID, &h.TargetURL, &h.Operation); err != nil {
			return err
		}
		hooks = append(hooks, h)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list webhooks: %w", err)
	}
	return hooks, nil
}
