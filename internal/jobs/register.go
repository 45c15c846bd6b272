package jobs

import (
	"log/slog"
	"time"

	"crm-graphql/internal/messagequeue"
)

// Config tunes the registered jobs.
type Config struct {
	WebhookRetryLimit  int
	WebhookHTTPTimeout time.Duration
}

// Register wires every job handler into queue.
func Register(queue messagequeue.Queue, store WorkspaceStore, cfg Config, logger *slog.Logger) {
	queue.Work(CallWebhookJobsJobName, NewCallWebhookJobsJob(store, queue, cfg.WebhookRetryLimit, logger).Handle)
	queue.Work(CallWebhookJobName, NewCallWebhookJob(cfg.WebhookHTTPTimeout, logger).Handle)
	queue.Work(RecordPositionBackfillJobName, NewRecordPositionBackfillJob(store, logger).Handle)
}
