package queryrunner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"crm-graphql/internal/eventemitter"
	"crm-graphql/internal/jobs"
	"crm-graphql/internal/messagequeue"
	"crm-graphql/internal/record"
)

// sanitize copies rec without nested connections (values carrying edges).
func sanitize(rec record.Record) record.Record {
	if rec == nil {
		return nil
	}
	out := make(record.Record, len(rec))
	for k, v := range rec {
		if hasEdges(v) {
			continue
		}
		out[k] = v
	}
	return out
}

func hasEdges(v any) bool {
	var m map[string]any
	switch val := v.(type) {
	case map[string]any:
		m = val
	case record.Record:
		m = val
	case record.Connection, *record.Connection:
		return true
	default:
		return false
	}
	edges, ok := m["edges"]
	return ok && edges != nil
}

func (r *Runner) emit(ctx context.Context, name string, payload any) {
	if r.events == nil {
		return
	}
	r.events.Emit(ctx, name, payload)
	r.metrics.RecordEvent(ctx, name)
}

func (r *Runner) emitCreated(ctx context.Context, records []record.Record, opts Options) {
	obj := opts.ObjectMetadata
	name := eventemitter.EventName(obj.NameSingular, eventemitter.ActionCreated)
	for _, rec := range records {
		r.emit(ctx, name, eventemitter.ObjectRecordCreateEvent{
			WorkspaceID:   opts.WorkspaceID,
			CreatedRecord: sanitize(rec),
			CreatedObjectMetadata: eventemitter.ObjectMetadataRef{
				NameSingular: obj.NameSingular,
				IsCustom:     obj.IsCustom,
			},
		})
	}
}

func (r *Runner) emitUpdated(ctx context.Context, previous, updated record.Record, opts Options) {
	r.emit(ctx, eventemitter.EventName(opts.ObjectMetadata.NameSingular, eventemitter.ActionUpdated), eventemitter.ObjectRecordUpdateEvent{
		WorkspaceID:    opts.WorkspaceID,
		PreviousRecord: sanitize(previous),
		UpdatedRecord:  sanitize(updated),
	})
}

func (r *Runner) emitDeleted(ctx context.Context, records []record.Record, opts Options) {
	name := eventemitter.EventName(opts.ObjectMetadata.NameSingular, eventemitter.ActionDeleted)
	for _, rec := range records {
		r.emit(ctx, name, eventemitter.ObjectRecordDeleteEvent{
			WorkspaceID:   opts.WorkspaceID,
			DeletedRecord: sanitize(rec),
		})
	}
}

// triggerWebhooks enqueues one fan-out job per record. Every record is
// attempted; enqueue failures are joined. The write has already committed
// when this runs.
func (r *Runner) triggerWebhooks(ctx context.Context, records []record.Record, operation jobs.Operation, opts Options) error {
	if r.queue == nil || len(records) == 0 {
		return nil
	}

	objectRef := jobs.ObjectRefFor(opts.ObjectMetadata)
	var (
		errs     []error
		enqueued int
	)
	for _, rec := range records {
		err := r.queue.Add(ctx, jobs.CallWebhookJobsJobName, jobs.CallWebhookJobsJobData{
			Record:         rec,
			WorkspaceID:    opts.WorkspaceID,
			Operation:      operation,
			ObjectMetadata: objectRef,
		}, messagequeue.JobOptions{RetryLimit: r.cfg.WebhookRetryLimit})
		if err != nil {
			errs = append(errs, fmt.Errorf("record %s: %w", rec.ID(), err))
			continue
		}
		enqueued++
	}
	r.metrics.RecordWebhookJobs(ctx, string(operation), enqueued)

	if len(errs) == 0 {
		return nil
	}
	err := errors.Join(errs...)
	r.log(opts).Error("failed to enqueue webhook jobs",
		slog.String("object", opts.ObjectMetadata.NameSingular),
		slog.String("operation", string(operation)),
		slog.Int("failed", len(errs)),
		slog.String("error", err.Error()),
	)
	return &WebhookEnqueueError{Err: err}
}

// WebhookEnqueueError reports webhook jobs that could not be queued after
// the write committed. Results returned alongside it are valid.
type WebhookEnqueueError struct {
	Err error
}

func (e *WebhookEnqueueError) Error() string {
	return "records were written but webhook jobs could not be queued: " + e.Err.Error()
}

func (e *WebhookEnqueueError) Unwrap() error {
	return e.Err
}
