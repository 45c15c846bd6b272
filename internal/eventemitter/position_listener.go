package eventemitter

import (
	"context"

	"crm-graphql/internal/jobs"
	"crm-graphql/internal/messagequeue"
)

// Enqueuer is the part of the job queue listeners need.
type Enqueuer interface {
	Add(ctx context.Context, name string, data any, opts messagequeue.JobOptions) error
}

// RecordPositionListener backfills the position of records created without
// one.
type RecordPositionListener struct {
	queue Enqueuer
}

// NewRecordPositionListener creates the listener.
func NewRecordPositionListener(queue Enqueuer) *RecordPositionListener {
	return &RecordPositionListener{queue: queue}
}

// Register subscribes the listener to every "*.created" event.
func (l *RecordPositionListener) Register(bus *Bus) {
	bus.On(EventName("*", ActionCreated), l.HandleCreated)
}

// HandleCreated enqueues a backfill job when the created record carries a
// position field left null.
func (l *RecordPositionListener) HandleCreated(ctx context.Context, _ string, payload any) error {
	event, ok := payload.(ObjectRecordCreateEvent)
	if !ok {
		return nil
	}
	position, hasPosition := event.CreatedRecord["position"]
	if !hasPosition || position != nil {
		return nil
	}
	recordID := event.CreatedRecord.ID()
	if recordID == "" {
		return nil
	}

	return l.queue.Add(ctx, jobs.RecordPositionBackfillJobName, jobs.RecordPositionBackfillJobData{
		WorkspaceID: event.WorkspaceID,
		RecordID:    recordID,
		ObjectMetadata: jobs.ObjectRef{
			NameSingular: event.CreatedObjectMetadata.NameSingular,
			IsCustom:     event.CreatedObjectMetadata.IsCustom,
		},
	}, messagequeue.JobOptions{RetryLimit: 3})
}
