// Package jobs holds the background jobs triggered by record mutations:
// webhook fan-out, webhook delivery and record position backfill.
package jobs

import (
	"context"
	"database/sql"
	"time"

	"crm-graphql/internal/dbexec"
	"crm-graphql/internal/messagequeue"
	"crm-graphql/internal/metadata"
	"crm-graphql/internal/naming"
	"crm-graphql/internal/record"
)

// Job names, also used as AMQP routing keys.
const (
	CallWebhookJobsJobName        = "callWebhookJobs"
	CallWebhookJobName            = "callWebhook"
	RecordPositionBackfillJobName = "recordPositionBackfill"
)

// Operation is the mutation kind a webhook subscribes to.
type Operation string

const (
	OperationCreate Operation = "create"
	OperationUpdate Operation = "update"
	OperationDelete Operation = "delete"
)

// ObjectRef identifies an object inside job payloads.
type ObjectRef struct {
	ID           string `json:"id,omitempty"`
	NameSingular string `json:"nameSingular"`
	IsCustom     bool   `json:"isCustom"`
}

// ObjectRefFor extracts the job reference of an object.
func ObjectRefFor(obj metadata.ObjectMetadata) ObjectRef {
	return ObjectRef{ID: obj.ID, NameSingular: obj.NameSingular, IsCustom: obj.IsCustom}
}

// table returns the workspace table of the referenced object.
func (r ObjectRef) table() string {
	return naming.TargetTable(metadata.ObjectMetadata{NameSingular: r.NameSingular, IsCustom: r.IsCustom})
}

// CallWebhookJobsJobData is enqueued once per mutated record.
type CallWebhookJobsJobData struct {
	Record         record.Record `json:"record"`
	WorkspaceID    string        `json:"workspaceId"`
	Operation      Operation     `json:"operation"`
	ObjectMetadata ObjectRef     `json:"objectMetadataItem"`
}

// CallWebhookJobData is one delivery to one webhook target.
type CallWebhookJobData struct {
	TargetURL      string        `json:"targetUrl"`
	EventType      string        `json:"eventType"`
	ObjectMetadata ObjectRef     `json:"objectMetadata"`
	WorkspaceID    string        `json:"workspaceId"`
	WebhookID      string        `json:"webhookId"`
	EventDate      time.Time     `json:"eventDate"`
	Record         record.Record `json:"record"`
}

// RecordPositionBackfillJobData points at a record created without position.
type RecordPositionBackfillJobData struct {
	WorkspaceID    string    `json:"workspaceId"`
	RecordID       string    `json:"recordId"`
	ObjectMetadata ObjectRef `json:"objectMetadata"`
}

// WorkspaceStore runs raw statements inside a workspace schema.
type WorkspaceStore interface {
	ExecuteRawQuery(ctx context.Context, workspaceID, query string, args []any, scan func(dbexec.Rows) error) error
	ExecuteRawStatement(ctx context.Context, workspaceID, query string, args ...any) (sql.Result, error)
}

// Enqueuer submits follow-up jobs.
type Enqueuer interface {
	Add(ctx context.Context, name string, data any, opts messagequeue.JobOptions) error
}
