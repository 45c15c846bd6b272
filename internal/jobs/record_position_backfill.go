package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"crm-graphql/internal/messagequeue"
	"crm-graphql/internal/sqlutil"

	sq "github.com/Masterminds/squirrel"
)

// RecordPositionBackfillJob moves a record without position to the end of
// its table.
type RecordPositionBackfillJob struct {
	store  WorkspaceStore
	logger *slog.Logger
}

// NewRecordPositionBackfillJob creates the backfill job.
func NewRecordPositionBackfillJob(store WorkspaceStore, logger *slog.Logger) *RecordPositionBackfillJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &RecordPositionBackfillJob{store: store, logger: logger}
}

// BackfillSQL builds the update setting position to max+1. Records that got
// a position in the meantime are left alone.
func BackfillSQL(table, recordID string) (string, []any, error) {
	quoted := sqlutil.QuoteIdentifier(table)
	return sq.Update(quoted).
		Set("position", sq.Expr(`(SELECT COALESCE(MAX("position"), 0) + 1 FROM `+quoted+`)`)).
		Where(sq.Eq{"id": recordID}).
		Where(sq.Eq{"position": nil}).
		PlaceholderFormat(sq.Dollar).
		ToSql()
}

// Handle implements messagequeue.Handler.
func (j *RecordPositionBackfillJob) Handle(ctx context.Context, job messagequeue.Job) error {
	var data RecordPositionBackfillJobData
	if err := job.Decode(&data); err != nil {
		return err
	}
	if data.RecordID == "" || data.ObjectMetadata.NameSingular == "" {
		return errors.New("position backfill requires a record id and an object")
	}

	query, args, err := BackfillSQL(data.ObjectMetadata.table(), data.RecordID)
	if err != nil {
		return fmt.Errorf("failed to build position backfill: %w", err)
	}
	res, err := j.store.ExecuteRawStatement(ctx, data.WorkspaceID, query, args...)
	if err != nil {
		return fmt.Errorf("failed to backfill position of %s %s: %w", data.ObjectMetadata.NameSingular, data.RecordID, err)
	}

	affected, _ := res.RowsAffected()
	j.logger.Debug("record position backfilled",
		slog.String("object", data.ObjectMetadata.NameSingular),
		slog.String("record_id", data.RecordID),
		slog.Int64("rows", affected),
	)
	return nil
}
