package queryrunner

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"crm-graphql/internal/gqlerrors"
	"crm-graphql/internal/jobs"
	"crm-graphql/internal/naming"
	"crm-graphql/internal/record"
)

// FindMany returns one page of records matching args.
func (r *Runner) FindMany(ctx context.Context, args record.FindManyArgs, opts Options) (conn *record.Connection, err error) {
	ctx, done := r.begin(ctx, OpFindMany, opts)
	defer done(&err)

	if err := r.runPreHooks(ctx, OpFindMany, args, opts); err != nil {
		return nil, err
	}
	query, err := r.builder.FindMany(args, opts.builderOptions())
	if err != nil {
		return nil, err
	}

	start := time.Now()
	raw, err := r.Execute(ctx, query, opts.WorkspaceID)
	if err != nil {
		return nil, err
	}
	r.log(opts).Debug("query time",
		slog.String("object", opts.ObjectMetadata.NameSingular),
		slog.Float64("duration_ms", float64(time.Since(start).Microseconds())/1000),
	)

	return r.parseConnection(ctx, raw, opts.ObjectMetadata, opts.WorkspaceID)
}

// FindOne returns the first record matching args.Filter, or nil.
func (r *Runner) FindOne(ctx context.Context, args record.FindOneArgs, opts Options) (rec record.Record, err error) {
	ctx, done := r.begin(ctx, OpFindOne, opts)
	defer done(&err)

	if len(args.Filter) == 0 {
		return nil, gqlerrors.NewBadRequest("Missing filter argument")
	}
	if err := r.runPreHooks(ctx, OpFindOne, args, opts); err != nil {
		return nil, err
	}
	query, err := r.builder.FindOne(args, opts.builderOptions())
	if err != nil {
		return nil, err
	}
	raw, err := r.Execute(ctx, query, opts.WorkspaceID)
	if err != nil {
		return nil, err
	}
	conn, err := r.parseConnection(ctx, raw, opts.ObjectMetadata, opts.WorkspaceID)
	if err != nil {
		return nil, err
	}
	return firstNode(conn), nil
}

// FindDuplicates returns records resembling either the record args.ID or
// the candidate args.Data. The record itself is never part of the result.
func (r *Runner) FindDuplicates(ctx context.Context, args record.FindDuplicatesArgs, opts Options) (conn *record.Connection, err error) {
	ctx, done := r.begin(ctx, OpFindDuplicates, opts)
	defer done(&err)

	hasID := args.ID != nil && *args.ID != ""
	if !hasID && args.Data == nil {
		return nil, gqlerrors.NewBadRequest(`You have to provide either "data" or "id" argument`)
	}
	if !hasID && len(args.Data) == 0 {
		return nil, gqlerrors.NewBadRequest(`The "data" condition can not be empty when ID input not provided`)
	}

	var existing record.Record
	if hasID {
		existing, err = r.findByID(ctx, *args.ID, opts)
		if err != nil {
			return nil, err
		}
		if existing == nil {
			return nil, gqlerrors.NewNotFound(fmt.Sprintf("Object with id %s not found", *args.ID))
		}
	}

	if err := r.runPreHooks(ctx, OpFindDuplicates, args, opts); err != nil {
		return nil, err
	}
	query, err := r.builder.FindDuplicates(args, opts.builderOptions(), existing)
	if err != nil {
		return nil, err
	}
	raw, err := r.Execute(ctx, query, opts.WorkspaceID)
	if err != nil {
		return nil, err
	}
	return r.parseConnection(ctx, raw, opts.ObjectMetadata, opts.WorkspaceID)
}

// CreateMany inserts every record of args and returns the created records.
// A *WebhookEnqueueError comes with valid results.
func (r *Runner) CreateMany(ctx context.Context, args record.CreateManyArgs, opts Options) (records []record.Record, err error) {
	ctx, done := r.begin(ctx, OpCreateMany, opts)
	defer done(&err)

	if err := r.runPreHooks(ctx, OpCreateMany, args, opts); err != nil {
		return nil, err
	}
	if r.argsFactory != nil {
		args, err = r.argsFactory.Create(ctx, opts.WorkspaceID, opts.ObjectMetadata, args)
		if err != nil {
			return nil, err
		}
	}
	query, err := r.builder.CreateMany(args, opts.builderOptions())
	if err != nil {
		return nil, err
	}
	raw, err := r.Execute(ctx, query, opts.WorkspaceID)
	if err != nil {
		return nil, err
	}
	records, err = r.parseMutation(ctx, raw, opts.ObjectMetadata, naming.CommandInsertInto, opts.WorkspaceID)
	if err != nil {
		return nil, err
	}

	r.emitCreated(ctx, records, opts)
	return records, r.triggerWebhooks(ctx, records, jobs.OperationCreate, opts)
}

// CreateOne inserts a single record.
func (r *Runner) CreateOne(ctx context.Context, args record.CreateOneArgs, opts Options) (record.Record, error) {
	records, err := r.CreateMany(ctx, record.CreateManyArgs{Data: []record.Record{args.Data}}, opts)
	return firstRecord(records), err
}

// UpdateOne patches the record args.ID. The previous version is read first
// for the updated event; failing to read it does not fail the update.
func (r *Runner) UpdateOne(ctx context.Context, args record.UpdateOneArgs, opts Options) (rec record.Record, err error) {
	ctx, done := r.begin(ctx, OpUpdateOne, opts)
	defer done(&err)

	if err := r.runPreHooks(ctx, OpUpdateOne, args, opts); err != nil {
		return nil, err
	}
	query, err := r.builder.UpdateOne(args, opts.builderOptions())
	if err != nil {
		return nil, err
	}

	previous, prevErr := r.findByID(ctx, args.ID, opts)
	if prevErr != nil {
		r.log(opts).Warn("failed to read record before update",
			slog.String("object", opts.ObjectMetadata.NameSingular),
			slog.String("record_id", args.ID),
			slog.String("error", prevErr.Error()),
		)
		previous = nil
	}

	raw, err := r.Execute(ctx, query, opts.WorkspaceID)
	if err != nil {
		return nil, err
	}
	records, err := r.parseMutation(ctx, raw, opts.ObjectMetadata, naming.CommandUpdate, opts.WorkspaceID)
	if err != nil {
		return nil, err
	}
	rec = firstRecord(records)
	if rec == nil {
		return nil, nil
	}

	r.emitUpdated(ctx, previous, rec, opts)
	return rec, r.triggerWebhooks(ctx, []record.Record{rec}, jobs.OperationUpdate, opts)
}

// UpdateMany patches every record matching args.Filter, up to the
// configured cap. No domain event is emitted.
func (r *Runner) UpdateMany(ctx context.Context, args record.UpdateManyArgs, opts Options) (records []record.Record, err error) {
	ctx, done := r.begin(ctx, OpUpdateMany, opts)
	defer done(&err)

	opts = r.capped(opts)
	if err := r.runPreHooks(ctx, OpUpdateMany, args, opts); err != nil {
		return nil, err
	}
	query, err := r.builder.UpdateMany(args, opts.builderOptions())
	if err != nil {
		return nil, err
	}
	raw, err := r.Execute(ctx, query, opts.WorkspaceID)
	if err != nil {
		return nil, err
	}
	records, err = r.parseMutation(ctx, raw, opts.ObjectMetadata, naming.CommandUpdate, opts.WorkspaceID)
	if err != nil {
		return nil, err
	}
	return records, r.triggerWebhooks(ctx, records, jobs.OperationUpdate, opts)
}

// DeleteOne deletes the record args.ID.
func (r *Runner) DeleteOne(ctx context.Context, args record.DeleteOneArgs, opts Options) (rec record.Record, err error) {
	ctx, done := r.begin(ctx, OpDeleteOne, opts)
	defer done(&err)

	if err := r.runPreHooks(ctx, OpDeleteOne, args, opts); err != nil {
		return nil, err
	}
	query, err := r.builder.DeleteOne(args, opts.builderOptions())
	if err != nil {
		return nil, err
	}
	raw, err := r.Execute(ctx, query, opts.WorkspaceID)
	if err != nil {
		return nil, err
	}
	records, err := r.parseMutation(ctx, raw, opts.ObjectMetadata, naming.CommandDeleteFrom, opts.WorkspaceID)
	if err != nil {
		return nil, err
	}
	rec = firstRecord(records)
	if rec == nil {
		return nil, nil
	}

	r.emitDeleted(ctx, []record.Record{rec}, opts)
	return rec, r.triggerWebhooks(ctx, []record.Record{rec}, jobs.OperationDelete, opts)
}

// DeleteMany deletes every record matching args.Filter, up to the
// configured cap.
func (r *Runner) DeleteMany(ctx context.Context, args record.DeleteManyArgs, opts Options) (records []record.Record, err error) {
	ctx, done := r.begin(ctx, OpDeleteMany, opts)
	defer done(&err)

	opts = r.capped(opts)
	if err := r.runPreHooks(ctx, OpDeleteMany, args, opts); err != nil {
		return nil, err
	}
	query, err := r.builder.DeleteMany(args, opts.builderOptions())
	if err != nil {
		return nil, err
	}
	raw, err := r.Execute(ctx, query, opts.WorkspaceID)
	if err != nil {
		return nil, err
	}
	records, err = r.parseMutation(ctx, raw, opts.ObjectMetadata, naming.CommandDeleteFrom, opts.WorkspaceID)
	if err != nil {
		return nil, err
	}

	r.emitDeleted(ctx, records, opts)
	return records, r.triggerWebhooks(ctx, records, jobs.OperationDelete, opts)
}

// findByID reads one record without running pre-query hooks.
func (r *Runner) findByID(ctx context.Context, id string, opts Options) (record.Record, error) {
	query, err := r.builder.FindDuplicatesExistingRecord(id, opts.builderOptions())
	if err != nil {
		return nil, err
	}
	raw, err := r.Execute(ctx, query, opts.WorkspaceID)
	if err != nil {
		return nil, err
	}
	conn, err := r.parseConnection(ctx, raw, opts.ObjectMetadata, opts.WorkspaceID)
	if err != nil {
		return nil, err
	}
	return firstNode(conn), nil
}

func (r *Runner) capped(opts Options) Options {
	if opts.AtMost <= 0 {
		opts.AtMost = r.cfg.MutationMaximumAffectedRecords
	}
	return opts
}

func firstNode(conn *record.Connection) record.Record {
	if conn == nil || len(conn.Edges) == 0 {
		return nil
	}
	return conn.Edges[0].Node
}

func firstRecord(records []record.Record) record.Record {
	if len(records) == 0 {
		return nil
	}
	return records[0]
}
