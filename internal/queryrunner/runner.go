// Package queryrunner executes workspace CRUD operations through pg_graphql.
//
// Every operation follows the same pipeline: pre-query hooks, document
// build, execution on a connection scoped to the workspace schema, result
// parsing, getters, then domain events and webhook jobs. A failure at any
// step before events stops the pipeline, so a failed write never notifies.
package queryrunner

import (
	"context"
	"time"

	"crm-graphql/internal/config"
	"crm-graphql/internal/dbexec"
	"crm-graphql/internal/gqlerrors"
	"crm-graphql/internal/logging"
	"crm-graphql/internal/messagequeue"
	"crm-graphql/internal/metadata"
	"crm-graphql/internal/observability"
	"crm-graphql/internal/querybuilder"
	"crm-graphql/internal/record"

	"go.opentelemetry.io/otel/attribute"
)

// Operation names, shared by pre-query hooks, spans and metrics.
const (
	OpFindMany       = "findMany"
	OpFindOne        = "findOne"
	OpFindDuplicates = "findDuplicates"
	OpCreateMany     = "createMany"
	OpCreateOne      = "createOne"
	OpUpdateOne      = "updateOne"
	OpUpdateMany     = "updateMany"
	OpDeleteOne      = "deleteOne"
	OpDeleteMany     = "deleteMany"
)

// Options identify who runs an operation on which object. They are built
// per call and never stored.
type Options struct {
	WorkspaceID    string
	UserID         string
	ObjectMetadata metadata.ObjectMetadata
	// Objects resolves relation targets when selecting nested records.
	Objects *metadata.Set
	// AtMost overrides the bulk mutation cap. Zero uses the configured value.
	AtMost int
}

func (o Options) builderOptions() querybuilder.Options {
	return querybuilder.Options{ObjectMetadata: o.ObjectMetadata, Objects: o.Objects, AtMost: o.AtMost}
}

// DataSource hands out connections scoped to a workspace schema.
type DataSource interface {
	Connect(ctx context.Context, workspaceID string) (dbexec.Conn, error)
}

// ArgsFactory completes create arguments (ids, positions).
type ArgsFactory interface {
	Create(ctx context.Context, workspaceID string, obj metadata.ObjectMetadata, args record.CreateManyArgs) (record.CreateManyArgs, error)
}

// PreQueryHooks may veto an operation before it runs.
type PreQueryHooks interface {
	ExecutePreHooks(ctx context.Context, userID, workspaceID, objectName, operation string, args any) error
}

// EventEmitter publishes record lifecycle events in-process.
type EventEmitter interface {
	Emit(ctx context.Context, name string, payload any)
}

// Enqueuer submits background jobs.
type Enqueuer interface {
	Add(ctx context.Context, name string, data any, opts messagequeue.JobOptions) error
}

// Config tunes the runner.
type Config struct {
	MutationMaximumAffectedRecords int
	WebhookRetryLimit              int
	MissingResultPolicy            string
	DefaultPageSize                int
}

// ConfigFrom extracts the runner settings of the application config.
func ConfigFrom(cfg config.RunnerConfig) Config {
	return Config{
		MutationMaximumAffectedRecords: cfg.MutationMaximumAffectedRecords,
		WebhookRetryLimit:              cfg.WebhookRetryLimit,
		MissingResultPolicy:            cfg.MissingResultPolicy,
		DefaultPageSize:                cfg.DefaultPageSize,
	}
}

// Deps are the collaborators of a Runner. DataSource and Queue are
// required; the rest may be nil.
type Deps struct {
	DataSource  DataSource
	ArgsFactory ArgsFactory
	Hooks       PreQueryHooks
	Events      EventEmitter
	Queue       Enqueuer
	Getters     *GetterRegistry
	Metrics     *observability.RunnerMetrics
	Logger      *logging.Logger
}

// Runner executes workspace operations.
type Runner struct {
	dataSource  DataSource
	builder     *querybuilder.Factory
	argsFactory ArgsFactory
	hooks       PreQueryHooks
	events      EventEmitter
	queue       Enqueuer
	getters     *GetterRegistry
	metrics     *observability.RunnerMetrics
	logger      *logging.Logger
	cfg         Config
}

// New creates a runner.
func New(deps Deps, cfg Config) *Runner {
	if cfg.MutationMaximumAffectedRecords <= 0 {
		cfg.MutationMaximumAffectedRecords = 100
	}
	if cfg.WebhookRetryLimit < 0 {
		cfg.WebhookRetryLimit = 0
	}
	if cfg.MissingResultPolicy == "" {
		cfg.MissingResultPolicy = config.MissingResultIgnore
	}
	logger := deps.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	getters := deps.Getters
	if getters == nil {
		getters = NewGetterRegistry()
	}
	return &Runner{
		dataSource:  deps.DataSource,
		builder:     querybuilder.NewFactory(cfg.DefaultPageSize, cfg.MutationMaximumAffectedRecords),
		argsFactory: deps.ArgsFactory,
		hooks:       deps.Hooks,
		events:      deps.Events,
		queue:       deps.Queue,
		getters:     getters,
		metrics:     deps.Metrics,
		logger:      logger,
		cfg:         cfg,
	}
}

func (r *Runner) runPreHooks(ctx context.Context, operation string, args any, opts Options) error {
	if r.hooks == nil {
		return nil
	}
	return r.hooks.ExecutePreHooks(ctx, opts.UserID, opts.WorkspaceID, opts.ObjectMetadata.NameSingular, operation, args)
}

// begin opens the span of one operation. The returned func closes it and
// records metrics; defer it with the address of the named error result.
func (r *Runner) begin(ctx context.Context, operation string, opts Options) (context.Context, func(*error)) {
	object := opts.ObjectMetadata.NameSingular
	ctx, span := startRunnerSpan(ctx, "queryrunner."+operation,
		attribute.String("queryrunner.operation", operation),
		attribute.String("queryrunner.object", object),
		attribute.String("workspace.id", opts.WorkspaceID),
	)
	start := time.Now()
	return ctx, func(errp *error) {
		var err error
		if errp != nil {
			err = *errp
		}
		finishRunnerSpan(span, err)
		span.End()
		r.metrics.RecordOperation(ctx, operation, object, time.Since(start), errorKind(err))
	}
}

func errorKind(err error) string {
	if err == nil {
		return ""
	}
	if kind := gqlerrors.KindOf(err); kind != "" {
		return string(kind)
	}
	return string(gqlerrors.Internal)
}

func (r *Runner) log(opts Options) *logging.Logger {
	return r.logger.WithWorkspace(opts.WorkspaceID)
}
