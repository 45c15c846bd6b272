package serverapp

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"crm-graphql/internal/argsfactory"
	"crm-graphql/internal/config"
	"crm-graphql/internal/datasource"
	"crm-graphql/internal/dbexec"
	"crm-graphql/internal/eventemitter"
	"crm-graphql/internal/jobs"
	"crm-graphql/internal/logging"
	"crm-graphql/internal/messagequeue"
	"crm-graphql/internal/metadata"
	"crm-graphql/internal/prequeryhook"
	"crm-graphql/internal/queryrunner"
	"crm-graphql/internal/token"
)

// components are the domain services shared by the HTTP surface.
type components struct {
	dataSource *datasource.Service
	objects    *metadata.Cache
	tokens     *token.Service
	queue      messagequeue.Queue
	events     *eventemitter.Bus
	hooks      *prequeryhook.Registry
	runner     *queryrunner.Runner
}

func buildComponents(ctx context.Context, cfg *config.Config, logger *logging.Logger, db *sql.DB, metrics appMetrics) (*components, error) {
	queue, err := newQueue(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	dataSource := datasource.NewService(db)
	tokens := token.NewService(cfg.Server.Auth.FileTokenSecret, cfg.Server.Auth.AccessTokenSecret)

	bus := eventemitter.New(logger.Logger)
	eventemitter.NewRecordPositionListener(queue).Register(bus)

	hooks := prequeryhook.NewRegistry()

	runner := queryrunner.New(queryrunner.Deps{
		DataSource:  dataSource,
		ArgsFactory: argsfactory.New(dataSource),
		Hooks:       hooks,
		Events:      bus,
		Queue:       queue,
		Getters:     queryrunner.DefaultGetters(tokens, cfg.Files.SignedURLExpiration),
		Metrics:     metrics.runner,
		Logger:      logger,
	}, queryrunner.ConfigFrom(cfg.Runner))

	provider := metadata.NewPostgresProvider(dbexec.NewPoolExecutor(db), cfg.Database.MetadataSchema)
	objects := metadata.NewCache(provider, cfg.Metadata.CacheTTL)

	logger.Info("query runner initialized",
		slog.Int("mutation_maximum_affected_records", cfg.Runner.MutationMaximumAffectedRecords),
		slog.Int("webhook_retry_limit", cfg.Runner.WebhookRetryLimit),
		slog.String("missing_result_policy", cfg.Runner.MissingResultPolicy),
		slog.String("metadata_schema", cfg.Database.MetadataSchema),
	)

	return &components{
		dataSource: dataSource,
		objects:    objects,
		tokens:     tokens,
		queue:      queue,
		events:     bus,
		hooks:      hooks,
		runner:     runner,
	}, nil
}

func newQueue(ctx context.Context, cfg *config.Config, logger *logging.Logger) (messagequeue.Queue, error) {
	queue, err := messagequeue.New(ctx, messagequeue.Config{
		Driver:       cfg.Queue.Driver,
		AMQPURL:      cfg.Queue.AMQPURL,
		Exchange:     cfg.Queue.Exchange,
		Workers:      cfg.Queue.Workers,
		Buffer:       cfg.Queue.Buffer,
		RetryBackoff: cfg.Queue.RetryBackoff,
	}, logger.Logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize message queue: %w", err)
	}
	logger.Info("message queue initialized",
		slog.String("driver", cfg.Queue.Driver),
		slog.Int("workers", cfg.Queue.Workers),
	)
	return queue, nil
}

func jobsConfig(cfg *config.Config) jobs.Config {
	return jobs.Config{
		WebhookRetryLimit:  cfg.Runner.WebhookRetryLimit,
		WebhookHTTPTimeout: cfg.Webhook.HTTPTimeout,
	}
}
