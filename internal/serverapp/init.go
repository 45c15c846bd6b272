package serverapp

import (
	"context"
	"fmt"
	"log/slog"

	"crm-graphql/internal/jobs"
)

// Init initializes all runtime resources. It is idempotent.
func (a *App) Init(ctx context.Context) error {
	a.stateMu.Lock()
	if a.initialized {
		a.stateMu.Unlock()
		return nil
	}
	a.stateMu.Unlock()

	if ctx == nil {
		ctx = context.Background()
	}

	steps := teardownSteps{}
	success := false
	defer func() {
		if !success {
			_ = steps.unwind(context.Background(), a.logger)
		}
	}()

	if a.loggerProvider != nil {
		steps.add("logger provider", func(shutdownCtx context.Context) error {
			return a.loggerProvider.Shutdown(shutdownCtx, a.logger.Logger)
		})
	}

	metrics, err := initMetrics(a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("failed to initialize OpenTelemetry metrics: %w", err)
	}
	if metrics.meterProvider != nil {
		steps.add("meter provider", func(shutdownCtx context.Context) error {
			return metrics.meterProvider.Shutdown(shutdownCtx, a.logger.Logger)
		})
	}

	tracerProvider, err := initTracing(a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("failed to initialize OpenTelemetry tracing: %w", err)
	}
	if tracerProvider != nil {
		steps.add("tracer provider", func(shutdownCtx context.Context) error {
			return tracerProvider.Shutdown(shutdownCtx, a.logger.Logger)
		})
	}

	a.logger.Info("connecting to PostgreSQL", slog.String("dsn", a.cfg.Database.RedactedDSN()))

	db, dbStatsReg, err := connectDB(a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	steps.add("database", func(_ context.Context) error {
		if dbStatsReg != nil {
			if err := dbStatsReg.Unregister(); err != nil {
				a.logger.Warn("failed to unregister DB stats metrics", slog.String("error", err.Error()))
			}
		}
		return db.Close()
	})

	if err := configureDatabase(ctx, a.cfg, a.logger, db); err != nil {
		return fmt.Errorf("failed to verify database connection: %w", err)
	}

	c, err := buildComponents(ctx, a.cfg, a.logger, db, metrics)
	if err != nil {
		return err
	}
	steps.add("message queue", func(_ context.Context) error {
		return c.queue.Close()
	})

	if a.consumesJobs() {
		jobs.Register(c.queue, c.dataSource, jobsConfig(a.cfg), a.logger.Logger)
		if err := c.queue.Start(ctx); err != nil {
			return fmt.Errorf("failed to start message queue: %w", err)
		}
	}

	manager, schemaCancel, err := startSchemaManager(a.cfg, a.logger, c, metrics)
	if err != nil {
		return fmt.Errorf("failed to initialize schema manager: %w", err)
	}
	steps.add("schema manager", func(shutdownCtx context.Context) error {
		schemaCancel()
		return manager.Wait(shutdownCtx)
	})

	graphqlHandler, err := buildGraphQLHandler(a.cfg, a.logger, manager, c.tokens, metrics)
	if err != nil {
		return fmt.Errorf("failed to initialize GraphQL handler: %w", err)
	}

	filesHandler, err := buildFilesHandler(a.cfg, a.logger, c.tokens, metrics)
	if err != nil {
		return fmt.Errorf("failed to initialize files handler: %w", err)
	}

	mux := buildRouter(a.cfg, a.logger, db, graphqlHandler, filesHandler, metrics.meterProvider)
	handler := wrapHTTPHandler(a.cfg, a.logger, mux)

	serverAddr := fmt.Sprintf(":%d", a.cfg.Server.Port)
	srv := buildServer(a.cfg, handler, serverAddr)
	steps.add("HTTP server", func(shutdownCtx context.Context) error {
		return srv.Shutdown(shutdownCtx)
	})

	a.stateMu.Lock()
	a.metrics = metrics
	a.tracerProvider = tracerProvider
	a.db = db
	a.dbStatsReg = dbStatsReg
	a.dataSource = c.dataSource
	a.objects = c.objects
	a.tokens = c.tokens
	a.queue = c.queue
	a.events = c.events
	a.runner = c.runner
	a.manager = manager
	a.schemaCancel = schemaCancel
	a.graphqlHandler = graphqlHandler
	a.filesHandler = filesHandler
	a.mux = mux
	a.handler = handler
	a.serverAddr = serverAddr
	a.srv = srv
	a.teardown = steps
	a.initialized = true
	a.stateMu.Unlock()

	success = true
	return nil
}
