package serverapp

import (
	"context"
	"fmt"
	"log/slog"

	"crm-graphql/internal/config"
	"crm-graphql/internal/datasource"
	"crm-graphql/internal/jobs"
	"crm-graphql/internal/logging"
)

// RunWorker consumes background jobs (webhook fan-out, webhook delivery,
// position backfill) until ctx is cancelled. It is the consumer side of a
// broker-backed queue; with the memory driver the server consumes its own
// jobs and no worker is needed.
func RunWorker(ctx context.Context, cfg *config.Config, logger *logging.Logger) error {
	if cfg == nil || logger == nil {
		return fmt.Errorf("config and logger are required")
	}

	steps := teardownSteps{}
	defer func() { _ = steps.unwind(context.Background(), logger) }()

	tracerProvider, err := initTracing(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize OpenTelemetry tracing: %w", err)
	}
	if tracerProvider != nil {
		steps.add("tracer provider", func(shutdownCtx context.Context) error {
			return tracerProvider.Shutdown(shutdownCtx, logger.Logger)
		})
	}

	db, dbStatsReg, err := connectDB(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	steps.add("database", func(_ context.Context) error {
		if dbStatsReg != nil {
			_ = dbStatsReg.Unregister()
		}
		return db.Close()
	})
	if err := configureDatabase(ctx, cfg, logger, db); err != nil {
		return fmt.Errorf("failed to verify database connection: %w", err)
	}

	queue, err := newQueue(ctx, cfg, logger)
	if err != nil {
		return err
	}
	steps.add("message queue", func(_ context.Context) error {
		return queue.Close()
	})

	jobs.Register(queue, datasource.NewService(db), jobsConfig(cfg), logger.Logger)
	if err := queue.Start(ctx); err != nil {
		return fmt.Errorf("failed to start message queue: %w", err)
	}
	logger.Info("worker started", slog.String("queue_driver", cfg.Queue.Driver))

	<-ctx.Done()
	logger.Info("worker stopping")
	return nil
}
