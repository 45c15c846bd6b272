// Command worker consumes the background jobs published by the server when
// the queue runs on a broker.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"crm-graphql/internal/config"
	"crm-graphql/internal/serverapp"
)

func main() {
	if err := run(); err != nil {
		slog.Error("worker error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := serverapp.CheckConfig(cfg, slog.Default()); err != nil {
		return err
	}

	logger, loggerProvider, err := serverapp.InitLogger(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	if loggerProvider != nil {
		defer func() {
			_ = loggerProvider.Shutdown(context.Background(), logger.Logger)
		}()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return serverapp.RunWorker(ctx, cfg, logger)
}
