// Command server serves the workspace GraphQL API and the signed file
// endpoint. With the memory queue driver it also runs the webhook jobs.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"crm-graphql/internal/config"
	"crm-graphql/internal/logging"
	"crm-graphql/internal/serverapp"

	"github.com/spf13/pflag"
)

// Set with -ldflags "-X main.Version=... -X main.Commit=...".
var (
	Version = "dev"
	Commit  = "none"
)

func main() {
	printVersion := pflag.Bool("version", false, "Print version and exit")

	cfg, err := config.Load()
	if err != nil {
		fatal(fmt.Errorf("failed to load configuration: %w", err))
	}
	if *printVersion {
		fmt.Printf("crm-graphql %s (%s)\n", Version, Commit)
		return
	}
	if cfg.Observability.ServiceVersion == "" {
		cfg.Observability.ServiceVersion = Version
	}
	if err := serverapp.CheckConfig(cfg, slog.Default()); err != nil {
		fatal(err)
	}

	logger, loggerProvider, err := serverapp.InitLogger(cfg)
	if err != nil {
		fatal(fmt.Errorf("failed to initialize logging: %w", err))
	}
	app, err := serverapp.New(cfg, logger)
	if err != nil {
		if loggerProvider != nil {
			_ = loggerProvider.Shutdown(context.Background(), logger.Logger)
		}
		fatal(err)
	}
	app.AttachLoggerProvider(loggerProvider)

	if err := serve(app, cfg, logger); err != nil {
		fatal(err)
	}
}

// serve runs app until SIGINT/SIGTERM or a server failure, then shuts it
// down within the configured timeout.
func serve(app *serverapp.App, cfg *config.Config, logger *logging.Logger) error {
	if err := app.Init(context.Background()); err != nil {
		return err
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(stop)

	var runErr error
	if serverErrors, err := app.Start(); err != nil {
		runErr = err
	} else {
		reason, err := app.WaitForStop(stop, serverErrors)
		logger.Info("shutting down server gracefully", slog.String("reason", reason))
		runErr = err
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := errors.Join(runErr, app.Shutdown(ctx)); err != nil {
		return err
	}
	logger.Info("server stopped gracefully")
	return nil
}

func fatal(err error) {
	slog.Error("server error", slog.String("error", err.Error()))
	os.Exit(1)
}
