package serverapp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"crm-graphql/internal/logging"
)

// Stop reasons reported by WaitForStop.
const (
	stopSignal      = "signal"
	stopServerError = "server_error"
)

// teardownSteps releases resources in the reverse order they were acquired.
type teardownSteps struct {
	names []string
	fns   []func(context.Context) error
}

func (t *teardownSteps) add(name string, fn func(context.Context) error) {
	t.names = append(t.names, name)
	t.fns = append(t.fns, fn)
}

// unwind runs every step, newest first, and keeps going past failures. The
// returned error joins the failures of all steps.
func (t *teardownSteps) unwind(ctx context.Context, logger *logging.Logger) error {
	var errs []error
	for i := len(t.fns) - 1; i >= 0; i-- {
		name := t.names[i]
		if logger != nil {
			logger.Info("shutting down " + name)
		}
		err := t.fns[i](ctx)
		if err == nil {
			continue
		}
		if logger != nil {
			logger.Warn("cleanup error", slog.String("component", name), slog.String("error", err.Error()))
		}
		errs = append(errs, fmt.Errorf("%s: %w", name, err))
	}
	t.names, t.fns = nil, nil
	return errors.Join(errs...)
}

// Start serves HTTP in the background. Calling it again returns the same
// error channel.
func (a *App) Start() (<-chan error, error) {
	a.stateMu.Lock()
	defer a.stateMu.Unlock()

	switch {
	case !a.initialized:
		return nil, fmt.Errorf("app is not initialized")
	case !a.started:
		a.serverErrors = startServer(a.cfg, a.logger, a.srv, a.serverAddr)
		a.started = true
	}
	return a.serverErrors, nil
}

// WaitForStop blocks until a signal arrives on stop or the server reports an
// error. A nil serverErrors falls back to the channel returned by Start.
func (a *App) WaitForStop(stop <-chan os.Signal, serverErrors <-chan error) (string, error) {
	if serverErrors == nil {
		a.stateMu.Lock()
		serverErrors = a.serverErrors
		a.stateMu.Unlock()
	}
	if stop == nil && serverErrors == nil {
		return "", fmt.Errorf("both stop and serverErrors channels are nil")
	}

	// A nil channel never becomes ready, so one select covers every case.
	select {
	case sig := <-stop:
		if a.logger != nil {
			a.logger.Info("received shutdown signal", slog.String("signal", sig.String()))
		}
		return stopSignal, nil
	case err := <-serverErrors:
		if err == nil {
			return stopServerError, fmt.Errorf("server stopped unexpectedly")
		}
		return stopServerError, fmt.Errorf("server failed: %w", err)
	}
}

// Shutdown tears down everything Init acquired. Only the first call does
// any work; later calls return its result.
func (a *App) Shutdown(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	a.shutdownOnce.Do(func() {
		a.stateMu.Lock()
		steps := a.teardown
		a.teardown = teardownSteps{}
		a.started = false
		a.stateMu.Unlock()

		a.shutdownErr = steps.unwind(ctx, a.logger)
	})
	return a.shutdownErr
}
