package serverapp

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"sync"

	"crm-graphql/internal/config"
	"crm-graphql/internal/datasource"
	"crm-graphql/internal/eventemitter"
	"crm-graphql/internal/logging"
	"crm-graphql/internal/messagequeue"
	"crm-graphql/internal/metadata"
	"crm-graphql/internal/observability"
	"crm-graphql/internal/queryrunner"
	"crm-graphql/internal/schemarefresh"
	"crm-graphql/internal/token"
)

// App owns runtime resources for the CRM GraphQL server lifecycle.
type App struct {
	cfg    *config.Config
	logger *logging.Logger

	loggerProvider *observability.LoggerProvider

	metrics        appMetrics
	tracerProvider *observability.TracerProvider

	db         *sql.DB
	dbStatsReg interface{ Unregister() error }

	dataSource *datasource.Service
	objects    *metadata.Cache
	tokens     *token.Service
	queue      messagequeue.Queue
	events     *eventemitter.Bus
	runner     *queryrunner.Runner

	manager      *schemarefresh.Manager
	schemaCancel context.CancelFunc

	graphqlHandler http.Handler
	filesHandler   http.Handler
	mux            *http.ServeMux
	handler        http.Handler

	serverAddr string
	srv        *http.Server

	teardown teardownSteps

	stateMu      sync.Mutex
	initialized  bool
	started      bool
	serverErrors chan error

	shutdownOnce sync.Once
	shutdownErr  error
}

// New creates an App lifecycle wrapper.
func New(cfg *config.Config, logger *logging.Logger) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	return &App{cfg: cfg, logger: logger}, nil
}

// AttachLoggerProvider registers an optional logger provider for shutdown cleanup.
func (a *App) AttachLoggerProvider(provider *observability.LoggerProvider) {
	a.stateMu.Lock()
	defer a.stateMu.Unlock()
	a.loggerProvider = provider
}

// consumesJobs reports whether this process runs job handlers. The memory
// driver cannot be reached from another process, so the server consumes
// its own jobs; with a broker a separate worker does.
func (a *App) consumesJobs() bool {
	return a.cfg.Queue.Driver == "" || a.cfg.Queue.Driver == messagequeue.DriverMemory
}
